package handlers

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/services"
	"github.com/topik-vn/mock-exam-service/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	exportService  services.ExportService
	reviewService  services.WritingReviewService
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	exportService services.ExportService,
	reviewService services.WritingReviewService,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		exportService:  exportService,
		reviewService:  reviewService,
	}
}

// StartAttempt starts a new exam attempt or resumes the open one
// @Summary Start or resume attempt
// @Tags exam-attempts
// @Accept json
// @Produce json
// @Param attempt body services.StartAttemptRequest true "Exam selection"
// @Success 201 {object} SuccessResponse{data=services.StartAttemptResponse}
// @Success 200 {object} SuccessResponse{data=services.StartAttemptResponse}
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /exam-attempts [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	h.LogRequest(c, "Starting exam attempt", "exam_type", req.ExamType, "mode", req.Mode, "restart", req.Restart)

	resp, err := h.attemptService.Start(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status, message := http.StatusCreated, "Attempt started"
	if resp.Resumed {
		status, message = http.StatusOK, "Attempt resumed"
	}
	h.RespondWithSuccess(c, status, message, resp, "attempt_id", resp.Session.AttemptID)
}

// ListAttempts lists the caller's attempt history
// @Summary List attempts
// @Tags exam-attempts
// @Produce json
// @Param exam_type query string false "topik1 or topik2"
// @Param status query string false "in_progress, completed or abandoned"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} SuccessResponse{data=services.AttemptListResponse}
// @Router /exam-attempts [get]
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req services.ListAttemptsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid query parameters", err, err.Error())
		return
	}

	resp, err := h.attemptService.List(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Attempts retrieved", Data: resp})
}

// GetCurrentAttempt returns the live session for an exam type
// @Summary Current attempt
// @Tags exam-attempts
// @Produce json
// @Param exam_type query string true "topik1 or topik2"
// @Success 200 {object} SuccessResponse{data=services.SessionView}
// @Failure 404 {object} ErrorResponse
// @Router /exam-attempts/current [get]
func (h *AttemptHandler) GetCurrentAttempt(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	examType := models.ExamType(c.Query("exam_type"))
	if !slices.Contains(models.ValidExamTypes(), examType) {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid exam_type", nil,
			fmt.Sprintf("exam_type must be one of %v", models.ValidExamTypes()))
		return
	}

	view, err := h.attemptService.GetCurrent(c.Request.Context(), examType, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Attempt retrieved", Data: view})
}

// GetAttempt returns the session view of an attempt
// @Summary Get attempt
// @Tags exam-attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse{data=services.SessionView}
// @Failure 404 {object} ErrorResponse
// @Router /exam-attempts/{id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id := ParseIDParam(c, "id")
	if id == 0 {
		return
	}

	view, err := h.attemptService.GetSession(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Attempt retrieved", Data: view})
}

// GetResult returns the scored result of a completed attempt
// @Summary Attempt result
// @Tags exam-attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse{data=services.SubmissionResult}
// @Failure 409 {object} ErrorResponse
// @Router /exam-attempts/{id}/result [get]
func (h *AttemptHandler) GetResult(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id := ParseIDParam(c, "id")
	if id == 0 {
		return
	}

	result, err := h.attemptService.GetResult(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Result retrieved", Data: result})
}

// RecordAnswer stores the answer to one question of a live attempt
// @Summary Record answer
// @Tags exam-attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param question_id path uint true "Question ID"
// @Param answer body services.RecordAnswerRequest true "Answer"
// @Success 200 {object} SuccessResponse{data=services.AnswerFeedback}
// @Failure 409 {object} ErrorResponse
// @Router /exam-attempts/{id}/answers/{question_id} [put]
func (h *AttemptHandler) RecordAnswer(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id := ParseIDParam(c, "id")
	if id == 0 {
		return
	}
	questionID := ParseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}

	var req services.RecordAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	feedback, err := h.attemptService.RecordAnswer(c.Request.Context(), id, questionID, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Answer recorded", Data: feedback})
}

// ToggleFlag flips the review flag of a question
// @Summary Toggle review flag
// @Tags exam-attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param question_id path uint true "Question ID"
// @Success 200 {object} SuccessResponse{data=services.FlagResponse}
// @Router /exam-attempts/{id}/flags/{question_id} [post]
func (h *AttemptHandler) ToggleFlag(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id := ParseIDParam(c, "id")
	if id == 0 {
		return
	}
	questionID := ParseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}

	resp, err := h.attemptService.ToggleFlag(c.Request.Context(), id, questionID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Flag updated", Data: resp})
}

// PauseTimer pauses the countdown of a pausable attempt
// @Summary Pause timer
// @Tags exam-attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse{data=services.TimerView}
// @Failure 409 {object} ErrorResponse
// @Router /exam-attempts/{id}/pause [post]
func (h *AttemptHandler) PauseTimer(c *gin.Context) {
	h.timerCommand(c, "Timer paused", h.attemptService.PauseTimer)
}

// ResumeTimer resumes a paused countdown
// @Summary Resume timer
// @Tags exam-attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse{data=services.TimerView}
// @Failure 409 {object} ErrorResponse
// @Router /exam-attempts/{id}/resume [post]
func (h *AttemptHandler) ResumeTimer(c *gin.Context) {
	h.timerCommand(c, "Timer resumed", h.attemptService.ResumeTimer)
}

func (h *AttemptHandler) timerCommand(c *gin.Context, message string, command func(ctx context.Context, attemptID uint, userID string) (*services.TimerView, error)) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id := ParseIDParam(c, "id")
	if id == 0 {
		return
	}

	timer, err := command(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.RespondWithSuccess(c, http.StatusOK, message, timer, "attempt_id", id)
}

// SubmitAttempt finalizes and scores an attempt
// @Summary Submit attempt
// @Tags exam-attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse{data=services.SubmissionResult}
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /exam-attempts/{id}/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id := ParseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Submitting attempt", "attempt_id", id)

	result, err := h.attemptService.Submit(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.RespondWithSuccess(c, http.StatusOK, "Attempt submitted", result,
		"attempt_id", id, "total_score", result.TotalScore)
}

// AbandonAttempt closes an attempt without scoring it
// @Summary Abandon attempt
// @Tags exam-attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse
// @Router /exam-attempts/{id}/abandon [post]
func (h *AttemptHandler) AbandonAttempt(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id := ParseIDParam(c, "id")
	if id == 0 {
		return
	}

	if err := h.attemptService.Abandon(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.RespondWithSuccess(c, http.StatusOK, "Attempt abandoned", nil, "attempt_id", id)
}

// ExportAttempt downloads the answer sheet of a completed attempt
// @Summary Export attempt
// @Tags exam-attempts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Attempt ID"
// @Success 200 {file} file
// @Router /exam-attempts/{id}/export [get]
func (h *AttemptHandler) ExportAttempt(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id := ParseIDParam(c, "id")
	if id == 0 {
		return
	}

	data, err := h.exportService.ExportAttempt(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="attempt-%d.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ReviewWriting sends the writing answers of a completed attempt for review
// @Summary Review writing answers
// @Tags exam-attempts
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} SuccessResponse{data=services.WritingReviewResponse}
// @Failure 422 {object} ErrorResponse
// @Router /exam-attempts/{id}/writing-review [post]
func (h *AttemptHandler) ReviewWriting(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id := ParseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Reviewing writing answers", "attempt_id", id)

	resp, err := h.reviewService.ReviewAttempt(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.RespondWithSuccess(c, http.StatusOK, "Writing answers reviewed", resp,
		"attempt_id", id, "reviewed", resp.Reviewed, "failed", resp.Failed)
}
