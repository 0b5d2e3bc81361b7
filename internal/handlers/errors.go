package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/topik-vn/mock-exam-service/internal/services"
)

const (
	codeValidation         = "VALIDATION_FAILED"
	codeBusinessRule       = "BUSINESS_RULE"
	codeForbidden          = "FORBIDDEN"
	codeNotFound           = "NOT_FOUND"
	codeConflict           = "CONFLICT"
	codeContentUnavailable = "CONTENT_UNAVAILABLE"
	codeRetryable          = "RETRYABLE"
	codeInternal           = "INTERNAL_ERROR"
)

// handleServiceError maps service errors onto HTTP responses.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var submissionError *services.SubmissionError
	if errors.As(err, &submissionError) && submissionError.Retryable {
		h.LogError(c, err, "Submission failed, retry allowed", "attempt_id", submissionError.AttemptID)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
			Message:   "Submission could not be saved, please retry",
			Code:      codeRetryable,
			Retryable: true,
		})
		return
	}

	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		h.respondWithCode(c, http.StatusBadRequest, codeValidation, "Validation failed", validationErrors)
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		h.respondWithCode(c, http.StatusUnprocessableEntity, codeBusinessRule, businessRuleError.Message, map[string]interface{}{
			"rule":    businessRuleError.Rule,
			"context": businessRuleError.Context,
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		h.respondWithCode(c, http.StatusForbidden, codeForbidden, "Access denied", map[string]interface{}{
			"resource": permissionError.Resource,
			"action":   permissionError.Action,
		})
		return
	}

	switch {
	case services.IsValidation(err):
		h.respondWithCode(c, http.StatusBadRequest, codeValidation, err.Error(), nil)
	case services.IsUnauthorized(err):
		h.respondWithCode(c, http.StatusForbidden, codeForbidden, "Access denied", nil)
	case services.IsNotFound(err):
		h.respondWithCode(c, http.StatusNotFound, codeNotFound, notFoundMessage(err), nil)
	case services.IsContentUnavailable(err):
		h.respondWithCode(c, http.StatusUnprocessableEntity, codeContentUnavailable, rootMessage(err), nil)
	case services.IsConflict(err):
		h.respondWithCode(c, http.StatusConflict, codeConflict, rootMessage(err), nil)
	default:
		h.LogError(c, err, "Unhandled service error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
			Code:    codeInternal,
		})
	}
}

func (h *BaseHandler) respondWithCode(c *gin.Context, status int, code, message string, details interface{}) {
	h.LogWarn(c, message, "status_code", status, "code", code)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Message: message,
		Details: details,
		Code:    code,
	})
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrAttemptNotFound):
		return "Attempt not found"
	case errors.Is(err, services.ErrQuestionNotInExam), errors.Is(err, services.ErrQuestionNotFound):
		return "Question not found in attempt"
	default:
		return "Resource not found"
	}
}

// rootMessage returns the innermost error text, without the wrapping context
// added on the way up.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
