package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/topik-vn/mock-exam-service/internal/services"
	"github.com/topik-vn/mock-exam-service/internal/utils"
)

type MistakeHandler struct {
	BaseHandler
	mistakeService services.MistakeService
}

func NewMistakeHandler(mistakeService services.MistakeService, logger utils.Logger) *MistakeHandler {
	return &MistakeHandler{
		BaseHandler:    NewBaseHandler(logger),
		mistakeService: mistakeService,
	}
}

// ListMistakes lists the caller's logged mistakes. The returned question ids
// can be passed to a weakness-mode attempt.
// @Summary List mistakes
// @Tags mistakes
// @Produce json
// @Param exam_type query string false "topik1 or topik2"
// @Param include_mastered query bool false "Include mastered mistakes"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} SuccessResponse{data=services.MistakeListResponse}
// @Router /mistakes [get]
func (h *MistakeHandler) ListMistakes(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req services.ListMistakesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid query parameters", err, err.Error())
		return
	}

	resp, err := h.mistakeService.List(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Mistakes retrieved", Data: resp})
}
