package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/topik-vn/mock-exam-service/internal/services"
	"github.com/topik-vn/mock-exam-service/internal/utils"
)

type SpeechHandler struct {
	BaseHandler
	speechService services.SpeechService
}

func NewSpeechHandler(speechService services.SpeechService, logger utils.Logger) *SpeechHandler {
	return &SpeechHandler{
		BaseHandler:   NewBaseHandler(logger),
		speechService: speechService,
	}
}

// Synthesize returns spoken audio for a Korean prompt
// @Summary Text to speech
// @Tags speech
// @Accept json
// @Produce audio/mpeg
// @Param request body services.SpeechRequest true "Text to speak"
// @Success 200 {file} file
// @Failure 400 {object} ErrorResponse
// @Router /speech [post]
func (h *SpeechHandler) Synthesize(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	var req services.SpeechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	resp, err := h.speechService.Synthesize(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	if resp.Cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.Data(http.StatusOK, resp.ContentType, resp.Audio)
}
