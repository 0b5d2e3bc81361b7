package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/topik-vn/mock-exam-service/internal/services"
	"github.com/topik-vn/mock-exam-service/internal/utils"
)

type HandlerManager struct {
	attemptHandler *AttemptHandler
	mistakeHandler *MistakeHandler
	speechHandler  *SpeechHandler
	identity       IdentityProvider
	logger         utils.Logger
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	identity IdentityProvider,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		attemptHandler: NewAttemptHandler(serviceManager.Attempt(), serviceManager.Export(), serviceManager.WritingReview(), logger),
		mistakeHandler: NewMistakeHandler(serviceManager.Mistake(), logger),
		speechHandler:  NewSpeechHandler(serviceManager.Speech(), logger),
		identity:       identity,
		logger:         logger,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "mock-exam-service",
		})
	})

	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(hm.identity, hm.logger))
	{
		attempts := v1.Group("/exam-attempts")
		{
			attempts.POST("", hm.attemptHandler.StartAttempt)
			attempts.GET("", hm.attemptHandler.ListAttempts)
			attempts.GET("/current", hm.attemptHandler.GetCurrentAttempt)
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.GET("/:id/result", hm.attemptHandler.GetResult)

			// In-session commands
			attempts.PUT("/:id/answers/:question_id", hm.attemptHandler.RecordAnswer)
			attempts.POST("/:id/flags/:question_id", hm.attemptHandler.ToggleFlag)
			attempts.POST("/:id/pause", hm.attemptHandler.PauseTimer)
			attempts.POST("/:id/resume", hm.attemptHandler.ResumeTimer)
			attempts.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)
			attempts.POST("/:id/abandon", hm.attemptHandler.AbandonAttempt)

			// Completed attempts
			attempts.GET("/:id/export", hm.attemptHandler.ExportAttempt)
			attempts.POST("/:id/writing-review", hm.attemptHandler.ReviewWriting)
		}

		v1.GET("/mistakes", hm.mistakeHandler.ListMistakes)
		v1.POST("/speech", hm.speechHandler.Synthesize)
	}
}
