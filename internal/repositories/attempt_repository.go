package repositories

import (
	"context"

	"github.com/topik-vn/mock-exam-service/internal/models"
)

// AttemptRepository interface for exam attempt operations
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.ExamAttempt) error
	GetByID(ctx context.Context, id uint) (*models.ExamAttempt, error)
	ListByUser(ctx context.Context, userID string, filters AttemptFilters) ([]*models.ExamAttempt, int64, error)

	// GetOpenAttempt returns (nil, nil) when the user has no open attempt.
	GetOpenAttempt(ctx context.Context, userID string, examType models.ExamType) (*models.ExamAttempt, error)

	UpdateProgress(ctx context.Context, id uint, correctCount int) error
	CompleteAttempt(ctx context.Context, id uint, completion AttemptCompletion) error
	MarkAbandoned(ctx context.Context, id uint, reason models.EndReason) error
}

// AnswerRepository interface for per-question answer operations
type AnswerRepository interface {
	// Upsert updates the (attempt, question) row if it exists, else inserts.
	Upsert(ctx context.Context, answer *models.AttemptAnswer) error
	GetByAttempt(ctx context.Context, attemptID uint) ([]*models.AttemptAnswer, error)
	GetAnsweredQuestionIDs(ctx context.Context, userID string, examType models.ExamType) ([]uint, error)
	UpdateReview(ctx context.Context, attemptID, questionID uint, review AnswerReview) error
}
