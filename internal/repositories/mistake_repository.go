package repositories

import (
	"context"

	"github.com/topik-vn/mock-exam-service/internal/models"
)

// MistakeRepository keeps at most one row per (user, question).
type MistakeRepository interface {
	GetByUserAndQuestion(ctx context.Context, userID string, questionID uint) (*models.Mistake, error)
	// Upsert inserts a fresh mistake or bumps review_count on the existing row
	// without touching its mastered flag.
	Upsert(ctx context.Context, mistake *models.Mistake) error
	ListByUser(ctx context.Context, userID string, filters MistakeFilters) ([]*models.Mistake, int64, error)
}
