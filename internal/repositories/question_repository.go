package repositories

import (
	"context"

	"github.com/topik-vn/mock-exam-service/internal/models"
)

// QuestionRepository is read-only; content entry happens elsewhere. Both
// lookups return active questions only.
type QuestionRepository interface {
	Find(ctx context.Context, filters QuestionFilters) ([]*models.Question, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*models.Question, error)
}
