package repositories

import (
	"context"
	"time"

	"github.com/topik-vn/mock-exam-service/internal/models"
)

// Repository groups the stores the exam runner needs. WithTransaction runs fn
// against a repository bound to one transaction; an error from fn rolls back.
type Repository interface {
	Question() QuestionRepository
	Attempt() AttemptRepository
	Answer() AnswerRepository
	Mistake() MistakeRepository

	WithTransaction(ctx context.Context, fn func(tx Repository) error) error
}

// ===== SHARED FILTER STRUCTS =====

type QuestionFilters struct {
	ExamType       models.ExamType `json:"exam_type"`
	Section        *models.Section `json:"section"`
	PartNumber     *int            `json:"part_number"`
	DifficultyTags []string        `json:"difficulty_tags"`
}

type AttemptFilters struct {
	ExamType *models.ExamType      `json:"exam_type"`
	Status   *models.AttemptStatus `json:"status"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
}

type MistakeFilters struct {
	ExamType        *models.ExamType `json:"exam_type"`
	IncludeMastered bool             `json:"include_mastered"`
	Limit           int              `json:"limit"`
	Offset          int              `json:"offset"`
}

// ===== SHARED HELPER STRUCTS =====

// AttemptCompletion carries the values written when an attempt is finalized.
type AttemptCompletion struct {
	CorrectCount     int
	TotalScore       int
	TimeSpentSeconds int
	FinishedAt       time.Time
	EndReason        models.EndReason
}

type AnswerReview struct {
	Feedback   string
	Score      *float64
	ReviewedAt time.Time
}

// DefaultLimit normalizes a page size for list queries.
func DefaultLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
