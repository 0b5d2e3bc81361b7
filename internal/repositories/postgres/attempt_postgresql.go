package postgres

import (
	"context"
	"errors"

	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"gorm.io/gorm"
)

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

func (a AttemptPostgreSQL) Create(ctx context.Context, attempt *models.ExamAttempt) error {
	return a.db.WithContext(ctx).Create(attempt).Error
}

func (a AttemptPostgreSQL) GetByID(ctx context.Context, id uint) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt
	if err := a.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, err
	}

	return &attempt, nil
}

func (a AttemptPostgreSQL) ListByUser(ctx context.Context, userID string, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	var attempts []*models.ExamAttempt
	var total int64

	// apply filter first
	query := a.db.WithContext(ctx).Model(&models.ExamAttempt{}).Where("user_id = ?", userID)
	if filters.ExamType != nil {
		query = query.Where("exam_type = ?", *filters.ExamType)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = query.Order("started_at DESC").
		Limit(repositories.DefaultLimit(filters.Limit)).
		Offset(filters.Offset)

	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func (a AttemptPostgreSQL) GetOpenAttempt(ctx context.Context, userID string, examType models.ExamType) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt
	if err := a.db.WithContext(ctx).
		Where("user_id = ? AND exam_type = ? AND status = ? AND is_completed = ?",
			userID, examType, models.AttemptInProgress, false).
		Order("started_at DESC").
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &attempt, nil
}

func (a AttemptPostgreSQL) UpdateProgress(ctx context.Context, id uint, correctCount int) error {
	result := a.db.WithContext(ctx).Model(&models.ExamAttempt{}).
		Where("id = ? AND status = ?", id, models.AttemptInProgress).
		Update("correct_count", correctCount)
	return result.Error
}

func (a AttemptPostgreSQL) CompleteAttempt(ctx context.Context, id uint, completion repositories.AttemptCompletion) error {
	result := a.db.WithContext(ctx).Model(&models.ExamAttempt{}).
		Where("id = ? AND status = ?", id, models.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":             models.AttemptCompleted,
			"is_completed":       true,
			"correct_count":      completion.CorrectCount,
			"total_score":        completion.TotalScore,
			"time_spent_seconds": completion.TimeSpentSeconds,
			"finished_at":        completion.FinishedAt,
			"end_reason":         completion.EndReason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (a AttemptPostgreSQL) MarkAbandoned(ctx context.Context, id uint, reason models.EndReason) error {
	result := a.db.WithContext(ctx).Model(&models.ExamAttempt{}).
		Where("id = ? AND status = ?", id, models.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":     models.AttemptAbandoned,
			"end_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}
