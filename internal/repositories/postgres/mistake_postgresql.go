package postgres

import (
	"context"
	"errors"

	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"gorm.io/gorm"
)

type MistakePostgreSQL struct {
	db *gorm.DB
}

func NewMistakePostgreSQL(db *gorm.DB) repositories.MistakeRepository {
	return &MistakePostgreSQL{db: db}
}

func (m MistakePostgreSQL) GetByUserAndQuestion(ctx context.Context, userID string, questionID uint) (*models.Mistake, error) {
	var mistake models.Mistake
	if err := m.db.WithContext(ctx).
		Where("user_id = ? AND question_id = ?", userID, questionID).
		First(&mistake).Error; err != nil {
		return nil, err
	}
	return &mistake, nil
}

func (m MistakePostgreSQL) Upsert(ctx context.Context, mistake *models.Mistake) error {
	existing, err := m.GetByUserAndQuestion(ctx, mistake.UserID, mistake.QuestionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if mistake.ReviewCount == 0 {
			mistake.ReviewCount = 1
		}
		return m.db.WithContext(ctx).Create(mistake).Error
	}
	if err != nil {
		return err
	}

	if err := m.db.WithContext(ctx).Model(existing).Updates(map[string]interface{}{
		"review_count":  gorm.Expr("review_count + 1"),
		"attempt_id":    mistake.AttemptID,
		"last_wrong_at": mistake.LastWrongAt,
	}).Error; err != nil {
		return err
	}

	mistake.ID = existing.ID
	mistake.IsMastered = existing.IsMastered
	mistake.ReviewCount = existing.ReviewCount + 1
	return nil
}

func (m MistakePostgreSQL) ListByUser(ctx context.Context, userID string, filters repositories.MistakeFilters) ([]*models.Mistake, int64, error) {
	var mistakes []*models.Mistake
	var total int64

	query := m.db.WithContext(ctx).Model(&models.Mistake{}).Where("exam_mistakes.user_id = ?", userID)
	if !filters.IncludeMastered {
		query = query.Where("exam_mistakes.is_mastered = ?", false)
	}
	if filters.ExamType != nil {
		query = query.Joins("JOIN exam_questions ON exam_questions.id = exam_mistakes.question_id").
			Where("exam_questions.exam_type = ?", *filters.ExamType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("exam_mistakes.last_wrong_at DESC").
		Limit(repositories.DefaultLimit(filters.Limit)).
		Offset(filters.Offset).
		Find(&mistakes).Error; err != nil {
		return nil, 0, err
	}

	return mistakes, total, nil
}
