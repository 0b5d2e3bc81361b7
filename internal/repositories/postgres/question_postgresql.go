package postgres

import (
	"context"

	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"gorm.io/gorm"
)

type QuestionPostgreSQL struct {
	db *gorm.DB
}

func NewQuestionPostgreSQL(db *gorm.DB) repositories.QuestionRepository {
	return &QuestionPostgreSQL{db: db}
}

func (q QuestionPostgreSQL) Find(ctx context.Context, filters repositories.QuestionFilters) ([]*models.Question, error) {
	var questions []*models.Question

	query := q.db.WithContext(ctx).Model(&models.Question{}).
		Where("is_active = ?", true).
		Where("exam_type = ?", filters.ExamType)

	if filters.Section != nil {
		query = query.Where("section = ?", *filters.Section)
	}
	if filters.PartNumber != nil {
		query = query.Where("part_number = ?", *filters.PartNumber)
	}
	if len(filters.DifficultyTags) > 0 {
		query = query.Where("LOWER(difficulty) IN ?", filters.DifficultyTags)
	}

	if err := query.Order("section, part_number, question_number, id").Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (q QuestionPostgreSQL) GetByIDs(ctx context.Context, ids []uint) ([]*models.Question, error) {
	if len(ids) == 0 {
		return []*models.Question{}, nil
	}

	var questions []*models.Question
	if err := q.db.WithContext(ctx).
		Where("id IN ? AND is_active = ?", ids, true).
		Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}
