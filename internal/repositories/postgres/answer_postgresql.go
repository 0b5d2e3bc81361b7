package postgres

import (
	"context"
	"errors"

	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"gorm.io/gorm"
)

type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

func (a AnswerPostgreSQL) Upsert(ctx context.Context, answer *models.AttemptAnswer) error {
	var existing models.AttemptAnswer
	err := a.db.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", answer.AttemptID, answer.QuestionID).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return a.db.WithContext(ctx).Create(answer).Error
	}
	if err != nil {
		return err
	}

	answer.ID = existing.ID
	return a.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"selected_answer":    answer.SelectedAnswer,
		"text_answer":        answer.TextAnswer,
		"is_correct":         answer.IsCorrect,
		"time_spent_seconds": answer.TimeSpentSeconds,
		"answered_at":        answer.AnsweredAt,
	}).Error
}

func (a AnswerPostgreSQL) GetByAttempt(ctx context.Context, attemptID uint) ([]*models.AttemptAnswer, error) {
	var answers []*models.AttemptAnswer
	if err := a.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("id").
		Find(&answers).Error; err != nil {
		return nil, err
	}
	return answers, nil
}

func (a AnswerPostgreSQL) GetAnsweredQuestionIDs(ctx context.Context, userID string, examType models.ExamType) ([]uint, error) {
	var ids []uint
	err := a.db.WithContext(ctx).
		Model(&models.AttemptAnswer{}).
		Joins("JOIN exam_attempts ON exam_attempts.id = exam_attempt_answers.attempt_id").
		Where("exam_attempts.user_id = ? AND exam_attempts.exam_type = ?", userID, examType).
		Where("(exam_attempt_answers.selected_answer IS NOT NULL OR exam_attempt_answers.text_answer IS NOT NULL)").
		Distinct().
		Pluck("exam_attempt_answers.question_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (a AnswerPostgreSQL) UpdateReview(ctx context.Context, attemptID, questionID uint, review repositories.AnswerReview) error {
	result := a.db.WithContext(ctx).Model(&models.AttemptAnswer{}).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		Updates(map[string]interface{}{
			"ai_feedback": review.Feedback,
			"ai_score":    review.Score,
			"reviewed_at": review.ReviewedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}
