package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/remote"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
)

// reviewTimeout bounds a single evaluation call.
const reviewTimeout = 2 * time.Minute

type writingEvaluationRequest struct {
	QuestionID   uint                 `json:"question_id"`
	ExamType     models.ExamType      `json:"exam_type"`
	Prompt       string               `json:"prompt"`
	Answer       string               `json:"answer"`
	ResponseType *models.ResponseType `json:"response_type,omitempty"`
	WordLimit    *int                 `json:"word_limit,omitempty"`
	Language     string               `json:"language"`
}

type writingEvaluationResponse struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

type writingReviewService struct {
	repo    repositories.Repository
	invoker FunctionInvoker
	clock   Clock
	logger  *slog.Logger
}

func NewWritingReviewService(repo repositories.Repository, invoker FunctionInvoker, logger *slog.Logger) WritingReviewService {
	return &writingReviewService{
		repo:    repo,
		invoker: invoker,
		clock:   RealClock(),
		logger:  logger,
	}
}

// ReviewAttempt evaluates every non-empty writing answer of a completed
// attempt. One failing answer does not stop the others; its error is
// reported in the response.
func (s *writingReviewService) ReviewAttempt(ctx context.Context, attemptID uint, userID string) (*WritingReviewResponse, error) {
	attempt, err := loadOwnedAttempt(ctx, s.repo, attemptID, userID, "review_writing")
	if err != nil {
		return nil, err
	}
	if attempt.Status != models.AttemptCompleted {
		return nil, ErrAttemptNotCompleted
	}

	answers, err := s.repo.Answer().GetByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}

	var written []*models.AttemptAnswer
	var questionIDs []uint
	for _, a := range answers {
		if a.TextAnswer != nil && strings.TrimSpace(*a.TextAnswer) != "" {
			written = append(written, a)
			questionIDs = append(questionIDs, a.QuestionID)
		}
	}
	if len(written) == 0 {
		return nil, ErrNoWritingAnswers
	}

	questions, err := s.repo.Question().GetByIDs(ctx, questionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	byID := make(map[uint]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	resp := &WritingReviewResponse{AttemptID: attemptID, Reviews: make([]WritingReview, 0, len(written))}
	for _, a := range written {
		review := s.reviewAnswer(ctx, attempt, a, byID[a.QuestionID])
		if review.Error != "" {
			resp.Failed++
		} else {
			resp.Reviewed++
		}
		resp.Reviews = append(resp.Reviews, review)
	}

	s.logger.Info("Writing review completed",
		"attempt_id", attemptID,
		"user_id", userID,
		"reviewed", resp.Reviewed,
		"failed", resp.Failed)
	return resp, nil
}

func (s *writingReviewService) reviewAnswer(ctx context.Context, attempt *models.ExamAttempt, answer *models.AttemptAnswer, question *models.Question) WritingReview {
	review := WritingReview{QuestionID: answer.QuestionID}
	if question == nil {
		review.Error = ErrQuestionNotFound.Error()
		return review
	}

	req := writingEvaluationRequest{
		QuestionID:   question.ID,
		ExamType:     attempt.ExamType,
		Prompt:       question.Prompt,
		Answer:       *answer.TextAnswer,
		ResponseType: question.ResponseType,
		WordLimit:    question.WordLimit,
		Language:     defaultLanguage,
	}
	callCtx, cancel := context.WithTimeout(ctx, reviewTimeout)
	defer cancel()

	var out writingEvaluationResponse
	if err := s.invoker.Invoke(callCtx, remote.FunctionEvaluateWriting, req, &out); err != nil {
		s.logger.Warn("Writing evaluation failed",
			"attempt_id", attempt.ID,
			"question_id", question.ID,
			"error", err)
		review.Error = err.Error()
		return review
	}

	err := s.repo.Answer().UpdateReview(ctx, attempt.ID, question.ID, repositories.AnswerReview{
		Feedback:   out.Feedback,
		Score:      out.Score,
		ReviewedAt: s.clock.Now(),
	})
	if err != nil {
		s.logger.Error("Failed to store writing review",
			"attempt_id", attempt.ID,
			"question_id", question.ID,
			"error", err)
		review.Error = fmt.Sprintf("failed to store review: %v", err)
		return review
	}

	review.Score = out.Score
	review.Feedback = out.Feedback
	return review
}
