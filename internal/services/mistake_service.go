package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"github.com/topik-vn/mock-exam-service/internal/validator"
)

type mistakeService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
}

func NewMistakeService(repo repositories.Repository, logger *slog.Logger, validator *validator.Validator) MistakeService {
	return &mistakeService{
		repo:      repo,
		logger:    logger,
		validator: validator,
	}
}

// List returns the user's mistakes, most recent first. QuestionIDs can be
// passed straight to a weakness-mode start.
func (s *mistakeService) List(ctx context.Context, req *ListMistakesRequest, userID string) (*MistakeListResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	filters := repositories.MistakeFilters{
		ExamType:        req.ExamType,
		IncludeMastered: req.IncludeMastered,
		Limit:           repositories.DefaultLimit(req.Limit),
		Offset:          req.Offset,
	}
	mistakes, total, err := s.repo.Mistake().ListByUser(ctx, userID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list mistakes: %w", err)
	}

	ids := make([]uint, len(mistakes))
	for i, m := range mistakes {
		ids[i] = m.QuestionID
	}

	s.logger.Debug("Mistakes listed", "user_id", userID, "count", len(mistakes), "total", total)
	return &MistakeListResponse{
		Mistakes:    mistakes,
		QuestionIDs: ids,
		Total:       total,
		Limit:       filters.Limit,
		Offset:      filters.Offset,
	}, nil
}
