package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"

	"github.com/topik-vn/mock-exam-service/internal/cache"
	"github.com/topik-vn/mock-exam-service/internal/config"
	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"github.com/topik-vn/mock-exam-service/internal/validator"
	"github.com/topik-vn/mock-exam-service/pkg/monitoring"
)

// SessionQuestion is a question that passed validation, with its parsed
// choices.
type SessionQuestion struct {
	Question *models.Question
	Choices  models.Choices
}

// QuestionSelection describes the question set an attempt asks for.
type QuestionSelection struct {
	UserID      string
	ExamType    models.ExamType
	Mode        models.ExamMode
	Section     *models.Section
	PartNumber  *int
	Difficulty  *models.DifficultyLevel
	QuestionIDs []uint
}

// QuestionSelector builds the ordered question set for a new attempt.
type QuestionSelector struct {
	repo      repositories.Repository
	cache     cache.CacheService
	validator *validator.QuestionValidator
	cfg       config.ExamConfig
	logger    *slog.Logger
	shuffle   func(n int, swap func(i, j int))
}

func NewQuestionSelector(repo repositories.Repository, cacheService cache.CacheService, questionValidator *validator.QuestionValidator, cfg config.ExamConfig, logger *slog.Logger) *QuestionSelector {
	return &QuestionSelector{
		repo:      repo,
		cache:     cacheService,
		validator: questionValidator,
		cfg:       cfg,
		logger:    logger,
		shuffle:   rand.Shuffle,
	}
}

// Select returns the shuffled, capped question set for sel. It returns
// ErrContentUnavailable when nothing usable remains.
func (s *QuestionSelector) Select(ctx context.Context, sel QuestionSelection) ([]SessionQuestion, error) {
	if sel.Mode == models.ModeWeakness {
		return s.selectByIDs(ctx, sel)
	}

	pool, err := s.loadPool(ctx, sel)
	if err != nil {
		return nil, err
	}
	valid := s.validate(pool)

	answered, err := s.repo.Answer().GetAnsweredQuestionIDs(ctx, sel.UserID, sel.ExamType)
	if err != nil {
		// Not fatal: the user may see repeats this time.
		s.logger.Warn("Failed to load answered questions, skipping de-duplication",
			"user_id", sel.UserID,
			"exam_type", sel.ExamType,
			"error", err)
		answered = nil
	}
	seen := make(map[uint]struct{}, len(answered))
	for _, id := range answered {
		seen[id] = struct{}{}
	}

	var fresh, repeat []SessionQuestion
	for _, q := range valid {
		if _, ok := seen[q.Question.ID]; ok {
			repeat = append(repeat, q)
		} else {
			fresh = append(fresh, q)
		}
	}
	s.shuffleQuestions(fresh)

	selected := fresh
	if len(fresh) < s.cfg.MinViableQuestions {
		s.shuffleQuestions(repeat)
		selected = append(fresh, repeat...)
		s.logger.Info("Fresh pool below minimum, reusing seen questions",
			"user_id", sel.UserID,
			"fresh", len(fresh),
			"seen", len(repeat),
			"min_viable", s.cfg.MinViableQuestions)
	}

	if limit := s.cfg.Policy(sel.Mode).Cap; limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	// Fresh questions win the cap; the final order is still random.
	s.shuffleQuestions(selected)

	if len(selected) == 0 {
		return nil, ErrContentUnavailable
	}
	return selected, nil
}

func (s *QuestionSelector) selectByIDs(ctx context.Context, sel QuestionSelection) ([]SessionQuestion, error) {
	ids := uniqueIDs(sel.QuestionIDs)
	questions, err := s.repo.Question().GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions by id: %w", err)
	}

	selected := make([]SessionQuestion, 0, len(questions))
	for _, q := range s.validate(questions) {
		if q.Question.ExamType == sel.ExamType {
			selected = append(selected, q)
		}
	}
	s.shuffleQuestions(selected)
	if len(selected) > len(ids) {
		selected = selected[:len(ids)]
	}

	if len(selected) == 0 {
		return nil, ErrContentUnavailable
	}
	return selected, nil
}

// loadPool reads the candidate pool through the cache. Cache failures fall
// through to the store.
func (s *QuestionSelector) loadPool(ctx context.Context, sel QuestionSelection) ([]*models.Question, error) {
	filters := repositories.QuestionFilters{
		ExamType:   sel.ExamType,
		Section:    sel.Section,
		PartNumber: sel.PartNumber,
	}
	if sel.Mode != models.ModeFull && sel.Difficulty != nil {
		filters.DifficultyTags = models.DifficultyTags(*sel.Difficulty)
	}

	key := poolCacheKey(filters)
	if s.cache != nil {
		var cached []*models.Question
		err := s.cache.Get(ctx, key, &cached)
		switch {
		case err == nil:
			monitoring.PoolCacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		case cache.IsCacheMiss(err):
			monitoring.PoolCacheLookups.WithLabelValues("miss").Inc()
		default:
			monitoring.PoolCacheLookups.WithLabelValues("error").Inc()
			s.logger.Warn("Question pool cache read failed", "key", key, "error", err)
		}
	}

	pool, err := s.repo.Question().Find(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to load question pool: %w", err)
	}

	if s.cache != nil && len(pool) > 0 {
		if err := s.cache.Set(ctx, key, pool, s.cfg.PoolCacheTTL); err != nil {
			s.logger.Warn("Question pool cache write failed", "key", key, "error", err)
		}
	}
	return pool, nil
}

func (s *QuestionSelector) validate(questions []*models.Question) []SessionQuestion {
	valid := make([]SessionQuestion, 0, len(questions))
	for _, q := range questions {
		choices, err := s.validator.ValidateForSession(q)
		if err != nil {
			monitoring.RejectedQuestions.Inc()
			s.logger.Warn("Excluding malformed question", "error", err)
			continue
		}
		valid = append(valid, SessionQuestion{Question: q, Choices: choices})
	}
	return valid
}

func (s *QuestionSelector) shuffleQuestions(questions []SessionQuestion) {
	s.shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
}

func poolCacheKey(f repositories.QuestionFilters) string {
	section, part, difficulty := "*", "*", "*"
	if f.Section != nil {
		section = string(*f.Section)
	}
	if f.PartNumber != nil {
		part = strconv.Itoa(*f.PartNumber)
	}
	if len(f.DifficultyTags) > 0 {
		difficulty = f.DifficultyTags[0]
	}
	return strings.Join([]string{"pool", string(f.ExamType), section, part, difficulty}, ":")
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
