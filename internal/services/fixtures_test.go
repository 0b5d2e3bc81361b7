package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/topik-vn/mock-exam-service/internal/cache"
	"github.com/topik-vn/mock-exam-service/internal/config"
	"github.com/topik-vn/mock-exam-service/internal/events"
	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"github.com/topik-vn/mock-exam-service/internal/repositories/memory"
	"github.com/topik-vn/mock-exam-service/internal/validator"
	"gorm.io/datatypes"
)

func intPtr(v int) *int           { return &v }
func strPtr(v string) *string     { return &v }
func floatPtr(v float64) *float64 { return &v }

func sectionPtr(s models.Section) *models.Section { return &s }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// choiceQuestion builds an active four-option question whose key is correct
// (1-based).
func choiceQuestion(examType models.ExamType, section models.Section, part int, correct int) *models.Question {
	return &models.Question{
		ExamType:      examType,
		Section:       section,
		PartNumber:    part,
		Prompt:        fmt.Sprintf("%s part %d", section, part),
		OptionKind:    models.OptionText,
		Options:       datatypes.JSON(`["가","나","다","라"]`),
		CorrectAnswer: correct,
		Explanations:  datatypes.JSON(`{"vi":"giải thích","en":"explanation"}`),
		Points:        2,
		Difficulty:    "medium",
		IsActive:      true,
	}
}

func writingQuestion(examType models.ExamType) *models.Question {
	essay := models.ResponseEssay
	return &models.Question{
		ExamType:     examType,
		Section:      models.SectionWriting,
		PartNumber:   54,
		Prompt:       "다음을 주제로 하여 자신의 생각을 쓰십시오.",
		ResponseType: &essay,
		WordLimit:    intPtr(700),
		IsActive:     true,
	}
}

// seedPart adds n reading questions of topik1 part 1, all keyed to option 3.
func seedPart(store *memory.Store, n int) []*models.Question {
	questions := make([]*models.Question, n)
	for i := range questions {
		questions[i] = choiceQuestion(models.ExamTopik1, models.SectionReading, 1, 3)
	}
	store.AddQuestions(questions...)
	return questions
}

func partRequest() *StartAttemptRequest {
	return &StartAttemptRequest{
		ExamType:   models.ExamTopik1,
		Mode:       models.ModePart,
		Section:    sectionPtr(models.SectionReading),
		PartNumber: intPtr(1),
	}
}

type serviceFixture struct {
	store     *memory.Store
	repo      repositories.Repository
	clock     *fakeClock
	publisher *events.MockEventPublisher
	cfg       config.ExamConfig
	svc       *attemptService
}

func newServiceFixture(t *testing.T, cfg config.ExamConfig) *serviceFixture {
	t.Helper()
	store := memory.NewStore()
	f := &serviceFixture{
		store:     store,
		repo:      store,
		clock:     newFakeClock(t0),
		publisher: events.NewMockEventPublisher(testLogger()),
		cfg:       cfg,
	}
	f.rebuild()
	t.Cleanup(func() {
		_ = f.svc.Shutdown(context.Background())
	})
	return f
}

// rebuild replaces the service over the same store, as after a restart.
func (f *serviceFixture) rebuild() {
	f.svc = NewAttemptService(f.repo, cache.NewMemoryCache(), f.publisher, testLogger(), validator.New(), f.cfg, f.clock).(*attemptService)
}

func (f *serviceFixture) start(t *testing.T, req *StartAttemptRequest, userID string) *StartAttemptResponse {
	t.Helper()
	resp, err := f.svc.Start(context.Background(), req, userID)
	require.NoError(t, err)
	require.NotNil(t, resp.Session)
	return resp
}

func (f *serviceFixture) answer(t *testing.T, attemptID, questionID uint, index int, userID string) *AnswerFeedback {
	t.Helper()
	feedback, err := f.svc.RecordAnswer(context.Background(), attemptID, questionID, &RecordAnswerRequest{SelectedIndex: intPtr(index)}, userID)
	require.NoError(t, err)
	return feedback
}

func (f *serviceFixture) storedAttempt(t *testing.T, id uint) *models.ExamAttempt {
	t.Helper()
	attempt, err := f.store.Attempt().GetByID(context.Background(), id)
	require.NoError(t, err)
	return attempt
}

func (f *serviceFixture) attemptStatus(id uint) models.AttemptStatus {
	attempt, err := f.store.Attempt().GetByID(context.Background(), id)
	if err != nil {
		return ""
	}
	return attempt.Status
}

func untimedConfig() config.ExamConfig {
	cfg := config.DefaultExamConfig()
	cfg.TimeLimits = map[config.TimeLimitKey]int{}
	return cfg
}

var errInjected = errors.New("injected store failure")

// flakyRepo wraps a repository and fails chosen operations on demand.
type flakyRepo struct {
	repositories.Repository

	mu             sync.Mutex
	failComplete   bool
	failAnswers    bool
	failMistakes   bool
	failAnsweredID bool
}

func newFlakyRepo(inner repositories.Repository) *flakyRepo {
	return &flakyRepo{Repository: inner}
}

func (r *flakyRepo) set(fn func(r *flakyRepo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *flakyRepo) failing(flag *bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *flag
}

func (r *flakyRepo) Attempt() repositories.AttemptRepository {
	return flakyAttempts{r.Repository.Attempt(), r}
}

func (r *flakyRepo) Answer() repositories.AnswerRepository {
	return flakyAnswers{r.Repository.Answer(), r}
}

func (r *flakyRepo) Mistake() repositories.MistakeRepository {
	return flakyMistakes{r.Repository.Mistake(), r}
}

func (r *flakyRepo) WithTransaction(ctx context.Context, fn func(tx repositories.Repository) error) error {
	return r.Repository.WithTransaction(ctx, func(tx repositories.Repository) error {
		return fn(&flakyTx{Repository: tx, parent: r})
	})
}

// flakyTx routes a transaction's stores through the parent's failure flags.
type flakyTx struct {
	repositories.Repository
	parent *flakyRepo
}

func (t *flakyTx) Attempt() repositories.AttemptRepository {
	return flakyAttempts{t.Repository.Attempt(), t.parent}
}

func (t *flakyTx) Answer() repositories.AnswerRepository {
	return flakyAnswers{t.Repository.Answer(), t.parent}
}

func (t *flakyTx) Mistake() repositories.MistakeRepository {
	return flakyMistakes{t.Repository.Mistake(), t.parent}
}

type flakyAttempts struct {
	repositories.AttemptRepository
	r *flakyRepo
}

func (a flakyAttempts) CompleteAttempt(ctx context.Context, id uint, completion repositories.AttemptCompletion) error {
	if a.r.failing(&a.r.failComplete) {
		return errInjected
	}
	return a.AttemptRepository.CompleteAttempt(ctx, id, completion)
}

type flakyAnswers struct {
	repositories.AnswerRepository
	r *flakyRepo
}

func (a flakyAnswers) Upsert(ctx context.Context, answer *models.AttemptAnswer) error {
	if a.r.failing(&a.r.failAnswers) {
		return errInjected
	}
	return a.AnswerRepository.Upsert(ctx, answer)
}

func (a flakyAnswers) GetAnsweredQuestionIDs(ctx context.Context, userID string, examType models.ExamType) ([]uint, error) {
	if a.r.failing(&a.r.failAnsweredID) {
		return nil, errInjected
	}
	return a.AnswerRepository.GetAnsweredQuestionIDs(ctx, userID, examType)
}

type flakyMistakes struct {
	repositories.MistakeRepository
	r *flakyRepo
}

func (m flakyMistakes) Upsert(ctx context.Context, mistake *models.Mistake) error {
	if m.r.failing(&m.r.failMistakes) {
		return errInjected
	}
	return m.MistakeRepository.Upsert(ctx, mistake)
}
