package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/topik-vn/mock-exam-service/internal/cache"
	"github.com/topik-vn/mock-exam-service/internal/config"
	"github.com/topik-vn/mock-exam-service/internal/events"
	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"github.com/topik-vn/mock-exam-service/internal/validator"
	"github.com/topik-vn/mock-exam-service/pkg/monitoring"
)

type attemptService struct {
	repo      repositories.Repository
	selector  *QuestionSelector
	publisher events.EventPublisher
	validator *validator.Validator
	cfg       config.ExamConfig
	clock     Clock
	logger    *slog.Logger
	opLogger  *ServiceLogger
	sessions  *sessionRegistry
	userLocks *keyedMutex
}

func NewAttemptService(
	repo repositories.Repository,
	cacheService cache.CacheService,
	publisher events.EventPublisher,
	logger *slog.Logger,
	validator *validator.Validator,
	cfg config.ExamConfig,
	clock Clock,
) AttemptService {
	if clock == nil {
		clock = RealClock()
	}
	return &attemptService{
		repo:      repo,
		selector:  NewQuestionSelector(repo, cacheService, validator.Question(), cfg, logger),
		publisher: publisher,
		validator: validator,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		opLogger:  NewServiceLogger(logger, LogConfig{Service: "mock-exam-service", Component: "attempt"}),
		sessions:  newSessionRegistry(),
		userLocks: newKeyedMutex(),
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

// Start resumes the user's open attempt for the exam type, or builds a new
// one. With Restart set the open attempt is abandoned first.
func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, userID string) (resp *StartAttemptResponse, err error) {
	op := s.opLogger.WithOperation(ctx, "start_attempt", userID)
	defer func() {
		var attemptID uint
		if resp != nil && resp.Session != nil {
			attemptID = resp.Session.AttemptID
		}
		op.LogResult(attemptID, "exam_attempt", err)
	}()

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	unlock := s.userLocks.Lock(userLockKey(userID, req.ExamType))
	defer unlock()

	if live := s.sessions.forUser(userID, req.ExamType); live != nil {
		if !req.Restart {
			monitoring.AttemptsStarted.WithLabelValues(string(live.ExamType()), string(live.attempt.Mode), boolLabel(true)).Inc()
			return &StartAttemptResponse{Session: live.View(), Resumed: true}, nil
		}
		if err := live.Abandon(ctx, models.EndReasonAbandoned); err != nil && !errors.Is(err, ErrAttemptNotActive) {
			return nil, err
		}
	}

	open, err := s.repo.Attempt().GetOpenAttempt(ctx, userID, req.ExamType)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open attempt: %w", err)
	}

	if open != nil {
		if req.Restart {
			if err := s.closeStored(ctx, open, models.EndReasonAbandoned); err != nil {
				return nil, err
			}
		} else {
			session, autoSubmitted, err := s.resume(ctx, open, req.Language)
			if err == nil {
				return &StartAttemptResponse{Session: session.View(), Resumed: true, AutoSubmitted: autoSubmitted}, nil
			}
			if !errors.Is(err, ErrStaleAttempt) {
				return nil, err
			}

			s.logger.Warn("Open attempt cannot be resumed, starting fresh",
				"attempt_id", open.ID,
				"user_id", userID,
				"error", err)
			if err := s.closeStored(ctx, open, models.EndReasonStale); err != nil {
				return nil, err
			}
		}
	}

	return s.startFresh(ctx, req, userID)
}

func (s *attemptService) GetCurrent(ctx context.Context, examType models.ExamType, userID string) (*SessionView, error) {
	if live := s.sessions.forUser(userID, examType); live != nil {
		return live.View(), nil
	}

	open, err := s.repo.Attempt().GetOpenAttempt(ctx, userID, examType)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open attempt: %w", err)
	}
	if open == nil {
		return nil, ErrAttemptNotFound
	}

	session, err := s.sessionFor(ctx, open.ID, userID, "view")
	if err != nil {
		return nil, err
	}
	return session.View(), nil
}

func (s *attemptService) GetSession(ctx context.Context, attemptID uint, userID string) (*SessionView, error) {
	session, err := s.sessionFor(ctx, attemptID, userID, "view")
	if err != nil {
		return nil, err
	}
	return session.View(), nil
}

func (s *attemptService) Submit(ctx context.Context, attemptID uint, userID string) (result *SubmissionResult, err error) {
	op := s.opLogger.WithOperation(ctx, "submit_attempt", userID)
	defer func() { op.LogResult(attemptID, "exam_attempt", err) }()

	session, err := s.sessionFor(ctx, attemptID, userID, "submit")
	if errors.Is(err, ErrAttemptNotActive) {
		// Already finalized: hand back the stored result.
		return s.GetResult(ctx, attemptID, userID)
	}
	if err != nil {
		return nil, err
	}

	result, err = session.Submit(ctx, models.EndReasonSubmitted)
	if errors.Is(err, ErrAttemptNotActive) {
		return s.GetResult(ctx, attemptID, userID)
	}
	if err != nil {
		return nil, err
	}

	op.LogAudit(AuditEventClose, attemptID, "exam_attempt", map[string]interface{}{
		"total_score":   result.TotalScore,
		"correct_count": result.CorrectCount,
	})
	return result, nil
}

func (s *attemptService) Abandon(ctx context.Context, attemptID uint, userID string) (err error) {
	op := s.opLogger.WithOperation(ctx, "abandon_attempt", userID)
	defer func() { op.LogResult(attemptID, "exam_attempt", err) }()

	session, err := s.sessionFor(ctx, attemptID, userID, "abandon")
	if err != nil {
		return err
	}
	if err := session.Abandon(ctx, models.EndReasonAbandoned); err != nil {
		return err
	}

	op.LogAudit(AuditEventClose, attemptID, "exam_attempt", map[string]interface{}{
		"reason": models.EndReasonAbandoned,
	})
	return nil
}

// ===== IN-SESSION COMMANDS =====

func (s *attemptService) RecordAnswer(ctx context.Context, attemptID, questionID uint, req *RecordAnswerRequest, userID string) (*AnswerFeedback, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if (req.SelectedIndex == nil) == (req.TextAnswer == nil) {
		return nil, ValidationErrors{*NewValidationError("selected_index", "exactly one of selected_index or text_answer is required", nil)}
	}

	session, err := s.sessionFor(ctx, attemptID, userID, "answer")
	if err != nil {
		return nil, err
	}

	if req.TextAnswer != nil {
		return session.RecordTextAnswer(questionID, *req.TextAnswer, req.TimeSpentSeconds)
	}
	return session.RecordAnswer(ctx, questionID, *req.SelectedIndex, req.TimeSpentSeconds, req.Language)
}

func (s *attemptService) ToggleFlag(ctx context.Context, attemptID, questionID uint, userID string) (*FlagResponse, error) {
	session, err := s.sessionFor(ctx, attemptID, userID, "flag")
	if err != nil {
		return nil, err
	}
	flagged, err := session.ToggleFlag(questionID)
	if err != nil {
		return nil, err
	}
	return &FlagResponse{QuestionID: questionID, Flagged: flagged}, nil
}

func (s *attemptService) PauseTimer(ctx context.Context, attemptID uint, userID string) (*TimerView, error) {
	session, err := s.sessionFor(ctx, attemptID, userID, "pause")
	if err != nil {
		return nil, err
	}
	return session.Pause()
}

func (s *attemptService) ResumeTimer(ctx context.Context, attemptID uint, userID string) (*TimerView, error) {
	session, err := s.sessionFor(ctx, attemptID, userID, "resume")
	if err != nil {
		return nil, err
	}
	return session.Resume()
}

// ===== HISTORY =====

func (s *attemptService) List(ctx context.Context, req *ListAttemptsRequest, userID string) (*AttemptListResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	filters := repositories.AttemptFilters{
		ExamType: req.ExamType,
		Status:   req.Status,
		Limit:    repositories.DefaultLimit(req.Limit),
		Offset:   req.Offset,
	}
	attempts, total, err := s.repo.Attempt().ListByUser(ctx, userID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	return &AttemptListResponse{
		Attempts: attempts,
		Total:    total,
		Limit:    filters.Limit,
		Offset:   filters.Offset,
	}, nil
}

func (s *attemptService) GetResult(ctx context.Context, attemptID uint, userID string) (*SubmissionResult, error) {
	attempt, err := loadOwnedAttempt(ctx, s.repo, attemptID, userID, "view_result")
	if err != nil {
		return nil, err
	}
	if attempt.Status != models.AttemptCompleted {
		return nil, ErrAttemptNotCompleted
	}
	return buildStoredResult(ctx, s.repo, attempt, defaultLanguage)
}

// Shutdown stops every live session and flushes its answers. Attempts stay
// open and are resumed on the next start.
func (s *attemptService) Shutdown(ctx context.Context) error {
	var errs []error
	for _, session := range s.sessions.all() {
		if err := session.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("attempt %d: %w", session.AttemptID(), err))
		}
		s.sessions.remove(session)
	}
	s.logger.Info("Exam sessions stopped", "failed", len(errs))
	return errors.Join(errs...)
}

// ===== SESSION REGISTRY =====

type sessionKey struct {
	userID   string
	examType models.ExamType
}

// sessionRegistry owns every live session, keyed by attempt and by
// (user, exam type).
type sessionRegistry struct {
	mu     sync.Mutex
	byID   map[uint]*ExamSession
	byUser map[sessionKey]*ExamSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		byID:   make(map[uint]*ExamSession),
		byUser: make(map[sessionKey]*ExamSession),
	}
}

func (r *sessionRegistry) add(session *ExamSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[session.AttemptID()]; !exists {
		monitoring.LiveSessions.Inc()
	}
	r.byID[session.AttemptID()] = session
	r.byUser[sessionKey{session.UserID(), session.ExamType()}] = session
}

func (r *sessionRegistry) remove(session *ExamSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID[session.AttemptID()] != session {
		return
	}
	delete(r.byID, session.AttemptID())
	key := sessionKey{session.UserID(), session.ExamType()}
	if r.byUser[key] == session {
		delete(r.byUser, key)
	}
	monitoring.LiveSessions.Dec()
}

func (r *sessionRegistry) get(attemptID uint) *ExamSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[attemptID]
}

func (r *sessionRegistry) forUser(userID string, examType models.ExamType) *ExamSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byUser[sessionKey{userID, examType}]
}

func (r *sessionRegistry) all() []*ExamSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*ExamSession, 0, len(r.byID))
	for _, session := range r.byID {
		sessions = append(sessions, session)
	}
	return sessions
}

// keyedMutex serializes starts and resumes per user and exam type.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func userLockKey(userID string, examType models.ExamType) string {
	return userID + "|" + string(examType)
}

func boolLabel(b bool) string { return strconv.FormatBool(b) }
