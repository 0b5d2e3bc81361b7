package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/topik-vn/mock-exam-service/internal/events"
	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"github.com/topik-vn/mock-exam-service/pkg/monitoring"
)

// ===== SESSION CREATION =====

func (s *attemptService) startFresh(ctx context.Context, req *StartAttemptRequest, userID string) (*StartAttemptResponse, error) {
	questions, err := s.selector.Select(ctx, QuestionSelection{
		UserID:      userID,
		ExamType:    req.ExamType,
		Mode:        req.Mode,
		Section:     req.Section,
		PartNumber:  req.PartNumber,
		Difficulty:  req.Difficulty,
		QuestionIDs: req.QuestionIDs,
	})
	if err != nil {
		return nil, err
	}

	attempt := &models.ExamAttempt{
		UserID:     userID,
		ExamType:   req.ExamType,
		Mode:       req.Mode,
		Section:    req.Section,
		PartNumber: req.PartNumber,
		Difficulty: req.Difficulty,
		Status:     models.AttemptInProgress,
		StartedAt:  s.clock.Now(),
	}
	limit, timed := s.cfg.TimeLimit(req.ExamType, req.Mode, req.Section)
	if timed {
		attempt.TimeLimitSeconds = &limit
	}

	ids := make([]uint, len(questions))
	for i, q := range questions {
		ids[i] = q.Question.ID
	}
	if err := attempt.SetQuestionIDs(ids); err != nil {
		return nil, fmt.Errorf("failed to encode question ids: %w", err)
	}

	if err := s.repo.Attempt().Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	session := s.newSession(attempt, questions, req.Language)
	s.sessions.add(session)
	session.start(limit)

	s.logger.Info("Exam attempt started",
		"attempt_id", attempt.ID,
		"user_id", userID,
		"exam_type", attempt.ExamType,
		"mode", attempt.Mode,
		"questions", len(questions),
		"timed", timed)
	monitoring.AttemptsStarted.WithLabelValues(string(attempt.ExamType), string(attempt.Mode), boolLabel(false)).Inc()
	s.publishAttempt(ctx, events.EventAttemptStarted, attempt)

	return &StartAttemptResponse{Session: session.View()}, nil
}

// resume rebuilds the live session of an open attempt from the store. The
// question order is the stored one. A timed attempt with no time left is
// submitted at once and its result returned alongside the closed session.
// ErrStaleAttempt means the attempt cannot be rebuilt at all.
func (s *attemptService) resume(ctx context.Context, attempt *models.ExamAttempt, language string) (*ExamSession, *SubmissionResult, error) {
	ids, err := attempt.OrderedQuestionIDs()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStaleAttempt, err)
	}
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("%w: no question ids stored", ErrStaleAttempt)
	}

	questions, err := s.loadOrdered(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	if len(questions) == 0 {
		return nil, nil, fmt.Errorf("%w: none of %d questions remain", ErrStaleAttempt, len(ids))
	}

	answers, err := s.repo.Answer().GetByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load answers: %w", err)
	}

	session := s.newSession(attempt, questions, language)
	session.restoreAnswers(answers)
	if s.cfg.Policy(attempt.Mode).ImmediateFeedback {
		session.markLogged(s.loggedMistakes(ctx, attempt, session.wrongAnswers())...)
	}

	remaining := 0
	if attempt.TimeLimitSeconds != nil {
		remaining = *attempt.TimeLimitSeconds - elapsedSeconds(attempt.StartedAt, s.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
	}

	s.sessions.add(session)
	expired := session.start(remaining)

	s.logger.Info("Exam attempt resumed",
		"attempt_id", attempt.ID,
		"user_id", attempt.UserID,
		"answers", len(answers),
		"remaining_seconds", remaining,
		"expired", expired)
	monitoring.AttemptsStarted.WithLabelValues(string(attempt.ExamType), string(attempt.Mode), boolLabel(true)).Inc()
	s.publishAttempt(ctx, events.EventAttemptResumed, attempt)

	if !expired {
		return session, nil, nil
	}

	result, err := session.Submit(ctx, models.EndReasonTimeout)
	if err != nil {
		return nil, nil, err
	}
	return session, result, nil
}

// sessionFor returns the live session of an attempt owned by userID,
// resuming it from the store when it is open but not in memory.
func (s *attemptService) sessionFor(ctx context.Context, attemptID uint, userID string, action string) (*ExamSession, error) {
	if live := s.sessions.get(attemptID); live != nil {
		if live.UserID() != userID {
			return nil, NewPermissionError(userID, attemptID, "exam_attempt", action, "not owned by user")
		}
		return live, nil
	}

	attempt, err := loadOwnedAttempt(ctx, s.repo, attemptID, userID, action)
	if err != nil {
		return nil, err
	}
	if !attempt.IsOpen() {
		return nil, ErrAttemptNotActive
	}

	unlock := s.userLocks.Lock(userLockKey(userID, attempt.ExamType))
	defer unlock()

	if live := s.sessions.get(attemptID); live != nil {
		return live, nil
	}

	session, _, err := s.resume(ctx, attempt, "")
	if errors.Is(err, ErrStaleAttempt) {
		if closeErr := s.closeStored(ctx, attempt, models.EndReasonStale); closeErr != nil {
			return nil, closeErr
		}
		return nil, ErrAttemptNotActive
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *attemptService) newSession(attempt *models.ExamAttempt, questions []SessionQuestion, language string) *ExamSession {
	return newExamSession(attempt, questions, s.cfg.Policy(attempt.Mode), language, sessionDeps{
		repo:             s.repo,
		publisher:        s.publisher,
		clock:            s.clock,
		logger:           s.logger.With("attempt_id", attempt.ID),
		autosaveInterval: s.cfg.AutosaveInterval,
		onClosed:         s.sessions.remove,
	})
}

// loadOrdered fetches questions by id and returns the valid ones in the
// given order.
func (s *attemptService) loadOrdered(ctx context.Context, ids []uint) ([]SessionQuestion, error) {
	found, err := s.repo.Question().GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt questions: %w", err)
	}

	byID := make(map[uint]SessionQuestion, len(found))
	for _, q := range s.selector.validate(found) {
		byID[q.Question.ID] = q
	}

	ordered := make([]SessionQuestion, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}
	return ordered, nil
}

// loggedMistakes returns the wrong answers that already have a mistake row
// written by this attempt.
func (s *attemptService) loggedMistakes(ctx context.Context, attempt *models.ExamAttempt, wrong []uint) []uint {
	var logged []uint
	for _, questionID := range wrong {
		mistake, err := s.repo.Mistake().GetByUserAndQuestion(ctx, attempt.UserID, questionID)
		if err != nil {
			if !repositories.IsNotFoundError(err) {
				s.logger.Warn("Failed to check logged mistake",
					"attempt_id", attempt.ID,
					"question_id", questionID,
					"error", err)
			}
			continue
		}
		if mistake.AttemptID == attempt.ID {
			logged = append(logged, questionID)
		}
	}
	return logged
}

// closeStored abandons an open attempt that has no live session.
func (s *attemptService) closeStored(ctx context.Context, attempt *models.ExamAttempt, reason models.EndReason) error {
	if err := s.repo.Attempt().MarkAbandoned(ctx, attempt.ID, reason); err != nil && !repositories.IsNotFoundError(err) {
		return fmt.Errorf("failed to abandon attempt: %w", err)
	}

	s.logger.Info("Attempt abandoned",
		"attempt_id", attempt.ID,
		"user_id", attempt.UserID,
		"reason", reason)
	monitoring.AttemptsFinished.WithLabelValues(string(attempt.ExamType), string(attempt.Mode), string(reason)).Inc()

	if s.publisher != nil {
		event := events.NewExamEvent(events.EventAttemptAbandoned, events.AttemptAbandonedEvent{
			AttemptID: attempt.ID,
			UserID:    attempt.UserID,
			ExamType:  attempt.ExamType,
			Reason:    reason,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish exam event", "event_type", event.Type, "error", err)
		}
	}
	return nil
}

func (s *attemptService) publishAttempt(ctx context.Context, eventType events.EventType, attempt *models.ExamAttempt) {
	if s.publisher == nil {
		return
	}
	event := events.NewExamEvent(eventType, events.AttemptStartedEvent{
		AttemptID:        attempt.ID,
		UserID:           attempt.UserID,
		ExamType:         attempt.ExamType,
		Mode:             attempt.Mode,
		TotalQuestions:   attempt.TotalQuestions,
		TimeLimitSeconds: attempt.TimeLimitSeconds,
		StartedAt:        attempt.StartedAt,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish exam event", "event_type", eventType, "error", err)
	}
}

// ===== STORED ATTEMPTS =====

func loadOwnedAttempt(ctx context.Context, repo repositories.Repository, attemptID uint, userID string, action string) (*models.ExamAttempt, error) {
	attempt, err := repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.UserID != userID {
		return nil, NewPermissionError(userID, attemptID, "exam_attempt", action, "not owned by user")
	}
	return attempt, nil
}

// buildStoredResult rebuilds the result of a completed attempt from the
// store. Questions deactivated since are left out of the review.
func buildStoredResult(ctx context.Context, repo repositories.Repository, attempt *models.ExamAttempt, language string) (*SubmissionResult, error) {
	ids, err := attempt.OrderedQuestionIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to decode question ids: %w", err)
	}
	questions, err := repo.Question().GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt questions: %w", err)
	}
	answers, err := repo.Answer().GetByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}

	byID := make(map[uint]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	answerByQuestion := make(map[uint]*models.AttemptAnswer, len(answers))
	answered := 0
	for _, a := range answers {
		answerByQuestion[a.QuestionID] = a
		if a.IsAnswered() {
			answered++
		}
	}

	result := &SubmissionResult{
		AttemptID:      attempt.ID,
		ExamType:       attempt.ExamType,
		Mode:           attempt.Mode,
		CorrectCount:   attempt.CorrectCount,
		TotalQuestions: attempt.TotalQuestions,
		AnsweredCount:  answered,
		StartedAt:      attempt.StartedAt,
		Review:         make([]QuestionReview, 0, len(ids)),
	}
	if attempt.TotalScore != nil {
		result.TotalScore = *attempt.TotalScore
	}
	if attempt.TimeSpentSeconds != nil {
		result.TimeSpentSeconds = *attempt.TimeSpentSeconds
	}
	if attempt.EndReason != nil {
		result.EndReason = *attempt.EndReason
	}
	if attempt.FinishedAt != nil {
		result.FinishedAt = *attempt.FinishedAt
	}

	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			continue
		}
		review := newQuestionReview(q, language)
		if a, ok := answerByQuestion[id]; ok {
			if a.SelectedAnswer != nil {
				selected := *a.SelectedAnswer - 1
				review.SelectedIndex = &selected
			}
			review.TextAnswer = a.TextAnswer
			review.IsCorrect = a.IsCorrect
			review.AIFeedback = a.AIFeedback
			review.AIScore = a.AIScore
		}
		result.Review = append(result.Review, review)
	}
	return result, nil
}
