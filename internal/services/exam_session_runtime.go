package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/topik-vn/mock-exam-service/internal/events"
	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"github.com/topik-vn/mock-exam-service/pkg/monitoring"
)

// timeoutSubmitDeadline bounds the submission triggered by timer expiry,
// which has no request context to inherit.
const timeoutSubmitDeadline = 30 * time.Second

// start runs the countdown from remaining seconds and launches the event
// loop. It reports true when the countdown is already exhausted; the loop is
// not started and the caller must submit.
func (s *ExamSession) start(remaining int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countdown.Start(remaining, s.deps.clock.Now()) {
		close(s.done)
		return true
	}
	s.launchLocked()
	return false
}

// launchLocked starts a fresh event loop over the current countdown. Clock
// ticks are only wired while the countdown can still move.
func (s *ExamSession) launchLocked() {
	var timer Ticker
	if state := s.countdown.State(); state == TimerRunning || state == TimerPaused {
		timer = s.deps.clock.NewTicker(time.Second)
	}
	autosave := s.deps.clock.NewTicker(s.deps.autosaveInterval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(ctx, done, timer, autosave)
}

// run is the session's single event loop. Clock ticks drive the countdown
// and autosave ticks drive persistence until the session stops.
func (s *ExamSession) run(ctx context.Context, done chan struct{}, timer, autosave Ticker) {
	defer close(done)
	defer autosave.Stop()

	var ticks <-chan time.Time
	if timer != nil {
		defer timer.Stop()
		ticks = timer.C()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case at := <-ticks:
			s.mu.Lock()
			expired := s.countdown.Tick(at)
			s.mu.Unlock()
			if expired {
				s.submitOnTimeout()
			}
		case <-autosave.C():
			s.autosave(ctx)
		}
	}
}

// stopLocked cancels the event loop without waiting for it.
func (s *ExamSession) stopLocked() {
	if s.cancel != nil {
		s.cancel()
	}
}

// wait blocks until the event loop has exited.
func (s *ExamSession) wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ExamSession) submitOnTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutSubmitDeadline)
	defer cancel()

	_, err := s.Submit(ctx, models.EndReasonTimeout)
	if err != nil && !errors.Is(err, ErrSubmissionInProgress) {
		s.deps.logger.Error("Failed to submit attempt on timeout",
			"attempt_id", s.attempt.ID,
			"user_id", s.attempt.UserID,
			"error", err)
	}
}

// ===== AUTOSAVE =====

// autosave writes every in-memory answer and the running correct count.
// Failures are logged and skipped; the next pass or the submission retries.
func (s *ExamSession) autosave(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.state != sessionOpen {
		s.mu.Unlock()
		return
	}
	rows := s.answerRowsLocked(false)
	correct := s.correctCountLocked()
	s.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	err := saveAnswers(ctx, s.deps.repo, rows)
	if err == nil {
		err = s.deps.repo.Attempt().UpdateProgress(ctx, s.attempt.ID, correct)
	}
	if err != nil {
		monitoring.AutosaveFailures.Inc()
		s.deps.logger.Warn("Autosave failed",
			"attempt_id", s.attempt.ID,
			"answers", len(rows),
			"error", err)
		return
	}

	s.deps.logger.Debug("Autosave completed",
		"attempt_id", s.attempt.ID,
		"answers", len(rows),
		"correct_count", correct)
}

// logMistake upserts a mistake for an answer graded wrong in an
// immediate-feedback mode. Callers hold persistMu. On failure the question is
// left for the submission sweep.
func (s *ExamSession) logMistake(ctx context.Context, questionID uint) {
	mistake := &models.Mistake{
		UserID:      s.attempt.UserID,
		QuestionID:  questionID,
		AttemptID:   s.attempt.ID,
		LastWrongAt: s.deps.clock.Now(),
	}
	if err := s.deps.repo.Mistake().Upsert(ctx, mistake); err != nil {
		s.mu.Lock()
		delete(s.logged, questionID)
		s.mu.Unlock()
		s.deps.logger.Warn("Failed to log mistake",
			"attempt_id", s.attempt.ID,
			"question_id", questionID,
			"error", err)
	}
}

// ===== SUBMISSION =====

// Submit finalizes the attempt once. A concurrent call gets
// ErrSubmissionInProgress and a call after success gets the stored result.
// If persistence fails the attempt stays open and a retryable
// *SubmissionError is returned.
func (s *ExamSession) Submit(ctx context.Context, reason models.EndReason) (*SubmissionResult, error) {
	s.mu.Lock()
	switch s.state {
	case sessionSubmitting:
		s.mu.Unlock()
		return nil, ErrSubmissionInProgress
	case sessionClosed:
		result := s.result
		s.mu.Unlock()
		if result == nil {
			return nil, ErrAttemptNotActive
		}
		return result, nil
	}
	s.state = sessionSubmitting
	s.stopLocked()
	s.mu.Unlock()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	rows := s.answerRowsLocked(true)
	correct := s.correctCountLocked()
	wrong := s.unloggedWrongLocked()
	s.mu.Unlock()

	now := s.deps.clock.Now()
	completion := repositories.AttemptCompletion{
		CorrectCount:     correct,
		TotalScore:       scorePercent(correct, s.attempt.TotalQuestions),
		TimeSpentSeconds: elapsedSeconds(s.attempt.StartedAt, now),
		FinishedAt:       now,
		EndReason:        reason,
	}

	err := s.deps.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		if err := saveAnswers(ctx, tx, rows); err != nil {
			return err
		}
		if err := tx.Attempt().CompleteAttempt(ctx, s.attempt.ID, completion); err != nil {
			return fmt.Errorf("failed to complete attempt: %w", err)
		}
		for _, questionID := range wrong {
			mistake := &models.Mistake{
				UserID:      s.attempt.UserID,
				QuestionID:  questionID,
				AttemptID:   s.attempt.ID,
				LastWrongAt: now,
			}
			if err := tx.Mistake().Upsert(ctx, mistake); err != nil {
				return fmt.Errorf("failed to log mistake for question %d: %w", questionID, err)
			}
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// Closed elsewhere; nothing left to finalize.
			s.close(nil)
			return nil, ErrAttemptNotActive
		}

		// Back to open with the clock and autosave running again.
		s.mu.Lock()
		s.state = sessionOpen
		s.launchLocked()
		s.mu.Unlock()

		monitoring.SubmissionFailures.Inc()
		s.deps.logger.Error("Submission failed, attempt left open",
			"attempt_id", s.attempt.ID,
			"user_id", s.attempt.UserID,
			"reason", reason,
			"error", err)
		return nil, &SubmissionError{AttemptID: s.attempt.ID, Retryable: true, Err: err}
	}

	s.mu.Lock()
	s.attempt.Status = models.AttemptCompleted
	s.attempt.IsCompleted = true
	s.attempt.CorrectCount = correct
	s.attempt.FinishedAt = &completion.FinishedAt
	s.attempt.TimeSpentSeconds = &completion.TimeSpentSeconds
	s.attempt.TotalScore = &completion.TotalScore
	s.attempt.EndReason = &reason
	for _, id := range wrong {
		s.logged[id] = struct{}{}
	}
	result := s.resultLocked(completion, len(wrong))
	s.mu.Unlock()

	s.close(result)

	monitoring.AttemptsFinished.WithLabelValues(string(s.attempt.ExamType), string(s.attempt.Mode), string(reason)).Inc()
	s.deps.logger.Info("Attempt submitted",
		"attempt_id", s.attempt.ID,
		"user_id", s.attempt.UserID,
		"reason", reason,
		"correct_count", correct,
		"total_questions", s.attempt.TotalQuestions,
		"total_score", completion.TotalScore)

	s.publish(ctx, events.EventAttemptSubmitted, events.AttemptSubmittedEvent{
		AttemptID:        s.attempt.ID,
		UserID:           s.attempt.UserID,
		ExamType:         s.attempt.ExamType,
		Mode:             s.attempt.Mode,
		CorrectCount:     correct,
		TotalQuestions:   s.attempt.TotalQuestions,
		TotalScore:       completion.TotalScore,
		TimeSpentSeconds: completion.TimeSpentSeconds,
		EndReason:        reason,
		NewMistakes:      len(wrong),
		FinishedAt:       completion.FinishedAt,
	})

	return result, nil
}

// Abandon closes the attempt without scoring. Answers are flushed first on a
// best-effort basis.
func (s *ExamSession) Abandon(ctx context.Context, reason models.EndReason) error {
	s.mu.Lock()
	if err := s.openLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = sessionSubmitting
	s.stopLocked()
	s.mu.Unlock()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	rows := s.answerRowsLocked(false)
	s.mu.Unlock()

	if err := saveAnswers(ctx, s.deps.repo, rows); err != nil {
		s.deps.logger.Warn("Final save before abandon failed",
			"attempt_id", s.attempt.ID,
			"error", err)
	}

	if err := s.deps.repo.Attempt().MarkAbandoned(ctx, s.attempt.ID, reason); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		s.mu.Lock()
		s.state = sessionOpen
		s.launchLocked()
		s.mu.Unlock()
		return fmt.Errorf("failed to abandon attempt: %w", err)
	}

	s.mu.Lock()
	s.attempt.Status = models.AttemptAbandoned
	s.attempt.EndReason = &reason
	s.mu.Unlock()

	s.close(nil)

	monitoring.AttemptsFinished.WithLabelValues(string(s.attempt.ExamType), string(s.attempt.Mode), string(reason)).Inc()
	s.deps.logger.Info("Attempt abandoned",
		"attempt_id", s.attempt.ID,
		"user_id", s.attempt.UserID,
		"reason", reason)

	s.publish(ctx, events.EventAttemptAbandoned, events.AttemptAbandonedEvent{
		AttemptID: s.attempt.ID,
		UserID:    s.attempt.UserID,
		ExamType:  s.attempt.ExamType,
		Reason:    reason,
	})
	return nil
}

// shutdown stops the loop and flushes answers of a session that is still
// open. The attempt stays open for a later resume.
func (s *ExamSession) shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.autosave(ctx)
	return nil
}

func (s *ExamSession) close(result *SubmissionResult) {
	s.mu.Lock()
	s.countdown.Stop()
	s.state = sessionClosed
	s.result = result
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		if s.deps.onClosed != nil {
			s.deps.onClosed(s)
		}
	})
}

func (s *ExamSession) publish(ctx context.Context, eventType events.EventType, data interface{}) {
	if s.deps.publisher == nil {
		return
	}
	if err := s.deps.publisher.Publish(ctx, events.NewExamEvent(eventType, data)); err != nil {
		s.deps.logger.Warn("Failed to publish exam event",
			"event_type", eventType,
			"attempt_id", s.attempt.ID,
			"error", err)
	}
}

func (s *ExamSession) resultLocked(completion repositories.AttemptCompletion, newMistakes int) *SubmissionResult {
	result := &SubmissionResult{
		AttemptID:        s.attempt.ID,
		ExamType:         s.attempt.ExamType,
		Mode:             s.attempt.Mode,
		CorrectCount:     completion.CorrectCount,
		TotalQuestions:   s.attempt.TotalQuestions,
		AnsweredCount:    len(s.answers),
		TotalScore:       completion.TotalScore,
		TimeSpentSeconds: completion.TimeSpentSeconds,
		EndReason:        completion.EndReason,
		StartedAt:        s.attempt.StartedAt,
		FinishedAt:       completion.FinishedAt,
		NewMistakes:      newMistakes,
		Review:           make([]QuestionReview, 0, len(s.questions)),
	}

	for _, q := range s.questions {
		review := newQuestionReview(q.Question, s.language)
		if entry, ok := s.answers[q.Question.ID]; ok {
			review.SelectedIndex = entry.selected
			review.TextAnswer = entry.text
			review.IsCorrect = entry.correct
		}
		result.Review = append(result.Review, review)
	}
	return result
}

func newQuestionReview(q *models.Question, language string) QuestionReview {
	review := QuestionReview{
		QuestionID:  q.ID,
		Section:     q.Section,
		Prompt:      q.Prompt,
		Explanation: q.ExplanationFor(language),
	}
	if !q.IsFreeResponse() {
		correctIndex := q.CorrectAnswer - 1
		review.CorrectIndex = &correctIndex
	}
	return review
}

func saveAnswers(ctx context.Context, repo repositories.Repository, rows []*models.AttemptAnswer) error {
	for _, row := range rows {
		if err := repo.Answer().Upsert(ctx, row); err != nil {
			return fmt.Errorf("failed to save answer for question %d: %w", row.QuestionID, err)
		}
	}
	return nil
}

func scorePercent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) * 100 / float64(total)))
}

func elapsedSeconds(startedAt, now time.Time) int {
	elapsed := int(now.Sub(startedAt) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
