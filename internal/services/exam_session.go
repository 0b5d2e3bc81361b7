package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/topik-vn/mock-exam-service/internal/config"
	"github.com/topik-vn/mock-exam-service/internal/events"
	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
)

const defaultLanguage = "vi"

type sessionState int

const (
	sessionOpen sessionState = iota
	sessionSubmitting
	sessionClosed
)

// answerEntry is the in-memory answer for one question. selected is 0-based.
type answerEntry struct {
	selected   *int
	text       *string
	correct    *bool
	timeSpent  *int
	answeredAt time.Time
}

type sessionDeps struct {
	repo             repositories.Repository
	publisher        events.EventPublisher
	clock            Clock
	logger           *slog.Logger
	autosaveInterval time.Duration
	onClosed         func(*ExamSession)
}

// ExamSession is the live state of one open attempt. User commands mutate it
// under mu; persistence passes (autosave, live mistakes, submission) are
// serialized by persistMu and never hold mu across store calls.
type ExamSession struct {
	mu        sync.Mutex
	persistMu sync.Mutex

	attempt   models.ExamAttempt
	policy    config.ModePolicy
	language  string
	questions []SessionQuestion
	index     map[uint]int
	answers   map[uint]*answerEntry
	flags     map[uint]struct{}
	logged    map[uint]struct{}
	countdown *Countdown
	state     sessionState
	result    *SubmissionResult

	deps      sessionDeps
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newExamSession(attempt *models.ExamAttempt, questions []SessionQuestion, policy config.ModePolicy, language string, deps sessionDeps) *ExamSession {
	if language == "" {
		language = defaultLanguage
	}
	limit := 0
	if attempt.TimeLimitSeconds != nil {
		limit = *attempt.TimeLimitSeconds
	}

	index := make(map[uint]int, len(questions))
	for i, q := range questions {
		index[q.Question.ID] = i
	}

	return &ExamSession{
		attempt:   *attempt,
		policy:    policy,
		language:  language,
		questions: questions,
		index:     index,
		answers:   make(map[uint]*answerEntry),
		flags:     make(map[uint]struct{}),
		logged:    make(map[uint]struct{}),
		countdown: NewCountdown(limit, policy.Pausable),
		deps:      deps,
		done:      make(chan struct{}),
	}
}

func (s *ExamSession) AttemptID() uint           { return s.attempt.ID }
func (s *ExamSession) UserID() string            { return s.attempt.UserID }
func (s *ExamSession) ExamType() models.ExamType { return s.attempt.ExamType }

// ===== ANSWER TRACKING =====

// RecordAnswer stores a 0-based option choice, replacing any earlier answer
// to the same question. In immediate-feedback modes the result carries the
// verdict and a wrong answer is logged as a mistake right away.
func (s *ExamSession) RecordAnswer(ctx context.Context, questionID uint, selectedIndex int, timeSpent *int, language string) (*AnswerFeedback, error) {
	if s.policy.ImmediateFeedback {
		s.persistMu.Lock()
		defer s.persistMu.Unlock()
	}

	s.mu.Lock()
	q, err := s.answerableLocked(questionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if q.Question.IsFreeResponse() {
		s.mu.Unlock()
		return nil, ErrAnswerTypeMismatch
	}
	if selectedIndex < 0 || selectedIndex >= q.Choices.Len() {
		s.mu.Unlock()
		return nil, ValidationErrors{*NewValidationError("selected_index",
			fmt.Sprintf("must be between 0 and %d", q.Choices.Len()-1), selectedIndex)}
	}

	correct := selectedIndex+1 == q.Question.CorrectAnswer
	selected := selectedIndex
	s.answers[questionID] = &answerEntry{
		selected:   &selected,
		correct:    &correct,
		timeSpent:  timeSpent,
		answeredAt: s.deps.clock.Now(),
	}

	feedback := &AnswerFeedback{QuestionID: questionID, Recorded: true}
	logMistake := false
	if s.policy.ImmediateFeedback {
		correctIndex := q.Question.CorrectAnswer - 1
		feedback.IsCorrect = &correct
		feedback.CorrectIndex = &correctIndex
		if text := q.Question.ExplanationFor(s.languageOr(language)); text != "" {
			feedback.Explanation = &text
		}
		if _, done := s.logged[questionID]; !correct && !done {
			s.logged[questionID] = struct{}{}
			logMistake = true
		}
	}
	s.mu.Unlock()

	if logMistake {
		s.logMistake(ctx, questionID)
	}
	return feedback, nil
}

// RecordTextAnswer stores a writing answer verbatim. Text answers are never
// graded here.
func (s *ExamSession) RecordTextAnswer(questionID uint, text string, timeSpent *int) (*AnswerFeedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.answerableLocked(questionID)
	if err != nil {
		return nil, err
	}
	if !q.Question.IsFreeResponse() {
		return nil, ErrAnswerTypeMismatch
	}

	s.answers[questionID] = &answerEntry{
		text:       &text,
		timeSpent:  timeSpent,
		answeredAt: s.deps.clock.Now(),
	}
	return &AnswerFeedback{QuestionID: questionID, Recorded: true}, nil
}

// ToggleFlag flips the review flag of a question and returns the new value.
func (s *ExamSession) ToggleFlag(questionID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(); err != nil {
		return false, err
	}
	if _, ok := s.index[questionID]; !ok {
		return false, ErrQuestionNotInExam
	}
	if _, flagged := s.flags[questionID]; flagged {
		delete(s.flags, questionID)
		return false, nil
	}
	s.flags[questionID] = struct{}{}
	return true, nil
}

func (s *ExamSession) Pause() (*TimerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(); err != nil {
		return nil, err
	}
	if err := s.countdown.Pause(s.deps.clock.Now()); err != nil {
		return nil, err
	}
	view := s.timerViewLocked()
	return &view, nil
}

func (s *ExamSession) Resume() (*TimerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(); err != nil {
		return nil, err
	}
	if err := s.countdown.Resume(s.deps.clock.Now()); err != nil {
		return nil, err
	}
	view := s.timerViewLocked()
	return &view, nil
}

// ===== VIEWS =====

func (s *ExamSession) View() *SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &SessionView{
		AttemptID:         s.attempt.ID,
		ExamType:          s.attempt.ExamType,
		Mode:              s.attempt.Mode,
		Status:            s.attempt.Status,
		StartedAt:         s.attempt.StartedAt,
		ImmediateFeedback: s.policy.ImmediateFeedback,
		Pausable:          s.policy.Pausable,
		Questions:         make([]QuestionView, 0, len(s.questions)),
		Answers:           make([]AnswerView, 0, len(s.answers)),
		FlaggedQuestions:  make([]uint, 0, len(s.flags)),
		AnsweredCount:     len(s.answers),
		TotalQuestions:    s.attempt.TotalQuestions,
		Timer:             s.timerViewLocked(),
	}

	for _, q := range s.questions {
		view.Questions = append(view.Questions, newQuestionView(q))

		entry, ok := s.answers[q.Question.ID]
		if !ok {
			continue
		}
		answer := AnswerView{
			QuestionID:    q.Question.ID,
			SelectedIndex: entry.selected,
			TextAnswer:    entry.text,
			AnsweredAt:    entry.answeredAt,
		}
		if s.policy.ImmediateFeedback {
			answer.IsCorrect = entry.correct
		}
		view.Answers = append(view.Answers, answer)
	}

	for id := range s.flags {
		view.FlaggedQuestions = append(view.FlaggedQuestions, id)
	}
	sort.Slice(view.FlaggedQuestions, func(i, j int) bool {
		return s.index[view.FlaggedQuestions[i]] < s.index[view.FlaggedQuestions[j]]
	})

	return view
}

func (s *ExamSession) Timer() TimerView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerViewLocked()
}

func newQuestionView(q SessionQuestion) QuestionView {
	return QuestionView{
		ID:              q.Question.ID,
		Section:         q.Question.Section,
		PartNumber:      q.Question.PartNumber,
		QuestionNumber:  q.Question.QuestionNumber,
		Prompt:          q.Question.Prompt,
		InstructionText: q.Question.InstructionText,
		Choices:         q.Choices,
		AudioURL:        q.Question.AudioURL,
		ImageURL:        q.Question.ImageURL,
		ResponseType:    q.Question.ResponseType,
		WordLimit:       q.Question.WordLimit,
		Points:          q.Question.Points,
	}
}

func (s *ExamSession) timerViewLocked() TimerView {
	return TimerView{
		State:            s.countdown.State(),
		RemainingSeconds: s.countdown.Remaining(),
		LimitSeconds:     s.countdown.Limit(),
	}
}

// ===== RESTORE =====

// restoreAnswers loads persisted answers of a resumed attempt. Correctness of
// choice answers is recomputed against the current answer key.
func (s *ExamSession) restoreAnswers(rows []*models.AttemptAnswer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		i, ok := s.index[row.QuestionID]
		if !ok {
			continue
		}
		q := s.questions[i]
		entry := &answerEntry{
			timeSpent:  row.TimeSpentSeconds,
			answeredAt: row.AnsweredAt,
		}

		switch {
		case row.TextAnswer != nil && q.Question.IsFreeResponse():
			text := *row.TextAnswer
			entry.text = &text
		case row.SelectedAnswer != nil && !q.Question.IsFreeResponse():
			selected := *row.SelectedAnswer - 1
			if selected < 0 || selected >= q.Choices.Len() {
				continue
			}
			correct := *row.SelectedAnswer == q.Question.CorrectAnswer
			entry.selected = &selected
			entry.correct = &correct
		default:
			continue
		}
		s.answers[row.QuestionID] = entry
	}
}

func (s *ExamSession) markLogged(questionIDs ...uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range questionIDs {
		s.logged[id] = struct{}{}
	}
}

// wrongAnswers lists wrong choice answers in question order.
func (s *ExamSession) wrongAnswers() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint
	for _, q := range s.questions {
		if entry, ok := s.answers[q.Question.ID]; ok && entry.correct != nil && !*entry.correct {
			ids = append(ids, q.Question.ID)
		}
	}
	return ids
}

// ===== HELPERS =====

func (s *ExamSession) openLocked() error {
	switch s.state {
	case sessionSubmitting:
		return ErrSubmissionInProgress
	case sessionClosed:
		return ErrAttemptNotActive
	}
	return nil
}

func (s *ExamSession) answerableLocked(questionID uint) (SessionQuestion, error) {
	if err := s.openLocked(); err != nil {
		return SessionQuestion{}, err
	}
	if s.countdown.State() == TimerExpired {
		return SessionQuestion{}, ErrAttemptTimeExpired
	}
	i, ok := s.index[questionID]
	if !ok {
		return SessionQuestion{}, ErrQuestionNotInExam
	}
	return s.questions[i], nil
}

func (s *ExamSession) languageOr(language string) string {
	if language != "" {
		return language
	}
	return s.language
}

func (s *ExamSession) correctCountLocked() int {
	count := 0
	for _, entry := range s.answers {
		if entry.correct != nil && *entry.correct {
			count++
		}
	}
	return count
}

// answerRowsLocked converts the in-memory answers to rows, in question order.
// With includeUnanswered every question gets a row, the unanswered ones with
// no response.
func (s *ExamSession) answerRowsLocked(includeUnanswered bool) []*models.AttemptAnswer {
	capacity := len(s.answers)
	if includeUnanswered {
		capacity = len(s.questions)
	}
	rows := make([]*models.AttemptAnswer, 0, capacity)
	for _, q := range s.questions {
		entry, ok := s.answers[q.Question.ID]
		if !ok {
			if includeUnanswered {
				rows = append(rows, &models.AttemptAnswer{
					AttemptID:  s.attempt.ID,
					QuestionID: q.Question.ID,
				})
			}
			continue
		}
		row := &models.AttemptAnswer{
			AttemptID:        s.attempt.ID,
			QuestionID:       q.Question.ID,
			TextAnswer:       entry.text,
			IsCorrect:        entry.correct,
			TimeSpentSeconds: entry.timeSpent,
			AnsweredAt:       entry.answeredAt,
		}
		if entry.selected != nil {
			stored := *entry.selected + 1
			row.SelectedAnswer = &stored
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *ExamSession) unloggedWrongLocked() []uint {
	var ids []uint
	for _, q := range s.questions {
		entry, ok := s.answers[q.Question.ID]
		if !ok || entry.correct == nil || *entry.correct {
			continue
		}
		if _, done := s.logged[q.Question.ID]; done {
			continue
		}
		ids = append(ids, q.Question.ID)
	}
	return ids
}
