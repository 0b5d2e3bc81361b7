// Package memory is an in-process implementation of the repositories used by
// local development (STORAGE_DRIVER=memory) and by service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/topik-vn/mock-exam-service/internal/models"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
)

type answerKey struct {
	attemptID  uint
	questionID uint
}

type mistakeKey struct {
	userID     string
	questionID uint
}

type state struct {
	questions map[uint]models.Question
	attempts  map[uint]models.ExamAttempt
	answers   map[answerKey]models.AttemptAnswer
	mistakes  map[mistakeKey]models.Mistake
	nextID    uint
}

func (s *state) clone() *state {
	c := &state{
		questions: make(map[uint]models.Question, len(s.questions)),
		attempts:  make(map[uint]models.ExamAttempt, len(s.attempts)),
		answers:   make(map[answerKey]models.AttemptAnswer, len(s.answers)),
		mistakes:  make(map[mistakeKey]models.Mistake, len(s.mistakes)),
		nextID:    s.nextID,
	}
	for k, v := range s.questions {
		c.questions[k] = v
	}
	for k, v := range s.attempts {
		c.attempts[k] = v
	}
	for k, v := range s.answers {
		c.answers[k] = v
	}
	for k, v := range s.mistakes {
		c.mistakes[k] = v
	}
	return c
}

type shared struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data *state
	now  func() time.Time
}

// Store keeps every row in maps guarded by one mutex. Writers outside a
// transaction queue behind txMu, so a rollback never drops their rows.
// Readers do not wait and may see uncommitted transaction writes.
type Store struct {
	*shared
	inTx bool
}

func NewStore() *Store {
	return &Store{shared: &shared{
		data: &state{
			questions: make(map[uint]models.Question),
			attempts:  make(map[uint]models.ExamAttempt),
			answers:   make(map[answerKey]models.AttemptAnswer),
			mistakes:  make(map[mistakeKey]models.Mistake),
		},
		now: time.Now,
	}}
}

// lockWrite takes the write lock and returns its release.
func (s *Store) lockWrite() func() {
	if !s.inTx {
		s.txMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if !s.inTx {
			s.txMu.Unlock()
		}
	}
}

// AddQuestions seeds content. Questions without an id get one assigned.
func (s *Store) AddQuestions(questions ...*models.Question) {
	unlock := s.lockWrite()
	defer unlock()
	for _, q := range questions {
		if q.ID == 0 {
			q.ID = s.allocID()
		} else if q.ID > s.data.nextID {
			s.data.nextID = q.ID
		}
		s.data.questions[q.ID] = *q
	}
}

func (s *Store) allocID() uint {
	s.data.nextID++
	return s.data.nextID
}

func (s *Store) Question() repositories.QuestionRepository { return questionStore{s} }
func (s *Store) Attempt() repositories.AttemptRepository   { return attemptStore{s} }
func (s *Store) Answer() repositories.AnswerRepository     { return answerStore{s} }
func (s *Store) Mistake() repositories.MistakeRepository   { return mistakeStore{s} }

func (s *Store) WithTransaction(ctx context.Context, fn func(tx repositories.Repository) error) error {
	if s.inTx {
		return fn(s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&Store{shared: s.shared, inTx: true}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// ===== QUESTIONS =====

type questionStore struct{ s *Store }

func (q questionStore) Find(ctx context.Context, filters repositories.QuestionFilters) ([]*models.Question, error) {
	q.s.mu.RLock()
	defer q.s.mu.RUnlock()

	tags := make(map[string]bool, len(filters.DifficultyTags))
	for _, t := range filters.DifficultyTags {
		tags[strings.ToLower(t)] = true
	}

	var out []*models.Question
	for _, question := range q.s.data.questions {
		if !question.IsActive || question.ExamType != filters.ExamType {
			continue
		}
		if filters.Section != nil && question.Section != *filters.Section {
			continue
		}
		if filters.PartNumber != nil && question.PartNumber != *filters.PartNumber {
			continue
		}
		if len(tags) > 0 && !tags[strings.ToLower(question.Difficulty)] {
			continue
		}
		c := question
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q questionStore) GetByIDs(ctx context.Context, ids []uint) ([]*models.Question, error) {
	q.s.mu.RLock()
	defer q.s.mu.RUnlock()

	out := make([]*models.Question, 0, len(ids))
	for _, id := range ids {
		question, ok := q.s.data.questions[id]
		if !ok || !question.IsActive {
			continue
		}
		c := question
		out = append(out, &c)
	}
	return out, nil
}

// ===== ATTEMPTS =====

type attemptStore struct{ s *Store }

func (a attemptStore) Create(ctx context.Context, attempt *models.ExamAttempt) error {
	unlock := a.s.lockWrite()
	defer unlock()

	attempt.ID = a.s.allocID()
	now := a.s.now()
	attempt.CreatedAt, attempt.UpdatedAt = now, now
	if attempt.Status == "" {
		attempt.Status = models.AttemptInProgress
	}
	a.s.data.attempts[attempt.ID] = *attempt
	return nil
}

func (a attemptStore) GetByID(ctx context.Context, id uint) (*models.ExamAttempt, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	attempt, ok := a.s.data.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &attempt, nil
}

func (a attemptStore) ListByUser(ctx context.Context, userID string, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	var matched []*models.ExamAttempt
	for _, attempt := range a.s.data.attempts {
		if attempt.UserID != userID {
			continue
		}
		if filters.ExamType != nil && attempt.ExamType != *filters.ExamType {
			continue
		}
		if filters.Status != nil && attempt.Status != *filters.Status {
			continue
		}
		c := attempt
		matched = append(matched, &c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return paginate(matched, filters.Offset, filters.Limit), int64(len(matched)), nil
}

func (a attemptStore) GetOpenAttempt(ctx context.Context, userID string, examType models.ExamType) (*models.ExamAttempt, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	var found *models.ExamAttempt
	for _, attempt := range a.s.data.attempts {
		if attempt.UserID != userID || attempt.ExamType != examType || !attempt.IsOpen() {
			continue
		}
		if found == nil || attempt.StartedAt.After(found.StartedAt) {
			c := attempt
			found = &c
		}
	}
	return found, nil
}

func (a attemptStore) UpdateProgress(ctx context.Context, id uint, correctCount int) error {
	unlock := a.s.lockWrite()
	defer unlock()

	attempt, ok := a.s.data.attempts[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if attempt.Status != models.AttemptInProgress {
		return nil
	}
	attempt.CorrectCount = correctCount
	attempt.UpdatedAt = a.s.now()
	a.s.data.attempts[id] = attempt
	return nil
}

func (a attemptStore) CompleteAttempt(ctx context.Context, id uint, completion repositories.AttemptCompletion) error {
	unlock := a.s.lockWrite()
	defer unlock()

	attempt, ok := a.s.data.attempts[id]
	if !ok || attempt.Status != models.AttemptInProgress {
		return repositories.ErrNotFound
	}
	finishedAt := completion.FinishedAt
	score := completion.TotalScore
	spent := completion.TimeSpentSeconds
	reason := completion.EndReason

	attempt.Status = models.AttemptCompleted
	attempt.IsCompleted = true
	attempt.CorrectCount = completion.CorrectCount
	attempt.TotalScore = &score
	attempt.TimeSpentSeconds = &spent
	attempt.FinishedAt = &finishedAt
	attempt.EndReason = &reason
	attempt.UpdatedAt = a.s.now()
	a.s.data.attempts[id] = attempt
	return nil
}

func (a attemptStore) MarkAbandoned(ctx context.Context, id uint, reason models.EndReason) error {
	unlock := a.s.lockWrite()
	defer unlock()

	attempt, ok := a.s.data.attempts[id]
	if !ok || attempt.Status != models.AttemptInProgress {
		return repositories.ErrNotFound
	}
	attempt.Status = models.AttemptAbandoned
	attempt.EndReason = &reason
	attempt.UpdatedAt = a.s.now()
	a.s.data.attempts[id] = attempt
	return nil
}

// ===== ANSWERS =====

type answerStore struct{ s *Store }

func (a answerStore) Upsert(ctx context.Context, answer *models.AttemptAnswer) error {
	unlock := a.s.lockWrite()
	defer unlock()

	key := answerKey{answer.AttemptID, answer.QuestionID}
	now := a.s.now()
	if existing, ok := a.s.data.answers[key]; ok {
		existing.SelectedAnswer = answer.SelectedAnswer
		existing.TextAnswer = answer.TextAnswer
		existing.IsCorrect = answer.IsCorrect
		existing.TimeSpentSeconds = answer.TimeSpentSeconds
		existing.AnsweredAt = answer.AnsweredAt
		existing.UpdatedAt = now
		a.s.data.answers[key] = existing
		answer.ID = existing.ID
		return nil
	}

	answer.ID = a.s.allocID()
	answer.CreatedAt, answer.UpdatedAt = now, now
	a.s.data.answers[key] = *answer
	return nil
}

func (a answerStore) GetByAttempt(ctx context.Context, attemptID uint) ([]*models.AttemptAnswer, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	var out []*models.AttemptAnswer
	for key, answer := range a.s.data.answers {
		if key.attemptID != attemptID {
			continue
		}
		c := answer
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a answerStore) GetAnsweredQuestionIDs(ctx context.Context, userID string, examType models.ExamType) ([]uint, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()

	seen := make(map[uint]bool)
	var ids []uint
	for key, answer := range a.s.data.answers {
		attempt, ok := a.s.data.attempts[key.attemptID]
		if !ok || attempt.UserID != userID || attempt.ExamType != examType {
			continue
		}
		if answer.SelectedAnswer == nil && answer.TextAnswer == nil {
			continue
		}
		if !seen[key.questionID] {
			seen[key.questionID] = true
			ids = append(ids, key.questionID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (a answerStore) UpdateReview(ctx context.Context, attemptID, questionID uint, review repositories.AnswerReview) error {
	unlock := a.s.lockWrite()
	defer unlock()

	key := answerKey{attemptID, questionID}
	answer, ok := a.s.data.answers[key]
	if !ok {
		return repositories.ErrNotFound
	}
	feedback := review.Feedback
	reviewedAt := review.ReviewedAt
	answer.AIFeedback = &feedback
	answer.AIScore = review.Score
	answer.ReviewedAt = &reviewedAt
	answer.UpdatedAt = a.s.now()
	a.s.data.answers[key] = answer
	return nil
}

// ===== MISTAKES =====

type mistakeStore struct{ s *Store }

func (m mistakeStore) GetByUserAndQuestion(ctx context.Context, userID string, questionID uint) (*models.Mistake, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	mistake, ok := m.s.data.mistakes[mistakeKey{userID, questionID}]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &mistake, nil
}

func (m mistakeStore) Upsert(ctx context.Context, mistake *models.Mistake) error {
	unlock := m.s.lockWrite()
	defer unlock()

	key := mistakeKey{mistake.UserID, mistake.QuestionID}
	now := m.s.now()
	if existing, ok := m.s.data.mistakes[key]; ok {
		existing.ReviewCount++
		existing.AttemptID = mistake.AttemptID
		existing.LastWrongAt = mistake.LastWrongAt
		existing.UpdatedAt = now
		m.s.data.mistakes[key] = existing
		*mistake = existing
		return nil
	}

	mistake.ID = m.s.allocID()
	if mistake.ReviewCount == 0 {
		mistake.ReviewCount = 1
	}
	mistake.CreatedAt, mistake.UpdatedAt = now, now
	m.s.data.mistakes[key] = *mistake
	return nil
}

func (m mistakeStore) ListByUser(ctx context.Context, userID string, filters repositories.MistakeFilters) ([]*models.Mistake, int64, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var matched []*models.Mistake
	for key, mistake := range m.s.data.mistakes {
		if key.userID != userID {
			continue
		}
		if !filters.IncludeMastered && mistake.IsMastered {
			continue
		}
		if filters.ExamType != nil {
			question, ok := m.s.data.questions[key.questionID]
			if !ok || question.ExamType != *filters.ExamType {
				continue
			}
		}
		c := mistake
		matched = append(matched, &c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastWrongAt.Equal(matched[j].LastWrongAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].LastWrongAt.After(matched[j].LastWrongAt)
	})
	return paginate(matched, filters.Offset, filters.Limit), int64(len(matched)), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	limit = repositories.DefaultLimit(limit)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
