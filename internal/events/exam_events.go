package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/topik-vn/mock-exam-service/internal/models"
)

// EventType represents the exam lifecycle events this service emits
type EventType string

const (
	EventAttemptStarted   EventType = "exam.attempt.started"
	EventAttemptResumed   EventType = "exam.attempt.resumed"
	EventAttemptSubmitted EventType = "exam.attempt.submitted"
	EventAttemptAbandoned EventType = "exam.attempt.abandoned"
)

const (
	EventSource  = "mock-exam-service"
	EventVersion = "1.0"
)

// ExamEvent is the envelope for every published event
type ExamEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func NewExamEvent(eventType EventType, data interface{}) *ExamEvent {
	return &ExamEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    EventSource,
		Version:   EventVersion,
		Data:      data,
	}
}

type AttemptStartedEvent struct {
	AttemptID        uint            `json:"attempt_id"`
	UserID           string          `json:"user_id"`
	ExamType         models.ExamType `json:"exam_type"`
	Mode             models.ExamMode `json:"mode"`
	TotalQuestions   int             `json:"total_questions"`
	TimeLimitSeconds *int            `json:"time_limit_seconds,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
}

type AttemptSubmittedEvent struct {
	AttemptID        uint             `json:"attempt_id"`
	UserID           string           `json:"user_id"`
	ExamType         models.ExamType  `json:"exam_type"`
	Mode             models.ExamMode  `json:"mode"`
	CorrectCount     int              `json:"correct_count"`
	TotalQuestions   int              `json:"total_questions"`
	TotalScore       int              `json:"total_score"`
	TimeSpentSeconds int              `json:"time_spent_seconds"`
	EndReason        models.EndReason `json:"end_reason"`
	NewMistakes      int              `json:"new_mistakes"`
	FinishedAt       time.Time        `json:"finished_at"`
}

type AttemptAbandonedEvent struct {
	AttemptID uint             `json:"attempt_id"`
	UserID    string           `json:"user_id"`
	ExamType  models.ExamType  `json:"exam_type"`
	Reason    models.EndReason `json:"reason"`
}
