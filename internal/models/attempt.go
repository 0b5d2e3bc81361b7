package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptAbandoned  AttemptStatus = "abandoned"
)

type EndReason string

const (
	EndReasonSubmitted EndReason = "submitted"
	EndReasonTimeout   EndReason = "timeout"
	EndReasonAbandoned EndReason = "abandoned"
	EndReasonStale     EndReason = "stale"
)

// ExamAttempt is one sitting of an exam by one user. Rows are never deleted.
type ExamAttempt struct {
	ID         uint             `json:"id" gorm:"primaryKey"`
	UserID     string           `json:"user_id" gorm:"not null;index:idx_attempt_user_type;size:255"`
	ExamType   ExamType         `json:"exam_type" gorm:"not null;index:idx_attempt_user_type;size:20"`
	Mode       ExamMode         `json:"mode" gorm:"not null;size:20"`
	Section    *Section         `json:"section,omitempty" gorm:"size:20"`
	PartNumber *int             `json:"part_number,omitempty"`
	Difficulty *DifficultyLevel `json:"difficulty,omitempty" gorm:"size:20"`

	// Ordered ids of the question set, so a resume reloads the same session.
	QuestionIDs datatypes.JSON `json:"question_ids" gorm:"type:jsonb"`

	TotalQuestions int           `json:"total_questions"`
	CorrectCount   int           `json:"correct_count"`
	Status         AttemptStatus `json:"status" gorm:"default:in_progress;index"`
	IsCompleted    bool          `json:"is_completed"`

	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	TimeSpentSeconds *int       `json:"time_spent_seconds,omitempty"`
	TimeLimitSeconds *int       `json:"time_limit_seconds,omitempty"`
	TotalScore       *int       `json:"total_score,omitempty"`
	EndReason        *EndReason `json:"end_reason,omitempty" gorm:"size:20"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExamAttempt) TableName() string { return "exam_attempts" }

func (a *ExamAttempt) IsOpen() bool {
	return a.Status == AttemptInProgress && !a.IsCompleted
}

func (a *ExamAttempt) OrderedQuestionIDs() ([]uint, error) {
	if len(a.QuestionIDs) == 0 {
		return nil, nil
	}
	var ids []uint
	if err := json.Unmarshal(a.QuestionIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *ExamAttempt) SetQuestionIDs(ids []uint) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	a.QuestionIDs = datatypes.JSON(raw)
	a.TotalQuestions = len(ids)
	return nil
}

// AttemptAnswer is the persisted response to one question of one attempt.
// SelectedAnswer is stored 1-based, matching Question.CorrectAnswer.
type AttemptAnswer struct {
	ID               uint    `json:"id" gorm:"primaryKey"`
	AttemptID        uint    `json:"attempt_id" gorm:"not null;uniqueIndex:idx_answer_attempt_question"`
	QuestionID       uint    `json:"question_id" gorm:"not null;uniqueIndex:idx_answer_attempt_question"`
	SelectedAnswer   *int    `json:"selected_answer,omitempty"`
	TextAnswer       *string `json:"text_answer,omitempty" gorm:"type:text"`
	IsCorrect        *bool   `json:"is_correct,omitempty"`
	TimeSpentSeconds *int    `json:"time_spent_seconds,omitempty"`

	AIFeedback *string    `json:"ai_feedback,omitempty" gorm:"type:text"`
	AIScore    *float64   `json:"ai_score,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	AnsweredAt time.Time  `json:"answered_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (AttemptAnswer) TableName() string { return "exam_attempt_answers" }

// IsAnswered reports whether the row carries a response. Submission writes
// empty rows for questions left unanswered.
func (a *AttemptAnswer) IsAnswered() bool {
	return a.SelectedAnswer != nil || a.TextAnswer != nil
}

// Mistake records that a user got a question wrong, independent of attempt.
type Mistake struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UserID      string    `json:"user_id" gorm:"not null;uniqueIndex:idx_mistake_user_question;size:255"`
	QuestionID  uint      `json:"question_id" gorm:"not null;uniqueIndex:idx_mistake_user_question"`
	AttemptID   uint      `json:"attempt_id" gorm:"not null;index"`
	IsMastered  bool      `json:"is_mastered" gorm:"default:false"`
	ReviewCount int       `json:"review_count" gorm:"default:1"`
	LastWrongAt time.Time `json:"last_wrong_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Mistake) TableName() string { return "exam_mistakes" }
