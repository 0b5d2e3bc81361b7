package services

import (
	"time"

	"github.com/topik-vn/mock-exam-service/internal/models"
)

// ===== REQUEST TYPES =====

type StartAttemptRequest struct {
	ExamType    models.ExamType         `json:"exam_type" validate:"required,exam_type"`
	Mode        models.ExamMode         `json:"mode" validate:"required,exam_mode"`
	Section     *models.Section         `json:"section,omitempty" validate:"omitempty,section"`
	PartNumber  *int                    `json:"part_number,omitempty" validate:"omitempty,min=1,max=20"`
	Difficulty  *models.DifficultyLevel `json:"difficulty,omitempty" validate:"omitempty,difficulty_level"`
	QuestionIDs []uint                  `json:"question_ids,omitempty" validate:"omitempty,max=200,dive,gt=0"`
	Restart     bool                    `json:"restart"`
	Language    string                  `json:"language,omitempty" validate:"omitempty,oneof=vi ko en"`
}

func (r StartAttemptRequest) SelectionMode() models.ExamMode    { return r.Mode }
func (r StartAttemptRequest) SelectionSection() *models.Section { return r.Section }
func (r StartAttemptRequest) SelectionPart() *int               { return r.PartNumber }
func (r StartAttemptRequest) SelectionQuestionIDs() []uint      { return r.QuestionIDs }

// RecordAnswerRequest carries either a 0-based option index or, for writing
// items, free text.
type RecordAnswerRequest struct {
	SelectedIndex    *int    `json:"selected_index,omitempty" validate:"omitempty,min=0"`
	TextAnswer       *string `json:"text_answer,omitempty" validate:"omitempty,max=10000"`
	TimeSpentSeconds *int    `json:"time_spent_seconds,omitempty" validate:"omitempty,min=0,max=86400"`
	Language         string  `json:"language,omitempty" validate:"omitempty,oneof=vi ko en"`
}

type ListAttemptsRequest struct {
	ExamType *models.ExamType      `form:"exam_type" json:"exam_type,omitempty" validate:"omitempty,exam_type"`
	Status   *models.AttemptStatus `form:"status" json:"status,omitempty" validate:"omitempty,oneof=in_progress completed abandoned"`
	Limit    int                   `form:"limit" json:"limit" validate:"omitempty,min=1,max=100"`
	Offset   int                   `form:"offset" json:"offset" validate:"omitempty,min=0"`
}

type ListMistakesRequest struct {
	ExamType        *models.ExamType `form:"exam_type" json:"exam_type,omitempty" validate:"omitempty,exam_type"`
	IncludeMastered bool             `form:"include_mastered" json:"include_mastered"`
	Limit           int              `form:"limit" json:"limit" validate:"omitempty,min=1,max=100"`
	Offset          int              `form:"offset" json:"offset" validate:"omitempty,min=0"`
}

type SpeechRequest struct {
	Text  string   `json:"text" validate:"required,max=2000"`
	Voice string   `json:"voice,omitempty" validate:"omitempty,max=64"`
	Speed *float64 `json:"speed,omitempty" validate:"omitempty,gte=0.25,lte=4"`
}

// ===== RESPONSE TYPES =====

// QuestionView is a question as shown during a session. It never carries the
// answer key.
type QuestionView struct {
	ID              uint                 `json:"id"`
	Section         models.Section       `json:"section"`
	PartNumber      int                  `json:"part_number"`
	QuestionNumber  int                  `json:"question_number"`
	Prompt          string               `json:"prompt"`
	InstructionText *string              `json:"instruction_text,omitempty"`
	Choices         models.Choices       `json:"choices"`
	AudioURL        *string              `json:"audio_url,omitempty"`
	ImageURL        *string              `json:"image_url,omitempty"`
	ResponseType    *models.ResponseType `json:"response_type,omitempty"`
	WordLimit       *int                 `json:"word_limit,omitempty"`
	Points          int                  `json:"points"`
}

type AnswerView struct {
	QuestionID    uint      `json:"question_id"`
	SelectedIndex *int      `json:"selected_index,omitempty"`
	TextAnswer    *string   `json:"text_answer,omitempty"`
	IsCorrect     *bool     `json:"is_correct,omitempty"`
	AnsweredAt    time.Time `json:"answered_at"`
}

type TimerView struct {
	State            TimerState `json:"state"`
	RemainingSeconds int        `json:"remaining_seconds"`
	LimitSeconds     int        `json:"limit_seconds"`
}

type SessionView struct {
	AttemptID         uint                 `json:"attempt_id"`
	ExamType          models.ExamType      `json:"exam_type"`
	Mode              models.ExamMode      `json:"mode"`
	Status            models.AttemptStatus `json:"status"`
	StartedAt         time.Time            `json:"started_at"`
	ImmediateFeedback bool                 `json:"immediate_feedback"`
	Pausable          bool                 `json:"pausable"`
	Questions         []QuestionView       `json:"questions"`
	Answers           []AnswerView         `json:"answers"`
	FlaggedQuestions  []uint               `json:"flagged_questions"`
	AnsweredCount     int                  `json:"answered_count"`
	TotalQuestions    int                  `json:"total_questions"`
	Timer             TimerView            `json:"timer"`
}

type StartAttemptResponse struct {
	Session *SessionView `json:"session"`
	Resumed bool         `json:"resumed"`
	// AutoSubmitted is set when a resumed attempt had no time left and was
	// submitted on the spot.
	AutoSubmitted *SubmissionResult `json:"auto_submitted,omitempty"`
}

type AnswerFeedback struct {
	QuestionID   uint    `json:"question_id"`
	Recorded     bool    `json:"recorded"`
	IsCorrect    *bool   `json:"is_correct,omitempty"`
	CorrectIndex *int    `json:"correct_index,omitempty"`
	Explanation  *string `json:"explanation,omitempty"`
}

type FlagResponse struct {
	QuestionID uint `json:"question_id"`
	Flagged    bool `json:"flagged"`
}

type QuestionReview struct {
	QuestionID    uint           `json:"question_id"`
	Section       models.Section `json:"section"`
	Prompt        string         `json:"prompt"`
	SelectedIndex *int           `json:"selected_index,omitempty"`
	TextAnswer    *string        `json:"text_answer,omitempty"`
	CorrectIndex  *int           `json:"correct_index,omitempty"`
	IsCorrect     *bool          `json:"is_correct,omitempty"`
	Explanation   string         `json:"explanation,omitempty"`
	AIFeedback    *string        `json:"ai_feedback,omitempty"`
	AIScore       *float64       `json:"ai_score,omitempty"`
}

type SubmissionResult struct {
	AttemptID        uint             `json:"attempt_id"`
	ExamType         models.ExamType  `json:"exam_type"`
	Mode             models.ExamMode  `json:"mode"`
	CorrectCount     int              `json:"correct_count"`
	TotalQuestions   int              `json:"total_questions"`
	AnsweredCount    int              `json:"answered_count"`
	TotalScore       int              `json:"total_score"`
	TimeSpentSeconds int              `json:"time_spent_seconds"`
	EndReason        models.EndReason `json:"end_reason"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	NewMistakes      int              `json:"new_mistakes"`
	Review           []QuestionReview `json:"review"`
}

type AttemptListResponse struct {
	Attempts []*models.ExamAttempt `json:"attempts"`
	Total    int64                 `json:"total"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
}

type MistakeListResponse struct {
	Mistakes    []*models.Mistake `json:"mistakes"`
	QuestionIDs []uint            `json:"question_ids"`
	Total       int64             `json:"total"`
	Limit       int               `json:"limit"`
	Offset      int               `json:"offset"`
}

type WritingReview struct {
	QuestionID uint     `json:"question_id"`
	Score      *float64 `json:"score,omitempty"`
	Feedback   string   `json:"feedback,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type WritingReviewResponse struct {
	AttemptID uint            `json:"attempt_id"`
	Reviewed  int             `json:"reviewed"`
	Failed    int             `json:"failed"`
	Reviews   []WritingReview `json:"reviews"`
}

type SpeechResponse struct {
	Audio       []byte `json:"audio"`
	ContentType string `json:"content_type"`
	Cached      bool   `json:"-"`
}
