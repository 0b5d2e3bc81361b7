package services

import (
	"context"

	"github.com/topik-vn/mock-exam-service/internal/models"
)

// AttemptService runs exam attempts end to end: question selection, the live
// session (timer, answers, autosave) and the final submission.
type AttemptService interface {
	// Core operations
	Start(ctx context.Context, req *StartAttemptRequest, userID string) (*StartAttemptResponse, error)
	GetCurrent(ctx context.Context, examType models.ExamType, userID string) (*SessionView, error)
	GetSession(ctx context.Context, attemptID uint, userID string) (*SessionView, error)
	Submit(ctx context.Context, attemptID uint, userID string) (*SubmissionResult, error)
	Abandon(ctx context.Context, attemptID uint, userID string) error

	// In-session commands
	RecordAnswer(ctx context.Context, attemptID, questionID uint, req *RecordAnswerRequest, userID string) (*AnswerFeedback, error)
	ToggleFlag(ctx context.Context, attemptID, questionID uint, userID string) (*FlagResponse, error)
	PauseTimer(ctx context.Context, attemptID uint, userID string) (*TimerView, error)
	ResumeTimer(ctx context.Context, attemptID uint, userID string) (*TimerView, error)

	// History
	List(ctx context.Context, req *ListAttemptsRequest, userID string) (*AttemptListResponse, error)
	GetResult(ctx context.Context, attemptID uint, userID string) (*SubmissionResult, error)

	// Shutdown flushes and stops every live session.
	Shutdown(ctx context.Context) error
}

type MistakeService interface {
	List(ctx context.Context, req *ListMistakesRequest, userID string) (*MistakeListResponse, error)
}

// WritingReviewService sends writing answers of a finished attempt to the
// remote evaluator and stores the feedback.
type WritingReviewService interface {
	ReviewAttempt(ctx context.Context, attemptID uint, userID string) (*WritingReviewResponse, error)
}

type SpeechService interface {
	Synthesize(ctx context.Context, req *SpeechRequest) (*SpeechResponse, error)
}

type ExportService interface {
	ExportAttempt(ctx context.Context, attemptID uint, userID string) ([]byte, error)
}

// FunctionInvoker calls a named remote function. remote.Client implements it.
type FunctionInvoker interface {
	Invoke(ctx context.Context, function string, body interface{}, out interface{}) error
	InvokeBinary(ctx context.Context, function string, body interface{}) ([]byte, string, error)
}
