package services

import (
	"errors"
	"fmt"

	apperrors "github.com/topik-vn/mock-exam-service/internal/errors"
)

// ===== COMMON SERVICE ERRORS =====

var (
	// Generic errors
	ErrNotFound         = errors.New("resource not found")
	ErrUnauthorized     = errors.New("unauthorized access")
	ErrForbidden        = errors.New("forbidden - insufficient permissions")
	ErrValidationFailed = errors.New("validation failed")
	ErrConflict         = errors.New("resource conflict")

	// Content errors
	ErrContentUnavailable = errors.New("no questions available for the requested exam")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrQuestionNotInExam  = errors.New("question is not part of this attempt")
	ErrAnswerTypeMismatch = errors.New("answer type does not match question")

	// Attempt specific errors
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrAttemptAccessDenied  = errors.New("access denied to attempt")
	ErrAttemptNotActive     = errors.New("attempt is not active")
	ErrAttemptNotCompleted  = errors.New("attempt is not completed")
	ErrAttemptTimeExpired   = errors.New("attempt time has expired")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrStaleAttempt         = errors.New("attempt content is no longer available")

	// Countdown errors
	ErrTimerNotPausable = errors.New("timer cannot be paused in this mode")
	ErrTimerNotRunning  = errors.New("timer is not running")
	ErrTimerNotPaused   = errors.New("timer is not paused")

	// Sibling feature errors
	ErrNoWritingAnswers = errors.New("attempt has no writing answers to review")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

type BusinessRuleError struct {
	Rule    string                 `json:"rule"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (bre *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violation (%s): %s", bre.Rule, bre.Message)
}

type PermissionError struct {
	UserID     string `json:"user_id"`
	ResourceID uint   `json:"resource_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func (pe *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s cannot %s %s %d - %s",
		pe.UserID, pe.Action, pe.Resource, pe.ResourceID, pe.Reason)
}

// SubmissionError is returned when the submission pass could not be
// persisted. The attempt stays open and the session can be submitted again.
type SubmissionError struct {
	AttemptID uint
	Retryable bool
	Err       error
}

func (se *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit attempt %d: %v", se.AttemptID, se.Err)
}

func (se *SubmissionError) Unwrap() error { return se.Err }

// ===== ERROR HELPERS =====

// NewValidationError creates a new validation error using the shared type
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrQuestionNotInExam) ||
		errors.Is(err, ErrAttemptNotFound)
}

// IsUnauthorized checks if error represents an "unauthorized" condition
func IsUnauthorized(err error) bool {
	var pe *PermissionError
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrAttemptAccessDenied) ||
		errors.As(err, &pe)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrValidationFailed) || errors.Is(err, ErrAnswerTypeMismatch) {
		return true
	}
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}

// IsBusinessRule checks if error represents a business rule violation
func IsBusinessRule(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

// IsConflict checks if error represents a state conflict on the attempt
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAttemptNotActive) ||
		errors.Is(err, ErrAttemptNotCompleted) ||
		errors.Is(err, ErrAttemptTimeExpired) ||
		errors.Is(err, ErrSubmissionInProgress) ||
		errors.Is(err, ErrTimerNotPausable) ||
		errors.Is(err, ErrTimerNotRunning) ||
		errors.Is(err, ErrTimerNotPaused)
}

// IsContentUnavailable reports whether no question set could be built.
func IsContentUnavailable(err error) bool {
	return errors.Is(err, ErrContentUnavailable) || errors.Is(err, ErrNoWritingAnswers)
}

// IsRetryable reports whether the caller may repeat the operation unchanged.
func IsRetryable(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se) && se.Retryable
}
