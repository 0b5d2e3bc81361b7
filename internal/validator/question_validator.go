package validator

import (
	"fmt"
	"strings"

	"github.com/topik-vn/mock-exam-service/internal/models"
)

// QuestionValidator is the ingestion boundary for stored questions: anything
// that fails here never reaches a session.
type QuestionValidator struct{}

// NewQuestionValidator creates a new question validator
func NewQuestionValidator() *QuestionValidator {
	return &QuestionValidator{}
}

// ValidateForSession checks a stored question and returns its parsed choices.
func (v *QuestionValidator) ValidateForSession(question *models.Question) (models.Choices, error) {
	if question == nil {
		return models.Choices{}, fmt.Errorf("question is nil")
	}
	if strings.TrimSpace(question.Prompt) == "" && question.AudioURL == nil && question.ImageURL == nil {
		return models.Choices{}, fmt.Errorf("question %d has no prompt, audio or image", question.ID)
	}
	if question.IsFreeResponse() && question.Section != models.SectionWriting {
		return models.Choices{}, fmt.Errorf("question %d: free response only allowed in writing", question.ID)
	}
	if question.WordLimit != nil && *question.WordLimit < 0 {
		return models.Choices{}, fmt.Errorf("question %d: negative word limit", question.ID)
	}

	choices, err := question.ParseChoices()
	if err != nil {
		return models.Choices{}, fmt.Errorf("question %d: %w", question.ID, err)
	}
	return choices, nil
}
