package validator

import (
	"github.com/topik-vn/mock-exam-service/internal/errors"
	"github.com/topik-vn/mock-exam-service/internal/models"
)

// ExamSelection is implemented by requests that pick a question set.
type ExamSelection interface {
	SelectionMode() models.ExamMode
	SelectionSection() *models.Section
	SelectionPart() *int
	SelectionQuestionIDs() []uint
}

// BusinessValidator checks cross-field rules struct tags cannot express.
type BusinessValidator struct{}

func NewBusinessValidator() *BusinessValidator {
	return &BusinessValidator{}
}

func (v *BusinessValidator) Validate(s interface{}) ValidationErrors {
	if selection, ok := s.(ExamSelection); ok {
		return v.ValidateExamSelection(selection)
	}
	return nil
}

func (v *BusinessValidator) ValidateExamSelection(s ExamSelection) ValidationErrors {
	var errs ValidationErrors

	switch s.SelectionMode() {
	case models.ModeSection:
		if s.SelectionSection() == nil {
			errs = append(errs, *errors.NewValidationErrorWithRule("section", "is required in section mode", "section_required", nil))
		}
	case models.ModePart:
		if s.SelectionSection() == nil {
			errs = append(errs, *errors.NewValidationErrorWithRule("section", "is required in part mode", "section_required", nil))
		}
		if s.SelectionPart() == nil {
			errs = append(errs, *errors.NewValidationErrorWithRule("part_number", "is required in part mode", "part_required", nil))
		}
	case models.ModeWeakness:
		if len(s.SelectionQuestionIDs()) == 0 {
			errs = append(errs, *errors.NewValidationErrorWithRule("question_ids", "must list at least one question in weakness mode", "question_ids_required", nil))
		}
	}

	return errs
}
