package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type OptionKind string

const (
	OptionText  OptionKind = "text"
	OptionImage OptionKind = "image"
)

const ImageOptionCount = 4

var (
	ErrMalformedOptions = errors.New("malformed question options")
	ErrInvalidAnswerKey = errors.New("correct answer out of range")
)

// Question is a read-only exam item. Options and explanations are stored as
// loose JSON and must go through ParseChoices / ExplanationFor before use.
// It carries the answer key, so API responses use services.QuestionView.
type Question struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	ExamType        ExamType       `json:"exam_type" gorm:"not null;index;size:20"`
	Section         Section        `json:"section" gorm:"not null;index;size:20"`
	PartNumber      int            `json:"part_number" gorm:"index"`
	QuestionNumber  int            `json:"question_number"`
	Prompt          string         `json:"prompt" gorm:"type:text"`
	OptionKind      OptionKind     `json:"option_kind" gorm:"size:10;default:text"`
	Options         datatypes.JSON `json:"options" gorm:"type:jsonb"`
	CorrectAnswer   int            `json:"correct_answer"` // 1-based
	Explanations    datatypes.JSON `json:"explanations" gorm:"type:jsonb"`
	AudioURL        *string        `json:"audio_url,omitempty" gorm:"size:500"`
	ImageURL        *string        `json:"image_url,omitempty" gorm:"size:500"`
	Points          int            `json:"points" gorm:"default:1"`
	InstructionText *string        `json:"instruction_text,omitempty" gorm:"type:text"`
	Round           *int           `json:"round,omitempty"`
	Year            *int           `json:"year,omitempty"`
	Difficulty      string         `json:"difficulty" gorm:"size:50;index"`
	ResponseType    *ResponseType  `json:"response_type,omitempty" gorm:"size:20"`
	WordLimit       *int           `json:"word_limit,omitempty"`
	IsActive        bool           `json:"is_active" gorm:"default:true;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Question) TableName() string { return "exam_questions" }

// Choices is the validated form of a question's option list.
type Choices struct {
	Kind  OptionKind `json:"kind"`
	Items []string   `json:"items"`
}

func (c Choices) Len() int { return len(c.Items) }

// IsFreeResponse reports whether the item is answered with text rather than a
// selected option.
func (q *Question) IsFreeResponse() bool {
	if q.ResponseType == nil {
		return false
	}
	return *q.ResponseType == ResponseShortAnswer || *q.ResponseType == ResponseEssay
}

// ParseChoices validates the stored options against the question's kind and
// answer key. Free-response items have no choices.
func (q *Question) ParseChoices() (Choices, error) {
	if q.IsFreeResponse() {
		return Choices{Kind: OptionText}, nil
	}

	choices, err := ParseChoices(q.OptionKind, q.Options)
	if err != nil {
		return Choices{}, err
	}
	if q.CorrectAnswer < 1 || q.CorrectAnswer > len(choices.Items) {
		return Choices{}, fmt.Errorf("%w: %d of %d", ErrInvalidAnswerKey, q.CorrectAnswer, len(choices.Items))
	}
	return choices, nil
}

func ParseChoices(kind OptionKind, raw []byte) (Choices, error) {
	if kind == "" {
		kind = OptionText
	}
	if kind != OptionText && kind != OptionImage {
		return Choices{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedOptions, kind)
	}
	if len(raw) == 0 {
		return Choices{}, fmt.Errorf("%w: empty", ErrMalformedOptions)
	}

	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return Choices{}, fmt.Errorf("%w: %v", ErrMalformedOptions, err)
	}
	if len(items) == 0 {
		return Choices{}, fmt.Errorf("%w: no options", ErrMalformedOptions)
	}
	for i, item := range items {
		if strings.TrimSpace(item) == "" {
			return Choices{}, fmt.Errorf("%w: option %d is blank", ErrMalformedOptions, i+1)
		}
	}
	if kind == OptionImage && len(items) != ImageOptionCount {
		return Choices{}, fmt.Errorf("%w: picture items need %d images, got %d", ErrMalformedOptions, ImageOptionCount, len(items))
	}

	return Choices{Kind: kind, Items: items}, nil
}

// ExplanationFor returns the explanation in lang, falling back to vi, then
// any available language.
func (q *Question) ExplanationFor(lang string) string {
	if len(q.Explanations) == 0 {
		return ""
	}
	var byLang map[string]string
	if err := json.Unmarshal(q.Explanations, &byLang); err != nil {
		return ""
	}
	if text, ok := byLang[lang]; ok && text != "" {
		return text
	}
	if text, ok := byLang["vi"]; ok && text != "" {
		return text
	}
	for _, text := range byLang {
		if text != "" {
			return text
		}
	}
	return ""
}
