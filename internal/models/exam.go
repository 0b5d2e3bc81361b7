package models

import "strings"

type ExamType string

const (
	ExamTopik1 ExamType = "topik1"
	ExamTopik2 ExamType = "topik2"
)

type ExamMode string

const (
	ModeFull     ExamMode = "full"
	ModeSection  ExamMode = "section"
	ModePart     ExamMode = "part"
	ModeWeakness ExamMode = "weakness"
)

type Section string

const (
	SectionListening Section = "listening"
	SectionReading   Section = "reading"
	SectionWriting   Section = "writing"
)

type ResponseType string

const (
	ResponseMultipleChoice ResponseType = "multiple_choice"
	ResponseShortAnswer    ResponseType = "short_answer"
	ResponseEssay          ResponseType = "essay"
)

// DifficultyLevel is the coarse label a caller filters by. Stored question
// tags use a looser vocabulary, see DifficultyTags.
type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

var difficultySynonyms = map[DifficultyLevel][]string{
	DifficultyEasy:   {"easy", "de", "dễ", "beginner", "basic", "1", "so cap", "sơ cấp"},
	DifficultyMedium: {"medium", "trung binh", "trung bình", "intermediate", "normal", "2", "trung cap", "trung cấp"},
	DifficultyHard:   {"hard", "kho", "khó", "advanced", "difficult", "3", "cao cap", "cao cấp"},
}

// DifficultyTags returns every stored tag accepted for the level, or nil for
// an unknown level.
func DifficultyTags(level DifficultyLevel) []string {
	tags, ok := difficultySynonyms[DifficultyLevel(strings.ToLower(string(level)))]
	if !ok {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

func ValidExamTypes() []ExamType { return []ExamType{ExamTopik1, ExamTopik2} }

func ValidExamModes() []ExamMode {
	return []ExamMode{ModeFull, ModeSection, ModePart, ModeWeakness}
}

func ValidSections() []Section {
	return []Section{SectionListening, SectionReading, SectionWriting}
}

func ValidDifficultyLevels() []DifficultyLevel {
	return []DifficultyLevel{DifficultyEasy, DifficultyMedium, DifficultyHard}
}
