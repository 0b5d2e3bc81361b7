package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/topik-vn/mock-exam-service/internal/models"
)

// ModePolicy controls how a session behaves for one exam mode. A zero Cap
// means the session takes every requested question.
type ModePolicy struct {
	Cap               int
	ImmediateFeedback bool
	Pausable          bool
}

type TimeLimitKey struct {
	ExamType models.ExamType
	Mode     models.ExamMode
	Section  models.Section
}

type ExamConfig struct {
	AutosaveInterval   time.Duration
	MinViableQuestions int
	PoolCacheTTL       time.Duration
	Modes              map[models.ExamMode]ModePolicy
	TimeLimits         map[TimeLimitKey]int // seconds
}

func DefaultExamConfig() ExamConfig {
	return ExamConfig{
		AutosaveInterval:   30 * time.Second,
		MinViableQuestions: 10,
		PoolCacheTTL:       10 * time.Minute,
		Modes: map[models.ExamMode]ModePolicy{
			models.ModeFull:     {Cap: 200},
			models.ModeSection:  {Cap: 30},
			models.ModePart:     {Cap: 15, ImmediateFeedback: true, Pausable: true},
			models.ModeWeakness: {ImmediateFeedback: true, Pausable: true},
		},
		TimeLimits: DefaultTimeLimits(),
	}
}

// DefaultTimeLimits follows the official TOPIK section timings. Practice
// modes have no entry and run untimed.
func DefaultTimeLimits() map[TimeLimitKey]int {
	return map[TimeLimitKey]int{
		{models.ExamTopik1, models.ModeFull, ""}:                         100 * 60,
		{models.ExamTopik1, models.ModeSection, models.SectionListening}: 40 * 60,
		{models.ExamTopik1, models.ModeSection, models.SectionReading}:   60 * 60,
		{models.ExamTopik2, models.ModeFull, ""}:                         180 * 60,
		{models.ExamTopik2, models.ModeSection, models.SectionListening}: 60 * 60,
		{models.ExamTopik2, models.ModeSection, models.SectionWriting}:   50 * 60,
		{models.ExamTopik2, models.ModeSection, models.SectionReading}:   70 * 60,
	}
}

// TimeLimit looks up (type, mode, section), then (type, mode). ok is false
// for untimed sessions.
func (c ExamConfig) TimeLimit(examType models.ExamType, mode models.ExamMode, section *models.Section) (int, bool) {
	if section != nil {
		if seconds, ok := c.TimeLimits[TimeLimitKey{examType, mode, *section}]; ok && seconds > 0 {
			return seconds, true
		}
	}
	if seconds, ok := c.TimeLimits[TimeLimitKey{examType, mode, ""}]; ok && seconds > 0 {
		return seconds, true
	}
	return 0, false
}

func (c ExamConfig) Policy(mode models.ExamMode) ModePolicy {
	return c.Modes[mode]
}

func loadExamConfig() (ExamConfig, error) {
	cfg := DefaultExamConfig()
	cfg.AutosaveInterval = getDuration("EXAM_AUTOSAVE_INTERVAL", cfg.AutosaveInterval)
	cfg.MinViableQuestions = getInt("EXAM_MIN_VIABLE_QUESTIONS", cfg.MinViableQuestions)
	cfg.PoolCacheTTL = getDuration("EXAM_POOL_CACHE_TTL", cfg.PoolCacheTTL)

	full := cfg.Modes[models.ModeFull]
	full.Cap = getInt("EXAM_FULL_CAP", full.Cap)
	cfg.Modes[models.ModeFull] = full

	if raw := os.Getenv("EXAM_TIME_LIMITS"); raw != "" {
		overrides, err := ParseTimeLimits(raw)
		if err != nil {
			return ExamConfig{}, err
		}
		for key, seconds := range overrides {
			cfg.TimeLimits[key] = seconds
		}
	}
	return cfg, nil
}

// ParseTimeLimits reads entries like "topik1:part:listening=900,topik2:full=10800".
// A value of 0 removes the limit for that key.
func ParseTimeLimits(raw string) (map[TimeLimitKey]int, error) {
	out := make(map[TimeLimitKey]int)
	for _, entry := range splitList(raw) {
		keyPart, valuePart, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("invalid time limit entry %q: missing '='", entry)
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(valuePart))
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("invalid time limit entry %q: seconds must be a non-negative integer", entry)
		}

		fields := strings.Split(strings.TrimSpace(keyPart), ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("invalid time limit entry %q: expected type:mode[:section]", entry)
		}
		key := TimeLimitKey{ExamType: models.ExamType(fields[0]), Mode: models.ExamMode(fields[1])}
		if len(fields) == 3 {
			key.Section = models.Section(fields[2])
		}
		out[key] = seconds
	}
	return out, nil
}
