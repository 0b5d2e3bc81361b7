package services

import (
	"log/slog"

	"github.com/topik-vn/mock-exam-service/internal/cache"
	"github.com/topik-vn/mock-exam-service/internal/config"
	"github.com/topik-vn/mock-exam-service/internal/events"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"github.com/topik-vn/mock-exam-service/internal/validator"
)

// ServiceManager hands out the services used by the HTTP layer.
type ServiceManager interface {
	Attempt() AttemptService
	Mistake() MistakeService
	WritingReview() WritingReviewService
	Speech() SpeechService
	Export() ExportService
}

type ServiceDeps struct {
	Repo      repositories.Repository
	Cache     cache.CacheService
	Publisher events.EventPublisher
	Invoker   FunctionInvoker
	Validator *validator.Validator
	Exam      config.ExamConfig
	Clock     Clock
	Logger    *slog.Logger
}

type serviceManager struct {
	attempt       AttemptService
	mistake       MistakeService
	writingReview WritingReviewService
	speech        SpeechService
	export        ExportService
}

func NewServiceManager(deps ServiceDeps) ServiceManager {
	return &serviceManager{
		attempt:       NewAttemptService(deps.Repo, deps.Cache, deps.Publisher, deps.Logger, deps.Validator, deps.Exam, deps.Clock),
		mistake:       NewMistakeService(deps.Repo, deps.Logger, deps.Validator),
		writingReview: NewWritingReviewService(deps.Repo, deps.Invoker, deps.Logger),
		speech:        NewSpeechService(deps.Invoker, deps.Cache, deps.Logger, deps.Validator),
		export:        NewExportService(deps.Repo, deps.Logger),
	}
}

func (m *serviceManager) Attempt() AttemptService             { return m.attempt }
func (m *serviceManager) Mistake() MistakeService             { return m.mistake }
func (m *serviceManager) WritingReview() WritingReviewService { return m.writingReview }
func (m *serviceManager) Speech() SpeechService               { return m.speech }
func (m *serviceManager) Export() ExportService               { return m.export }
