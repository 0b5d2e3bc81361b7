package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AttemptsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "Exam attempts started or resumed",
		},
		[]string{"exam_type", "mode", "resumed"},
	)

	AttemptsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_finished_total",
			Help: "Exam attempts that reached a terminal state",
		},
		[]string{"exam_type", "mode", "reason"},
	)

	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exam_live_sessions",
			Help: "Exam sessions currently held in memory",
		},
	)

	AutosaveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_autosave_failures_total",
			Help: "Autosave passes that failed and were skipped",
		},
	)

	SubmissionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_submission_failures_total",
			Help: "Submission passes rolled back with a retryable error",
		},
	)

	RejectedQuestions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_rejected_questions_total",
			Help: "Stored questions excluded from sessions as malformed",
		},
	)

	PoolCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_pool_cache_lookups_total",
			Help: "Question pool cache lookups by result",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(AttemptsStarted)
		prometheus.MustRegister(AttemptsFinished)
		prometheus.MustRegister(LiveSessions)
		prometheus.MustRegister(AutosaveFailures)
		prometheus.MustRegister(SubmissionFailures)
		prometheus.MustRegister(RejectedQuestions)
		prometheus.MustRegister(PoolCacheLookups)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
