package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/topik-vn/mock-exam-service/internal/cache"
	"github.com/topik-vn/mock-exam-service/internal/config"
	"github.com/topik-vn/mock-exam-service/internal/handlers"
	"github.com/topik-vn/mock-exam-service/internal/remote"
	"github.com/topik-vn/mock-exam-service/internal/repositories"
	"github.com/topik-vn/mock-exam-service/internal/repositories/memory"
	"github.com/topik-vn/mock-exam-service/internal/repositories/postgres"
	"github.com/topik-vn/mock-exam-service/internal/services"
	"github.com/topik-vn/mock-exam-service/internal/utils"
	"github.com/topik-vn/mock-exam-service/internal/validator"
	"github.com/topik-vn/mock-exam-service/pkg"
	"github.com/topik-vn/mock-exam-service/pkg/monitoring"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Environment, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	repo, err := newRepository(cfg, logger)
	if err != nil {
		return err
	}

	cacheService := newCache(ctx, cfg, logger)

	publisher, err := cfg.Events.CreateEventPublisher(logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("Failed to close event publisher", "error", err)
		}
	}()

	serviceManager := services.NewServiceManager(services.ServiceDeps{
		Repo:      repo,
		Cache:     cacheService,
		Publisher: publisher,
		Invoker:   remote.NewClient(cfg.Remote, logger),
		Validator: validator.New(),
		Exam:      cfg.Exam,
		Clock:     services.RealClock(),
		Logger:    logger,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	monitoring.Init()

	httpLogger := utils.NewSlogLogger(logger)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		utils.RequestIDMiddleware(),
		utils.LoggerMiddleware(httpLogger),
		monitoring.MetricsMiddleware(),
		cors.New(corsConfig(cfg)),
	)
	router.GET("/metrics", monitoring.PrometheusHandler())

	handlers.NewHandlerManager(
		serviceManager,
		handlers.NewCasdoorIdentity(cfg.Casdoor),
		httpLogger,
	).SetupRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "port", cfg.Port, "environment", cfg.Environment, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("Shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	// Live sessions flush their answers; attempts stay open for resume.
	if err := serviceManager.Attempt().Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to flush live sessions", "error", err)
	}

	logger.Info("Server exiting")
	return nil
}

func newRepository(cfg *config.Config, logger *slog.Logger) (repositories.Repository, error) {
	if cfg.StorageDriver == "memory" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return memory.NewStore(), nil
	}

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := pkg.Migrate(db); err != nil {
		return nil, err
	}
	return postgres.NewRepository(db), nil
}

// newCache prefers Redis and falls back to the in-process cache when Redis
// is unreachable.
func newCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.CacheService {
	client, err := pkg.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory cache", "error", err)
		return cache.NewMemoryCache()
	}
	return cache.NewRedisCache(client, "mock-exam", logger)
}

func corsConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", utils.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Disposition", "X-Cache", utils.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORSOrigins) == 0 || (len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	return corsCfg
}
