package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/cache"
	"github.com/stemsi/attempt-service/internal/config"
	"github.com/stemsi/attempt-service/internal/database"
	"github.com/stemsi/attempt-service/internal/handler"
	"github.com/stemsi/attempt-service/internal/logger"
	"github.com/stemsi/attempt-service/internal/metrics"
	"github.com/stemsi/attempt-service/internal/middleware"
	"github.com/stemsi/attempt-service/internal/repository"
	"github.com/stemsi/attempt-service/internal/router"
	"github.com/stemsi/attempt-service/internal/service"
	"github.com/stemsi/attempt-service/internal/validator"
	"github.com/stemsi/attempt-service/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Dur("grace", cfg.AttemptGrace).
		Msg("Starting attempt service")

	validator.Setup()
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Repositories & Services ───────────────────────────────────────
	sessionRepo := repository.NewAttemptSessionRepository(pool)
	activityRepo := repository.NewActivityRepository(pool)
	redisCache := cache.NewRedisCache(rdb, cfg.SessionCacheTTL)

	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	attemptService := service.NewAttemptService(
		sessionRepo, activityRepo,
		redisCache, redisCache, redisCache,
		cfg.AttemptGrace, log,
	)
	activityService := service.NewActivityService(activityRepo, sessionRepo, log)

	// ─── Handlers ──────────────────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt:  handler.NewAttemptHandler(attemptService, log),
		Activity: handler.NewActivityHandler(activityService, log),
		Monitor:  handler.NewMonitorHandler(redisCache, activityService, log),
		WS:       handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": pool,
			"redis":    redisCache,
		}),
	}

	limiter := middleware.NewRateLimiter(cfg.SubmitRateLimit, time.Minute)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	}()

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	autosaveWorker := worker.NewAutosaveWorker(sessionRepo, redisCache, log)
	scoringWorker := worker.NewScoringWorker(sessionRepo, activityRepo, redisCache, log)

	workers.Add(2)
	go func() { defer workers.Done(); autosaveWorker.Start(workerCtx) }()
	go func() { defer workers.Done(); scoringWorker.Start(workerCtx) }()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiter, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	drained := make(chan struct{})
	go func() { workers.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Workers did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
