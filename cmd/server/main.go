package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/config"
	"github.com/stemsi/mockdrive-backend/internal/database"
	"github.com/stemsi/mockdrive-backend/internal/handler"
	"github.com/stemsi/mockdrive-backend/internal/logger"
	"github.com/stemsi/mockdrive-backend/internal/middleware"
	"github.com/stemsi/mockdrive-backend/internal/oracle"
	"github.com/stemsi/mockdrive-backend/internal/proctoring"
	"github.com/stemsi/mockdrive-backend/internal/repository"
	"github.com/stemsi/mockdrive-backend/internal/router"
	"github.com/stemsi/mockdrive-backend/internal/service"
	"github.com/stemsi/mockdrive-backend/internal/validator"
	"github.com/stemsi/mockdrive-backend/internal/worker"
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
		Str("failure_policy", string(cfg.FailurePolicy)).
		Msg("Starting Mock Drive Backend")

	if cfg.BypassKeyHash == "" {
		log.Warn().Msg("BYPASS_KEY_HASH is empty, round bypass is disabled")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

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

	// ─── Oracle ────────────────────────────────────────────────────────
	// Without credentials every oracle call takes its documented default.
	var llm oracle.Oracle
	if cfg.OracleAPIKey != "" {
		llm = oracle.New(cfg.OracleBaseURL, cfg.OracleAPIKey, cfg.OracleModel, cfg.OracleTimeout, log)
	} else {
		log.Warn().Msg("ORACLE_API_KEY is empty, interviews will use fallback questions and scores")
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	driveRepo := repository.NewDriveRepository(pool, rdb, log)
	enrollmentRepo := repository.NewEnrollmentRepository(pool)
	progressRepo := repository.NewProgressRepository(pool)
	interactionRepo := repository.NewInteractionRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)
	eventRepo := repository.NewProctorEventRepository(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret)
	progressionService := service.NewProgressionService(driveRepo, enrollmentRepo, progressRepo, cfg.FailurePolicy, cfg.PassMark, log)
	evaluationService := service.NewEvaluationService(llm, log)
	interviewService := service.NewInterviewService(progressionService, interactionRepo, llm, evaluationService, cfg.InterviewDefaultMaxTurn, log)
	bypassService := service.NewBypassService(progressRepo, cfg.BypassKeyHash, log)
	proctoringService := service.NewProctoringService(progressionService, eventRepo, violationRepo, proctoringConfig(cfg), nil, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	checks := make(map[string]handler.HealthCheck)
	for name, check := range database.HealthChecks(pool, rdb) {
		checks[name] = check
	}

	turnLimiter := middleware.NewRateLimiter(cfg.TurnRateLimit, time.Minute, middleware.ByUserID)
	stopJanitor := make(chan struct{})
	go turnLimiter.RunJanitor(stopJanitor)
	defer close(stopJanitor)

	handlers := &router.Handlers{
		Drive:       handler.NewDriveHandler(progressionService, log),
		Interview:   handler.NewInterviewHandler(interviewService, log),
		Admin:       handler.NewAdminHandler(bypassService, proctoringService, log),
		Monitor:     handler.NewMonitorHandler(eventRepo, log),
		WS:          handler.NewWSHandler(proctoringService, log, cfg.AllowedOrigins),
		System:      handler.NewSystemHandler(checks, eventRepo.QueueDepth, log),
		TurnLimiter: turnLimiter,
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	violationWorker := worker.NewViolationWorker(pool, rdb, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		violationWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Hijacked WebSocket and SSE
	// connections are not tracked by Shutdown and end with the process.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the violation worker and wait for its final flush.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

func proctoringConfig(cfg *config.Config) proctoring.Config {
	pc := proctoring.DefaultConfig()
	pc.MaxWarnings = cfg.ProctorMaxWarnings
	pc.FaceDetectionEnabled = cfg.ProctorFaceDetection
	pc.FaceAwayThreshold = cfg.ProctorFaceAway
	pc.DebounceFloor = cfg.ProctorDebounce
	pc.SampleInterval = cfg.ProctorSampleInterval
	pc.SkinRatioFloor = cfg.ProctorSkinRatioFloor
	return pc
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
