package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"remit-service/internal/config"
	"remit-service/internal/fxlock"
	hrest "remit-service/internal/handler/rest"
	"remit-service/internal/middleware"
	"remit-service/internal/otp"
	"remit-service/internal/pkg/cache"
	"remit-service/internal/pkg/fees"
	"remit-service/internal/pkg/id"
	"remit-service/internal/pub"
	"remit-service/internal/repository"
	"remit-service/internal/router"
	"remit-service/internal/service"
	"remit-service/internal/trust"
	"remit-service/internal/usecase"
	"remit-service/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Run wires the whole service and blocks until shutdown.
func Run(cfg config.AppConfig, logger *zap.Logger) error {
	// --- DB connection ---
	dbpool, err := config.ConnectDB()
	if err != nil {
		return err
	}
	defer dbpool.Close()

	// --- Redis cache ---
	redisCache := cache.New([]string{cfg.RedisAddr}, cfg.RedisPass, false)

	ids := id.NewGenerator()

	// --- Repositories ---
	ledgerRepo := repository.NewLedgerRepo(dbpool)
	attemptRepo := repository.NewAttemptRepo(dbpool)
	challengeRepo := repository.NewChallengeRepo(dbpool)
	fxRepo := repository.NewFXRateRepo(dbpool)
	scheduleRepo := repository.NewScheduleRepo(dbpool)
	relationshipRepo := repository.NewRelationshipRepo(dbpool)

	// --- Event publisher ---
	publisher := pub.NewEventPublisher(cfg.KafkaBrokers, logger)
	defer publisher.Close()

	// --- Core services ---
	trustEngine := trust.NewEngine()
	fxService := fxlock.NewService(fxRepo, redisCache, ids, logger, cfg.RateLockTTL, cfg.RateSpreadBps)
	otpLimiter := otp.NewLimiter(redisCache, time.Hour, 6, 30*time.Second)
	otpService := otp.NewService(challengeRepo, attemptRepo, otpLimiter, publisher, ids, logger, cfg.OTPTTL, cfg.OTPMaxAttempts)

	// --- Seed corridors in a goroutine (non-blocking) ---
	fxSeeder := service.NewFXSeeder(fxRepo, logger)
	go func() {
		if err := fxSeeder.Seed(context.Background()); err != nil {
			logger.Warn("fx seeding failed", zap.Error(err))
		}
	}()

	// --- Usecases ---
	transferUC := usecase.NewTransferUsecase(
		ledgerRepo, attemptRepo, relationshipRepo,
		trustEngine, fxService, otpService,
		fees.DefaultSchedule(), publisher, ids, logger,
		usecase.TransferPolicy{
			AttemptTTL:         cfg.AttemptTTL,
			OTPAmountThreshold: decimal.NewFromFloat(cfg.OTPAmountThreshold),
			RiskBlockThreshold: decimal.NewFromFloat(cfg.RiskBlockThreshold),
		},
	)
	scheduleUC := usecase.NewScheduleUsecase(
		scheduleRepo, relationshipRepo, ids, logger,
		usecase.SchedulePolicy{
			MaxRunFailures:    cfg.MaxRunFailures,
			FreePlanSchedules: cfg.FreePlanSchedules,
			PlusPlanSchedules: cfg.PlusPlanSchedules,
		},
	)

	// --- Schedule runner ---
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	runner := worker.NewScheduleRunner(
		scheduleRepo, transferUC, scheduleUC, publisher, logger,
		cfg.RunnerInterval, cfg.RunnerConcurrency, cfg.MaxRetriesPerDay,
	)
	go runner.Start(runnerCtx)

	// --- HTTP ---
	transferHandler := hrest.NewTransferRestHandler(transferUC, otpService, logger)
	scheduleHandler := hrest.NewScheduleRestHandler(scheduleUC, logger)
	authMW := middleware.NewAuthMiddleware(cfg.JWTSecret)

	r := chi.NewRouter()
	router.SetupRoutes(r, transferHandler, scheduleHandler, authMW)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	stopRunner()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
