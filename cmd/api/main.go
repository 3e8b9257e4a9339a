package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/catalogsync/internal/api"
	"github.com/timmy/catalogsync/internal/api/handler"
	"github.com/timmy/catalogsync/internal/app"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/logger"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	a, err := app.New(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	ctx := logger.SetComponent(appLogger.WithContext(context.Background()), "api")

	// Batches left running by a previous process can never finish.
	if n, err := a.Ingest.Tracker().RecoverStale(ctx); err != nil {
		logger.CtxWarn(ctx, "Failed to recover stale batches: %v", err)
	} else if n > 0 {
		logger.CtxInfo(ctx, "Marked stale batches as failed: count=%d", n)
	}

	sqlDB, err := a.DB.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to access database handle")
	}

	// Background collections outlive the request but stop on shutdown.
	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	admin := handler.NewAdminHandler(runCtx, a.Ingest, a.Normalize, a.Pricing, a.Batches, a.Adapters, a.Filters)
	router := api.SetupRouter(
		admin,
		handler.NewPricingHandler(a.Pricing),
		handler.NewHealthHandler(sqlDB.PingContext),
		a.Metrics,
		appLogger,
		cfg.Server.Mode,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.CtxInfo(ctx, "Starting API server: port=%d, mode=%s, suppliers=%v",
			cfg.Server.Port, cfg.Server.Mode, a.Adapters.Codes())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.CtxInfo(ctx, "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.CtxError(ctx, "Server forced to shutdown: %v", err)
	}

	// Running collections see cancellation and fail their batches.
	cancelRuns()
	admin.Wait()

	logger.CtxInfo(ctx, "Server exited")
}
