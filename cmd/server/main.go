// Package main is the entrypoint for the DeepDrill gateway server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepdrill-ai/deepdrill/internal/api"
	"github.com/deepdrill-ai/deepdrill/internal/api/handler"
	mw "github.com/deepdrill-ai/deepdrill/internal/api/middleware"
	"github.com/deepdrill-ai/deepdrill/internal/api/response"
	"github.com/deepdrill-ai/deepdrill/internal/billing"
	"github.com/deepdrill-ai/deepdrill/internal/cache"
	"github.com/deepdrill-ai/deepdrill/internal/config"
	"github.com/deepdrill-ai/deepdrill/internal/credits"
	"github.com/deepdrill-ai/deepdrill/internal/engine"
	"github.com/deepdrill-ai/deepdrill/internal/export"
	"github.com/deepdrill-ai/deepdrill/internal/gate"
	"github.com/deepdrill-ai/deepdrill/internal/orchestrator"
	"github.com/deepdrill-ai/deepdrill/internal/report"
	"github.com/deepdrill-ai/deepdrill/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "engine", cfg.Engine.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Upstream clients
	engineClient := engine.NewHTTPClient(cfg.Engine.BaseURL, cfg.Engine.APIKey, cfg.Engine.Timeout)
	creditsClient := credits.NewHTTPClient(cfg.Credits.BaseURL, cfg.Credits.APIKey, cfg.Credits.Timeout)

	// 6. Stores and domain services
	pgStore := store.NewPostgresStore(pool)
	reportRepo := report.NewPostgresRepository(pool)
	reportSvc := report.NewService(reportRepo, engineClient, redisCache)

	admission := gate.New(creditsClient, redisCache, cfg.Billing.DeepAnalysisCost)
	reconciler := billing.NewReconciler(creditsClient, redisCache, cfg.Billing.DeepAnalysisCost)
	runner := orchestrator.New(engineClient, admission, reconciler, reportSvc, redisCache)
	exporter := export.NewExporter(engineClient)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:        healthHandler(pgStore, redisCache, engineClient),
		StartAnalysisHandler: handler.NewStartAnalysisHandler(runner),
		ListReportsHandler:   handler.NewListReportsHandler(reportSvc),
		GetReportHandler:     handler.NewGetReportHandler(reportSvc),
		DeleteReportHandler:  handler.NewDeleteReportHandler(reportSvc),
		DownloadHandler:      handler.NewDownloadReportHandler(reportSvc, exporter),
		BalanceHandler:       handler.NewBalanceHandler(creditsClient, redisCache),
		CreateKeyHandler:     handler.NewCreateSessionKeyHandler(pgStore),
		ListKeysHandler:      handler.NewListSessionKeysHandler(pgStore),
		RevokeKeyHandler:     handler.NewRevokeSessionKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: analysis streams stay open for the length of a run.
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database, cache, and engine connectivity.
func healthHandler(s store.Store, c cache.Cache, e engine.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"engine":   "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := e.Ready(r.Context()); err != nil {
			checks["engine"] = "degraded"
		}

		degraded := false
		for _, status := range checks {
			if status != "ok" {
				degraded = true
			}
		}
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
