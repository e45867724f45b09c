// Package main is the entrypoint for the GramScope API server.
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

	"github.com/joho/godotenv"
	"github.com/kavyanair/gramscope/internal/api"
	"github.com/kavyanair/gramscope/internal/api/handler"
	mw "github.com/kavyanair/gramscope/internal/api/middleware"
	"github.com/kavyanair/gramscope/internal/api/response"
	"github.com/kavyanair/gramscope/internal/apify"
	"github.com/kavyanair/gramscope/internal/cache"
	"github.com/kavyanair/gramscope/internal/config"
	"github.com/kavyanair/gramscope/internal/ingest"
	"github.com/kavyanair/gramscope/internal/store"
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
	// 1. Load config — fail fast on invalid config. A .env file is a
	// convenience for local development, not a requirement.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "apify_base_url", cfg.Apify.BaseURL)

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

	// 5. Create store and the ingestion pipeline
	pgStore := store.NewPostgresStore(pool)

	provider := apify.NewHTTPClient(cfg.Apify.BaseURL, cfg.Apify.Timeout)
	gateway := ingest.NewGateway(pgStore)
	coordinator := ingest.NewCoordinator(pgStore, provider, gateway, redisCache)

	poller := ingest.NewPoller(coordinator.PollActiveJobs, cfg.Poller.Interval, cfg.Poller.ErrBackoff)
	coordinator.AttachPoller(poller)
	go poller.Run(ctx)
	// Pick up jobs left non-terminal by a previous process.
	poller.Kick()

	// 6. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		AnalyzeHandler: handler.NewAnalyzeHandler(coordinator),
		ListJobs:       handler.NewListJobsHandler(pgStore),
		GetJob:         handler.NewGetJobHandler(pgStore, redisCache),

		GetProfile:    handler.NewGetProfileHandler(pgStore),
		DeleteProfile: handler.NewDeleteProfileHandler(pgStore),
		ProfileStats:  handler.NewProfileStatsHandler(pgStore),

		MediaProxy: handler.NewMediaProxyHandler(nil),

		UpsertCredential: handler.NewUpsertCredentialHandler(pgStore),
		ListCredentials:  handler.NewListCredentialsHandler(pgStore),
		DeleteCredential: handler.NewDeleteCredentialHandler(pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
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

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
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
