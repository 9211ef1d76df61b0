// Package main is the entrypoint for the media generation API server.
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
	"github.com/kiranshivaraju/mediagen/internal/api"
	"github.com/kiranshivaraju/mediagen/internal/api/handler"
	mw "github.com/kiranshivaraju/mediagen/internal/api/middleware"
	"github.com/kiranshivaraju/mediagen/internal/cache"
	"github.com/kiranshivaraju/mediagen/internal/config"
	"github.com/kiranshivaraju/mediagen/internal/intake"
	"github.com/kiranshivaraju/mediagen/internal/maintenance"
	"github.com/kiranshivaraju/mediagen/internal/media"
	"github.com/kiranshivaraju/mediagen/internal/queue"
	"github.com/kiranshivaraju/mediagen/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
	// producerName names this process's queue handle. The API only enqueues,
	// so it never owns an in-flight list.
	producerName = "api"
)

func main() {
	_ = godotenv.Load()

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
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.Debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	slog.Info("config loaded",
		"project", cfg.Server.ProjectName,
		"env", cfg.Server.Env,
		"api_prefix", cfg.Server.APIPrefix,
		"media_mode", cfg.Storage.MediaMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database, "mediagen-api")
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
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

	// 5. Local media storage
	files, err := media.NewFileStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open media storage: %w", err)
	}

	// 6. Create services
	pgStore := store.NewPostgresStore(pool)
	producer := queue.NewRedisQueue(redisCache.Client(), producerName)
	jobs := intake.NewService(pgStore, producer)
	maint := maintenance.NewService(pgStore, files, redisCache, cfg.Storage.Path, cfg.Retry.MaxRetries)

	// 7. Build router with dependencies
	router := api.NewRouter(newDependencies(cfg, jobs, maint, files, pgStore, redisCache))

	// 8. Start HTTP server
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

// newDependencies wires every route to its handler.
func newDependencies(
	cfg *config.Config,
	jobs handler.JobService,
	maint handler.Maintainer,
	images handler.ImageStore,
	db handler.Pinger,
	c cache.Cache,
) api.Dependencies {
	return api.Dependencies{
		Prefix:         cfg.Server.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimit:      mw.NewRateLimit(c, cfg.Server.RateLimitPerMin),

		RootHandler:          handler.NewRootHandler(cfg.Server.ProjectName, cfg.Server.APIPrefix),
		HealthHandler:        handler.NewHealthHandler(db, c),
		GenerateHandler:      handler.NewGenerateHandler(jobs),
		StatusHandler:        handler.NewStatusHandler(jobs),
		ListJobsHandler:      handler.NewListJobsHandler(jobs),
		ListCompletedHandler: handler.NewListCompletedHandler(jobs),
		PurgeFailedHandler:   handler.NewPurgeFailedHandler(maint),
		PurgeBrokenHandler:   handler.NewPurgeBrokenHandler(maint),
		PurgeMissingHandler:  handler.NewPurgeMissingHandler(maint),
		FixPathsHandler:      handler.NewFixPathsHandler(maint),
		ImageHandler:         handler.NewImageHandler(images),
	}
}
