// Package main is the entrypoint for the media generation worker. It consumes
// the dispatch queue and runs job attempts against the prediction provider.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/mediagen/internal/cache"
	"github.com/kiranshivaraju/mediagen/internal/config"
	"github.com/kiranshivaraju/mediagen/internal/dispatch"
	"github.com/kiranshivaraju/mediagen/internal/gateway"
	"github.com/kiranshivaraju/mediagen/internal/lifecycle"
	"github.com/kiranshivaraju/mediagen/internal/media"
	"github.com/kiranshivaraju/mediagen/internal/queue"
	"github.com/kiranshivaraju/mediagen/internal/retry"
	"github.com/kiranshivaraju/mediagen/internal/store"
)

// gatewayRequestTimeout bounds each call to the prediction API.
const gatewayRequestTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.Debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	workerID, err := resolveWorkerID(cfg.Worker.ID)
	if err != nil {
		return fmt.Errorf("resolve worker id: %w", err)
	}
	slog.Info("config loaded",
		"worker_id", workerID,
		"concurrency", cfg.Worker.Concurrency,
		"media_mode", cfg.Storage.MediaMode,
		"max_retries", cfg.Retry.MaxRetries,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database, "mediagen-worker")
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	resolver, err := newResolver(cfg)
	if err != nil {
		return fmt.Errorf("create media resolver: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	gw := gateway.NewReplicateClient(cfg.Replicate.BaseURL, cfg.Replicate.APIToken, gatewayRequestTimeout)
	engine := lifecycle.NewEngine(pgStore, gw, resolver, retry.FromConfig(cfg.Retry), lifecycle.Options{
		PollInterval: cfg.Prediction.PollInterval,
		Timeout:      cfg.Prediction.Timeout,
	})

	q := queue.NewRedisQueue(redisCache.Client(), workerID)
	workers := dispatch.NewPool(q, engine, pgStore, dispatch.Config{
		Concurrency:       cfg.Worker.Concurrency,
		PromoteInterval:   cfg.Worker.PromoteInterval,
		ReconcileInterval: cfg.Worker.ReconcileInterval,
		PendingStaleAfter: cfg.Worker.PendingStaleAfter,
	})

	if err := workers.Run(ctx); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	slog.Info("worker stopped gracefully")
	return nil
}

func newResolver(cfg *config.Config) (*media.Resolver, error) {
	if !cfg.LocalCapture() {
		return media.NewResolver(media.ModePassthrough, nil, nil)
	}
	files, err := media.NewFileStore(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return media.NewResolver(media.ModeLocal, files, media.NewHTTPFetcher(cfg.Storage.DownloadTimeout))
}

// resolveWorkerID returns the configured id, or the hostname. The id names
// the worker's in-flight list, so it must be stable across restarts.
func resolveWorkerID(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return os.Hostname()
}
