// Package main is mediactl, the operator CLI for the media generation service.
// It runs maintenance, migrations and queue inspection out-of-band.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/mediagen/internal/cache"
	"github.com/kiranshivaraju/mediagen/internal/config"
	"github.com/kiranshivaraju/mediagen/internal/store"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	// Logs go to stderr so command output stays scriptable.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// app holds connections opened on demand by subcommands.
type app struct {
	migrationsDir string
	asJSON        bool

	cfg   *config.Config
	pool  *pgxpool.Pool
	cache *cache.RedisCache
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "mediactl",
		Short:        "Operate the media generation service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.migrationsDir, "migrations", "migrations", "Migrations directory")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "JSON output")

	for _, op := range maintenanceOps {
		root.AddCommand(newMaintenanceCmd(a, op))
	}
	root.AddCommand(newMigrateCmd(a), newQueueCmd(a))
	return root
}

func (a *app) db(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := store.Connect(ctx, a.cfg.Database, "mediactl")
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.pool = pool
	return pool, nil
}

func (a *app) redis(ctx context.Context) (*cache.RedisCache, error) {
	if a.cache != nil {
		return a.cache, nil
	}
	c, err := cache.NewRedisCache(a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.cache = c
	return c, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
}
