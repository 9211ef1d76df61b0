package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Media resolution modes.
const (
	MediaModeLocal       = "local"
	MediaModePassthrough = "passthrough"
)

// Config holds all configuration for the API server, the worker and mediactl.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Replicate  ReplicateConfig
	Storage    StorageConfig
	Retry      RetryConfig
	Prediction PredictionConfig
	Worker     WorkerConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Port            int    `env:"PORT" envDefault:"8000"`
	Env             string `env:"APP_ENV" envDefault:"development"`
	Debug           bool   `env:"DEBUG" envDefault:"true"`
	APIPrefix       string `env:"API_PREFIX" envDefault:"/api/v1"`
	ProjectName     string `env:"PROJECT_NAME" envDefault:"Media Generation Service"`
	RateLimitPerMin int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnMaxIdleTime time.Duration `env:"DATABASE_CONN_MAX_IDLE_TIME" envDefault:"1m"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type ReplicateConfig struct {
	APIToken string `env:"REPLICATE_API_TOKEN"`
	BaseURL  string `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com/v1"`
}

type StorageConfig struct {
	Path            string        `env:"STORAGE_PATH" envDefault:"./storage"`
	MediaMode       string        `env:"MEDIA_MODE"`
	DownloadTimeout time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"30s"`
}

type RetryConfig struct {
	MaxRetries  int           `env:"MAX_RETRIES" envDefault:"3"`
	BackoffBase float64       `env:"RETRY_BACKOFF_BASE" envDefault:"2.0"`
	BackoffUnit time.Duration `env:"RETRY_BACKOFF_UNIT" envDefault:"60s"`
}

type PredictionConfig struct {
	PollInterval time.Duration `env:"PREDICTION_POLL_INTERVAL" envDefault:"2s"`
	Timeout      time.Duration `env:"PREDICTION_TIMEOUT" envDefault:"300s"`
}

type WorkerConfig struct {
	ID                string        `env:"WORKER_ID"`
	Concurrency       int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	PromoteInterval   time.Duration `env:"QUEUE_PROMOTE_INTERVAL" envDefault:"1s"`
	ReconcileInterval time.Duration `env:"PENDING_RECONCILE_INTERVAL" envDefault:"1m"`
	PendingStaleAfter time.Duration `env:"PENDING_STALE_AFTER" envDefault:"5m"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.Storage.MediaMode = strings.ToLower(strings.TrimSpace(cfg.Storage.MediaMode))
	if cfg.Storage.MediaMode == "" {
		cfg.Storage.MediaMode = defaultMediaMode(cfg.Server.Debug)
	}
	cfg.Server.APIPrefix = "/" + strings.Trim(cfg.Server.APIPrefix, "/")
	if cfg.Server.APIPrefix == "/" {
		cfg.Server.APIPrefix = ""
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateWorker checks the settings only the worker needs.
func (c *Config) ValidateWorker() error {
	if c.Replicate.APIToken == "" {
		return fmt.Errorf("REPLICATE_API_TOKEN is required")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	return nil
}

// LocalCapture reports whether result artifacts are downloaded into local storage.
func (c *Config) LocalCapture() bool {
	return c.Storage.MediaMode == MediaModeLocal
}

func defaultMediaMode(debug bool) string {
	if debug {
		return MediaModeLocal
	}
	return MediaModePassthrough
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}
	if !strings.HasPrefix(c.Replicate.BaseURL, "http://") && !strings.HasPrefix(c.Replicate.BaseURL, "https://") {
		return fmt.Errorf("REPLICATE_BASE_URL must start with http:// or https://, got %q", c.Replicate.BaseURL)
	}
	if c.Storage.MediaMode != MediaModeLocal && c.Storage.MediaMode != MediaModePassthrough {
		return fmt.Errorf("MEDIA_MODE must be one of local, passthrough; got %q", c.Storage.MediaMode)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("STORAGE_PATH is required")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffBase < 1 {
		return fmt.Errorf("RETRY_BACKOFF_BASE must be at least 1, got %v", c.Retry.BackoffBase)
	}
	if c.Retry.BackoffUnit <= 0 {
		return fmt.Errorf("RETRY_BACKOFF_UNIT must be positive, got %s", c.Retry.BackoffUnit)
	}
	if c.Prediction.PollInterval <= 0 {
		return fmt.Errorf("PREDICTION_POLL_INTERVAL must be positive, got %s", c.Prediction.PollInterval)
	}
	if c.Prediction.Timeout < c.Prediction.PollInterval {
		return fmt.Errorf("PREDICTION_TIMEOUT (%s) must not be shorter than PREDICTION_POLL_INTERVAL (%s)",
			c.Prediction.Timeout, c.Prediction.PollInterval)
	}
	return nil
}
