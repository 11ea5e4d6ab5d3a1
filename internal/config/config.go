// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// MinS3PartSize is the smallest part S3 accepts for every part but the last.
const MinS3PartSize = 5 << 20

// Static errors for configuration validation.
var (
	// ErrInvalidChunkSize is returned when CHUNK_SIZE is not positive or exceeds MAX_FILE_SIZE.
	ErrInvalidChunkSize = errors.New("config: CHUNK_SIZE must be positive and not exceed MAX_FILE_SIZE")
	// ErrChunkSizeBelowS3Minimum is returned when chunks would be too small to be multipart parts.
	ErrChunkSizeBelowS3Minimum = errors.New("config: CHUNK_SIZE must be at least 5 MiB when S3 is enabled")
	// ErrInvalidRetention is returned when RETENTION is not positive.
	ErrInvalidRetention = errors.New("config: RETENTION must be positive")
	// ErrInvalidLeaseTTL is returned when FINALIZE_LEASE_TTL is not positive.
	ErrInvalidLeaseTTL = errors.New("config: FINALIZE_LEASE_TTL must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	MetricsEnabled bool     `env:"METRICS_ENABLED, default=true" json:"metrics_enabled"`

	// Local storage settings
	DataDir string `env:"DATA_DIR, default=/tmp/castdrop" json:"data_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Upload limits
	MaxFileSize int64 `env:"MAX_FILE_SIZE, default=1073741824" json:"max_file_size"`
	ChunkSize   int64 `env:"CHUNK_SIZE, default=83886080" json:"chunk_size"`

	// Expiry settings
	Retention     time.Duration `env:"RETENTION, default=1h" json:"retention"`
	SweepSchedule string        `env:"SWEEP_SCHEDULE, default=@every 1h" json:"sweep_schedule"` // empty disables

	// Optional Redis settings
	RedisAddr        string        `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisPassword    string        `env:"REDIS_PASSWORD" json:"-"` // Masked in JSON
	RedisDB          int           `env:"REDIS_DB, default=0" json:"redis_db"`
	FinalizeLeaseTTL time.Duration `env:"FINALIZE_LEASE_TTL, default=10m" json:"finalize_lease_ttl"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// RedisEnabled returns true if a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// SweepEnabled returns true if the in-process sweeper should run.
func (c *Config) SweepEnabled() bool {
	return strings.TrimSpace(c.SweepSchedule) != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that limits and durations are usable.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkSize > c.MaxFileSize {
		return ErrInvalidChunkSize
	}
	if c.S3Enabled() && c.ChunkSize < MinS3PartSize {
		return ErrChunkSizeBelowS3Minimum
	}
	if c.Retention <= 0 {
		return ErrInvalidRetention
	}
	if c.FinalizeLeaseTTL <= 0 {
		return ErrInvalidLeaseTTL
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DataDir: %s, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, MaxFileSize: %d, ChunkSize: %d, Retention: %s, SweepSchedule: %q, RedisAddr: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DataDir,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.MaxFileSize,
		c.ChunkSize,
		c.Retention,
		c.SweepSchedule,
		c.RedisAddr,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
