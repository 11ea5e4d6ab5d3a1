// Package bootstrap provides dependency initialization for castdrop.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/maauso/castdrop/internal/config"
	"github.com/maauso/castdrop/internal/lease"
	"github.com/maauso/castdrop/internal/metrics"
	"github.com/maauso/castdrop/internal/storage"
	"github.com/maauso/castdrop/internal/sweep"
	"github.com/maauso/castdrop/internal/upload"
	"github.com/maauso/castdrop/internal/video"
)

const redisPingTimeout = 5 * time.Second

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Store   storage.BlobStore
	Locker  lease.Locker
	Metrics *metrics.Metrics
	Uploads *upload.Service
	Videos  *video.Service
	Sweeper *sweep.Sweeper
	// Scheduler is nil when the in-process sweeper is disabled.
	Scheduler *sweep.Scheduler

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Store: store}

	locker, closeLocker, err := NewLocker(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Locker = locker
	deps.closers = append(deps.closers, closeLocker)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(reg)

	deps.Uploads = upload.NewService(
		store,
		upload.Limits{MaxFileSize: cfg.MaxFileSize, ChunkSize: cfg.ChunkSize},
		logger,
		upload.WithLocker(locker, cfg.FinalizeLeaseTTL),
		upload.WithMetrics(deps.Metrics),
	)
	deps.Videos = video.NewService(store, logger, deps.Metrics)
	deps.Sweeper = sweep.New(store, cfg.Retention, logger, sweep.WithMetrics(deps.Metrics))

	if cfg.SweepEnabled() {
		scheduler, err := sweep.NewScheduler(deps.Sweeper, cfg.SweepSchedule, logger, sweep.WithLocker(locker))
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
		deps.Scheduler = scheduler
	}

	return deps, nil
}

// Close releases external connections.
func (d *Dependencies) Close() error {
	var firstErr error
	for _, c := range d.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewStore creates the appropriate storage backend based on configuration.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.BlobStore, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("data_dir", localStore.Root()),
	)
	return localStore, nil
}

// NewLocker returns a Redis-backed lease locker when Redis is configured and a
// no-op locker otherwise. The returned close function is always non-nil.
func NewLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lease.Locker, func() error, error) {
	if !cfg.RedisEnabled() {
		logger.Info("no lease backend configured, concurrent finalize calls are not coordinated")
		return lease.NoopLocker{}, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("redis lease backend configured",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
	)
	return lease.NewRedisLocker(client, logger), client.Close, nil
}
