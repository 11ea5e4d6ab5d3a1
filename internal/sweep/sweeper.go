// Package sweep expires stored artifacts older than the retention window.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/castdrop/internal/metrics"
	"github.com/maauso/castdrop/internal/storage"
	"github.com/maauso/castdrop/internal/upload"
)

// Report summarizes one sweep run.
type Report struct {
	Scanned        int
	Expired        int
	Deleted        int
	Failed         int
	AbortedUploads int
	Duration       time.Duration
}

// Sweeper deletes objects older than a retention window under a set of prefixes.
type Sweeper struct {
	store     storage.BlobStore
	retention time.Duration
	prefixes  []string
	dryRun    bool
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option is a function that configures a Sweeper.
type Option func(*Sweeper)

// WithClock sets the clock used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithDryRun reports what would be deleted without deleting it.
func WithDryRun(dryRun bool) Option {
	return func(s *Sweeper) {
		s.dryRun = dryRun
	}
}

// WithPrefixes overrides the swept prefixes.
func WithPrefixes(prefixes ...string) Option {
	return func(s *Sweeper) {
		s.prefixes = prefixes
	}
}

// WithMetrics sets the collectors the sweeper reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// New creates a Sweeper over the video, chunk and metadata prefixes.
func New(store storage.BlobStore, retention time.Duration, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:     store,
		retention: retention,
		prefixes:  upload.Prefixes,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}
	return s
}

// Run performs one sweep. Failed deletions are counted and left for the next
// run; listing errors are returned after every prefix has been attempted.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	cutoff := s.now().Add(-s.retention)

	logger := s.logger.With(slog.Time("cutoff", cutoff), slog.Bool("dry_run", s.dryRun))
	logger.Info("sweep started")

	var (
		report Report
		errs   []error
	)
	for _, prefix := range s.prefixes {
		if err := s.sweepPrefix(ctx, logger, prefix, cutoff, &report); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.abortStaleUploads(ctx, logger, cutoff, &report); err != nil {
		errs = append(errs, err)
	}

	report.Duration = time.Since(start)
	s.metrics.SweepDuration.Observe(report.Duration.Seconds())

	logger.Info("sweep finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("expired", report.Expired),
		slog.Int("deleted", report.Deleted),
		slog.Int("failed", report.Failed),
		slog.Int("aborted_uploads", report.AbortedUploads),
		slog.Duration("duration", report.Duration),
	)
	return report, errors.Join(errs...)
}

func (s *Sweeper) sweepPrefix(ctx context.Context, logger *slog.Logger, prefix string, cutoff time.Time, report *Report) error {
	var expired []string
	err := s.store.List(ctx, prefix, func(info storage.ObjectInfo) error {
		report.Scanned++
		if info.CreatedAt().Before(cutoff) {
			expired = append(expired, info.Key)
		}
		return nil
	})
	if err != nil {
		s.metrics.SweepFailures.WithLabelValues(prefix).Inc()
		logger.Error("failed to list prefix", slog.String("prefix", prefix), slog.String("error", err.Error()))
		return fmt.Errorf("list %s: %w", prefix, err)
	}

	report.Expired += len(expired)
	if s.dryRun {
		for _, key := range expired {
			logger.Info("would delete", slog.String("key", key))
		}
		return nil
	}

	for _, key := range expired {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sweep %s: %w", prefix, err)
		}
		if err := s.store.Delete(ctx, key); err != nil {
			report.Failed++
			s.metrics.SweepFailures.WithLabelValues(prefix).Inc()
			logger.Warn("failed to delete expired object", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		report.Deleted++
		s.metrics.SweepDeleted.WithLabelValues(prefix).Inc()
	}
	return nil
}

// abortStaleUploads releases multipart uploads left open by a crashed finalize.
func (s *Sweeper) abortStaleUploads(ctx context.Context, logger *slog.Logger, cutoff time.Time, report *Report) error {
	var stale []storage.MultipartUpload
	err := s.store.ListMultipartUploads(ctx, upload.VideosPrefix, func(up storage.MultipartUpload) error {
		if up.Initiated.Before(cutoff) {
			stale = append(stale, up)
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to list multipart uploads", slog.String("error", err.Error()))
		return fmt.Errorf("list multipart uploads: %w", err)
	}

	for _, up := range stale {
		if s.dryRun {
			logger.Info("would abort multipart upload", slog.String("key", up.Key), slog.String("multipart_id", up.UploadID))
			continue
		}
		err := s.store.AbortMultipartUpload(ctx, up.Key, up.UploadID)
		if err != nil && !errors.Is(err, storage.ErrUploadNotFound) {
			report.Failed++
			logger.Warn("failed to abort multipart upload",
				slog.String("key", up.Key),
				slog.String("multipart_id", up.UploadID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.AbortedUploads++
	}
	return nil
}
