package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/maauso/castdrop/internal/lease"
)

const leaseName = "sweep"

// Scheduler runs a Sweeper on a cron schedule. Each tick takes a shared lease
// first, so with several replicas only one of them sweeps.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	locker  lease.Locker
	timeout time.Duration
	logger  *slog.Logger
}

// SchedulerOption is a function that configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLocker coordinates ticks across replicas.
func WithLocker(l lease.Locker) SchedulerOption {
	return func(s *Scheduler) {
		s.locker = l
	}
}

// WithTimeout bounds a single run.
func WithTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// NewScheduler parses spec (standard five-field cron or a descriptor such as
// "@every 1h") and registers the sweep job.
func NewScheduler(sweeper *Sweeper, spec string, logger *slog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		sweeper: sweeper,
		locker:  lease.NoopLocker{},
		timeout: 30 * time.Minute,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.logger.Info("sweep scheduler started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sweep to finish: %w", ctx.Err())
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = s.runOnce(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	release, err := s.locker.Acquire(ctx, leaseName, s.timeout)
	if errors.Is(err, lease.ErrHeld) {
		s.logger.Debug("sweep skipped, another instance holds the lease")
		return err
	}
	if err != nil {
		s.logger.Error("failed to acquire sweep lease", slog.String("error", err.Error()))
		return err
	}
	defer release()

	_, err = s.sweeper.Run(ctx)
	return err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
