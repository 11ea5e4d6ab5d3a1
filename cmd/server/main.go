// Package main provides the entry point for the castdrop server.
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

	"github.com/maauso/castdrop/internal/bootstrap"
	"github.com/maauso/castdrop/internal/config"
	"github.com/maauso/castdrop/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting castdrop",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.Int64("max_file_size", cfg.MaxFileSize),
		slog.Int64("chunk_size", cfg.ChunkSize),
		slog.Duration("retention", cfg.Retention),
		slog.String("sweep_schedule", cfg.SweepSchedule),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("redis_enabled", cfg.RedisEnabled()),
	)

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to close dependencies", slog.String("error", err.Error()))
		}
	}()

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.Uploads, deps.Videos, logger, server.WithMetrics(deps.Metrics))
	routerCfg := server.Config{AllowedOrigins: cfg.AllowedOrigins}
	if cfg.MetricsEnabled {
		routerCfg.Metrics = deps.Metrics
	}
	router := server.NewRouter(handlers, logger, routerCfg)

	// Create HTTP server. Video streams are long-lived, so there is no write deadline.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	if deps.Scheduler != nil {
		deps.Scheduler.Start()
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if deps.Scheduler != nil {
		if err := deps.Scheduler.Stop(ctx); err != nil {
			logger.Warn("sweep did not stop in time", slog.String("error", err.Error()))
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
