package server

import (
	"log/slog"
	"net/http"

	"github.com/maauso/castdrop/internal/metrics"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics, when set, times every request and is exposed on GET /metrics.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing; GET patterns also match HEAD.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /upload", h.DirectUpload)
	mux.HandleFunc("POST /upload/init", h.InitUpload)
	mux.HandleFunc("PUT /upload/{id}/chunk/{index}", h.PutChunk)
	mux.HandleFunc("POST /upload/{id}/finalize", h.Finalize)

	mux.HandleFunc("GET /video/{id}", h.ServeVideo)
	mux.HandleFunc("DELETE /video/{id}", h.DeleteVideo)
	mux.HandleFunc("POST /video/{id}", h.PostVideo)

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
		middlewares = append(middlewares, MetricsMiddleware(cfg.Metrics))
	}
	middlewares = append(middlewares, CORSMiddleware(cfg.AllowedOrigins))

	return ChainMiddleware(middlewares...)(mux)
}
