package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/castdrop/internal/lease"
	"github.com/maauso/castdrop/internal/metrics"
	"github.com/maauso/castdrop/internal/upload"
	"github.com/maauso/castdrop/internal/upload/id"
	"github.com/maauso/castdrop/internal/video"
)

const maxJSONBody = 64 << 10

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	uploads   *upload.Service
	videos    *video.Service
	validator *validator.Validate
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMetrics sets the collectors the handlers report to.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handlers) {
		h.metrics = m
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(uploads *upload.Service, videos *video.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		uploads:   uploads,
		videos:    videos,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.Discard()
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// InitUpload handles POST /upload/init requests.
func (h *Handlers) InitUpload(w http.ResponseWriter, r *http.Request) {
	var req InitUploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	plan, err := h.uploads.Init(r.Context(), upload.InitInput{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Size:        req.Size,
	})
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, InitUploadResponse{
		ID:          plan.ID,
		TotalChunks: plan.TotalChunks,
		ChunkSize:   plan.ChunkSize,
		ContentType: plan.ContentType,
	})
}

// PutChunk handles PUT /upload/{id}/chunk/{index} requests.
func (h *Handlers) PutChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk index must be a non-negative integer", "INVALID_CHUNK_INDEX")
		return
	}
	if r.ContentLength > h.uploads.Limits().ChunkSize {
		writeError(w, http.StatusRequestEntityTooLarge, "chunk too large", "CHUNK_TOO_LARGE")
		return
	}

	err = h.uploads.PutChunk(r.Context(), upload.ChunkInput{
		UploadID:    r.PathValue("id"),
		Index:       index,
		Body:        http.MaxBytesReader(w, r.Body, h.uploads.Limits().ChunkSize),
		Size:        r.ContentLength,
		ContentType: r.Header.Get("Content-Type"),
	})
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Finalize handles POST /upload/{id}/finalize requests.
func (h *Handlers) Finalize(w http.ResponseWriter, r *http.Request) {
	v, err := h.uploads.Finalize(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VideoResponse{ID: v.ID, URL: videoURL(r, v.ID)})
}

// DirectUpload handles POST /upload requests carrying a whole file.
// The media type comes from Content-Type and the file name from the
// URL-encoded X-Filename header.
func (h *Handlers) DirectUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := h.uploads.Limits().MaxFileSize
	if r.ContentLength > maxSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large", "FILE_TOO_LARGE")
		return
	}

	filename := r.Header.Get("X-Filename")
	if decoded, err := url.PathUnescape(filename); err == nil {
		filename = decoded
	}

	v, err := h.uploads.PutVideo(r.Context(), upload.DirectInput{
		Body:        http.MaxBytesReader(w, r.Body, maxSize),
		Size:        r.ContentLength,
		ContentType: r.Header.Get("Content-Type"),
		Filename:    filename,
	})
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VideoResponse{ID: v.ID, URL: videoURL(r, v.ID)})
}

// writeUploadError maps upload errors to HTTP responses.
func (h *Handlers) writeUploadError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.Is(err, id.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid upload id", "INVALID_ID")
	case errors.Is(err, upload.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error(), "FILE_TOO_LARGE")
	case errors.Is(err, upload.ErrEmptyFile):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, upload.ErrEmptyChunk):
		writeError(w, http.StatusBadRequest, "no data", "EMPTY_BODY")
	case errors.Is(err, upload.ErrChunkTooLarge), errors.As(err, &maxBytesErr):
		writeError(w, http.StatusRequestEntityTooLarge, "chunk too large", "CHUNK_TOO_LARGE")
	case errors.Is(err, upload.ErrLengthRequired):
		writeError(w, http.StatusLengthRequired, "Content-Length header is required", "LENGTH_REQUIRED")
	case errors.Is(err, upload.ErrInvalidChunkIndex):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CHUNK_INDEX")
	case errors.Is(err, upload.ErrNoChunks):
		writeError(w, http.StatusBadRequest, "no chunks found", "NO_CHUNKS")
	case errors.Is(err, upload.ErrIncompleteUpload):
		writeError(w, http.StatusBadRequest, err.Error(), "INCOMPLETE_UPLOAD")
	case errors.Is(err, lease.ErrHeld):
		writeError(w, http.StatusConflict, "finalize already in progress", "FINALIZE_IN_PROGRESS")
	case errors.Is(err, upload.ErrAssemblyFailed):
		writeError(w, http.StatusInternalServerError, "failed to assemble video", "ASSEMBLY_FAILED")
	default:
		h.logger.Error("upload request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "storage error", "STORAGE_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
