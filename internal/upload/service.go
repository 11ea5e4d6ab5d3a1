// Package upload implements chunked and single-shot video ingestion.
//
// Sessions are not held in memory: an upload is the set of chunk objects under
// its prefix, so any instance can serve any request of the same upload.
package upload

import (
	"errors"
	"log/slog"
	"time"

	"github.com/maauso/castdrop/internal/lease"
	"github.com/maauso/castdrop/internal/metrics"
	"github.com/maauso/castdrop/internal/storage"
)

// DefaultContentType is used when neither the client nor stored metadata name a media type.
const DefaultContentType = "video/mp4"

// MetadataFilename is the metadata key holding the original file name.
const MetadataFilename = "filename"

// Static errors for upload operations.
var (
	// ErrFileTooLarge is returned when a declared or actual size exceeds the configured maximum.
	ErrFileTooLarge = errors.New("upload: file too large")
	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("upload: file is empty")
	// ErrEmptyChunk is returned when a chunk body has no bytes.
	ErrEmptyChunk = errors.New("upload: chunk is empty")
	// ErrChunkTooLarge is returned when a chunk exceeds the chunk size.
	ErrChunkTooLarge = errors.New("upload: chunk too large")
	// ErrLengthRequired is returned when a body length is not declared up front.
	ErrLengthRequired = errors.New("upload: content length required")
	// ErrInvalidChunkIndex is returned for indices outside the possible chunk range.
	ErrInvalidChunkIndex = errors.New("upload: invalid chunk index")
	// ErrNoChunks is returned by Finalize when nothing was uploaded.
	ErrNoChunks = errors.New("upload: no chunks found")
	// ErrIncompleteUpload is returned by Finalize when chunk indices are not contiguous from zero.
	ErrIncompleteUpload = errors.New("upload: incomplete chunk set")
	// ErrAssemblyFailed is returned when building the video object fails.
	ErrAssemblyFailed = errors.New("upload: failed to assemble video")
)

// Limits bounds what clients may upload.
type Limits struct {
	// MaxFileSize is the largest accepted file in bytes.
	MaxFileSize int64
	// ChunkSize is the slice size clients cut files into.
	ChunkSize int64
}

// TotalChunks returns the number of chunks a file of size bytes is cut into.
func (l Limits) TotalChunks(size int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + l.ChunkSize - 1) / l.ChunkSize)
}

// MaxChunks returns the chunk count of the largest accepted file.
func (l Limits) MaxChunks() int {
	return l.TotalChunks(l.MaxFileSize)
}

// Service coordinates uploads against a blob store.
type Service struct {
	store    storage.BlobStore
	limits   Limits
	locker   lease.Locker
	leaseTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithLocker guards Finalize with a per-upload lease.
func WithLocker(l lease.Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = l
		s.leaseTTL = ttl
	}
}

// WithClock sets the clock used for uploaded-at metadata.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMetrics sets the collectors the service reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a new upload Service.
func NewService(store storage.BlobStore, limits Limits, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		limits:   limits,
		locker:   lease.NoopLocker{},
		leaseTTL: 10 * time.Minute,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}
	return s
}

// Limits returns the configured limits.
func (s *Service) Limits() Limits {
	return s.limits
}

func (s *Service) putOptions(contentType string, extra map[string]string) storage.PutOptions {
	md := storage.UploadedAtMetadata(s.now())
	for k, v := range extra {
		md[k] = v
	}
	return storage.PutOptions{ContentType: contentType, Metadata: md}
}
