// Package video serves assembled videos with byte-range support and removes
// them on request.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maauso/castdrop/internal/metrics"
	"github.com/maauso/castdrop/internal/storage"
	"github.com/maauso/castdrop/internal/upload"
	"github.com/maauso/castdrop/internal/upload/id"
)

// ErrNotFound is returned when no video exists for an identifier.
var ErrNotFound = errors.New("video: not found")

// Stream is a resolved video response. Body is nil when only headers were requested.
type Stream struct {
	ID          string
	ContentType string
	TotalSize   int64
	// Range is the served window, nil when the whole object is served.
	Range *storage.ByteRange
	Body  io.ReadCloser
}

// Length returns the number of bytes the response carries.
func (s *Stream) Length() int64 {
	if s.Range != nil {
		return s.Range.Length()
	}
	return s.TotalSize
}

// Service resolves and deletes videos.
type Service struct {
	store   storage.BlobStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewService creates a video Service. A nil m discards metrics.
func NewService(store storage.BlobStore, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Service{store: store, logger: logger, metrics: m}
}

// Open resolves a video and the window selected by rangeHeader. With
// withBody false only metadata is fetched, which gives HEAD the exact headers
// a GET would produce.
func (s *Service) Open(ctx context.Context, videoID, rangeHeader string, withBody bool) (*Stream, error) {
	if id.Validate(videoID) != nil {
		return nil, ErrNotFound
	}
	key := upload.VideoKey(videoID)

	info, err := s.store.Stat(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}

	rng, err := ParseRange(rangeHeader, info.Size)
	if err != nil {
		return nil, err
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = upload.DefaultContentType
	}
	stream := &Stream{
		ID:          videoID,
		ContentType: contentType,
		TotalSize:   info.Size,
		Range:       rng,
	}
	if !withBody {
		return stream, nil
	}

	obj, err := s.store.Get(ctx, key, rng)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	stream.Body = obj.Body
	return stream, nil
}

// DeleteReport summarizes a delete call.
type DeleteReport struct {
	Deleted  int
	Failures int
}

// Delete removes a video and any chunks left under its identifier. It never
// fails: deleting an unknown video is a no-op and storage errors are logged,
// leaving the rest to the sweeper.
func (s *Service) Delete(ctx context.Context, videoID string) DeleteReport {
	s.metrics.Deletes.Inc()

	var report DeleteReport
	if id.Validate(videoID) != nil {
		return report
	}
	logger := s.logger.With(slog.String("upload_id", videoID))

	remove := func(key string) {
		if err := s.store.Delete(ctx, key); err != nil {
			report.Failures++
			logger.Warn("failed to delete object", slog.String("key", key), slog.String("error", err.Error()))
			return
		}
		report.Deleted++
	}

	remove(upload.VideoKey(videoID))

	var chunkKeys []string
	err := s.store.List(ctx, upload.ChunkPrefix(videoID), func(info storage.ObjectInfo) error {
		chunkKeys = append(chunkKeys, info.Key)
		return nil
	})
	if err != nil {
		report.Failures++
		logger.Warn("failed to list chunks", slog.String("error", err.Error()))
	}
	for _, key := range chunkKeys {
		remove(key)
	}

	logger.Info("video deleted", slog.Int("chunks", len(chunkKeys)), slog.Int("failures", report.Failures))
	return report
}
