package upload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/castdrop/internal/upload/id"
)

// InitInput declares the file about to be uploaded.
type InitInput struct {
	Filename    string
	ContentType string
	Size        int64
}

// Plan tells the client how to cut and address its chunks.
type Plan struct {
	ID          string
	TotalChunks int
	ChunkSize   int64
	ContentType string
}

// Init starts a chunked upload. Nothing is written to storage: the upload only
// exists once its first chunk lands.
func (s *Service) Init(_ context.Context, in InitInput) (*Plan, error) {
	if in.Size <= 0 {
		return nil, ErrEmptyFile
	}
	if in.Size > s.limits.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, in.Size, s.limits.MaxFileSize)
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	plan := &Plan{
		ID:          id.Generate(),
		TotalChunks: s.limits.TotalChunks(in.Size),
		ChunkSize:   s.limits.ChunkSize,
		ContentType: contentType,
	}

	s.metrics.UploadsInitialized.Inc()
	s.logger.Info("upload initialized",
		slog.String("upload_id", plan.ID),
		slog.String("filename", in.Filename),
		slog.String("content_type", contentType),
		slog.Int64("size", in.Size),
		slog.Int("total_chunks", plan.TotalChunks),
	)

	return plan, nil
}
