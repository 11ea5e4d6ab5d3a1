package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/maauso/castdrop/internal/upload/id"
)

// DirectInput is a whole file sent in a single request.
type DirectInput struct {
	Body        io.Reader
	Size        int64
	ContentType string
	Filename    string
}

// Video describes a stored video object.
type Video struct {
	ID          string
	Key         string
	Size        int64
	ContentType string
	// Parts is the number of chunks the video was assembled from; zero for direct uploads.
	Parts int
}

// PutVideo stores a file directly as a video object, skipping chunking.
func (s *Service) PutVideo(ctx context.Context, in DirectInput) (*Video, error) {
	switch {
	case in.Size == 0:
		return nil, ErrEmptyFile
	case in.Size < 0:
		return nil, ErrLengthRequired
	case in.Size > s.limits.MaxFileSize:
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, in.Size, s.limits.MaxFileSize)
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	var extra map[string]string
	if in.Filename != "" {
		extra = map[string]string{MetadataFilename: in.Filename}
	}

	uploadID := id.Generate()
	key := VideoKey(uploadID)
	if err := s.store.Put(ctx, key, in.Body, in.Size, s.putOptions(contentType, extra)); err != nil {
		s.logger.Error("failed to store video",
			slog.String("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("store video: %w", err)
	}

	s.metrics.DirectUploads.Inc()
	s.logger.Info("video uploaded",
		slog.String("upload_id", uploadID),
		slog.String("filename", in.Filename),
		slog.String("content_type", contentType),
		slog.Int64("size", in.Size),
	)

	return &Video{ID: uploadID, Key: key, Size: in.Size, ContentType: contentType}, nil
}
