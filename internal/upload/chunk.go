package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/maauso/castdrop/internal/upload/id"
)

// ChunkInput is one chunk upload.
type ChunkInput struct {
	UploadID    string
	Index       int
	Body        io.Reader
	Size        int64
	ContentType string
}

// PutChunk stores a chunk at its (upload, index) key, replacing any earlier
// copy. Completeness is not checked here; Finalize decides that.
func (s *Service) PutChunk(ctx context.Context, in ChunkInput) error {
	if err := id.Validate(in.UploadID); err != nil {
		return err
	}
	if in.Index < 0 || in.Index >= s.limits.MaxChunks() {
		return fmt.Errorf("%w: %d", ErrInvalidChunkIndex, in.Index)
	}
	switch {
	case in.Size == 0:
		return ErrEmptyChunk
	case in.Size < 0:
		return ErrLengthRequired
	case in.Size > s.limits.ChunkSize:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrChunkTooLarge, in.Size, s.limits.ChunkSize)
	}

	key := ChunkKey(in.UploadID, in.Index)
	if err := s.store.Put(ctx, key, in.Body, in.Size, s.putOptions(in.ContentType, nil)); err != nil {
		s.logger.Error("failed to store chunk",
			slog.String("upload_id", in.UploadID),
			slog.Int("chunk_index", in.Index),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("store chunk %d: %w", in.Index, err)
	}

	s.metrics.ChunksUploaded.Inc()
	s.metrics.ChunkBytes.Add(float64(in.Size))
	s.logger.Debug("chunk stored",
		slog.String("upload_id", in.UploadID),
		slog.Int("chunk_index", in.Index),
		slog.Int64("size", in.Size),
	)
	return nil
}
