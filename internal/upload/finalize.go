package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/maauso/castdrop/internal/metrics"
	"github.com/maauso/castdrop/internal/storage"
	"github.com/maauso/castdrop/internal/upload/id"
)

const cleanupTimeout = 2 * time.Minute

type chunkRef struct {
	index int
	key   string
	size  int64
}

// Finalize assembles the uploaded chunks into a single video object and
// removes the chunks. One chunk is copied into place; several chunks are
// stitched server-side with a multipart upload, aborted on any failure.
// A failed finalize leaves the chunks intact so the client can retry, and a
// finalize for a video that is already stored returns it as is.
func (s *Service) Finalize(ctx context.Context, uploadID string) (*Video, error) {
	if err := id.Validate(uploadID); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "finalize:"+uploadID, s.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("finalize %s: %w", uploadID, err)
	}
	defer release()

	logger := s.logger.With(slog.String("upload_id", uploadID))

	existing, err := s.existingVideo(ctx, logger, uploadID)
	if err != nil || existing != nil {
		return existing, err
	}

	chunks, strays, err := s.listChunks(ctx, uploadID)
	if err != nil {
		s.metrics.Finalizations.WithLabelValues(metrics.PathNone, metrics.ResultFailure).Inc()
		return nil, err
	}

	if len(chunks) == 0 {
		s.metrics.Finalizations.WithLabelValues(metrics.PathNone, metrics.ResultClient).Inc()
		return nil, ErrNoChunks
	}

	if err := checkContiguous(chunks); err != nil {
		logger.Warn("finalize rejected", slog.Int("chunks", len(chunks)), slog.String("error", err.Error()))
		s.metrics.Finalizations.WithLabelValues(assemblyPath(len(chunks)), metrics.ResultClient).Inc()
		return nil, err
	}

	contentType := s.chunkContentType(ctx, chunks[0].key)
	videoKey := VideoKey(uploadID)
	opts := s.putOptions(contentType, nil)
	path := assemblyPath(len(chunks))

	start := time.Now()
	if len(chunks) == 1 {
		err = s.store.Copy(ctx, chunks[0].key, videoKey, opts)
	} else {
		err = s.assembleMultipart(ctx, logger, videoKey, chunks, opts)
	}
	if err != nil {
		logger.Error("failed to assemble video",
			slog.String("path", path),
			slog.Int("chunks", len(chunks)),
			slog.String("error", err.Error()),
		)
		s.metrics.Finalizations.WithLabelValues(path, metrics.ResultFailure).Inc()
		return nil, fmt.Errorf("%w: %w", ErrAssemblyFailed, err)
	}

	var size int64
	for _, c := range chunks {
		size += c.size
	}

	logger.Info("video assembled",
		slog.String("path", path),
		slog.Int("chunks", len(chunks)),
		slog.Int64("size", size),
		slog.Duration("duration", time.Since(start)),
	)
	s.metrics.Finalizations.WithLabelValues(path, metrics.ResultSuccess).Inc()

	s.cleanupChunks(ctx, logger, chunks, strays)

	return &Video{
		ID:          uploadID,
		Key:         videoKey,
		Size:        size,
		ContentType: contentType,
		Parts:       len(chunks),
	}, nil
}

// listChunks returns the chunks of an upload sorted by index, plus any keys
// under the chunk prefix that are not valid chunk keys.
func (s *Service) listChunks(ctx context.Context, uploadID string) ([]chunkRef, []string, error) {
	var (
		chunks []chunkRef
		strays []string
	)
	err := s.store.List(ctx, ChunkPrefix(uploadID), func(info storage.ObjectInfo) error {
		idx, ok := ParseChunkIndex(info.Key)
		if !ok {
			strays = append(strays, info.Key)
			return nil
		}
		chunks = append(chunks, chunkRef{index: idx, key: info.Key, size: info.Size})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list chunks: %w", err)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })
	return chunks, strays, nil
}

// existingVideo makes finalize idempotent: when the video is already stored,
// leftover chunks are removed and the stored video is returned untouched. It
// returns nil, nil when there is no video yet.
func (s *Service) existingVideo(ctx context.Context, logger *slog.Logger, uploadID string) (*Video, error) {
	info, err := s.store.Stat(ctx, VideoKey(uploadID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.metrics.Finalizations.WithLabelValues(metrics.PathExisting, metrics.ResultFailure).Inc()
		return nil, fmt.Errorf("stat video: %w", err)
	}

	chunks, strays, err := s.listChunks(ctx, uploadID)
	if err != nil {
		logger.Warn("failed to list leftover chunks", slog.String("error", err.Error()))
	} else if len(chunks)+len(strays) > 0 {
		s.cleanupChunks(ctx, logger, chunks, strays)
	}

	s.metrics.Finalizations.WithLabelValues(metrics.PathExisting, metrics.ResultSuccess).Inc()
	return &Video{
		ID:          uploadID,
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

func checkContiguous(chunks []chunkRef) error {
	for i, c := range chunks {
		if c.index != i {
			return fmt.Errorf("%w: missing chunk %d", ErrIncompleteUpload, i)
		}
	}
	return nil
}

func assemblyPath(n int) string {
	if n == 1 {
		return metrics.PathSingle
	}
	return metrics.PathMultipart
}

// chunkContentType returns the media type chunk 0 was uploaded with, or the default.
func (s *Service) chunkContentType(ctx context.Context, key string) string {
	info, err := s.store.Stat(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read chunk metadata", slog.String("key", key), slog.String("error", err.Error()))
		return DefaultContentType
	}
	switch info.ContentType {
	case "", "application/octet-stream", "binary/octet-stream":
		return DefaultContentType
	}
	return info.ContentType
}

// assembleMultipart streams each chunk into one part of a multipart upload.
// Part numbers are chunk index + 1. Any error aborts the upload.
func (s *Service) assembleMultipart(ctx context.Context, logger *slog.Logger, videoKey string, chunks []chunkRef, opts storage.PutOptions) (err error) {
	uploadID, err := s.store.CreateMultipartUpload(ctx, videoKey, opts)
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if abortErr := s.store.AbortMultipartUpload(abortCtx, videoKey, uploadID); abortErr != nil {
			logger.Error("failed to abort multipart upload",
				slog.String("multipart_id", uploadID),
				slog.String("error", abortErr.Error()),
			)
		}
	}()

	parts := make([]storage.CompletedPart, 0, len(chunks))
	for _, c := range chunks {
		part, err := s.copyPart(ctx, videoKey, uploadID, c)
		if err != nil {
			return err
		}
		parts = append(parts, part)
	}

	if err := s.store.CompleteMultipartUpload(ctx, videoKey, uploadID, parts); err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

func (s *Service) copyPart(ctx context.Context, videoKey, uploadID string, c chunkRef) (storage.CompletedPart, error) {
	obj, err := s.store.Get(ctx, c.key, nil)
	if err != nil {
		return storage.CompletedPart{}, fmt.Errorf("read chunk %d: %w", c.index, err)
	}
	defer func() { _ = obj.Body.Close() }()

	part, err := s.store.UploadPart(ctx, videoKey, uploadID, int32(c.index+1), obj.Body, obj.Info.Size)
	if err != nil {
		return storage.CompletedPart{}, fmt.Errorf("upload part %d: %w", c.index+1, err)
	}
	return part, nil
}

// cleanupChunks deletes the chunk objects of an assembled upload. Failures are
// logged; leftovers are removed later by the sweeper.
func (s *Service) cleanupChunks(ctx context.Context, logger *slog.Logger, chunks []chunkRef, strays []string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	keys := make([]string, 0, len(chunks)+len(strays))
	for _, c := range chunks {
		keys = append(keys, c.key)
	}
	keys = append(keys, strays...)

	for _, key := range keys {
		if err := s.store.Delete(cleanupCtx, key); err != nil {
			logger.Warn("failed to delete chunk", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}
