package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBlobStoreTests exercises the BlobStore contract against any implementation.
func runBlobStoreTests(t *testing.T, newStore func(t *testing.T) BlobStore) {
	t.Helper()

	t.Run("put and get round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		err := store.Put(ctx, "videos/a", strings.NewReader("hello world"), 11, PutOptions{
			ContentType: "video/webm",
			Metadata:    map[string]string{"filename": "a.webm"},
		})
		require.NoError(t, err)

		obj, err := store.Get(ctx, "videos/a", nil)
		require.NoError(t, err)
		defer func() { _ = obj.Body.Close() }()

		data, err := io.ReadAll(obj.Body)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
		assert.Equal(t, int64(11), obj.Info.Size)
		assert.Equal(t, "video/webm", obj.Info.ContentType)
		assert.Equal(t, "a.webm", obj.Info.Metadata["filename"])
	})

	t.Run("put rejects size mismatch", func(t *testing.T) {
		store := newStore(t)
		err := store.Put(context.Background(), "videos/a", strings.NewReader("abc"), 10, PutOptions{})
		assert.Error(t, err)
	})

	t.Run("ranged get returns window", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "videos/r", strings.NewReader("0123456789"), 10, PutOptions{}))

		obj, err := store.Get(ctx, "videos/r", &ByteRange{Start: 2, End: 5})
		require.NoError(t, err)
		defer func() { _ = obj.Body.Close() }()

		data, err := io.ReadAll(obj.Body)
		require.NoError(t, err)
		assert.Equal(t, "2345", string(data))
		assert.Equal(t, int64(10), obj.Info.Size)
	})

	t.Run("missing object reports ErrNotFound", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Get(ctx, "videos/missing", nil)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.Stat(ctx, "videos/missing")
		assert.ErrorIs(t, err, ErrNotFound)

		err = store.Copy(ctx, "videos/missing", "videos/other", PutOptions{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("copy replaces metadata", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "chunks/x/0", strings.NewReader("data"), 4, PutOptions{ContentType: "application/octet-stream"}))

		err := store.Copy(ctx, "chunks/x/0", "videos/x", PutOptions{
			ContentType: "video/mp4",
			Metadata:    map[string]string{MetadataUploadedAt: "1700000000000"},
		})
		require.NoError(t, err)

		info, err := store.Stat(ctx, "videos/x")
		require.NoError(t, err)
		assert.Equal(t, "video/mp4", info.ContentType)
		assert.Equal(t, int64(4), info.Size)
		assert.Equal(t, time.UnixMilli(1700000000000), info.CreatedAt())
	})

	t.Run("list filters by prefix", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for _, key := range []string{"chunks/a/0", "chunks/a/1", "chunks/ab/0", "videos/a"} {
			require.NoError(t, store.Put(ctx, key, strings.NewReader("x"), 1, PutOptions{}))
		}

		var keys []string
		err := store.List(ctx, "chunks/a/", func(info ObjectInfo) error {
			keys = append(keys, info.Key)
			return nil
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"chunks/a/0", "chunks/a/1"}, keys)
	})

	t.Run("list of empty prefix visits nothing", func(t *testing.T) {
		store := newStore(t)
		called := false
		err := store.List(context.Background(), "chunks/none/", func(ObjectInfo) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("list stops on callback error", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "videos/1", strings.NewReader("x"), 1, PutOptions{}))
		require.NoError(t, store.Put(ctx, "videos/2", strings.NewReader("x"), 1, PutOptions{}))

		stop := errors.New("stop")
		err := store.List(ctx, "videos/", func(ObjectInfo) error { return stop })
		assert.ErrorIs(t, err, stop)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "videos/d", strings.NewReader("x"), 1, PutOptions{}))

		require.NoError(t, store.Delete(ctx, "videos/d"))
		require.NoError(t, store.Delete(ctx, "videos/d"))

		_, err := store.Stat(ctx, "videos/d")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("multipart upload concatenates parts in order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		uploadID, err := store.CreateMultipartUpload(ctx, "videos/m", PutOptions{ContentType: "video/mp4"})
		require.NoError(t, err)

		p1, err := store.UploadPart(ctx, "videos/m", uploadID, 1, strings.NewReader("first-"), 6)
		require.NoError(t, err)
		p2, err := store.UploadPart(ctx, "videos/m", uploadID, 2, strings.NewReader("second"), 6)
		require.NoError(t, err)
		assert.NotEmpty(t, p1.ETag)

		require.NoError(t, store.CompleteMultipartUpload(ctx, "videos/m", uploadID, []CompletedPart{p1, p2}))

		obj, err := store.Get(ctx, "videos/m", nil)
		require.NoError(t, err)
		defer func() { _ = obj.Body.Close() }()
		data, err := io.ReadAll(obj.Body)
		require.NoError(t, err)
		assert.Equal(t, "first-second", string(data))
		assert.Equal(t, "video/mp4", obj.Info.ContentType)

		err = store.ListMultipartUploads(ctx, "videos/", func(MultipartUpload) error {
			t.Error("completed upload still listed")
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("multipart complete rejects out of order parts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		uploadID, err := store.CreateMultipartUpload(ctx, "videos/o", PutOptions{})
		require.NoError(t, err)
		p1, err := store.UploadPart(ctx, "videos/o", uploadID, 1, strings.NewReader("a"), 1)
		require.NoError(t, err)
		p2, err := store.UploadPart(ctx, "videos/o", uploadID, 2, strings.NewReader("b"), 1)
		require.NoError(t, err)

		err = store.CompleteMultipartUpload(ctx, "videos/o", uploadID, []CompletedPart{p2, p1})
		assert.ErrorIs(t, err, ErrInvalidPart)
	})

	t.Run("abort discards upload", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		uploadID, err := store.CreateMultipartUpload(ctx, "videos/ab", PutOptions{})
		require.NoError(t, err)
		_, err = store.UploadPart(ctx, "videos/ab", uploadID, 1, bytes.NewReader([]byte("x")), 1)
		require.NoError(t, err)

		var listed []string
		require.NoError(t, store.ListMultipartUploads(ctx, "videos/", func(up MultipartUpload) error {
			listed = append(listed, up.UploadID)
			return nil
		}))
		assert.Equal(t, []string{uploadID}, listed)

		require.NoError(t, store.AbortMultipartUpload(ctx, "videos/ab", uploadID))

		_, err = store.UploadPart(ctx, "videos/ab", uploadID, 2, strings.NewReader("y"), 1)
		assert.ErrorIs(t, err, ErrUploadNotFound)
		_, err = store.Stat(ctx, "videos/ab")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		store := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.Put(ctx, "videos/c", strings.NewReader("x"), 1, PutOptions{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryStorage(t *testing.T) {
	runBlobStoreTests(t, func(t *testing.T) BlobStore {
		return NewMemoryStorage()
	})
}

func TestMemoryStorage_ListOmitsMetadata(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "videos/a", strings.NewReader("x"), 1, PutOptions{
		Metadata: map[string]string{MetadataUploadedAt: "1"},
	}))

	require.NoError(t, store.List(ctx, "videos/", func(info ObjectInfo) error {
		assert.Nil(t, info.Metadata)
		return nil
	}))
}

func TestMemoryStorage_WithClock(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStorage(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "videos/a", strings.NewReader("x"), 1, PutOptions{}))

	info, err := store.Stat(ctx, "videos/a")
	require.NoError(t, err)
	assert.Equal(t, fixed, info.LastModified)
	assert.Equal(t, fixed, info.CreatedAt())
	assert.Equal(t, 1, store.Len())
}

func TestObjectInfo_CreatedAt(t *testing.T) {
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		metadata map[string]string
		want     time.Time
	}{
		{"metadata wins", map[string]string{MetadataUploadedAt: "1000"}, time.UnixMilli(1000)},
		{"no metadata", nil, modified},
		{"unparseable metadata", map[string]string{MetadataUploadedAt: "soon"}, modified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ObjectInfo{LastModified: modified, Metadata: tt.metadata}
			assert.Equal(t, tt.want, info.CreatedAt())
		})
	}
}

func TestByteRange(t *testing.T) {
	r := ByteRange{Start: 100, End: 199}
	assert.Equal(t, int64(100), r.Length())
	assert.Equal(t, "bytes=100-199", r.HeaderValue())
}
