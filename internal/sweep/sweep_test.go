package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/castdrop/internal/lease"
	"github.com/maauso/castdrop/internal/metrics"
	"github.com/maauso/castdrop/internal/storage"
)

var (
	testNow   = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	retention = time.Hour
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func put(t *testing.T, store storage.BlobStore, key string, age time.Duration) {
	t.Helper()
	err := store.Put(context.Background(), key, strings.NewReader("x"), 1, storage.PutOptions{
		Metadata: storage.UploadedAtMetadata(testNow.Add(-age)),
	})
	require.NoError(t, err)
}

func exists(t *testing.T, store storage.BlobStore, key string) bool {
	t.Helper()
	_, err := store.Stat(context.Background(), key)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestSweeper_Run(t *testing.T) {
	store := storage.NewMemoryStorage()
	put(t, store, "videos/old", 2*time.Hour)
	put(t, store, "videos/new", 10*time.Minute)
	put(t, store, "chunks/abc/0", 90*time.Minute)
	put(t, store, "chunks/abc/1", 30*time.Minute)
	put(t, store, "meta/abc", 3*time.Hour)
	put(t, store, "other/keep", 5*time.Hour)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sw := New(store, retention, discardLogger(), WithClock(func() time.Time { return testNow }), WithMetrics(m))

	report, err := sw.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 3, report.Expired)
	assert.Equal(t, 3, report.Deleted)
	assert.Zero(t, report.Failed)

	assert.False(t, exists(t, store, "videos/old"))
	assert.False(t, exists(t, store, "chunks/abc/0"))
	assert.False(t, exists(t, store, "meta/abc"))
	assert.True(t, exists(t, store, "videos/new"))
	assert.True(t, exists(t, store, "chunks/abc/1"))
	assert.True(t, exists(t, store, "other/keep"), "unmanaged prefixes are never swept")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SweepDeleted.WithLabelValues("chunks/")))
}

func TestSweeper_FallsBackToLastModified(t *testing.T) {
	clock := testNow.Add(-2 * time.Hour)
	store := storage.NewMemoryStorage(storage.WithClock(func() time.Time { return clock }))
	require.NoError(t, store.Put(context.Background(), "videos/legacy", strings.NewReader("x"), 1, storage.PutOptions{}))

	sw := New(store, retention, discardLogger(), WithClock(func() time.Time { return testNow }))
	_, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, exists(t, store, "videos/legacy"))
}

func TestSweeper_DryRun(t *testing.T) {
	store := storage.NewMemoryStorage()
	put(t, store, "videos/old", 2*time.Hour)

	sw := New(store, retention, discardLogger(), WithClock(func() time.Time { return testNow }), WithDryRun(true))
	report, err := sw.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Expired)
	assert.Zero(t, report.Deleted)
	assert.True(t, exists(t, store, "videos/old"))
}

// flakyStore fails deletes for selected keys and listings for selected prefixes.
type flakyStore struct {
	storage.BlobStore
	failDelete map[string]bool
	failList   map[string]bool
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.failDelete[key] {
		return errors.New("denied")
	}
	return f.BlobStore.Delete(ctx, key)
}

func (f *flakyStore) List(ctx context.Context, prefix string, fn func(storage.ObjectInfo) error) error {
	if f.failList[prefix] {
		return errors.New("unavailable")
	}
	return f.BlobStore.List(ctx, prefix, fn)
}

func TestSweeper_PartialFailuresContinue(t *testing.T) {
	mem := storage.NewMemoryStorage()
	put(t, mem, "videos/a", 2*time.Hour)
	put(t, mem, "videos/b", 2*time.Hour)
	put(t, mem, "chunks/x/0", 2*time.Hour)
	put(t, mem, "meta/x", 2*time.Hour)

	store := &flakyStore{
		BlobStore:  mem,
		failDelete: map[string]bool{"videos/a": true},
		failList:   map[string]bool{"chunks/": true},
	}
	sw := New(store, retention, discardLogger(), WithClock(func() time.Time { return testNow }))

	report, err := sw.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunks/")

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Deleted)
	assert.True(t, exists(t, mem, "videos/a"))
	assert.False(t, exists(t, mem, "videos/b"))
	assert.True(t, exists(t, mem, "chunks/x/0"))
	assert.False(t, exists(t, mem, "meta/x"))
}

func TestSweeper_AbortsStaleMultipartUploads(t *testing.T) {
	clock := testNow.Add(-2 * time.Hour)
	store := storage.NewMemoryStorage(storage.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, err := store.CreateMultipartUpload(ctx, "videos/stale", storage.PutOptions{})
	require.NoError(t, err)
	clock = testNow
	_, err = store.CreateMultipartUpload(ctx, "videos/active", storage.PutOptions{})
	require.NoError(t, err)

	sw := New(store, retention, discardLogger(), WithClock(func() time.Time { return testNow }))
	report, err := sw.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.AbortedUploads)
	assert.Equal(t, 1, store.PendingUploads())
}

func TestNewScheduler(t *testing.T) {
	sw := New(storage.NewMemoryStorage(), retention, discardLogger())

	t.Run("accepts descriptors and cron expressions", func(t *testing.T) {
		for _, spec := range []string{"@every 1h", "@hourly", "0 * * * *"} {
			s, err := NewScheduler(sw, spec, discardLogger())
			require.NoError(t, err, spec)
			s.Start()
			require.NoError(t, s.Stop(context.Background()))
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := NewScheduler(sw, "whenever", discardLogger())
		assert.Error(t, err)
	})
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, lease.ErrHeld
}

func TestScheduler_RunOnce(t *testing.T) {
	store := storage.NewMemoryStorage()
	put(t, store, "videos/old", 2*time.Hour)
	sw := New(store, retention, discardLogger(), WithClock(func() time.Time { return testNow }))

	t.Run("skips while another instance holds the lease", func(t *testing.T) {
		s, err := NewScheduler(sw, "@every 1h", discardLogger(), WithLocker(heldLocker{}))
		require.NoError(t, err)

		err = s.runOnce(context.Background())
		assert.ErrorIs(t, err, lease.ErrHeld)
		assert.True(t, exists(t, store, "videos/old"))
	})

	t.Run("sweeps when the lease is free", func(t *testing.T) {
		s, err := NewScheduler(sw, "@every 1h", discardLogger(), WithTimeout(time.Minute))
		require.NoError(t, err)

		require.NoError(t, s.runOnce(context.Background()))
		assert.False(t, exists(t, store, "videos/old"))
	})
}
