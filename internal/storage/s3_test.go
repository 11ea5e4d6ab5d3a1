package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestS3Storage(t *testing.T, handler http.HandlerFunc) *S3Storage {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}

	storage, err := NewS3Storage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}
	return storage
}

func TestNewS3Storage(t *testing.T) {
	storage := newTestS3Storage(t, func(w http.ResponseWriter, r *http.Request) {})

	if storage.Bucket() != "test-bucket" {
		t.Errorf("bucket = %v, want %v", storage.Bucket(), "test-bucket")
	}
}

func TestS3Storage_Put_MockServer(t *testing.T) {
	storage := newTestS3Storage(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}
		if r.URL.Path != "/test-bucket/videos/abc" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "video/mp4" {
			t.Errorf("Content-Type = %q, want video/mp4", got)
		}
		if got := r.Header.Get("X-Amz-Meta-Uploaded-At"); got != "1700000000000" {
			t.Errorf("uploaded-at metadata = %q", got)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if string(body) != "test content" {
			t.Errorf("unexpected body: %s", string(body))
		}

		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	})

	err := storage.Put(context.Background(), "videos/abc", strings.NewReader("test content"), 12, PutOptions{
		ContentType: "video/mp4",
		Metadata:    map[string]string{MetadataUploadedAt: "1700000000000"},
	})
	require.NoError(t, err)
}

func TestS3Storage_GetRange_MockServer(t *testing.T) {
	storage := newTestS3Storage(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "bytes=0-3", r.Header.Get("Range"))

		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 0-3/10")
		w.Header().Set("Content-Length", "4")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("0123"))
	})

	obj, err := storage.Get(context.Background(), "videos/abc", &ByteRange{Start: 0, End: 3})
	require.NoError(t, err)
	defer func() { _ = obj.Body.Close() }()

	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
	assert.Equal(t, int64(10), obj.Info.Size)
	assert.Equal(t, "video/mp4", obj.Info.ContentType)
}

func TestS3Storage_Get_NoSuchKey(t *testing.T) {
	storage := newTestS3Storage(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
	})

	_, err := storage.Get(context.Background(), "videos/missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Storage_Stat_NotFound(t *testing.T) {
	storage := newTestS3Storage(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := storage.Stat(context.Background(), "videos/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Storage_List_FollowsContinuationToken(t *testing.T) {
	calls := 0
	storage := newTestS3Storage(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "chunks/abc/", r.URL.Query().Get("prefix"))
		w.Header().Set("Content-Type", "application/xml")

		if r.URL.Query().Get("continuation-token") == "" {
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <Name>test-bucket</Name>
  <Prefix>chunks/abc/</Prefix>
  <KeyCount>1</KeyCount>
  <IsTruncated>true</IsTruncated>
  <NextContinuationToken>page-2</NextContinuationToken>
  <Contents><Key>chunks/abc/0</Key><Size>5</Size><LastModified>2024-01-01T00:00:00.000Z</LastModified></Contents>
</ListBucketResult>`))
			return
		}

		assert.Equal(t, "page-2", r.URL.Query().Get("continuation-token"))
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <Name>test-bucket</Name>
  <Prefix>chunks/abc/</Prefix>
  <KeyCount>1</KeyCount>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>chunks/abc/1</Key><Size>3</Size><LastModified>2024-01-01T00:00:01.000Z</LastModified></Contents>
</ListBucketResult>`))
	})

	var infos []ObjectInfo
	err := storage.List(context.Background(), "chunks/abc/", func(info ObjectInfo) error {
		infos = append(infos, info)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "chunks/abc/0", infos[0].Key)
	assert.Equal(t, int64(5), infos[0].Size)
	assert.Equal(t, "chunks/abc/1", infos[1].Key)
	assert.False(t, infos[1].LastModified.IsZero())
}

func TestS3Storage_MultipartFlow_MockServer(t *testing.T) {
	storage := newTestS3Storage(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/xml")

		switch {
		case r.Method == http.MethodPost && q.Has("uploads"):
			assert.Equal(t, "video/mp4", r.Header.Get("Content-Type"))
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<InitiateMultipartUploadResult><Bucket>test-bucket</Bucket><Key>videos/abc</Key><UploadId>up-1</UploadId></InitiateMultipartUploadResult>`))
		case r.Method == http.MethodPut && q.Get("uploadId") == "up-1":
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("ETag", `"etag-`+q.Get("partNumber")+`-`+string(body)+`"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && q.Get("uploadId") == "up-1":
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), "<PartNumber>1</PartNumber>")
			assert.Contains(t, string(body), "<PartNumber>2</PartNumber>")
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<CompleteMultipartUploadResult><Bucket>test-bucket</Bucket><Key>videos/abc</Key><ETag>"final"</ETag></CompleteMultipartUploadResult>`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	ctx := context.Background()
	uploadID, err := storage.CreateMultipartUpload(ctx, "videos/abc", PutOptions{ContentType: "video/mp4"})
	require.NoError(t, err)
	assert.Equal(t, "up-1", uploadID)

	p1, err := storage.UploadPart(ctx, "videos/abc", uploadID, 1, strings.NewReader("a"), 1)
	require.NoError(t, err)
	assert.Equal(t, `"etag-1-a"`, p1.ETag)
	p2, err := storage.UploadPart(ctx, "videos/abc", uploadID, 2, strings.NewReader("b"), 1)
	require.NoError(t, err)

	require.NoError(t, storage.CompleteMultipartUpload(ctx, "videos/abc", uploadID, []CompletedPart{p1, p2}))
}

func TestS3Storage_DeleteServerError(t *testing.T) {
	storage := newTestS3Storage(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	})

	err := storage.Delete(context.Background(), "videos/abc")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestTotalFromContentRange(t *testing.T) {
	tests := []struct {
		in    string
		total int64
		ok    bool
	}{
		{"bytes 0-99/1234", 1234, true},
		{"bytes */1234", 1234, true},
		{"bytes 0-99/*", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		total, ok := totalFromContentRange(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.total, total, tt.in)
	}
}
