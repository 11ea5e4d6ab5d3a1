// Package storage provides the blob store used for chunks and assembled videos.
// It defines the BlobStore interface (port) for hexagonal architecture and
// implementations for S3, local disk and memory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Static errors for storage operations.
var (
	// ErrNotFound is returned when no object exists at a key.
	ErrNotFound = errors.New("storage: object not found")
	// ErrUploadNotFound is returned when a multipart upload ID is unknown.
	ErrUploadNotFound = errors.New("storage: multipart upload not found")
	// ErrInvalidPart is returned when a completion list references a missing part
	// or is not in ascending part-number order.
	ErrInvalidPart = errors.New("storage: invalid multipart part list")
	// ErrInvalidKey is returned for keys that cannot be stored.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// MetadataUploadedAt is the metadata key holding the creation time in epoch milliseconds.
const MetadataUploadedAt = "uploaded-at"

// PutOptions carries the metadata attached to a newly written object.
type PutOptions struct {
	// ContentType is the media type stored with the object.
	ContentType string
	// Metadata is user metadata. Keys should be lower-case.
	Metadata map[string]string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	// Metadata is only populated by Stat and Get; listings may leave it empty.
	Metadata map[string]string
}

// CreatedAt returns the uploaded-at metadata timestamp when present,
// falling back to the store's last-modified time.
func (o ObjectInfo) CreatedAt() time.Time {
	if v, ok := o.Metadata[MetadataUploadedAt]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return o.LastModified
}

// ByteRange is an inclusive byte window of an object.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// HeaderValue formats the range for a Range request header.
func (r ByteRange) HeaderValue() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Object is an open object body with its description.
// The caller must close Body.
type Object struct {
	Info ObjectInfo
	Body io.ReadCloser
}

// CompletedPart is the store's receipt for one uploaded multipart part.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// MultipartUpload describes an in-progress multipart upload.
type MultipartUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

// BlobStore defines the object storage operations the service depends on.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Put writes body to key, replacing any existing object.
	// size is the exact body length, or -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error

	// Get opens the object at key. When rng is non-nil only that window is returned.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, key string, rng *ByteRange) (*Object, error)

	// Stat returns the object's description without its body.
	// Returns ErrNotFound if the object does not exist.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Copy duplicates srcKey to dstKey, replacing the metadata with opts.
	Copy(ctx context.Context, srcKey, dstKey string, opts PutOptions) error

	// List calls fn for every object whose key starts with prefix.
	// Implementations page through the whole listing; fn returning an error stops it.
	List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error

	// Delete removes the object at key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CreateMultipartUpload starts a multipart upload against key.
	CreateMultipartUpload(ctx context.Context, key string, opts PutOptions) (uploadID string, err error)

	// UploadPart stores one part. Part numbers start at 1.
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (CompletedPart, error)

	// CompleteMultipartUpload joins the listed parts, in order, into the object at key.
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error

	// AbortMultipartUpload discards an upload and any stored parts.
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	// ListMultipartUploads calls fn for every in-progress upload whose key starts with prefix.
	ListMultipartUploads(ctx context.Context, prefix string, fn func(MultipartUpload) error) error
}

// UploadedAtMetadata returns metadata carrying t as the uploaded-at timestamp.
func UploadedAtMetadata(t time.Time) map[string]string {
	return map[string]string{MetadataUploadedAt: strconv.FormatInt(t.UnixMilli(), 10)}
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
		return nil
	}
}
