package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time check that MemoryStorage implements BlobStore.
var _ BlobStore = (*MemoryStorage)(nil)

type memObject struct {
	data []byte
	info ObjectInfo
}

type memUpload struct {
	key       string
	opts      PutOptions
	parts     map[int32][]byte
	etags     map[int32]string
	initiated time.Time
}

// MemoryStorage is an in-memory implementation of BlobStore.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]*memObject
	uploads map[string]*memUpload
	now     func() time.Time
}

// MemoryOption configures a MemoryStorage.
type MemoryOption func(*MemoryStorage)

// WithClock sets the clock used for last-modified and initiated timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage creates an empty in-memory blob store.
func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		objects: make(map[string]*memObject),
		uploads: make(map[string]*memUpload),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores a copy of body under key.
func (s *MemoryStorage) Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if key == "" {
		return ErrInvalidKey
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("put %s: read %d bytes, expected %d", key, len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = s.newObject(key, data, opts)
	return nil
}

func (s *MemoryStorage) newObject(key string, data []byte, opts PutOptions) *memObject {
	return &memObject{
		data: data,
		info: ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  opts.ContentType,
			LastModified: s.now(),
			Metadata:     maps.Clone(opts.Metadata),
		},
	}
}

// Get returns the object body, or the requested window of it.
func (s *MemoryStorage) Get(ctx context.Context, key string, rng *ByteRange) (*Object, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}

	data := obj.data
	if rng != nil {
		if rng.Start < 0 || rng.Start >= int64(len(data)) || rng.End < rng.Start {
			return nil, fmt.Errorf("get %s: range %d-%d outside object of %d bytes", key, rng.Start, rng.End, len(data))
		}
		end := min(rng.End, int64(len(data))-1)
		data = data[rng.Start : end+1]
	}

	return &Object{
		Info: cloneInfo(obj.info),
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// Stat returns the object's description.
func (s *MemoryStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := checkContext(ctx); err != nil {
		return ObjectInfo{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return cloneInfo(obj.info), nil
}

// Copy duplicates an object with replaced metadata.
func (s *MemoryStorage) Copy(ctx context.Context, srcKey, dstKey string, opts PutOptions) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.objects[srcKey]
	if !ok {
		return ErrNotFound
	}
	s.objects[dstKey] = s.newObject(dstKey, bytes.Clone(src.data), opts)
	return nil
}

// List visits objects under prefix in key order.
// Metadata is omitted, matching what S3 listings return.
func (s *MemoryStorage) List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	infos := make([]ObjectInfo, 0, len(s.objects))
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			info := obj.info
			info.Metadata = nil
			infos = append(infos, info)
		}
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an object; absent keys are ignored.
func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// CreateMultipartUpload registers a new upload.
func (s *MemoryStorage) CreateMultipartUpload(ctx context.Context, key string, opts PutOptions) (string, error) {
	if err := checkContext(ctx); err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	uploadID := uuid.NewString()
	s.uploads[uploadID] = &memUpload{
		key:       key,
		opts:      PutOptions{ContentType: opts.ContentType, Metadata: maps.Clone(opts.Metadata)},
		parts:     make(map[int32][]byte),
		etags:     make(map[int32]string),
		initiated: s.now(),
	}
	return uploadID, nil
}

// UploadPart stores one part of an upload.
func (s *MemoryStorage) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (CompletedPart, error) {
	if err := checkContext(ctx); err != nil {
		return CompletedPart{}, err
	}
	if partNumber < 1 {
		return CompletedPart{}, fmt.Errorf("upload part %d: %w", partNumber, ErrInvalidPart)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return CompletedPart{}, fmt.Errorf("read part: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return CompletedPart{}, fmt.Errorf("upload part %d: read %d bytes, expected %d", partNumber, len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.uploads[uploadID]
	if !ok || up.key != key {
		return CompletedPart{}, ErrUploadNotFound
	}
	sum := md5.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	up.parts[partNumber] = data
	up.etags[partNumber] = etag
	return CompletedPart{PartNumber: partNumber, ETag: etag}, nil
}

// CompleteMultipartUpload concatenates the listed parts into the target object.
func (s *MemoryStorage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.uploads[uploadID]
	if !ok || up.key != key {
		return ErrUploadNotFound
	}
	if len(parts) == 0 {
		return ErrInvalidPart
	}

	var buf bytes.Buffer
	var last int32
	for _, p := range parts {
		data, ok := up.parts[p.PartNumber]
		if !ok || p.PartNumber <= last || up.etags[p.PartNumber] != p.ETag {
			return fmt.Errorf("part %d: %w", p.PartNumber, ErrInvalidPart)
		}
		last = p.PartNumber
		buf.Write(data)
	}

	s.objects[key] = s.newObject(key, buf.Bytes(), up.opts)
	delete(s.uploads, uploadID)
	return nil
}

// AbortMultipartUpload discards an upload.
func (s *MemoryStorage) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.uploads[uploadID]
	if !ok || up.key != key {
		return ErrUploadNotFound
	}
	delete(s.uploads, uploadID)
	return nil
}

// ListMultipartUploads visits in-progress uploads under prefix.
func (s *MemoryStorage) ListMultipartUploads(ctx context.Context, prefix string, fn func(MultipartUpload) error) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	var uploads []MultipartUpload
	for id, up := range s.uploads {
		if strings.HasPrefix(up.key, prefix) {
			uploads = append(uploads, MultipartUpload{Key: up.key, UploadID: id, Initiated: up.initiated})
		}
	}
	s.mu.RUnlock()

	sort.Slice(uploads, func(i, j int) bool { return uploads[i].Key < uploads[j].Key })
	for _, up := range uploads {
		if err := fn(up); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// PendingUploads returns the number of multipart uploads neither completed nor aborted.
func (s *MemoryStorage) PendingUploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}

func cloneInfo(info ObjectInfo) ObjectInfo {
	info.Metadata = maps.Clone(info.Metadata)
	return info
}
