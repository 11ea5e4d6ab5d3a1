package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Compile-time check that LocalStorage implements BlobStore.
var _ BlobStore = (*LocalStorage)(nil)

const (
	localDataDir      = "data"
	localAttrsDir     = "attrs"
	localMultipartDir = "multipart"
	localTmpDir       = "tmp"
	uploadManifest    = "upload.json"
)

// localAttrs is the sidecar record kept next to every object.
type localAttrs struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// localUpload is the manifest of an in-progress multipart upload.
type localUpload struct {
	Key       string     `json:"key"`
	Attrs     localAttrs `json:"attrs"`
	Initiated time.Time  `json:"initiated"`
}

// LocalStorage implements BlobStore on local disk.
// Object bytes live under <root>/data, metadata in JSON sidecars under <root>/attrs
// and multipart parts under <root>/multipart/<uploadID>. Writes go through <root>/tmp
// and are renamed into place so readers never observe partial objects.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a new LocalStorage instance rooted at root.
// If root is empty, a castdrop directory under os.TempDir() is used.
// The directory tree is created if it doesn't exist.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "castdrop")
	}

	for _, dir := range []string{localDataDir, localAttrsDir, localMultipartDir, localTmpDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0750); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	return &LocalStorage{root: root}, nil
}

// Root returns the storage root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// Put writes body to key atomically.
func (s *LocalStorage) Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	dataPath, attrsPath, err := s.paths(key)
	if err != nil {
		return err
	}

	n, _, err := s.writeAtomic(dataPath, body)
	if err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if size >= 0 && n != size {
		_ = os.Remove(dataPath)
		return fmt.Errorf("write object %s: wrote %d bytes, expected %d", key, n, size)
	}

	if err := s.writeAttrs(attrsPath, localAttrs{ContentType: opts.ContentType, Metadata: opts.Metadata}); err != nil {
		return fmt.Errorf("write attributes %s: %w", key, err)
	}
	return nil
}

// Get opens the object, seeking to the start of rng when given.
func (s *LocalStorage) Get(ctx context.Context, key string, rng *ByteRange) (*Object, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	dataPath, _, _ := s.paths(key)

	f, err := os.Open(dataPath) // #nosec G304 - path is derived from a validated key
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}

	if rng == nil {
		return &Object{Info: info, Body: f}, nil
	}

	if rng.Start < 0 || rng.Start >= info.Size || rng.End < rng.Start {
		_ = f.Close()
		return nil, fmt.Errorf("get %s: range %d-%d outside object of %d bytes", key, rng.Start, rng.End, info.Size)
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek object %s: %w", key, err)
	}
	length := min(rng.End, info.Size-1) - rng.Start + 1

	return &Object{
		Info: info,
		Body: struct {
			io.Reader
			io.Closer
		}{io.LimitReader(f, length), f},
	}, nil
}

// Stat returns size, modification time and sidecar attributes of an object.
func (s *LocalStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := checkContext(ctx); err != nil {
		return ObjectInfo{}, err
	}
	dataPath, attrsPath, err := s.paths(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	fi, err := os.Stat(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, fmt.Errorf("stat object %s: %w", key, err)
	}

	attrs, err := s.readAttrs(attrsPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("read attributes %s: %w", key, err)
	}

	return ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		ContentType:  attrs.ContentType,
		LastModified: fi.ModTime(),
		Metadata:     attrs.Metadata,
	}, nil
}

// Copy duplicates srcKey into dstKey with the metadata in opts.
func (s *LocalStorage) Copy(ctx context.Context, srcKey, dstKey string, opts PutOptions) error {
	obj, err := s.Get(ctx, srcKey, nil)
	if err != nil {
		return err
	}
	defer func() { _ = obj.Body.Close() }()

	return s.Put(ctx, dstKey, obj.Body, obj.Info.Size, opts)
}

// List walks the data tree below the directory part of prefix in lexical order.
func (s *LocalStorage) List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	dataRoot := filepath.Join(s.root, localDataDir)
	start := dataRoot
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir := prefix[:i]
		if err := validateKey(dir); err != nil {
			return err
		}
		start = filepath.Join(dataRoot, filepath.FromSlash(dir))
	}

	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return checkContext(ctx)
		}

		rel, err := filepath.Rel(dataRoot, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		return fn(ObjectInfo{Key: key, Size: fi.Size(), LastModified: fi.ModTime()})
	})
	if err != nil {
		return fmt.Errorf("list %s: %w", prefix, err)
	}
	return nil
}

// Delete removes an object and its sidecar, pruning empty parent directories.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	dataPath, attrsPath, err := s.paths(key)
	if err != nil {
		return err
	}

	for _, p := range []string{dataPath, attrsPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	s.pruneDirs(filepath.Dir(dataPath), filepath.Join(s.root, localDataDir))
	s.pruneDirs(filepath.Dir(attrsPath), filepath.Join(s.root, localAttrsDir))
	return nil
}

// CreateMultipartUpload creates the part directory and its manifest.
func (s *LocalStorage) CreateMultipartUpload(ctx context.Context, key string, opts PutOptions) (string, error) {
	if err := checkContext(ctx); err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", err
	}

	uploadID := uuid.NewString()
	dir := s.uploadDir(uploadID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	manifest := localUpload{
		Key:       key,
		Attrs:     localAttrs{ContentType: opts.ContentType, Metadata: opts.Metadata},
		Initiated: time.Now().UTC(),
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("encode upload manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, uploadManifest), data, 0640); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write upload manifest: %w", err)
	}
	return uploadID, nil
}

// UploadPart writes one part file and returns its MD5 ETag.
func (s *LocalStorage) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (CompletedPart, error) {
	if err := checkContext(ctx); err != nil {
		return CompletedPart{}, err
	}
	if partNumber < 1 {
		return CompletedPart{}, fmt.Errorf("upload part %d: %w", partNumber, ErrInvalidPart)
	}
	if _, err := s.readUpload(key, uploadID); err != nil {
		return CompletedPart{}, err
	}

	partPath := s.partPath(uploadID, partNumber)
	n, sum, err := s.writeAtomic(partPath, body)
	if err != nil {
		return CompletedPart{}, fmt.Errorf("write part %d: %w", partNumber, err)
	}
	if size >= 0 && n != size {
		_ = os.Remove(partPath)
		return CompletedPart{}, fmt.Errorf("write part %d: wrote %d bytes, expected %d", partNumber, n, size)
	}

	etag := `"` + sum + `"`
	if err := os.WriteFile(partPath+".etag", []byte(etag), 0640); err != nil {
		return CompletedPart{}, fmt.Errorf("write part etag: %w", err)
	}
	return CompletedPart{PartNumber: partNumber, ETag: etag}, nil
}

// CompleteMultipartUpload concatenates the parts into the target object.
func (s *LocalStorage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	manifest, err := s.readUpload(key, uploadID)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return ErrInvalidPart
	}

	readers := make([]io.Reader, 0, len(parts))
	var files []*os.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	var last int32
	for _, p := range parts {
		if p.PartNumber <= last {
			return fmt.Errorf("part %d: %w", p.PartNumber, ErrInvalidPart)
		}
		last = p.PartNumber

		partPath := s.partPath(uploadID, p.PartNumber)
		etag, err := os.ReadFile(partPath + ".etag") // #nosec G304 - path is built from a generated upload ID
		if err != nil || string(etag) != p.ETag {
			return fmt.Errorf("part %d: %w", p.PartNumber, ErrInvalidPart)
		}
		f, err := os.Open(partPath) // #nosec G304 - path is built from a generated upload ID
		if err != nil {
			return fmt.Errorf("open part %d: %w", p.PartNumber, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	dataPath, attrsPath, err := s.paths(key)
	if err != nil {
		return err
	}
	if _, _, err := s.writeAtomic(dataPath, io.MultiReader(readers...)); err != nil {
		return fmt.Errorf("assemble object %s: %w", key, err)
	}
	if err := s.writeAttrs(attrsPath, manifest.Attrs); err != nil {
		return fmt.Errorf("write attributes %s: %w", key, err)
	}

	if err := os.RemoveAll(s.uploadDir(uploadID)); err != nil {
		return fmt.Errorf("remove upload directory: %w", err)
	}
	return nil
}

// AbortMultipartUpload removes the upload directory and its parts.
func (s *LocalStorage) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if _, err := s.readUpload(key, uploadID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.uploadDir(uploadID)); err != nil {
		return fmt.Errorf("remove upload directory: %w", err)
	}
	return nil
}

// ListMultipartUploads reads every upload manifest whose key starts with prefix.
func (s *LocalStorage) ListMultipartUploads(ctx context.Context, prefix string, fn func(MultipartUpload) error) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, localMultipartDir))
	if err != nil {
		return fmt.Errorf("list multipart uploads: %w", err)
	}

	var uploads []MultipartUpload
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.uploadDir(e.Name()), uploadManifest))
		if err != nil {
			continue
		}
		var manifest localUpload
		if err := json.Unmarshal(data, &manifest); err != nil {
			continue
		}
		if strings.HasPrefix(manifest.Key, prefix) {
			uploads = append(uploads, MultipartUpload{Key: manifest.Key, UploadID: e.Name(), Initiated: manifest.Initiated})
		}
	}

	sort.Slice(uploads, func(i, j int) bool { return uploads[i].Key < uploads[j].Key })
	for _, up := range uploads {
		if err := fn(up); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalStorage) paths(key string) (dataPath, attrsPath string, err error) {
	if err := validateKey(key); err != nil {
		return "", "", err
	}
	rel := filepath.FromSlash(key)
	return filepath.Join(s.root, localDataDir, rel), filepath.Join(s.root, localAttrsDir, rel+".json"), nil
}

func (s *LocalStorage) uploadDir(uploadID string) string {
	return filepath.Join(s.root, localMultipartDir, uploadID)
}

func (s *LocalStorage) partPath(uploadID string, partNumber int32) string {
	return filepath.Join(s.uploadDir(uploadID), "part-"+strconv.Itoa(int(partNumber)))
}

func (s *LocalStorage) readUpload(key, uploadID string) (localUpload, error) {
	if uploadID == "" || strings.ContainsAny(uploadID, `/\.`) {
		return localUpload{}, ErrUploadNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.uploadDir(uploadID), uploadManifest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return localUpload{}, ErrUploadNotFound
		}
		return localUpload{}, fmt.Errorf("read upload manifest: %w", err)
	}
	var manifest localUpload
	if err := json.Unmarshal(data, &manifest); err != nil {
		return localUpload{}, fmt.Errorf("decode upload manifest: %w", err)
	}
	if manifest.Key != key {
		return localUpload{}, ErrUploadNotFound
	}
	return manifest, nil
}

// writeAtomic streams r into a temp file, then renames it to dst.
// It returns the byte count and hex MD5 of what was written.
func (s *LocalStorage) writeAtomic(dst string, r io.Reader) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return 0, "", fmt.Errorf("create directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Join(s.root, localTmpDir), "put_*")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := f.Name()

	h := md5.New() // #nosec G401 - used as an ETag, not for security
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return 0, "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return 0, "", fmt.Errorf("rename temp file: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func (s *LocalStorage) writeAttrs(attrsPath string, attrs localAttrs) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(attrsPath), 0750); err != nil {
		return err
	}
	return os.WriteFile(attrsPath, data, 0640)
}

func (s *LocalStorage) readAttrs(attrsPath string) (localAttrs, error) {
	var attrs localAttrs
	data, err := os.ReadFile(attrsPath) // #nosec G304 - path is derived from a validated key
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return attrs, nil
		}
		return attrs, err
	}
	err = json.Unmarshal(data, &attrs)
	return attrs, err
}

// pruneDirs removes empty directories from dir upwards, stopping at stop.
func (s *LocalStorage) pruneDirs(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != strings.TrimSuffix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
