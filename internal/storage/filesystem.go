package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists blobs onto the local filesystem under basePath/bucket.
// It is intended for development and test environments where an object
// storage service is not available; cmd/api serves basePath under /static.
type FileStore struct {
	basePath string
	baseURL  string
	bucket   string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath, baseURL, bucket string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	bucket = strings.Trim(strings.TrimSpace(bucket), "/")
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if err := os.MkdirAll(filepath.Join(basePath, bucket), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/"), bucket: bucket}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Upload writes data at bucket/path and returns its public URL.
func (s *FileStore) Upload(ctx context.Context, path string, data []byte, contentType string) (*Object, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(path)
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.basePath, s.bucket, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("storage: write file: %w", err)
	}
	return &Object{
		Bucket:       s.bucket,
		Path:         cleanKey,
		PublicURL:    joinURL(s.baseURL, s.bucket, cleanKey),
		ContentType:  contentType,
		DetectedType: DetectType(data),
		Size:         int64(len(data)),
	}, nil
}

// Read returns the object stored at path.
func (s *FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, s.bucket, filepath.FromSlash(cleanKey)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, cleanKey)
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

var _ Store = (*FileStore)(nil)
