// Package storage uploads generated binaries to blob storage and resolves
// their public URLs.
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
)

// Object describes a stored blob.
type Object struct {
	Bucket       string
	Path         string
	PublicURL    string
	ContentType  string
	DetectedType string
	Size         int64
}

// ErrObjectNotFound is returned by Read for a path that holds no object.
var ErrObjectNotFound = errors.New("storage: object not found")

// Uploader stores bytes under a path. Uploading to an existing path overwrites it.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (*Object, error)
}

// Reader loads a previously uploaded object.
type Reader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// Store is a blob backend that can both write and read objects.
type Store interface {
	Uploader
	Reader
}

// ContentTypeFor picks the upload content type from the output filename:
// .jpg and .jpeg are JPEG, everything else is PNG.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return ContentTypeJPEG
	default:
		return ContentTypePNG
	}
}

// ExtensionFor returns the file extension matching ContentTypeFor.
func ExtensionFor(filename string) string {
	if ContentTypeFor(filename) == ContentTypeJPEG {
		return ".jpg"
	}
	return ".png"
}

// DetectType sniffs the MIME type of data.
func DetectType(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return mimetype.Detect(data).String()
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

func joinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out += "/" + p
	}
	return out
}
