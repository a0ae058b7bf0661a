package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"lessonforge/server/internal/infra"
)

// Open builds the uploader selected by cfg.Driver. For the filesystem driver
// it also returns the root directory to serve under /static.
func Open(ctx context.Context, cfg infra.StorageConfig) (Store, string, error) {
	switch cfg.Driver {
	case infra.StorageDriverS3:
		store, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	case infra.StorageDriverFilesystem, "":
		root := cfg.Path
		if root == "" {
			root = "./storage"
		}
		if !filepath.IsAbs(root) {
			if abs, err := filepath.Abs(root); err == nil {
				root = abs
			}
		}
		store, err := NewFileStore(root, cfg.BaseURL, cfg.Bucket)
		if err != nil {
			return nil, "", err
		}
		return store, root, nil
	default:
		return nil, "", fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}
