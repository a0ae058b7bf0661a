package domain

import "context"

// JobRepository persists generation jobs. Every mutation touches exactly one row.
type JobRepository interface {
	Enqueue(ctx context.Context, job NewJob) (*GenerationJob, error)
	// ClaimQueued atomically moves up to limit queued jobs to running,
	// incrementing attempts and clearing the previous error. Returned jobs are
	// ordered oldest first.
	ClaimQueued(ctx context.Context, limit int) ([]GenerationJob, error)
	MarkCompleted(ctx context.Context, jobID, storagePath, publicURL, assetID string) error
	MarkFailed(ctx context.Context, jobID, message string) error
	// Requeue resets a failed job to queued. Returns ErrJobNotFailed when the
	// job exists in another state and ErrNotFound when it does not exist.
	Requeue(ctx context.Context, jobID string) (*GenerationJob, error)
	GetByID(ctx context.Context, jobID string) (*GenerationJob, error)
	List(ctx context.Context, filter JobFilter) ([]GenerationJob, error)
}

// AssetRepository idempotently persists assets and content links.
type AssetRepository interface {
	UpsertAsset(ctx context.Context, asset Asset) error
	LinkAsset(ctx context.Context, contentID, assetID, usage string) error
	GetAsset(ctx context.Context, assetID string) (*Asset, error)
	ListLinks(ctx context.Context, contentID string) ([]ContentAssetLink, error)
}
