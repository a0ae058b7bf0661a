// Package pipeline turns queued generation jobs into stored, linked assets.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lessonforge/server/internal/comfy"
	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/storage"
	"lessonforge/server/internal/workflow"
)

const (
	MinBatchLimit = 1
	MaxBatchLimit = 50
)

// Generator runs workflows on the external worker and downloads their outputs.
type Generator interface {
	Run(ctx context.Context, workflowName string, vars workflow.Variables, timeout time.Duration) (*comfy.Result, error)
	FetchBinary(ctx context.Context, ref comfy.OutputRef) ([]byte, error)
}

// Options wires a Worker.
type Options struct {
	Jobs      domain.JobRepository
	Assets    domain.AssetRepository
	Generator Generator
	Uploader  storage.Uploader
	Logger    zerolog.Logger
	Timeout   time.Duration
	Bucket    string
	Now       func() time.Time
}

// Worker processes queued jobs one batch at a time.
type Worker struct {
	jobs      domain.JobRepository
	assets    domain.AssetRepository
	generator Generator
	uploader  storage.Uploader
	logger    zerolog.Logger
	timeout   time.Duration
	bucket    string
	now       func() time.Time
}

func NewWorker(opts Options) *Worker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Worker{
		jobs:      opts.Jobs,
		assets:    opts.Assets,
		generator: opts.Generator,
		uploader:  opts.Uploader,
		logger:    opts.Logger,
		timeout:   opts.Timeout,
		bucket:    opts.Bucket,
		now:       now,
	}
}

// ClampLimit bounds a requested batch size to [MinBatchLimit, MaxBatchLimit].
func ClampLimit(limit int) int {
	if limit < MinBatchLimit {
		return MinBatchLimit
	}
	if limit > MaxBatchLimit {
		return MaxBatchLimit
	}
	return limit
}

// ProcessBatch claims up to limit queued jobs and runs them sequentially,
// oldest first. Only a failure to claim is returned as an error; every
// per-job failure is recorded on the job row and counted.
func (w *Worker) ProcessBatch(ctx context.Context, limit int) (domain.BatchResult, error) {
	limit = ClampLimit(limit)
	jobs, err := w.jobs.ClaimQueued(ctx, limit)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("claim queued jobs: %w", err)
	}

	result := domain.BatchResult{Processed: len(jobs)}
	for _, job := range jobs {
		if w.processJob(ctx, job) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	if result.Processed > 0 {
		w.logger.Info().
			Int("processed", result.Processed).
			Int("succeeded", result.Succeeded).
			Int("failed", result.Failed).
			Msg("pipeline: batch finished")
	}
	return result, nil
}

// generated is the durable outcome of steps run through upload.
type generated struct {
	submissionID string
	object       *storage.Object
	filename     string
	extension    string
	generatedAt  time.Time
}

func (w *Worker) processJob(ctx context.Context, job domain.GenerationJob) bool {
	logger := w.logger.With().Str("job_id", job.ID).Str("workflow", job.Workflow).Logger()
	logger.Info().Int("attempt", job.Attempts).Msg("pipeline: picked job")

	// Terminal writes must land even if the batch context is cancelled
	// mid-job, otherwise the row stays running forever.
	writeCtx := context.WithoutCancel(ctx)

	out, err := w.generate(ctx, job)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline: job failed")
		if markErr := w.jobs.MarkFailed(writeCtx, job.ID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("pipeline: record failure failed")
		}
		return false
	}

	assetID := w.assetID(job, out.generatedAt)
	logger = logger.With().Str("asset_id", assetID).Str("storage_path", out.object.Path).Logger()
	w.persistAsset(writeCtx, logger, job, assetID, out)

	if err := w.jobs.MarkCompleted(writeCtx, job.ID, out.object.Path, out.object.PublicURL, assetID); err != nil {
		logger.Error().Err(err).Msg("pipeline: record completion failed")
		if markErr := w.jobs.MarkFailed(writeCtx, job.ID, fmt.Sprintf("record completion: %v", err)); markErr != nil {
			logger.Error().Err(markErr).Msg("pipeline: record failure failed")
		}
		return false
	}
	logger.Info().Str("submission_id", out.submissionID).Msg("pipeline: job completed")
	return true
}

// generate runs the workflow, downloads its first output and uploads it.
func (w *Worker) generate(ctx context.Context, job domain.GenerationJob) (*generated, error) {
	if w.generator == nil {
		return nil, &comfy.ConfigError{Msg: "no generator configured"}
	}
	if w.uploader == nil {
		return nil, fmt.Errorf("no blob storage configured")
	}

	res, err := w.generator.Run(ctx, job.Workflow, Variables(job), w.timeout)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Output == nil {
		return nil, domain.ErrNoImage
	}

	data, err := w.generator.FetchBinary(ctx, *res.Output)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", res.Output.Filename)
	}

	generatedAt := w.now().UTC()
	ext := storage.ExtensionFor(res.Output.Filename)
	path := StoragePath(job.TargetContent(), job.Kind, generatedAt, ext)
	obj, err := w.uploader.Upload(ctx, path, data, storage.ContentTypeFor(res.Output.Filename))
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	return &generated{
		submissionID: res.SubmissionID,
		object:       obj,
		filename:     res.Output.Filename,
		extension:    ext,
		generatedAt:  generatedAt,
	}, nil
}

func (w *Worker) assetID(job domain.GenerationJob, generatedAt time.Time) string {
	if job.AssetID != nil {
		if id := strings.TrimSpace(*job.AssetID); id != "" {
			return id
		}
	}
	return DeriveAssetID(job.TargetContent(), job.Kind, generatedAt)
}

// persistAsset upserts the asset and its content link. Failures here are
// logged only: the binary is already stored and the job still completes.
func (w *Worker) persistAsset(ctx context.Context, logger zerolog.Logger, job domain.GenerationJob, assetID string, out *generated) {
	if w.assets == nil {
		logger.Warn().Msg("pipeline: no asset repository, skipping asset upsert")
		return
	}
	kind := domain.AssetKindImage
	if out.object.DetectedType != "" && !strings.HasPrefix(out.object.DetectedType, "image/") {
		kind = domain.AssetKindFile
	}
	bucket := out.object.Bucket
	if bucket == "" {
		bucket = w.bucket
	}
	asset := domain.Asset{
		ID:   assetID,
		Kind: kind,
		URI:  out.object.PublicURL,
		Metadata: map[string]any{
			"public_url":     out.object.PublicURL,
			"storage_path":   out.object.Path,
			"bucket":         bucket,
			"extension":      strings.TrimPrefix(out.extension, "."),
			"kind":           job.Kind,
			"workflow":       job.Workflow,
			"generated_at":   out.generatedAt.Format(time.RFC3339),
			"content_type":   out.object.ContentType,
			"detected_mime":  out.object.DetectedType,
			"size":           out.object.Size,
			"source_file":    out.filename,
			"submission_id":  out.submissionID,
			"generation_job": job.ID,
		},
		AltText: job.AltText,
	}
	if err := w.assets.UpsertAsset(ctx, asset); err != nil {
		logger.Warn().Err(err).Msg("pipeline: asset upsert failed, keeping job completed")
		return
	}

	contentID := job.TargetContent()
	if contentID == "" {
		return
	}
	if err := w.assets.LinkAsset(ctx, contentID, assetID, job.UsageTag()); err != nil {
		logger.Warn().Err(err).Str("content_id", contentID).Msg("pipeline: content link failed, keeping job completed")
	}
}
