// Package service assembles the repositories, generator, storage and worker
// shared by the api, worker and jobctl commands.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lessonforge/server/internal/adapter/memory"
	"lessonforge/server/internal/adapter/repo"
	"lessonforge/server/internal/comfy"
	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/infra"
	"lessonforge/server/internal/pipeline"
	"lessonforge/server/internal/storage"
	"lessonforge/server/internal/workflow"
)

// Services is the wired application graph.
type Services struct {
	Jobs      domain.JobRepository
	Assets    domain.AssetRepository
	Templates *workflow.Registry
	Generator *comfy.Client
	Uploader  storage.Store
	Worker    *pipeline.Worker
	// StaticDir is the FileStore root, empty for S3.
	StaticDir string

	pool *pgxpool.Pool
}

// New wires every component from cfg. Without a DATABASE_URL the in-memory
// repositories are used, which only makes sense for a single process.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Services, error) {
	s := &Services{}

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		s.pool = pool
		s.Jobs = repo.NewJobRepository(runner)
		s.Assets = repo.NewAssetRepository(runner)
	} else {
		logger.Warn().Msg("service: DATABASE_URL not set, using in-memory repositories")
		s.Jobs = memory.NewJobStore(nil)
		s.Assets = memory.NewAssetStore(nil)
	}

	templates, err := workflow.LoadDir(cfg.Generation.WorkflowDir)
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.Generation.WorkflowDir).Msg("service: no workflow templates loaded")
		templates = workflow.NewRegistry()
	}
	s.Templates = templates

	s.Generator = comfy.NewClient(comfy.Options{
		BaseURL:      cfg.Generation.BaseURL,
		Templates:    templates,
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
		PollInterval: cfg.Generation.PollInterval,
		Logger:       &logger,
	})
	if cfg.Generation.BaseURL == "" {
		logger.Warn().Msg("service: COMFY_BASE_URL not set, every job will fail with a configuration error")
	}

	uploader, staticDir, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("configure storage: %w", err)
	}
	s.Uploader = uploader
	s.StaticDir = staticDir

	s.Worker = pipeline.NewWorker(pipeline.Options{
		Jobs:      s.Jobs,
		Assets:    s.Assets,
		Generator: s.Generator,
		Uploader:  s.Uploader,
		Logger:    logger,
		Timeout:   cfg.Generation.Timeout,
		Bucket:    cfg.Storage.Bucket,
	})
	return s, nil
}

// Close releases the database pool, if any.
func (s *Services) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
