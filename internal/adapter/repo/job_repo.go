package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/infra"
	"lessonforge/server/internal/sqlinline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Enqueue inserts a new queued job record.
func (r *JobRepositoryPG) Enqueue(ctx context.Context, job domain.NewJob) (*domain.GenerationJob, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QEnqueueJob,
		strings.TrimSpace(job.ID),
		deref(job.ContentID),
		strings.TrimSpace(job.Kind),
		deref(job.Usage),
		deref(job.AssetID),
		strings.TrimSpace(job.Workflow),
		job.Prompt,
		job.NegativePrompt,
		job.AltText,
		job.Params.Width,
		job.Params.Height,
		job.Params.Steps,
		job.Params.CFGScale,
		job.Params.Sampler,
		job.Params.Scheduler,
		job.Params.Seed,
	)
	created, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return created, nil
}

// ClaimQueued moves up to limit queued jobs to running in a single statement.
func (r *JobRepositoryPG) ClaimQueued(ctx context.Context, limit int) ([]domain.GenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QClaimQueuedJobs, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	// UPDATE ... RETURNING does not keep the CTE order.
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// MarkCompleted records the terminal success fields.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID, storagePath, publicURL, assetID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkJobCompleted, jobID, storagePath, publicURL, assetID)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed records the terminal failure and its message.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, message string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkJobFailed, jobID, message)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Requeue resets a failed job to queued; attempts are preserved.
func (r *JobRepositoryPG) Requeue(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QRequeueFailedJob, jobID))
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, fmt.Errorf("requeue job: %w", err)
	}
	if _, err := r.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return nil, domain.ErrJobNotFailed
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List returns recent jobs, newest first.
func (r *JobRepositoryPG) List(ctx context.Context, filter domain.JobFilter) ([]domain.GenerationJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListJobs, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]domain.GenerationJob, error) {
	defer rows.Close()
	var jobs []domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// scanJob reads one row in sqlinline.JobColumns order.
func scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	var status string
	if err := row.Scan(
		&job.ID,
		&job.ContentID,
		&job.Kind,
		&job.Usage,
		&job.AssetID,
		&job.Workflow,
		&job.Prompt,
		&job.NegativePrompt,
		&job.AltText,
		&job.Params.Width,
		&job.Params.Height,
		&job.Params.Steps,
		&job.Params.CFGScale,
		&job.Params.Sampler,
		&job.Params.Scheduler,
		&job.Params.Seed,
		&status,
		&job.Attempts,
		&job.LastError,
		&job.StoragePath,
		&job.PublicURL,
		&job.ResultAssetID,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
