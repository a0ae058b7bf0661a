package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/infra/sqltest"
	"lessonforge/server/internal/sqlinline"
)

var baseTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func jobRow(id string, status domain.JobStatus, attempts int, created time.Time) []any {
	return []any{
		id,
		"lesson-42",
		"hero",
		nil,
		nil,
		"basic",
		"a friendly robot teacher",
		"",
		nil,
		768,
		512,
		nil,
		6.5,
		nil,
		nil,
		int64(1234),
		string(status),
		attempts,
		nil,
		nil,
		nil,
		nil,
		created,
		created,
	}
}

func TestEnqueueValidatesBeforeQuerying(t *testing.T) {
	exec := &sqltest.Executor{}
	repo := NewJobRepository(exec)

	_, err := repo.Enqueue(context.Background(), domain.NewJob{Workflow: "basic"})

	assert.True(t, errors.Is(err, domain.ErrInvalidJob))
	assert.Empty(t, exec.Calls())
}

func TestEnqueueScansCreatedJob(t *testing.T) {
	exec := &sqltest.Executor{
		QueryRowFn: func(query string, args []any) pgx.Row {
			return sqltest.NewRow(jobRow("job-1", domain.JobStatusQueued, 0, baseTime)...)
		},
	}
	repo := NewJobRepository(exec)
	content := " lesson-42 "
	width := 768

	job, err := repo.Enqueue(context.Background(), domain.NewJob{
		ContentID: &content,
		Kind:      "hero",
		Workflow:  "basic",
		Prompt:    "a friendly robot teacher",
		Params:    domain.JobParams{Width: &width},
	})
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	require.NotNil(t, job.ContentID)
	assert.Equal(t, "lesson-42", *job.ContentID)
	require.NotNil(t, job.Params.Width)
	assert.Equal(t, 768, *job.Params.Width)
	assert.Nil(t, job.Params.Steps)
	require.NotNil(t, job.Params.Seed)
	assert.Equal(t, int64(1234), *job.Params.Seed)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, sqlinline.QEnqueueJob, calls[0].Query)
	require.Len(t, calls[0].Args, 16)
	assert.Equal(t, "lesson-42", calls[0].Args[1])
	assert.Equal(t, "", calls[0].Args[3])
}

func TestClaimQueuedReturnsOldestFirst(t *testing.T) {
	rows := sqltest.NewRows(
		jobRow("b", domain.JobStatusRunning, 1, baseTime.Add(time.Minute)),
		jobRow("a", domain.JobStatusRunning, 2, baseTime),
	)
	exec := &sqltest.Executor{
		QueryFn: func(query string, args []any) (pgx.Rows, error) { return rows, nil },
	}
	repo := NewJobRepository(exec)

	jobs, err := repo.ClaimQueued(context.Background(), 5)
	require.NoError(t, err)

	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].ID)
	assert.Equal(t, 2, jobs[0].Attempts)
	assert.Equal(t, "b", jobs[1].ID)
	assert.True(t, rows.Closed())
	assert.Equal(t, []any{5}, exec.Calls()[0].Args)
}

func TestClaimQueuedPropagatesQueryError(t *testing.T) {
	exec := &sqltest.Executor{
		QueryFn: func(string, []any) (pgx.Rows, error) { return nil, errors.New("connection reset") },
	}
	repo := NewJobRepository(exec)

	_, err := repo.ClaimQueued(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestMarkCompletedUnknownJob(t *testing.T) {
	exec := &sqltest.Executor{
		ExecFn: func(string, []any) (pgconn.CommandTag, error) { return pgconn.NewCommandTag("UPDATE 0"), nil },
	}
	repo := NewJobRepository(exec)

	err := repo.MarkCompleted(context.Background(), "nope", "p", "u", "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompletedJobKeepsRequestedAndResultAssetIDsApart(t *testing.T) {
	row := jobRow("job-5", domain.JobStatusCompleted, 1, baseTime)
	row[21] = "lesson-42-3fa1c2d9-hero-1741944600000"
	exec := &sqltest.Executor{
		QueryRowFn: func(string, []any) pgx.Row { return sqltest.NewRow(row...) },
	}
	repo := NewJobRepository(exec)

	require.NoError(t, repo.MarkCompleted(context.Background(), "job-5", "p", "u", "lesson-42-3fa1c2d9-hero-1741944600000"))
	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, sqlinline.QMarkJobCompleted, calls[0].Query)

	job, err := repo.GetByID(context.Background(), "job-5")
	require.NoError(t, err)
	assert.Nil(t, job.AssetID)
	require.NotNil(t, job.ResultAssetID)
	assert.Equal(t, "lesson-42-3fa1c2d9-hero-1741944600000", *job.ResultAssetID)
}

func TestMarkFailedPassesMessage(t *testing.T) {
	exec := &sqltest.Executor{}
	repo := NewJobRepository(exec)

	require.NoError(t, repo.MarkFailed(context.Background(), "job-9", "no image produced"))

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, sqlinline.QMarkJobFailed, calls[0].Query)
	assert.Equal(t, []any{"job-9", "no image produced"}, calls[0].Args)
}

func TestRequeueDistinguishesMissingFromNotFailed(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		repo := NewJobRepository(&sqltest.Executor{})
		_, err := repo.Requeue(context.Background(), "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("not failed", func(t *testing.T) {
		exec := &sqltest.Executor{
			QueryRowFn: func(query string, args []any) pgx.Row {
				if query == sqlinline.QSelectJobByID {
					return sqltest.NewRow(jobRow("job-3", domain.JobStatusCompleted, 1, baseTime)...)
				}
				return sqltest.Row{}
			},
		}
		repo := NewJobRepository(exec)
		_, err := repo.Requeue(context.Background(), "job-3")
		assert.ErrorIs(t, err, domain.ErrJobNotFailed)
	})

	t.Run("failed", func(t *testing.T) {
		exec := &sqltest.Executor{
			QueryRowFn: func(string, []any) pgx.Row {
				return sqltest.NewRow(jobRow("job-4", domain.JobStatusQueued, 3, baseTime)...)
			},
		}
		repo := NewJobRepository(exec)
		job, err := repo.Requeue(context.Background(), "job-4")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.Status)
		assert.Equal(t, 3, job.Attempts)
	})
}

func TestListClampsLimit(t *testing.T) {
	exec := &sqltest.Executor{}
	repo := NewJobRepository(exec)

	_, err := repo.List(context.Background(), domain.JobFilter{Status: domain.JobStatusFailed, Limit: 5000})
	require.NoError(t, err)
	_, err = repo.List(context.Background(), domain.JobFilter{})
	require.NoError(t, err)

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []any{"failed", maxListLimit}, calls[0].Args)
	assert.Equal(t, []any{"", defaultListLimit}, calls[1].Args)
}
