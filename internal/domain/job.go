package domain

import (
	"strings"
	"time"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Valid reports whether s is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition happens without a manual re-enqueue.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobParams carries the optional, workflow-template-specific generation
// parameters. A nil pointer means "unset" and falls back to the defaults
// applied by the pipeline.
type JobParams struct {
	Width     *int     `json:"width,omitempty"`
	Height    *int     `json:"height,omitempty"`
	Steps     *int     `json:"steps,omitempty"`
	CFGScale  *float64 `json:"cfg_scale,omitempty"`
	Sampler   *string  `json:"sampler,omitempty"`
	Scheduler *string  `json:"scheduler,omitempty"`
	Seed      *int64   `json:"seed,omitempty"`
}

// GenerationJob is one queued request to produce one asset via one workflow
// template invocation.
type GenerationJob struct {
	ID             string    `json:"id"`
	ContentID      *string   `json:"content_id,omitempty"`
	Kind           string    `json:"kind"`
	Usage          *string   `json:"usage,omitempty"`
	AssetID        *string   `json:"asset_id,omitempty"`
	Workflow       string    `json:"workflow"`
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negative_prompt"`
	AltText        *string   `json:"alt_text,omitempty"`
	Params         JobParams `json:"params"`
	Status         JobStatus `json:"status"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"last_error,omitempty"`
	StoragePath    *string   `json:"storage_path,omitempty"`
	PublicURL      *string   `json:"public_url,omitempty"`
	// ResultAssetID is the asset the run produced: the supplied AssetID or a
	// derived one. AssetID itself always keeps what the caller asked for.
	ResultAssetID  *string   `json:"result_asset_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UsageTag returns the link usage for the job, defaulting to the asset kind.
func (j GenerationJob) UsageTag() string {
	if j.Usage != nil {
		if u := strings.TrimSpace(*j.Usage); u != "" {
			return u
		}
	}
	return j.Kind
}

// TargetContent returns the trimmed content reference, or "" when the job is
// not attached to a content item.
func (j GenerationJob) TargetContent() string {
	if j.ContentID == nil {
		return ""
	}
	return strings.TrimSpace(*j.ContentID)
}

// NewJob describes the caller-supplied fields of an enqueue request.
type NewJob struct {
	ID             string
	ContentID      *string
	Kind           string
	Usage          *string
	AssetID        *string
	Workflow       string
	Prompt         string
	NegativePrompt string
	AltText        *string
	Params         JobParams
}

// Validate checks the minimum fields needed to enqueue.
func (n NewJob) Validate() error {
	if strings.TrimSpace(n.Kind) == "" {
		return ErrInvalidJob.With("kind is required")
	}
	if strings.TrimSpace(n.Workflow) == "" {
		return ErrInvalidJob.With("workflow is required")
	}
	return nil
}

// BatchResult aggregates the outcome of one ProcessBatch pass.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status JobStatus
	Limit  int
}
