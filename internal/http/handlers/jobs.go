package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lessonforge/server/internal/domain"
)

type enqueueRequest struct {
	ID             string   `json:"id"`
	ContentID      *string  `json:"content_id"`
	Kind           string   `json:"kind"`
	Usage          *string  `json:"usage"`
	AssetID        *string  `json:"asset_id"`
	Workflow       string   `json:"workflow"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	AltText        *string  `json:"alt_text"`
	Width          *int     `json:"width"`
	Height         *int     `json:"height"`
	Steps          *int     `json:"steps"`
	CFGScale       *float64 `json:"cfg_scale"`
	Sampler        *string  `json:"sampler"`
	Scheduler      *string  `json:"scheduler"`
	Seed           *int64   `json:"seed"`
}

func (req enqueueRequest) toNewJob() domain.NewJob {
	return domain.NewJob{
		ID:             strings.TrimSpace(req.ID),
		ContentID:      req.ContentID,
		Kind:           strings.TrimSpace(req.Kind),
		Usage:          req.Usage,
		AssetID:        req.AssetID,
		Workflow:       strings.TrimSpace(req.Workflow),
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AltText:        req.AltText,
		Params: domain.JobParams{
			Width:     req.Width,
			Height:    req.Height,
			Steps:     req.Steps,
			CFGScale:  req.CFGScale,
			Sampler:   req.Sampler,
			Scheduler: req.Scheduler,
			Seed:      req.Seed,
		},
	}
}

type listResponse struct {
	Jobs []domain.GenerationJob `json:"jobs"`
}

type processRequest struct {
	Limit *int `json:"limit"`
}

func (a *App) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job := req.toNewJob()
	if err := job.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if a.Templates != nil && !a.Templates.Has(job.Workflow) {
		a.error(w, http.StatusBadRequest, "unknown_workflow", "workflow "+strconv.Quote(job.Workflow)+" is not registered")
		return
	}

	created, err := a.Jobs.Enqueue(r.Context(), job)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidJob) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("jobs: enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.Logger.Info().Str("job_id", created.ID).Str("workflow", created.Workflow).Msg("jobs: queued")
	a.json(w, http.StatusCreated, created)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.repoError(w, err, "failed to load job")
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.JobFilter{Status: domain.JobStatus(strings.ToLower(strings.TrimSpace(q.Get("status"))))}
	if filter.Status != "" && !filter.Status.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown status")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	jobs, err := a.Jobs.List(r.Context(), filter)
	if err != nil {
		a.Logger.Error().Err(err).Msg("jobs: list failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []domain.GenerationJob{}
	}
	a.json(w, http.StatusOK, listResponse{Jobs: jobs})
}

// RetryJob re-enqueues a failed job.
func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFailed) {
			a.error(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		a.repoError(w, err, "failed to requeue job")
		return
	}
	a.Logger.Info().Str("job_id", job.ID).Int("attempts", job.Attempts).Msg("jobs: requeued")
	a.json(w, http.StatusOK, job)
}

// ProcessJobs runs one batch synchronously and reports its counts. Per-job
// failures are part of the counts; only a failed claim is an error. The batch
// outlives the request: a caller that disconnects still gets its claimed jobs
// finished and recorded.
func (a *App) ProcessJobs(w http.ResponseWriter, r *http.Request) {
	limit := a.DefaultBatch
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be an integer")
			return
		}
		limit = parsed
	} else if r.Body != nil {
		var req processRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		switch {
		case errors.Is(err, io.EOF):
		case err != nil:
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		case req.Limit != nil:
			limit = *req.Limit
		}
	}

	result, err := a.Worker.ProcessBatch(context.WithoutCancel(r.Context()), limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("jobs: batch failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process jobs")
		return
	}
	a.json(w, http.StatusOK, result)
}

func (a *App) repoError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	a.Logger.Error().Err(err).Msg("jobs: " + msg)
	a.error(w, http.StatusInternalServerError, "internal", msg)
}
