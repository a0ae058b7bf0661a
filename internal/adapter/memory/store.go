// Package memory holds process-local repositories used by tests and by
// jobctl when no database is configured.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lessonforge/server/internal/domain"
)

// Clock returns the current time; tests inject a fixed sequence.
type Clock func() time.Time

// JobStore is an in-memory domain.JobRepository.
type JobStore struct {
	mu   sync.Mutex
	now  Clock
	jobs map[string]*domain.GenerationJob
}

// NewJobStore returns an empty store. A nil clock uses time.Now.
func NewJobStore(now Clock) *JobStore {
	if now == nil {
		now = time.Now
	}
	return &JobStore{now: now, jobs: make(map[string]*domain.GenerationJob)}
}

func (s *JobStore) Enqueue(_ context.Context, n domain.NewJob) (*domain.GenerationJob, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(n.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.jobs[id]; exists {
		return nil, errors.New("enqueue job: duplicate id " + id)
	}
	now := s.now().UTC()
	job := &domain.GenerationJob{
		ID:             id,
		ContentID:      trimmed(n.ContentID),
		Kind:           strings.TrimSpace(n.Kind),
		Usage:          trimmed(n.Usage),
		AssetID:        trimmed(n.AssetID),
		Workflow:       strings.TrimSpace(n.Workflow),
		Prompt:         n.Prompt,
		NegativePrompt: n.NegativePrompt,
		AltText:        n.AltText,
		Params:         n.Params,
		Status:         domain.JobStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.jobs[id] = job
	out := *job
	return &out, nil
}

func (s *JobStore) ClaimQueued(_ context.Context, limit int) ([]domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := make([]*domain.GenerationJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusQueued {
			queued = append(queued, job)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].ID < queued[j].ID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	if limit < len(queued) {
		queued = queued[:max(limit, 0)]
	}

	now := s.now().UTC()
	claimed := make([]domain.GenerationJob, 0, len(queued))
	for _, job := range queued {
		job.Status = domain.JobStatusRunning
		job.Attempts++
		job.LastError = nil
		job.UpdatedAt = now
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (s *JobStore) MarkCompleted(_ context.Context, jobID, storagePath, publicURL, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusCompleted
	job.StoragePath = &storagePath
	job.PublicURL = &publicURL
	job.ResultAssetID = &assetID
	job.LastError = nil
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *JobStore) MarkFailed(_ context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusFailed
	job.LastError = &message
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *JobStore) Requeue(_ context.Context, jobID string) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusFailed {
		return nil, domain.ErrJobNotFailed
	}
	job.Status = domain.JobStatusQueued
	job.UpdatedAt = s.now().UTC()
	out := *job
	return &out, nil
}

func (s *JobStore) GetByID(_ context.Context, jobID string) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (s *JobStore) List(_ context.Context, filter domain.JobFilter) ([]domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.GenerationJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

type linkKey struct {
	content, asset, usage string
}

// AssetStore is an in-memory domain.AssetRepository with upsert semantics
// matching the SQL statements.
type AssetStore struct {
	mu     sync.Mutex
	now    Clock
	assets map[string]*domain.Asset
	links  map[linkKey]*domain.ContentAssetLink
}

// NewAssetStore returns an empty store. A nil clock uses time.Now.
func NewAssetStore(now Clock) *AssetStore {
	if now == nil {
		now = time.Now
	}
	return &AssetStore{
		now:    now,
		assets: make(map[string]*domain.Asset),
		links:  make(map[linkKey]*domain.ContentAssetLink),
	}
}

func (s *AssetStore) UpsertAsset(_ context.Context, asset domain.Asset) error {
	if strings.TrimSpace(asset.ID) == "" {
		return errors.New("upsert asset: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	meta := make(map[string]any, len(asset.Metadata))
	for k, v := range asset.Metadata {
		meta[k] = v
	}
	stored := asset
	stored.Metadata = meta
	stored.UpdatedAt = now
	if prev, ok := s.assets[asset.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.assets[asset.ID] = &stored
	return nil
}

func (s *AssetStore) LinkAsset(_ context.Context, contentID, assetID, usage string) error {
	key := linkKey{strings.TrimSpace(contentID), strings.TrimSpace(assetID), strings.TrimSpace(usage)}
	if key.content == "" || key.asset == "" || key.usage == "" {
		return errors.New("link asset: content id, asset id and usage are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[key.asset]; !ok {
		return errors.New("link asset: unknown asset " + key.asset)
	}

	now := s.now().UTC()
	if link, ok := s.links[key]; ok {
		link.UpdatedAt = now
		return nil
	}
	s.links[key] = &domain.ContentAssetLink{
		ContentID: key.content,
		AssetID:   key.asset,
		Usage:     key.usage,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *AssetStore) GetAsset(_ context.Context, assetID string) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *asset
	return &out, nil
}

func (s *AssetStore) ListLinks(_ context.Context, contentID string) ([]domain.ContentAssetLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ContentAssetLink
	for key, link := range s.links {
		if key.content == contentID {
			out = append(out, *link)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Usage == out[j].Usage {
			return out[i].AssetID < out[j].AssetID
		}
		return out[i].Usage < out[j].Usage
	})
	return out, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

var (
	_ domain.JobRepository   = (*JobStore)(nil)
	_ domain.AssetRepository = (*AssetStore)(nil)
)
