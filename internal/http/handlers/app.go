package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/storage"
)

// BatchProcessor runs one pass of the job queue.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, limit int) (domain.BatchResult, error)
}

// TemplateCatalog reports which workflow templates can be enqueued.
type TemplateCatalog interface {
	Has(name string) bool
	Names() []string
}

type App struct {
	Jobs         domain.JobRepository
	Assets       domain.AssetRepository
	Worker       BatchProcessor
	Blobs        storage.Reader
	Templates    TemplateCatalog
	Logger       zerolog.Logger
	DefaultBatch int
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, errorResponse{Error: kind, Message: msg})
}
