package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"lessonforge/server/internal/http/handlers"
	"lessonforge/server/internal/middleware"
)

// Options carries the surface-level settings of the router.
type Options struct {
	Logger           zerolog.Logger
	AdminToken       string
	CORSOrigins      []string
	ProcessRateLimit int
	// Country, when set, adds the caller's country to access logs.
	Country middleware.CountryLookup
	// StaticDir, when set, is served under /static/ for local blob storage.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Country(opts.Country),
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/workflows", app.Workflows)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", app.ListJobs)
		r.Get("/{id}", app.GetJob)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminToken(opts.AdminToken))
			r.Post("/", app.EnqueueJob)
			r.Post("/{id}/retry", app.RetryJob)
			r.With(middleware.RateLimit(opts.ProcessRateLimit, time.Minute)).Post("/process", app.ProcessJobs)
		})
	})

	r.Get("/v1/assets/{id}", app.GetAsset)
	r.Get("/v1/contents/{id}/assets", app.ContentAssets)
	r.Get("/v1/contents/{id}/assets.zip", app.ContentBundle)

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	return r
}
