package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/server/internal/adapter/memory"
	"lessonforge/server/internal/domain"
	"lessonforge/server/internal/http/handlers"
	"lessonforge/server/internal/storage"
	"lessonforge/server/internal/workflow"
)

type stubBatch struct {
	limits  []int
	ctxErrs []error
	result  domain.BatchResult
	err     error
}

func (s *stubBatch) ProcessBatch(ctx context.Context, limit int) (domain.BatchResult, error) {
	s.limits = append(s.limits, limit)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.result, s.err
}

type testServer struct {
	srv    *httptest.Server
	jobs   *memory.JobStore
	assets *memory.AssetStore
	batch  *stubBatch
	blobs  *storage.FileStore
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	reg := workflow.NewRegistry()
	require.NoError(t, reg.Register("basic", []byte(`{"6": {"inputs": {"text": "{{prompt}}"}}}`)))

	blobs, err := storage.NewFileStore(t.TempDir(), "http://cdn.test/static", "content-assets")
	require.NoError(t, err)
	ts := &testServer{
		blobs:  blobs,
		jobs:   memory.NewJobStore(nil),
		assets: memory.NewAssetStore(nil),
		batch:  &stubBatch{result: domain.BatchResult{Processed: 2, Succeeded: 1, Failed: 1}},
	}
	app := &handlers.App{
		Jobs:         ts.jobs,
		Assets:       ts.assets,
		Worker:       ts.batch,
		Blobs:        ts.blobs,
		Templates:    reg,
		Logger:       zerolog.Nop(),
		DefaultBatch: 10,
	}
	opts.Logger = zerolog.Nop()
	ts.srv = httptest.NewServer(NewRouter(app, opts))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestHealthAndWorkflows(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, body := ts.do(t, http.MethodGet, "/v1/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	_, body = ts.do(t, http.MethodGet, "/v1/workflows", "", "")
	assert.Equal(t, []any{"basic"}, body["workflows"])
}

func TestEnqueueAndFetchJob(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, body := ts.do(t, http.MethodPost, "/v1/jobs", `{"kind": "hero", "workflow": "basic", "content_id": "lesson-42", "prompt": "owl", "width": 512}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, float64(0), body["attempts"])
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	resp, body = ts.do(t, http.MethodGet, "/v1/jobs/"+id, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "lesson-42", body["content_id"])
	params, _ := body["params"].(map[string]any)
	assert.Equal(t, float64(512), params["width"])

	resp, body = ts.do(t, http.MethodGet, "/v1/jobs?status=queued", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs, _ := body["jobs"].([]any)
	assert.Len(t, jobs, 1)
}

func TestEnqueueValidation(t *testing.T) {
	ts := newTestServer(t, Options{})

	cases := map[string]string{
		"bad json":         `{`,
		"missing kind":     `{"workflow": "basic"}`,
		"missing workflow": `{"kind": "hero"}`,
		"unknown workflow": `{"kind": "hero", "workflow": "nope"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/v1/jobs", payload, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, body := ts.do(t, http.MethodGet, "/v1/jobs/ghost", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
}

func TestListRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, _ := ts.do(t, http.MethodGet, "/v1/jobs?status=paused", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetryJob(t *testing.T) {
	ts := newTestServer(t, Options{})
	ctx := context.Background()
	job, err := ts.jobs.Enqueue(ctx, domain.NewJob{ID: "job-1", Kind: "hero", Workflow: "basic"})
	require.NoError(t, err)

	resp, _ := ts.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/retry", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err = ts.jobs.ClaimQueued(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, ts.jobs.MarkFailed(ctx, job.ID, "no image produced"))

	resp, body := ts.do(t, http.MethodPost, "/v1/jobs/"+job.ID+"/retry", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, float64(1), body["attempts"])

	resp, _ = ts.do(t, http.MethodPost, "/v1/jobs/ghost/retry", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProcessJobsLimitSources(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, body := ts.do(t, http.MethodPost, "/v1/jobs/process", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"processed": float64(2), "succeeded": float64(1), "failed": float64(1)}, body)

	ts.do(t, http.MethodPost, "/v1/jobs/process?limit=3", "", "")
	ts.do(t, http.MethodPost, "/v1/jobs/process", `{"limit": 7}`, "")
	assert.Equal(t, []int{10, 3, 7}, ts.batch.limits)

	resp, _ = ts.do(t, http.MethodPost, "/v1/jobs/process?limit=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessJobsClaimFailure(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.batch.err = errors.New("claim queued jobs: connection refused")

	resp, body := ts.do(t, http.MethodPost, "/v1/jobs/process", "", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal", body["error"])
}

func TestProcessJobsSurvivesClientDisconnect(t *testing.T) {
	batch := &stubBatch{result: domain.BatchResult{Processed: 1, Succeeded: 1}}
	app := &handlers.App{Worker: batch, Logger: zerolog.Nop(), DefaultBatch: 5}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/process", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	app.ProcessJobs(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, batch.ctxErrs, 1)
	assert.NoError(t, batch.ctxErrs[0])
	assert.Equal(t, []int{5}, batch.limits)
}

func TestAdminTokenGuardsMutations(t *testing.T) {
	ts := newTestServer(t, Options{AdminToken: "s3cret"})

	resp, _ := ts.do(t, http.MethodPost, "/v1/jobs/process", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/v1/jobs", `{"kind": "hero", "workflow": "basic"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/v1/jobs/process", "", "s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/v1/jobs", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProcessJobsRateLimited(t *testing.T) {
	ts := newTestServer(t, Options{ProcessRateLimit: 1})

	resp, _ := ts.do(t, http.MethodPost, "/v1/jobs/process", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/v1/jobs/process", "", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestAssetEndpoints(t *testing.T) {
	ts := newTestServer(t, Options{})
	ctx := context.Background()
	require.NoError(t, ts.assets.UpsertAsset(ctx, domain.Asset{ID: "asset-1", Kind: domain.AssetKindImage, URI: "http://cdn/1.png"}))
	require.NoError(t, ts.assets.LinkAsset(ctx, "lesson-42", "asset-1", "hero"))

	resp, body := ts.do(t, http.MethodGet, "/v1/assets/asset-1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://cdn/1.png", body["uri"])

	_, body = ts.do(t, http.MethodGet, "/v1/contents/lesson-42/assets", "", "")
	links, _ := body["links"].([]any)
	assert.Len(t, links, 1)

	resp, _ = ts.do(t, http.MethodGet, "/v1/assets/missing", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaticFilesServed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "content-assets", "lesson-42"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content-assets", "lesson-42", "1.png"), []byte("png"), 0o644))
	ts := newTestServer(t, Options{StaticDir: dir})

	resp, err := http.Get(ts.srv.URL + "/static/content-assets/lesson-42/1.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestContentBundle(t *testing.T) {
	ts := newTestServer(t, Options{})
	ctx := context.Background()

	resp, _ := ts.do(t, http.MethodGet, "/v1/contents/lesson-42/assets.zip", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	obj, err := ts.blobs.Upload(ctx, "lesson-42/hero/1.png", []byte("png-bytes"), storage.ContentTypePNG)
	require.NoError(t, err)
	require.NoError(t, ts.assets.UpsertAsset(ctx, domain.Asset{
		ID:       "asset-1",
		Kind:     domain.AssetKindImage,
		URI:      obj.PublicURL,
		Metadata: map[string]any{"storage_path": obj.Path},
	}))
	require.NoError(t, ts.assets.LinkAsset(ctx, "lesson-42", "asset-1", "hero"))

	resp, err = http.Get(ts.srv.URL + "/v1/contents/lesson-42/assets.zip")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "lesson-42-assets.zip")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "hero/asset-1.png", zr.File[0].Name)
}
