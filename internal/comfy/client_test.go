package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/server/internal/workflow"
)

const basicTemplate = `{
  "5": {"class_type": "EmptyLatentImage", "inputs": {"width": "{{width}}", "height": "{{height}}", "batch_size": 1}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "{{prompt}}"}},
  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "lesson"}}
}`

type fakeWorker struct {
	t           *testing.T
	submitted   json.RawMessage
	clientID    string
	submitReply string
	submitCode  int
	history     func(call int) string
	historyHits atomic.Int32
	viewStatus  int
	viewQuery   map[string]string
}

func (f *fakeWorker) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.submitted = req.Prompt
		f.clientID = req.ClientID
		if f.submitCode != 0 {
			w.WriteHeader(f.submitCode)
		}
		_, _ = w.Write([]byte(f.submitReply))
	})
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, r *http.Request) {
		call := int(f.historyHits.Add(1))
		_, _ = w.Write([]byte(f.history(call)))
	})
	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f.viewQuery = map[string]string{"filename": q.Get("filename"), "subfolder": q.Get("subfolder"), "type": q.Get("type")}
		if f.viewStatus != 0 {
			w.WriteHeader(f.viewStatus)
			_, _ = w.Write([]byte("missing"))
			return
		}
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	srv := httptest.NewServer(mux)
	f.t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	reg := workflow.NewRegistry()
	require.NoError(t, reg.Register("basic", []byte(basicTemplate)))
	return NewClient(Options{
		BaseURL:      baseURL,
		Templates:    reg,
		PollInterval: 5 * time.Millisecond,
		ClientID:     "test-client",
	})
}

func TestRunReturnsFirstImageAfterPolling(t *testing.T) {
	fw := &fakeWorker{t: t, submitReply: `{"prompt_id": "sub-1", "number": 3, "node_errors": {}}`}
	fw.history = func(call int) string {
		if call < 2 {
			return `{}`
		}
		return `{"sub-1": {"status": {"status_str": "success", "completed": true},
			"outputs": {"9": {"images": [{"filename": "lesson_00001_.png", "subfolder": "kids", "type": "output"}]}}}}`
	}
	client := newTestClient(t, fw.server().URL)

	res, err := client.Run(context.Background(), "basic", workflow.Variables{"width": 640, "height": 480, "prompt": "a happy owl"}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "sub-1", res.SubmissionID)
	assert.Equal(t, 2, res.Polls)
	require.NotNil(t, res.Output)
	assert.Equal(t, OutputRef{Filename: "lesson_00001_.png", Subfolder: "kids", Type: "output"}, *res.Output)
	assert.Contains(t, string(res.Outputs), "lesson_00001_.png")
	assert.Equal(t, "test-client", fw.clientID)

	var graph map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(fw.submitted, &graph))
	assert.Equal(t, float64(640), graph["5"]["inputs"]["width"])
	assert.Equal(t, "a happy owl", graph["6"]["inputs"]["text"])
}

func TestRunAcceptsFlatHistoryShape(t *testing.T) {
	fw := &fakeWorker{t: t, submitReply: `{"submission_id": "flat-1"}`}
	fw.history = func(int) string {
		return `{"outputs": {"9": {"files": [{"filename": "sheet.jpg", "subfolder": ""}]}}}`
	}
	client := newTestClient(t, fw.server().URL)

	res, err := client.Run(context.Background(), "basic", nil, time.Second)
	require.NoError(t, err)

	require.NotNil(t, res.Output)
	assert.Equal(t, "sheet.jpg", res.Output.Filename)
	assert.Equal(t, "output", res.Output.Type)
	assert.Equal(t, 1, res.Polls)
}

func TestRunPicksLowestNodeWithImages(t *testing.T) {
	fw := &fakeWorker{t: t, submitReply: `{"prompt_id": "p"}`}
	fw.history = func(int) string {
		return `{"p": {"outputs": {
			"12": {"images": [{"filename": "late.png", "type": "output"}]},
			"10": {"text": ["caption"]},
			"9": {"images": [{"filename": "early.png", "type": "output"}]}
		}}}`
	}
	client := newTestClient(t, fw.server().URL)

	res, err := client.Run(context.Background(), "basic", nil, time.Second)
	require.NoError(t, err)
	require.NotNil(t, res.Output)
	assert.Equal(t, "early.png", res.Output.Filename)
}

func TestRunSucceedsWithoutImage(t *testing.T) {
	fw := &fakeWorker{t: t, submitReply: `{"prompt_id": "p"}`}
	fw.history = func(int) string {
		return `{"p": {"outputs": {"10": {"text": ["only words"]}, "11": {"images": []}}}}`
	}
	client := newTestClient(t, fw.server().URL)

	res, err := client.Run(context.Background(), "basic", nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, res.Output)
	assert.Contains(t, string(res.Outputs), "only words")
}

func TestRunTimesOutWithinBudget(t *testing.T) {
	fw := &fakeWorker{t: t, submitReply: `{"prompt_id": "stuck-7"}`}
	fw.history = func(int) string { return `{}` }
	client := newTestClient(t, fw.server().URL)

	start := time.Now()
	_, err := client.Run(context.Background(), "basic", nil, 40*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "stuck-7", timeoutErr.SubmissionID)
	assert.Contains(t, err.Error(), "stuck-7")
	assert.Less(t, elapsed, time.Second)
	assert.LessOrEqual(t, int(fw.historyHits.Load()), 8)
}

func TestRunRequiresBaseURL(t *testing.T) {
	client := newTestClient(t, "")

	_, err := client.Run(context.Background(), "basic", nil, time.Second)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunUnknownTemplateIsConfigError(t *testing.T) {
	fw := &fakeWorker{t: t, submitReply: `{"prompt_id": "p"}`}
	client := newTestClient(t, fw.server().URL)

	_, err := client.Run(context.Background(), "missing", nil, time.Second)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, errors.Is(err, workflow.ErrTemplateNotFound))
	assert.Nil(t, fw.submitted)
}

func TestRunSubmissionWithoutIDIsProtocolError(t *testing.T) {
	fw := &fakeWorker{t: t, submitReply: `{"number": 1}`}
	client := newTestClient(t, fw.server().URL)

	_, err := client.Run(context.Background(), "basic", nil, time.Second)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, err.Error(), "no id")
}

func TestRunSubmissionRejected(t *testing.T) {
	fw := &fakeWorker{t: t, submitCode: http.StatusBadRequest, submitReply: `{"error": "invalid prompt"}`}
	client := newTestClient(t, fw.server().URL)

	_, err := client.Run(context.Background(), "basic", nil, time.Second)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusBadRequest, fetchErr.Status)
	assert.Equal(t, "submit", fetchErr.Op)
}

func TestRunExecutionErrorIsProtocolError(t *testing.T) {
	fw := &fakeWorker{t: t, submitReply: `{"prompt_id": "bad"}`}
	fw.history = func(int) string {
		return `{"bad": {"status": {"status_str": "error", "completed": false}, "outputs": {}}}`
	}
	client := newTestClient(t, fw.server().URL)

	_, err := client.Run(context.Background(), "basic", nil, time.Second)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "bad", protoErr.SubmissionID)
}

func TestRunMalformedHistory(t *testing.T) {
	fw := &fakeWorker{t: t, submitReply: `{"prompt_id": "m"}`}
	fw.history = func(int) string { return `[1, 2]` }
	client := newTestClient(t, fw.server().URL)

	_, err := client.Run(context.Background(), "basic", nil, time.Second)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "m", protoErr.SubmissionID)
}

func TestFetchBinary(t *testing.T) {
	fw := &fakeWorker{t: t}
	client := newTestClient(t, fw.server().URL)

	data, err := client.FetchBinary(context.Background(), OutputRef{Filename: "a b.png", Subfolder: "kids", Type: "output"})
	require.NoError(t, err)

	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
	assert.Equal(t, map[string]string{"filename": "a b.png", "subfolder": "kids", "type": "output"}, fw.viewQuery)
}

func TestFetchBinaryReportsStatus(t *testing.T) {
	fw := &fakeWorker{t: t, viewStatus: http.StatusNotFound}
	client := newTestClient(t, fw.server().URL)

	_, err := client.FetchBinary(context.Background(), OutputRef{Filename: "gone.png"})

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.Status)
	assert.Contains(t, err.Error(), "404")
}
