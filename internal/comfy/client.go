// Package comfy drives workflow executions on an external generative worker
// through its submit, history and view endpoints.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lessonforge/server/internal/infra"
	"lessonforge/server/internal/workflow"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 5 * time.Minute
	maxErrorBody        = 512
)

// Options configures the client.
type Options struct {
	BaseURL      string
	Templates    workflow.Source
	HTTPClient   *http.Client
	PollInterval time.Duration
	ClientID     string
	Logger       *infra.Logger
}

// Client talks to one generative worker.
type Client struct {
	baseURL      string
	templates    workflow.Source
	httpClient   *http.Client
	pollInterval time.Duration
	clientID     string
	logger       *infra.Logger
}

// NewClient constructs a client. A missing base URL is not an error here; it
// surfaces as a ConfigError on every call so one bad setting fails jobs
// instead of the process.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	clientID := strings.TrimSpace(opts.ClientID)
	if clientID == "" {
		clientID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		templates:    opts.Templates,
		httpClient:   httpClient,
		pollInterval: interval,
		clientID:     clientID,
		logger:       logger,
	}
}

// PollInterval returns the fixed interval between history polls.
func (c *Client) PollInterval() time.Duration {
	return c.pollInterval
}

// Run renders the named workflow with vars, submits it and polls history
// until an output graph appears or timeout elapses.
func (c *Client) Run(ctx context.Context, workflowName string, vars workflow.Variables, timeout time.Duration) (*Result, error) {
	if c.baseURL == "" {
		return nil, &ConfigError{Msg: "generator base url is not configured"}
	}
	if c.templates == nil {
		return nil, &ConfigError{Msg: "no workflow template source configured"}
	}
	tpl, err := c.templates.Template(workflowName)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("load workflow %q", workflowName), Err: err}
	}
	graph, err := workflow.Render(tpl, vars)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("render workflow %q", workflowName), Err: err}
	}

	submissionID, err := c.submit(ctx, graph)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("workflow", workflowName).
		Str("submission_id", submissionID).
		Msg("comfy: submitted workflow")

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return c.await(ctx, submissionID, timeout)
}

// FetchBinary downloads one output produced by the worker.
func (c *Client) FetchBinary(ctx context.Context, ref OutputRef) ([]byte, error) {
	if c.baseURL == "" {
		return nil, &ConfigError{Msg: "generator base url is not configured"}
	}
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, &FetchError{Op: "view", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "view", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Op: "view", Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: "view", Status: resp.StatusCode, Err: err}
	}
	return data, nil
}

func (c *Client) submit(ctx context.Context, graph json.RawMessage) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", &FetchError{Op: "submit", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{Op: "submit", Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &ProtocolError{Msg: "decode submission response", Err: err}
	}
	id := strings.TrimSpace(decoded.PromptID)
	if id == "" {
		id = strings.TrimSpace(decoded.SubmissionID)
	}
	if id == "" {
		return "", &ProtocolError{Msg: "submission returned no id"}
	}
	return id, nil
}

// await polls history at a fixed interval. The budget is enforced both as a
// bounded number of polls and as a deadline on in-flight requests.
func (c *Client) await(ctx context.Context, submissionID string, timeout time.Duration) (*Result, error) {
	maxPolls := int(timeout / c.pollInterval)
	if timeout%c.pollInterval != 0 {
		maxPolls++
	}
	if maxPolls < 1 {
		maxPolls = 1
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timedOut := func(polls int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &TimeoutError{SubmissionID: submissionID, Budget: timeout, Polls: polls}
	}

	for poll := 1; poll <= maxPolls; poll++ {
		result, err := c.history(pollCtx, submissionID)
		switch {
		case err == nil && result != nil:
			result.Polls = poll
			return result, nil
		case err != nil && pollCtx.Err() != nil:
			return nil, timedOut(poll)
		case err != nil:
			var protoErr *ProtocolError
			if errors.As(err, &protoErr) {
				return nil, err
			}
			c.logger.Warn().Err(err).
				Str("submission_id", submissionID).
				Int("poll", poll).
				Msg("comfy: history poll failed, retrying")
		}

		if poll == maxPolls {
			break
		}
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			return nil, timedOut(poll)
		case <-timer.C:
		}
	}
	return nil, timedOut(maxPolls)
}

// history returns nil, nil while the submission is still pending.
func (c *Client) history(ctx context.Context, submissionID string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(submissionID), nil)
	if err != nil {
		return nil, &FetchError{Op: "history", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "history", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Op: "history", Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: "history", Status: resp.StatusCode, Err: err}
	}
	return parseHistory(submissionID, raw)
}

// parseHistory accepts both {"outputs": ...} and {"<id>": {"outputs": ...}}.
func parseHistory(submissionID string, raw []byte) (*Result, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &ProtocolError{SubmissionID: submissionID, Msg: "malformed history payload", Err: err}
	}
	entryRaw, ok := top[submissionID]
	if !ok {
		if _, flat := top["outputs"]; !flat {
			return nil, nil
		}
		entryRaw = raw
	}

	var entry historyEntry
	if err := json.Unmarshal(entryRaw, &entry); err != nil {
		return nil, &ProtocolError{SubmissionID: submissionID, Msg: "malformed history entry", Err: err}
	}
	if entry.Status != nil && strings.EqualFold(entry.Status.StatusStr, "error") {
		return nil, &ProtocolError{SubmissionID: submissionID, Msg: "worker reported execution error"}
	}
	if entry.Outputs == nil {
		return nil, nil
	}

	outputs, err := json.Marshal(entry.Outputs)
	if err != nil {
		return nil, &ProtocolError{SubmissionID: submissionID, Msg: "re-encode outputs", Err: err}
	}
	result := &Result{SubmissionID: submissionID, Outputs: outputs}
	ref, err := firstOutput(entry.Outputs)
	if err != nil {
		return nil, &ProtocolError{SubmissionID: submissionID, Msg: "malformed output reference", Err: err}
	}
	result.Output = ref
	return result, nil
}

// firstOutput walks nodes in id order and returns the first binary output.
func firstOutput(nodes map[string]map[string]json.RawMessage) (*OutputRef, error) {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return nodeIDLess(ids[i], ids[j]) })

	for _, id := range ids {
		node := nodes[id]
		for _, key := range outputKeys {
			raw, ok := node[key]
			if !ok {
				continue
			}
			var refs []OutputRef
			if err := json.Unmarshal(raw, &refs); err != nil {
				return nil, fmt.Errorf("node %s %s: %w", id, key, err)
			}
			for _, ref := range refs {
				if strings.TrimSpace(ref.Filename) != "" {
					if ref.Type == "" {
						ref.Type = "output"
					}
					return &ref, nil
				}
			}
		}
	}
	return nil, nil
}

func nodeIDLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
