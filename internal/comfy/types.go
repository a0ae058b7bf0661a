package comfy

import "encoding/json"

// OutputRef addresses one binary output on the generative worker.
type OutputRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Result is the outcome of one workflow execution. Output is nil when the
// worker finished without producing any image or file output.
type Result struct {
	SubmissionID string
	Output       *OutputRef
	Outputs      json.RawMessage
	Polls        int
}

type submitRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id,omitempty"`
}

type submitResponse struct {
	PromptID     string          `json:"prompt_id"`
	SubmissionID string          `json:"submission_id"`
	Number       int             `json:"number"`
	NodeErrors   json.RawMessage `json:"node_errors"`
}

type historyEntry struct {
	Outputs map[string]map[string]json.RawMessage `json:"outputs"`
	Status  *struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

// outputKeys lists the per-node output collections that hold binaries, in
// preference order.
var outputKeys = []string{"images", "files", "gifs"}
