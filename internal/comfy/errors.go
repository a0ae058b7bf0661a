package comfy

import (
	"fmt"
	"time"
)

// ConfigError reports a misconfiguration (missing base address, unknown
// workflow template). It is never retried by the client.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("comfy: configuration: %s: %v", e.Msg, e.Err)
	}
	return "comfy: configuration: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ProtocolError reports a response from the generative worker that does not
// follow the submit/history contract.
type ProtocolError struct {
	SubmissionID string
	Msg          string
	Err          error
}

func (e *ProtocolError) Error() string {
	msg := "comfy: protocol: " + e.Msg
	if e.SubmissionID != "" {
		msg += " (submission " + e.SubmissionID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError is returned when no output appeared within the poll budget.
// The external worker may still finish the submission later.
type TimeoutError struct {
	SubmissionID string
	Budget       time.Duration
	Polls        int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("comfy: timed out after %s (%d polls) waiting for submission %s", e.Budget, e.Polls, e.SubmissionID)
}

// FetchError reports a non-successful HTTP exchange with the worker.
type FetchError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("comfy: %s failed: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("comfy: %s failed with status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("comfy: %s failed with status %d", e.Op, e.Status)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }
