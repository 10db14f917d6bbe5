package harness

import (
	"encoding/json"

	"github.com/bpolania/DeltaNEAR-sub000/internal/status"
)

// Trace entry types.
const (
	TraceStep      = "step"
	TraceMessage   = "message"
	TraceLifecycle = "event"
)

// TraceEvent is one entry in a scenario trace: a step that ran, a frame
// delivered to a solver, or a lifecycle event.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// Action is the step action, the message type or the event name.
	Action string `json:"action"`

	// Intent is the scenario's name for the intent involved, if any.
	Intent string `json:"intent,omitempty"`
	Solver string `json:"solver,omitempty"`

	// Outcome is "ok" or the error code of a step.
	Outcome string `json:"outcome,omitempty"`

	// Status is the auction status after a step.
	Status string `json:"status,omitempty"`

	// Data is the event payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors is empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Hashes maps intent names to the hashes they canonicalized to.
	Hashes map[string]string `json:"hashes,omitempty"`

	// Receipts are the final receipts of every intent that was submitted.
	Receipts map[string]status.Receipt `json:"receipts,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Hashes: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
