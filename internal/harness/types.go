package harness

import (
	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
)

// Result is the outcome of running one suite.
type Result struct {
	// Pass is true when the run succeeded and every assertion held.
	Pass bool `json:"pass"`

	Suite       string            `json:"suite"`
	Scenario    string            `json:"scenario"`
	ExecutionID string            `json:"execution_id"`
	StopReason  engine.StopReason `json:"stop_reason"`
	Steps       int64             `json:"steps"`
	Now         int64             `json:"now"`

	// Ledger is the full activity ledger in seq order.
	Ledger []ir.ActivityEntry `json:"ledger"`

	// Failures lists the steps the engine aborted.
	Failures []engine.StepFailure `json:"failures,omitempty"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(suite string) *Result {
	return &Result{
		Pass:   true,
		Suite:  suite,
		Ledger: []ir.ActivityEntry{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
