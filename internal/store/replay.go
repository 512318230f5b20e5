package store

import (
	"context"
	"fmt"

	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
)

// ReplayReport compares a stored ledger with a fresh run of its scenario.
type ReplayReport struct {
	ExecutionID     string `json:"execution_id"`
	Steps           int64  `json:"steps"`
	StoredEntries   int    `json:"stored_entries"`
	ReplayedEntries int    `json:"replayed_entries"`
	Matches         bool   `json:"matches"`

	// FirstDivergence is the seq of the first differing entry, or 0.
	FirstDivergence int64 `json:"first_divergence,omitempty"`
}

// ReplayExecution re-runs a stored execution's scenario for the same number
// of steps and returns the replayed ledger. A deterministic engine reproduces
// the stored ledger exactly.
func (s *Store) ReplayExecution(ctx context.Context, executionID string, opts ...engine.EngineOption) ([]ir.ActivityEntry, Execution, error) {
	exec, err := s.ReadExecution(ctx, executionID)
	if err != nil {
		return nil, Execution{}, fmt.Errorf("replay: %w", err)
	}
	sc, err := s.LoadScenario(ctx, exec.ScenarioID)
	if err != nil {
		return nil, exec, fmt.Errorf("replay: %w", err)
	}

	e, err := engine.NewFromScenario(sc, opts...)
	if err != nil {
		return nil, exec, fmt.Errorf("replay: %w", err)
	}
	if err := e.StepTo(ctx, exec.Steps); err != nil {
		return nil, exec, fmt.Errorf("replay: %w", err)
	}
	return e.Ledger(), exec, nil
}

// VerifyExecution replays an execution and compares every leaf hash with the
// hash stored at write time.
func (s *Store) VerifyExecution(ctx context.Context, executionID string, opts ...engine.EngineOption) (ReplayReport, error) {
	replayed, exec, err := s.ReplayExecution(ctx, executionID, opts...)
	if err != nil {
		return ReplayReport{}, err
	}
	stored, err := s.ActivityHashes(ctx, executionID)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("verify execution: %w", err)
	}

	report := ReplayReport{
		ExecutionID:     executionID,
		Steps:           exec.Steps,
		StoredEntries:   len(stored),
		ReplayedEntries: len(replayed),
	}

	for i, entry := range replayed {
		if i >= len(stored) {
			report.FirstDivergence = entry.Seq
			return report, nil
		}
		h, err := ir.ActivityHash(entry)
		if err != nil {
			return ReplayReport{}, fmt.Errorf("verify execution: %w", err)
		}
		if h != stored[i] {
			report.FirstDivergence = entry.Seq
			return report, nil
		}
	}
	if len(stored) > len(replayed) {
		report.FirstDivergence = int64(len(replayed) + 1)
		return report, nil
	}

	report.Matches = true
	return report, nil
}
