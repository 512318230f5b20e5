package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/store"
)

// Harness runs suites on fresh engines and records every run in an
// in-memory store, which the query-backed assertions read from.
//
// A Harness is not safe for concurrent use.
type Harness struct {
	store      *store.Store
	logger     *slog.Logger
	engineOpts []engine.EngineOption
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the harness and its engines.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithEngineOptions adds engine options applied to every run and replay.
func WithEngineOptions(opts ...engine.EngineOption) Option {
	return func(h *Harness) {
		h.engineOpts = append(h.engineOpts, opts...)
	}
}

// New creates a harness backed by a fresh in-memory database with
// predictable execution ids.
func New(opts ...Option) (*Harness, error) {
	st, err := store.Open(":memory:", store.WithIDGenerator(&store.FixedGenerator{}))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	h := &Harness{
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Close releases the harness store.
func (h *Harness) Close() error {
	return h.store.Close()
}

// Store returns the store runs are recorded in.
func (h *Harness) Store() *store.Store {
	return h.store
}

// Run executes one suite and returns its result.
//
// Execution flow:
//  1. Load the scenario into a fresh engine and run it to the end
//  2. Record scenario, execution and ledger in the store
//  3. Evaluate assertions against the recorded run
//
// Aborted steps do not stop the run; they are reported in Result.Failures.
// An error is returned only when the suite cannot run at all.
func (h *Harness) Run(ctx context.Context, suite *Suite) (*Result, error) {
	opts := h.options()

	e, err := engine.NewFromScenario(suite.Scenario, opts...)
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", suite.Name, err)
	}
	res, err := e.RunToEnd(ctx, suite.Run.RunOptions())
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", suite.Name, err)
	}

	result := NewResult(suite.Name)
	result.Scenario = suite.Scenario.Name
	result.StopReason = res.Reason
	result.Steps = res.TotalSteps
	result.Now = res.Now
	result.Ledger = e.Ledger()
	result.Failures = e.Failures()

	exec, err := h.store.RecordRun(ctx, suite.Scenario, result.Ledger, store.Summary{
		StopReason: string(res.Reason),
		Steps:      res.TotalSteps,
		Now:        res.Now,
		LedgerSize: len(result.Ledger),
	})
	if err != nil {
		return nil, fmt.Errorf("suite %s: record run: %w", suite.Name, err)
	}
	result.ExecutionID = exec.ID

	h.logger.Info("suite executed",
		"suite", suite.Name,
		"execution_id", exec.ID,
		"reason", res.Reason,
		"steps", res.TotalSteps,
		"ledger_size", len(result.Ledger),
		"failures", len(result.Failures),
	)

	actx := &AssertionContext{
		Ctx:        ctx,
		Store:      h.store,
		Suite:      suite,
		EngineOpts: opts,
	}
	for _, err := range EvaluateAssertions(result, suite.Assertions, actx) {
		result.AddError(err.Error())
	}

	if result.Pass {
		h.logger.Info("suite passed", "suite", suite.Name)
	} else {
		h.logger.Warn("suite failed", "suite", suite.Name, "errors", len(result.Errors))
	}
	return result, nil
}

func (h *Harness) options() []engine.EngineOption {
	opts := []engine.EngineOption{engine.WithLogger(h.logger)}
	return append(opts, h.engineOpts...)
}

// Run executes a suite on a throwaway harness.
func Run(suite *Suite) (*Result, error) {
	h, err := New()
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.Run(context.Background(), suite)
}
