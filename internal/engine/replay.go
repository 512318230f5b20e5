package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/merkle"
)

// NewFromScenario creates an engine, loads s, enqueues SimulationStart at
// s.StartAt and injects every external event of s in declaration order.
func NewFromScenario(s *ir.Scenario, opts ...EngineOption) (*Engine, error) {
	e := New(opts...)
	if err := e.LoadScenario(s); err != nil {
		return nil, err
	}
	if err := e.Start(s.StartAt); err != nil {
		return nil, err
	}
	for _, ext := range s.Events {
		if err := e.Inject(ext); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// StepTo steps until n steps have been taken in total or the queue is empty.
// Aborted steps are recorded in Failures and do not stop it. Returns the
// context error, or *StepsExceededError when the quota runs out first.
func (e *Engine) StepTo(ctx context.Context, n int64) error {
	for e.steps < n {
		_, err := e.Step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrQueueEmpty):
			return nil
		case IsStepsExceededError(err), errors.Is(err, ErrNotLoaded):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
	}
	return nil
}

// RunToEnd steps until the queue is empty, ignoring aborted steps. Bounds
// in opts still apply.
func (e *Engine) RunToEnd(ctx context.Context, opts RunOptions) (RunResult, error) {
	var total int64
	for {
		o := opts
		if opts.MaxSteps > 0 {
			o.MaxSteps = opts.MaxSteps - total
		}
		res, err := e.Run(ctx, o)
		total += res.Steps
		res.Steps = total
		switch {
		case res.Reason != StopError:
			return res, err
		case opts.MaxSteps > 0 && total >= opts.MaxSteps:
			res.Reason = StopMaxSteps
			return res, nil
		}
	}
}

// Snapshot is the result of a step-to(N) query.
type Snapshot struct {
	Step int64 `json:"step"`
	Now  int64 `json:"now"`

	// ActivitiesSinceLastStep holds the entries appended by step N itself.
	ActivitiesSinceLastStep []ir.ActivityEntry       `json:"activities_since_last_step"`
	FullActivityLog         []ir.ActivityEntry       `json:"full_activity_log"`
	NodeStates              map[string]*ir.NodeState `json:"node_states"`
	QueueSizeBeforeNextStep int                      `json:"queue_size_before_next_step"`
	Failures                []StepFailure            `json:"failures,omitempty"`
}

// Snapshot captures the engine's current state.
func (e *Engine) Snapshot() *Snapshot {
	log := e.Ledger()
	var last []ir.ActivityEntry
	for i := len(log) - 1; i >= 0 && log[i].Step == e.steps; i-- {
		last = log[i:]
	}
	if last == nil {
		last = []ir.ActivityEntry{}
	}
	if log == nil {
		log = []ir.ActivityEntry{}
	}

	return &Snapshot{
		Step:                    e.steps,
		Now:                     e.clock.Now(),
		ActivitiesSinceLastStep: ir.CloneActivities(last),
		FullActivityLog:         log,
		NodeStates:              e.NodeStates(),
		QueueSizeBeforeNextStep: e.queue.Len(),
		Failures:                e.Failures(),
	}
}

// Replay runs s on a fresh engine up to step n and returns the snapshot.
func Replay(ctx context.Context, s *ir.Scenario, n int64, opts ...EngineOption) (*Snapshot, error) {
	e, err := NewFromScenario(s, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.StepTo(ctx, n); err != nil {
		return nil, err
	}
	return e.Snapshot(), nil
}

// Session answers repeated step-to(N) queries for one scenario. Moving
// forward continues the cached engine; moving backward replays from zero.
//
// A Session is not safe for concurrent use.
type Session struct {
	scenario *ir.Scenario
	opts     []EngineOption
	engine   *Engine
	replays  int
}

// NewSession validates s by loading it once.
func NewSession(s *ir.Scenario, opts ...EngineOption) (*Session, error) {
	e, err := NewFromScenario(s, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{scenario: s, opts: opts, engine: e, replays: 1}, nil
}

// At returns the snapshot after step n.
func (s *Session) At(ctx context.Context, n int64) (*Snapshot, error) {
	if n < 0 {
		return nil, fmt.Errorf("step must be non-negative, got %d", n)
	}
	if n < s.engine.Steps() {
		e, err := NewFromScenario(s.scenario, s.opts...)
		if err != nil {
			return nil, err
		}
		s.engine = e
		s.replays++
	}
	if err := s.engine.StepTo(ctx, n); err != nil {
		return nil, err
	}
	return s.engine.Snapshot(), nil
}

// Replays returns how many engines the session has built.
func (s *Session) Replays() int {
	return s.replays
}

// DeterminismReport compares independent runs of one scenario.
type DeterminismReport struct {
	Runs          int      `json:"runs"`
	Deterministic bool     `json:"deterministic"`
	Roots         []string `json:"roots"`
	LedgerSizes   []int    `json:"ledger_sizes"`
}

// VerifyDeterminism runs s to completion runs times on fresh engines and
// compares the Merkle roots of the resulting ledgers.
func VerifyDeterminism(ctx context.Context, s *ir.Scenario, runs int, opts ...EngineOption) (*DeterminismReport, error) {
	if runs < 2 {
		runs = 2
	}

	report := &DeterminismReport{Runs: runs, Deterministic: true}
	for i := 0; i < runs; i++ {
		e, err := NewFromScenario(s, opts...)
		if err != nil {
			return nil, err
		}
		if _, err := e.RunToEnd(ctx, RunOptions{}); err != nil {
			return nil, err
		}

		ledger := e.Ledger()
		root, err := merkle.Root(ledger)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		report.Roots = append(report.Roots, root)
		report.LedgerSizes = append(report.LedgerSizes, len(ledger))
		if root != report.Roots[0] {
			report.Deterministic = false
		}
	}
	return report, nil
}
