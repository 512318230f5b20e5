package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/flowledger/internal/compiler"
	"github.com/roach88/flowledger/internal/formula"
	"github.com/roach88/flowledger/internal/ir"
)

// Engine is the single-writer simulation loop.
//
// The engine pops one event at a time, hands it to the processor of the
// target node together with a clone of that node's state, merges the result,
// routes staged tokens along the node's outputs and appends the resulting
// activities to the ledger. Nothing is interleaved within a step.
//
// Thread-safety model: an Engine must be driven from exactly one goroutine.
// The read accessors return copies, so their results may be shared.
//
// INVARIANTS:
//   - ledger seq values are consecutive from 1
//   - event and activity timestamps never decrease
//   - node state is only replaced after a processor succeeded
type Engine struct {
	logger   *slog.Logger
	observer Observer
	registry *Registry
	formulas *formula.Evaluator
	quota    *QuotaEnforcer
	maxSteps int64

	scenario string
	nodes    map[string]*ir.NodeConfig
	order    []string
	states   map[string]*ir.NodeState
	queue    *EventQueue
	clock    *Clock
	ledger   []ir.ActivityEntry
	failures []StepFailure
	steps    int64
	started  bool
	loaded   bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers a hook notified after every step.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithRegistry replaces the processor registry. Default: DefaultRegistry().
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithFormulas shares an expression evaluator (and its program cache).
func WithFormulas(f *formula.Evaluator) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.formulas = f
		}
	}
}

// WithMaxSteps sets the total step quota for the engine's lifetime.
//
// Default: 1,000,000 steps (DefaultMaxSteps). Zero or negative disables
// the quota.
func WithMaxSteps(maxSteps int64) EngineOption {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// New creates an Engine with no scenario loaded.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:   slog.Default(),
		registry: DefaultRegistry(),
		formulas: formula.NewEvaluator(formula.DefaultCacheSize),
		maxSteps: DefaultMaxSteps,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.reset()
	return e
}

func (e *Engine) reset() {
	e.nodes = make(map[string]*ir.NodeConfig)
	e.order = nil
	e.states = make(map[string]*ir.NodeState)
	e.queue = NewEventQueue()
	e.clock = NewClock()
	e.ledger = nil
	e.failures = nil
	e.steps = 0
	e.started = false
	e.loaded = false
	e.quota = NewQuotaEnforcer(e.maxSteps)
}

// LoadScenario validates the node graph and initializes one NodeState per
// node. It discards any previous run and enqueues nothing: callers use Start
// and Inject.
//
// Returns *ConfigurationError listing every problem when the graph is
// invalid. Expression warnings do not prevent loading.
func (e *Engine) LoadScenario(s *ir.Scenario) error {
	if s == nil {
		return NewConfigurationError("scenario is nil")
	}

	if problems := compiler.Errors(compiler.ValidateNodes(s.Nodes)); len(problems) > 0 {
		msgs := make([]string, len(problems))
		for i, p := range problems {
			msgs[i] = p.Error()
		}
		e.logger.Error("scenario rejected",
			"scenario", s.Name,
			"problems", len(msgs),
		)
		return NewConfigurationError(msgs...)
	}

	e.reset()
	e.scenario = s.Name
	for i := range s.Nodes {
		cfg := s.Nodes[i]
		e.nodes[cfg.ID] = &cfg
		e.order = append(e.order, cfg.ID)
		e.states[cfg.ID] = ir.NewNodeState(&cfg)
	}
	e.loaded = true

	e.logger.Info("scenario loaded",
		"scenario", s.Name,
		"nodes", len(e.order),
	)
	return nil
}

// Start enqueues the broadcast SimulationStart event at ts. It produces a
// single node-less "start" activity when processed.
func (e *Engine) Start(ts int64) error {
	if !e.loaded {
		return ErrNotLoaded
	}
	if e.started {
		return fmt.Errorf("simulation already started")
	}
	if e.clock.InPast(ts) {
		return fmt.Errorf("start at %d is before current time %d", ts, e.clock.Now())
	}

	e.queue.Push(ir.Event{
		ID:        e.nextEventID(),
		Type:      ir.EventSimulationStart,
		Timestamp: ts,
	})
	e.started = true
	return nil
}

// Inject wraps an external event into a DataEmit targeted at its node.
//
// The external id, when present, seeds the correlation ids of the token the
// data source creates, so lineage can be traced from the external input.
// Injecting into the simulated past is rejected to keep timestamps
// monotonic.
func (e *Engine) Inject(ext ir.ExternalEvent) error {
	if !e.loaded {
		return ErrNotLoaded
	}

	target := ext.Target()
	if _, ok := e.nodes[target]; !ok {
		return NewConfigurationError(fmt.Sprintf("event %q targets unknown node %q", ext.ID, target))
	}
	if ext.Type != "" && ext.Type != string(ir.EventDataEmit) {
		return fmt.Errorf("event %q: external events must be %s, got %q", ext.ID, ir.EventDataEmit, ext.Type)
	}
	if e.clock.InPast(ext.Timestamp) {
		return fmt.Errorf("event %q at %d is in the simulated past (now=%d)", ext.ID, ext.Timestamp, e.clock.Now())
	}

	data, err := ir.FromGo(ext.Data)
	if err != nil {
		return fmt.Errorf("event %q data: %w", ext.ID, err)
	}

	var corr []string
	if ext.ID != "" {
		corr = []string{ext.ID}
	}

	ev := ir.Event{
		ID:             e.nextEventID(),
		Type:           ir.EventDataEmit,
		SourceNodeID:   ext.Source,
		TargetNodeID:   target,
		Timestamp:      ext.Timestamp,
		Data:           data,
		CorrelationIDs: corr,
	}
	e.queue.Push(ev)

	e.logger.Debug("event injected",
		"event_id", ev.ID,
		"external_id", ext.ID,
		"target", target,
		"timestamp", ext.Timestamp,
	)
	return nil
}

// StepResult describes one processed event.
type StepResult struct {
	Step       int64
	Event      ir.Event
	Activities []ir.ActivityEntry
	Enqueued   []ir.Event
	// Skipped is set when the processor did not handle the event type.
	Skipped bool
}

// Step processes the earliest pending event.
//
// Returns ErrQueueEmpty when nothing is pending and *StepsExceededError when
// the quota is spent. A processor error other than *UnsupportedEventError
// aborts the step: the event is consumed and the error is returned so the
// caller can stop or resume. Node state and ledger are left as they were,
// except that a formula failure applies the fallback result its processor
// returned, so the node does not stay stuck on the failed unit or window.
func (e *Engine) Step(ctx context.Context) (StepResult, error) {
	if !e.loaded {
		return StepResult{}, ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if err := e.quota.Check(); err != nil {
		return StepResult{}, err
	}

	ev, ok := e.queue.Pop()
	if !ok {
		return StepResult{}, ErrQueueEmpty
	}
	e.quota.Record()
	e.steps++
	e.clock.AdvanceTo(ev.Timestamp)

	res := StepResult{Step: e.steps, Event: ev}

	if ev.Type == ir.EventSimulationStart && ev.TargetNodeID == "" {
		res.Activities = e.appendActivities(&ev, "", []ir.ActivityEntry{{
			Action: ir.ActionStart,
			Value: ir.IRObject{
				"scenario": ir.IRString(e.scenario),
				"nodes":    ir.IRInt(len(e.order)),
			},
		}})
		e.logger.Info("simulation started",
			"scenario", e.scenario,
			"timestamp", e.clock.Now(),
		)
		e.notify(&ev, nil, res, nil)
		return res, nil
	}

	cfg, ok := e.nodes[ev.TargetNodeID]
	if !ok {
		err := fmt.Errorf("event %s targets unknown node %q", ev.ID, ev.TargetNodeID)
		e.fail(&ev, nil, res, err)
		return res, err
	}

	out, err := e.dispatch(cfg, &ev)
	if err != nil {
		var unsupported *UnsupportedEventError
		if errors.As(err, &unsupported) {
			e.logger.Warn("event skipped",
				"error", err,
				"event_id", ev.ID,
				"event_type", ev.Type,
				"node_id", cfg.ID,
				"node_type", cfg.Type,
			)
			res.Skipped = true
			e.notify(&ev, cfg, res, err)
			return res, nil
		}
		if IsFormulaError(err) && out.State != nil {
			if applyErr := e.apply(cfg, &ev, out, &res); applyErr != nil {
				err = errors.Join(err, applyErr)
			}
		}
		e.fail(&ev, cfg, res, err)
		return res, err
	}

	if err := e.apply(cfg, &ev, out, &res); err != nil {
		e.fail(&ev, cfg, res, err)
		return res, err
	}

	e.logger.Debug("event processed",
		"step", e.steps,
		"event_id", ev.ID,
		"event_type", ev.Type,
		"node_id", cfg.ID,
		"activities", len(res.Activities),
		"enqueued", len(res.Enqueued),
	)
	e.notify(&ev, cfg, res, nil)
	return res, nil
}

// apply merges a processor result: the node's new state, arrivals for its
// staged tokens, the events it scheduled and its activities.
func (e *Engine) apply(cfg *ir.NodeConfig, ev *ir.Event, out Result, res *StepResult) error {
	state := out.State
	if state == nil {
		state = e.states[cfg.ID].Clone()
	}

	arrivals, err := e.route(cfg, ev, state.OutputBuffer)
	if err != nil {
		return err
	}
	state.OutputBuffer = nil
	e.states[cfg.ID] = state

	for _, a := range arrivals {
		res.Enqueued = append(res.Enqueued, e.enqueue(ev, cfg.ID, a))
	}
	for _, ne := range out.NewEvents {
		res.Enqueued = append(res.Enqueued, e.enqueue(ev, cfg.ID, ne))
	}
	res.Activities = e.appendActivities(ev, cfg.ID, out.Activities)
	return nil
}

// fail records an aborted step.
func (e *Engine) fail(ev *ir.Event, cfg *ir.NodeConfig, res StepResult, err error) {
	logEventError(e.logger, *ev, err)
	e.failures = append(e.failures, StepFailure{
		Step:    res.Step,
		EventID: ev.ID,
		NodeID:  ev.TargetNodeID,
		Code:    CodeOf(err),
		Message: err.Error(),
	})
	e.notify(ev, cfg, res, err)
}

// dispatch runs the node's processor on a clone of its state.
func (e *Engine) dispatch(cfg *ir.NodeConfig, ev *ir.Event) (Result, error) {
	env := &Env{
		Now:      e.clock.Now(),
		Node:     cfg,
		Event:    ev,
		Formulas: e.formulas,
		Logger:   e.logger,
	}

	proc, ok := e.registry.Lookup(cfg.Type)
	if !ok {
		return Result{}, env.Unsupported()
	}
	return proc.Process(env, ev, cfg, e.states[cfg.ID].Clone())
}

// route turns staged tokens into TokenArrival events. A token staged on the
// empty output travels along every declared output, in declaration order.
func (e *Engine) route(cfg *ir.NodeConfig, ev *ir.Event, staged []ir.StagedToken) ([]ir.Event, error) {
	var arrivals []ir.Event
	for _, st := range staged {
		matched := false
		for _, out := range cfg.Outputs {
			if st.Output != "" && st.Output != out.Name {
				continue
			}
			matched = true
			arrivals = append(arrivals, ir.Event{
				Type:           ir.EventTokenArrival,
				SourceNodeID:   cfg.ID,
				TargetNodeID:   out.DestinationNodeID,
				InputName:      out.DestinationInputName,
				Timestamp:      e.clock.Now(),
				Data:           st.Token.Value,
				Token:          st.Token,
				CorrelationIDs: st.Token.CorrelationIDs,
			})
		}
		if !matched && st.Output != "" {
			return nil, fmt.Errorf("node %s: token %s staged on undeclared output %q", cfg.ID, st.Token.ID, st.Output)
		}
	}
	return arrivals, nil
}

// enqueue assigns an id to a derived event and schedules it no earlier than
// now.
func (e *Engine) enqueue(parent *ir.Event, nodeID string, ev ir.Event) ir.Event {
	ev.ID = e.nextEventID()
	ev.ParentEventID = parent.ID
	if ev.SourceNodeID == "" {
		ev.SourceNodeID = nodeID
	}
	if ev.TargetNodeID == "" {
		ev.TargetNodeID = nodeID
	}
	ev.Timestamp = e.clock.Clamp(ev.Timestamp)
	e.queue.Push(ev)
	return ev
}

// appendActivities stamps and appends entries under consecutive seqs.
func (e *Engine) appendActivities(ev *ir.Event, nodeID string, acts []ir.ActivityEntry) []ir.ActivityEntry {
	if len(acts) == 0 {
		return nil
	}
	appended := make([]ir.ActivityEntry, 0, len(acts))
	for _, a := range acts {
		a.Seq = e.clock.NextSeq()
		a.Step = e.steps
		a.Timestamp = e.clock.Now()
		a.EventID = ev.ID
		if a.NodeID == "" {
			a.NodeID = nodeID
		}
		if a.Value == nil {
			a.Value = ir.IRNull{}
		}
		e.ledger = append(e.ledger, a)
		appended = append(appended, a)
	}
	return appended
}

func (e *Engine) nextEventID() string {
	return e.clock.NextEventID()
}

func (e *Engine) notify(ev *ir.Event, cfg *ir.NodeConfig, res StepResult, err error) {
	if e.observer == nil {
		return
	}
	info := StepInfo{
		Step:       res.Step,
		EventID:    ev.ID,
		EventType:  ev.Type,
		Timestamp:  ev.Timestamp,
		Activities: len(res.Activities),
		Enqueued:   len(res.Enqueued),
		Skipped:    res.Skipped,
		Err:        err,
	}
	if cfg != nil {
		info.NodeID = cfg.ID
		info.NodeType = cfg.Type
	}
	e.observer.StepCompleted(info)
}

// StopReason says why Run returned.
type StopReason string

const (
	StopExhausted StopReason = "exhausted" // queue is empty
	StopMaxSteps  StopReason = "maxSteps"  // step bound or quota reached
	StopTimeout   StopReason = "timeout"   // next event is past MaxTicks
	StopCancelled StopReason = "cancelled" // context done
	StopError     StopReason = "error"     // a step failed
)

// RunOptions bounds a Run. Zero values mean unbounded.
type RunOptions struct {
	// MaxSteps caps the steps taken by this call.
	MaxSteps int64
	// MaxTicks is an absolute simulated-time horizon: the run stops before
	// processing an event whose timestamp exceeds it.
	MaxTicks int64
}

// RunResult summarizes a Run.
type RunResult struct {
	Reason     StopReason `json:"reason"`
	Steps      int64      `json:"steps"`
	TotalSteps int64      `json:"total_steps"`
	Now        int64      `json:"now"`
	LedgerSize int        `json:"ledger_size"`
	Pending    int        `json:"pending"`
}

// Run steps until the queue empties or a bound triggers.
//
// A failed step stops the run with StopError and returns the error; the
// failed event is consumed, so calling Run again resumes after it.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	if !e.loaded {
		return RunResult{}, ErrNotLoaded
	}

	e.logger.Info("run starting",
		"scenario", e.scenario,
		"max_steps", opts.MaxSteps,
		"max_ticks", opts.MaxTicks,
		"pending", e.queue.Len(),
	)

	var ran int64
	finish := func(reason StopReason, err error) (RunResult, error) {
		res := RunResult{
			Reason:     reason,
			Steps:      ran,
			TotalSteps: e.steps,
			Now:        e.clock.Now(),
			LedgerSize: len(e.ledger),
			Pending:    e.queue.Len(),
		}
		e.logger.Info("run stopped",
			"scenario", e.scenario,
			"reason", reason,
			"steps", ran,
			"now", e.clock.Now(),
			"ledger_size", res.LedgerSize,
		)
		return res, err
	}

	for {
		if ctx.Err() != nil {
			return finish(StopCancelled, nil)
		}
		if opts.MaxSteps > 0 && ran >= opts.MaxSteps {
			return finish(StopMaxSteps, nil)
		}
		if err := e.quota.Check(); err != nil {
			e.logger.Warn("step quota reached", "error", err)
			return finish(StopMaxSteps, nil)
		}
		next, ok := e.queue.Peek()
		if !ok {
			return finish(StopExhausted, nil)
		}
		if opts.MaxTicks > 0 && next.Timestamp > opts.MaxTicks {
			return finish(StopTimeout, nil)
		}

		_, err := e.Step(ctx)
		ran++
		if err != nil {
			return finish(StopError, err)
		}
	}
}

// Ledger returns a copy of every activity appended so far, in seq order.
func (e *Engine) Ledger() []ir.ActivityEntry {
	return ir.CloneActivities(e.ledger)
}

// ActivitiesSince returns the activities with seq greater than seq.
func (e *Engine) ActivitiesSince(seq int64) []ir.ActivityEntry {
	i, _ := slices.BinarySearchFunc(e.ledger, seq+1, func(a ir.ActivityEntry, target int64) int {
		switch {
		case a.Seq < target:
			return -1
		case a.Seq > target:
			return 1
		}
		return 0
	})
	return ir.CloneActivities(e.ledger[i:])
}

// NodeState returns a copy of the node's state.
func (e *Engine) NodeState(id string) (*ir.NodeState, bool) {
	st, ok := e.states[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// NodeStates returns a copy of every node's state keyed by node id.
func (e *Engine) NodeStates() map[string]*ir.NodeState {
	out := make(map[string]*ir.NodeState, len(e.states))
	for id, st := range e.states {
		out[id] = st.Clone()
	}
	return out
}

// NodeIDs returns node ids in declaration order.
func (e *Engine) NodeIDs() []string {
	return slices.Clone(e.order)
}

// Node returns the configuration of a node.
func (e *Engine) Node(id string) (*ir.NodeConfig, bool) {
	cfg, ok := e.nodes[id]
	return cfg, ok
}

// QueueSnapshot returns pending events in processing order.
func (e *Engine) QueueSnapshot() []ir.Event {
	return e.queue.Snapshot()
}

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Now returns the current simulated time.
func (e *Engine) Now() int64 {
	return e.clock.Now()
}

// Steps returns the number of steps taken since load.
func (e *Engine) Steps() int64 {
	return e.steps
}

// LastSeq returns the seq of the newest ledger entry, or 0.
func (e *Engine) LastSeq() int64 {
	return e.clock.LastSeq()
}

// Counters sums every node's counters.
func (e *Engine) Counters() map[string]int64 {
	total := make(map[string]int64)
	for _, id := range e.order {
		for k, v := range e.states[id].Counters {
			total[k] += v
		}
	}
	return total
}

// Failures returns the steps aborted so far, oldest first.
func (e *Engine) Failures() []StepFailure {
	return slices.Clone(e.failures)
}

// StepFailure records an aborted step. The event was consumed; state and
// ledger were left as they were before it.
type StepFailure struct {
	Step    int64     `json:"step"`
	EventID string    `json:"event_id"`
	NodeID  string    `json:"node_id"`
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message"`
}

// Observer is notified after every step, successful or not.
type Observer interface {
	StepCompleted(StepInfo)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(StepInfo)

// StepCompleted calls f.
func (f ObserverFunc) StepCompleted(info StepInfo) { f(info) }

// StepInfo describes a finished step. NodeID is empty for the broadcast
// SimulationStart.
type StepInfo struct {
	Step       int64
	EventID    string
	EventType  ir.EventType
	NodeID     string
	NodeType   ir.NodeType
	Timestamp  int64
	Activities int
	Enqueued   int
	Skipped    bool
	Err        error
}

// logEventError logs a failed step with full event context for manual
// investigation. The ledger is left consistent up to the previous step.
func logEventError(logger *slog.Logger, ev ir.Event, err error) {
	attrs := []any{
		"error", err,
		"event_id", ev.ID,
		"event_type", ev.Type,
		"node_id", ev.TargetNodeID,
		"timestamp", ev.Timestamp,
	}
	var fe *FormulaEvaluationError
	if errors.As(err, &fe) {
		attrs = append(attrs, "expression", fe.Expression)
	}
	if ev.Token != nil {
		attrs = append(attrs, "token_id", ev.Token.ID)
	}
	logger.Error("step aborted", attrs...)
}
