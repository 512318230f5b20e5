package engine

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/flowledger/internal/formula"
	"github.com/roach88/flowledger/internal/ir"
)

// Processor implements the behavior of one node type.
//
// Process receives a clone of the node's state and returns the new state,
// the events to schedule and the activities to append. It must be a pure
// function of its arguments: any variation has to come from event content,
// never from wall-clock time or hidden globals.
//
// Returning an error discards the whole result. An *UnsupportedEventError
// is recovered by the engine; any other error aborts the step. A
// *FormulaEvaluationError may come with a Result whose State is set: the
// engine applies that result, which leaves the node able to take further
// work, and still reports the error.
type Processor interface {
	Process(env *Env, event *ir.Event, cfg *ir.NodeConfig, state *ir.NodeState) (Result, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(env *Env, event *ir.Event, cfg *ir.NodeConfig, state *ir.NodeState) (Result, error)

// Process calls f.
func (f ProcessorFunc) Process(env *Env, event *ir.Event, cfg *ir.NodeConfig, state *ir.NodeState) (Result, error) {
	return f(env, event, cfg, state)
}

// Result is what a processor hands back to the engine.
//
// Events need no ID: the engine assigns one when it enqueues them. Target
// defaults to the processing node. Activities need no Seq, Step, Timestamp
// or EventID; the engine stamps them on append.
type Result struct {
	NewEvents  []ir.Event
	State      *ir.NodeState
	Activities []ir.ActivityEntry
}

// Env is the per-step context handed to a processor.
type Env struct {
	Now      int64
	Node     *ir.NodeConfig
	Event    *ir.Event
	Formulas *formula.Evaluator
	Logger   *slog.Logger

	ordinal int
}

// NewToken creates a token originating at the processing node. Tokens created
// during one step are numbered in creation order, so their ids are stable
// under replay.
func (env *Env) NewToken(value ir.IRValue, inputs []*ir.Token, seed []string) (*ir.Token, error) {
	tok, err := ir.NewToken(ir.TokenSpec{
		OriginNodeID: env.Node.ID,
		EventID:      env.Event.ID,
		Ordinal:      env.ordinal,
		Value:        value,
		CreatedAt:    env.Now,
		Inputs:       inputs,
		Seed:         seed,
	})
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", env.Node.ID, err)
	}
	env.ordinal++
	return tok, nil
}

// FormulaError wraps an evaluation failure with the node and expression.
func (env *Env) FormulaError(expression string, err error) *FormulaEvaluationError {
	return &FormulaEvaluationError{
		NodeID:     env.Node.ID,
		EventID:    env.Event.ID,
		Expression: expression,
		Err:        err,
	}
}

// Unsupported reports that the node type does not handle the current event.
func (env *Env) Unsupported() *UnsupportedEventError {
	return &UnsupportedEventError{
		NodeID:    env.Node.ID,
		NodeType:  env.Node.Type,
		EventID:   env.Event.ID,
		EventType: env.Event.Type,
	}
}

// Registry maps node types to processors.
type Registry struct {
	processors map[ir.NodeType]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[ir.NodeType]Processor)}
}

// DefaultRegistry returns a registry holding the processor for every node
// type in ir.ValidNodeTypes.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ir.NodeDataSource, ProcessorFunc(processDataSource))
	r.Register(ir.NodeQueue, ProcessorFunc(processQueue))
	r.Register(ir.NodeProcess, ProcessorFunc(processProcessNode))
	r.Register(ir.NodeFSM, ProcessorFunc(processFSM))
	r.Register(ir.NodeSink, ProcessorFunc(processSink))
	r.Register(ir.NodeMultiplexer, ProcessorFunc(processMultiplexer))
	return r
}

// Register installs p for node type t, replacing any previous processor.
func (r *Registry) Register(t ir.NodeType, p Processor) {
	r.processors[t] = p
}

// Lookup returns the processor for t.
func (r *Registry) Lookup(t ir.NodeType) (Processor, bool) {
	p, ok := r.processors[t]
	return p, ok
}

// Types returns the registered node types in sorted order.
func (r *Registry) Types() []ir.NodeType {
	types := make([]ir.NodeType, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// tokenActivity builds an activity describing tok.
func tokenActivity(action ir.Action, tok *ir.Token, detail ir.IRObject) ir.ActivityEntry {
	return ir.ActivityEntry{
		Action:         action,
		Value:          tok.Value,
		TokenID:        tok.ID,
		SourceTokenIDs: tok.SourceTokenIDs,
		CorrelationIDs: tok.CorrelationIDs,
		Detail:         detail,
	}
}

// arrivalToken returns the token of a TokenArrival event.
func arrivalToken(env *Env, event *ir.Event) (*ir.Token, error) {
	if event.Token == nil {
		return nil, fmt.Errorf("node %s: %s event %s carries no token", env.Node.ID, event.Type, event.ID)
	}
	return event.Token, nil
}

// tokenVars builds the expression environment for a token: value, token_id,
// input and any extra bindings, plus the fields of an object value unless
// they collide with those names.
func tokenVars(tok *ir.Token, input string, extra map[string]any) map[string]any {
	vars := map[string]any{
		"value":    ir.ToGo(tok.Value),
		"token_id": tok.ID,
		"input":    input,
	}
	for k, v := range extra {
		vars[k] = v
	}
	if obj, ok := tok.Value.(ir.IRObject); ok {
		for k, v := range obj {
			if _, reserved := vars[k]; !reserved {
				vars[k] = ir.ToGo(v)
			}
		}
	}
	return vars
}
