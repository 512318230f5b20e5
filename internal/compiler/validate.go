package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/flowledger/internal/formula"
	"github.com/roach88/flowledger/internal/ir"
)

// Validation error codes (E200-E299)
const (
	// General validation errors (E200)
	ErrUnsupportedIRType = "E200" // unsupported IR type for validation

	// Node errors (E201-E209)
	ErrNoNodes           = "E201" // scenario declares no nodes
	ErrInvalidNodeID     = "E202" // empty or duplicate node id
	ErrInvalidNodeType   = "E203" // unknown node type
	ErrMissingNodeConfig = "E204" // per-type config block missing
	ErrInvalidQueue      = "E205" // batch/window misconfigured
	ErrInvalidProcess    = "E206" // process inputs misconfigured
	ErrInvalidFSM        = "E207" // fsm states/transitions misconfigured
	ErrInvalidMux        = "E208" // multiplexer misconfigured
	ErrInvalidAggregator = "E209" // reducer name or expression invalid

	// Edge errors (E210-E219)
	ErrInvalidOutput      = "E210" // empty or duplicate output name
	ErrUnknownDestination = "E211" // output points at a missing node
	ErrInvalidDestInput   = "E212" // output points at an input the node does not accept
	ErrUndeclaredOutput   = "E213" // config references an output the node does not declare

	// Expression and event errors (E220-E229)
	ErrInvalidExpression = "E220" // expression does not compile
	ErrInvalidEvent      = "E221" // external event malformed or targets a missing node
	ErrZeroDelayCycle    = "E222" // feedback loop with no processing delay
)

// Severity levels. Errors prevent loading; warnings are informational.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a scenario validation problem.
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Code     string `json:"code"`
	Severity string `json:"severity,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// IsWarning reports whether the problem is a warning.
func (e ValidationError) IsWarning() bool {
	return e.Severity == SeverityWarning
}

// Errors returns only the error-level problems.
func Errors(problems []ValidationError) []ValidationError {
	var out []ValidationError
	for _, p := range problems {
		if !p.IsWarning() {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates a scenario. Returns all problems found (does not
// fail-fast). Expressions that fail to compile and zero-delay cycles are
// reported as warnings: the former surface at run time as formula errors.
func Validate(v any) []ValidationError {
	switch s := v.(type) {
	case *ir.Scenario:
		return validateScenario(s)
	case ir.Scenario:
		return validateScenario(&s)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// ValidateNodes checks the node graph only. It is what the engine runs on
// load; external events are checked when injected.
func ValidateNodes(nodes []ir.NodeConfig) []ValidationError {
	var errs []ValidationError

	if len(nodes) == 0 {
		return []ValidationError{{
			Field:   "nodes",
			Message: "at least one node is required",
			Code:    ErrNoNodes,
		}}
	}

	index := make(map[string]*ir.NodeConfig, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		field := fmt.Sprintf("nodes[%d]", i)
		if strings.TrimSpace(n.ID) == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: "node id is required",
				Code:    ErrInvalidNodeID,
			})
			continue
		}
		if _, dup := index[n.ID]; dup {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate node id %q", n.ID),
				Code:    ErrInvalidNodeID,
			})
			continue
		}
		index[n.ID] = n
	}

	for i := range nodes {
		n := &nodes[i]
		field := fmt.Sprintf("nodes[%d]", i)
		if n.ID != "" {
			field = fmt.Sprintf("nodes.%s", n.ID)
		}
		errs = append(errs, validateNode(n, field)...)
		errs = append(errs, validateOutputs(n, field, index)...)
	}

	for _, c := range DetectCycles(nodes) {
		errs = append(errs, ValidationError{
			Field:    "nodes",
			Message:  c.Message,
			Code:     ErrZeroDelayCycle,
			Severity: SeverityWarning,
		})
	}

	return errs
}

func validateScenario(s *ir.Scenario) []ValidationError {
	errs := ValidateNodes(s.Nodes)

	ids := make(map[string]bool, len(s.Events))
	for i, ev := range s.Events {
		field := fmt.Sprintf("events[%d]", i)
		if ev.ID != "" {
			if ids[ev.ID] {
				errs = append(errs, ValidationError{
					Field:   field + ".id",
					Message: fmt.Sprintf("duplicate event id %q", ev.ID),
					Code:    ErrInvalidEvent,
				})
			}
			ids[ev.ID] = true
		}
		if ev.Timestamp < 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".timestamp",
				Message: "timestamp must be non-negative",
				Code:    ErrInvalidEvent,
			})
		}
		if ev.Type != "" && ev.Type != string(ir.EventDataEmit) {
			errs = append(errs, ValidationError{
				Field:   field + ".type",
				Message: fmt.Sprintf("external events must be %s, got %q", ir.EventDataEmit, ev.Type),
				Code:    ErrInvalidEvent,
			})
		}
		target := ev.Target()
		if target == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".target_node_id",
				Message: "event has no target node",
				Code:    ErrInvalidEvent,
			})
			continue
		}
		n := s.Node(target)
		if n == nil {
			errs = append(errs, ValidationError{
				Field:   field + ".target_node_id",
				Message: fmt.Sprintf("unknown target node %q", target),
				Code:    ErrInvalidEvent,
			})
			continue
		}
		if n.Type != ir.NodeDataSource {
			errs = append(errs, ValidationError{
				Field:   field + ".target_node_id",
				Message: fmt.Sprintf("target %q is a %s, external data must enter at a %s", target, n.Type, ir.NodeDataSource),
				Code:    ErrInvalidEvent,
			})
		}
	}

	return errs
}

func validateNode(n *ir.NodeConfig, field string) []ValidationError {
	var errs []ValidationError

	if !ir.ValidNodeTypes[n.Type] {
		return []ValidationError{{
			Field:   field + ".type",
			Message: fmt.Sprintf("invalid node type %q", n.Type),
			Code:    ErrInvalidNodeType,
		}}
	}

	missing := func(block string) []ValidationError {
		return []ValidationError{{
			Field:   field + "." + block,
			Message: fmt.Sprintf("%s node requires a %s block", n.Type, block),
			Code:    ErrMissingNodeConfig,
		}}
	}

	switch n.Type {
	case ir.NodeQueue:
		if n.Queue == nil {
			return missing("queue")
		}
		errs = append(errs, validateQueue(n, field)...)
	case ir.NodeProcess:
		if n.Process == nil {
			return missing("process")
		}
		errs = append(errs, validateProcess(n, field)...)
	case ir.NodeFSM:
		if n.FSM == nil {
			return missing("fsm")
		}
		errs = append(errs, validateFSM(n, field)...)
	case ir.NodeMultiplexer:
		if n.Multiplexer == nil {
			return missing("multiplexer")
		}
		errs = append(errs, validateMux(n, field)...)
	case ir.NodeSink:
		if len(n.Outputs) > 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".outputs",
				Message: "sink nodes have no outputs",
				Code:    ErrInvalidOutput,
			})
		}
		if n.Sink != nil {
			errs = append(errs, validateAggregator(n.Sink.Aggregation, field+".sink.aggregation")...)
		}
	}

	return errs
}

func validateQueue(n *ir.NodeConfig, field string) []ValidationError {
	var errs []ValidationError
	q := n.Queue

	switch {
	case q.BatchSize < 0 || q.WindowSize < 0:
		errs = append(errs, ValidationError{
			Field:   field + ".queue",
			Message: "batch_size and window_size must be non-negative",
			Code:    ErrInvalidQueue,
		})
	case (q.BatchSize > 0) == (q.WindowSize > 0):
		errs = append(errs, ValidationError{
			Field:   field + ".queue",
			Message: "exactly one of batch_size or window_size must be set",
			Code:    ErrInvalidQueue,
		})
	}

	errs = append(errs, validateAggregator(q.Aggregation, field+".queue.aggregation")...)
	errs = append(errs, checkOutputRef(n, q.Output, field+".queue.output")...)
	return errs
}

func validateProcess(n *ir.NodeConfig, field string) []ValidationError {
	var errs []ValidationError
	p := n.Process

	if len(p.Inputs) == 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".process.inputs",
			Message: "at least one input is required",
			Code:    ErrInvalidProcess,
		})
	}
	if p.ProcessingTime < 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".process.processing_time",
			Message: "processing_time must be non-negative",
			Code:    ErrInvalidProcess,
		})
	}

	names := make(map[string]bool, len(p.Inputs))
	vars := make(map[string]bool, len(p.Inputs))
	required := 0
	for i, in := range p.Inputs {
		f := fmt.Sprintf("%s.process.inputs[%d]", field, i)
		if strings.TrimSpace(in.Name) == "" {
			errs = append(errs, ValidationError{
				Field:   f + ".name",
				Message: "input name is required",
				Code:    ErrInvalidProcess,
			})
			continue
		}
		if names[in.Name] {
			errs = append(errs, ValidationError{
				Field:   f + ".name",
				Message: fmt.Sprintf("duplicate input %q", in.Name),
				Code:    ErrInvalidProcess,
			})
			continue
		}
		names[in.Name] = true
		if vars[in.VarName()] {
			errs = append(errs, ValidationError{
				Field:   f + ".alias",
				Message: fmt.Sprintf("duplicate alias %q", in.VarName()),
				Code:    ErrInvalidProcess,
			})
		}
		vars[in.VarName()] = true
		if !in.Optional {
			required++
		}
	}
	if len(p.Inputs) > 0 && required == 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".process.inputs",
			Message: "at least one input must be required",
			Code:    ErrInvalidProcess,
		})
	}
	if len(p.Inputs) > 1 && strings.TrimSpace(p.Formula) == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".process.formula",
			Message: "a formula is required when combining several inputs",
			Code:    ErrInvalidProcess,
		})
	}

	vars := []string{"inputs"}
	for _, in := range p.Inputs {
		vars = append(vars, in.VarName())
	}
	errs = append(errs, checkExpression(p.Formula, field+".process.formula", vars...)...)
	errs = append(errs, checkOutputRef(n, p.Output, field+".process.output")...)
	return errs
}

func validateFSM(n *ir.NodeConfig, field string) []ValidationError {
	var errs []ValidationError
	f := n.FSM

	if strings.TrimSpace(f.InitialState) == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".fsm.initial_state",
			Message: "initial_state is required",
			Code:    ErrInvalidFSM,
		})
	}
	if len(f.States) > 0 && f.InitialState != "" && !slices.Contains(f.States, f.InitialState) {
		errs = append(errs, ValidationError{
			Field:   field + ".fsm.initial_state",
			Message: fmt.Sprintf("initial_state %q is not a declared state", f.InitialState),
			Code:    ErrInvalidFSM,
		})
	}

	for i, tr := range f.Transitions {
		tf := fmt.Sprintf("%s.fsm.transitions[%d]", field, i)
		if tr.From == "" || tr.To == "" {
			errs = append(errs, ValidationError{
				Field:   tf,
				Message: "transition requires from and to",
				Code:    ErrInvalidFSM,
			})
		}
		if tr.To == ir.AnyState {
			errs = append(errs, ValidationError{
				Field:   tf + ".to",
				Message: "wildcard is only allowed in from",
				Code:    ErrInvalidFSM,
			})
		}
		if len(f.States) > 0 {
			for _, s := range []string{tr.From, tr.To} {
				if s != "" && s != ir.AnyState && !slices.Contains(f.States, s) {
					errs = append(errs, ValidationError{
						Field:   tf,
						Message: fmt.Sprintf("state %q is not declared", s),
						Code:    ErrInvalidFSM,
					})
				}
			}
		}
		errs = append(errs, checkExpression(tr.Guard, tf+".guard", fsmVars...)...)

		for j, a := range tr.Actions {
			af := fmt.Sprintf("%s.actions[%d]", tf, j)
			switch a.Type {
			case ir.FSMActionEmit:
				errs = append(errs, checkExpression(a.Formula, af+".formula", fsmVars...)...)
				errs = append(errs, checkOutputRef(n, a.Output, af+".output")...)
			case ir.FSMActionLog:
			default:
				errs = append(errs, ValidationError{
					Field:   af + ".type",
					Message: fmt.Sprintf("invalid action type %q, must be %q or %q", a.Type, ir.FSMActionEmit, ir.FSMActionLog),
					Code:    ErrInvalidFSM,
				})
			}
		}
	}
	return errs
}

func validateMux(n *ir.NodeConfig, field string) []ValidationError {
	var errs []ValidationError
	m := n.Multiplexer

	if m.Mode != "" && m.Mode != ir.MuxFirst && m.Mode != ir.MuxAll {
		errs = append(errs, ValidationError{
			Field:   field + ".multiplexer.mode",
			Message: fmt.Sprintf("invalid mode %q, must be %q or %q", m.Mode, ir.MuxFirst, ir.MuxAll),
			Code:    ErrInvalidMux,
		})
	}
	if len(m.Routes) == 0 && m.DefaultOutput == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".multiplexer.routes",
			Message: "at least one route or a default_output is required",
			Code:    ErrInvalidMux,
		})
	}
	for i, r := range m.Routes {
		rf := fmt.Sprintf("%s.multiplexer.routes[%d]", field, i)
		if r.Output == "" {
			errs = append(errs, ValidationError{
				Field:   rf + ".output",
				Message: "route output is required",
				Code:    ErrInvalidMux,
			})
		} else {
			errs = append(errs, checkOutputRef(n, r.Output, rf+".output")...)
		}
		errs = append(errs, checkExpression(r.Condition, rf+".condition", tokenVars...)...)
	}
	errs = append(errs, checkOutputRef(n, m.DefaultOutput, field+".multiplexer.default_output")...)
	return errs
}

func validateOutputs(n *ir.NodeConfig, field string, index map[string]*ir.NodeConfig) []ValidationError {
	var errs []ValidationError
	names := make(map[string]bool, len(n.Outputs))

	for i, out := range n.Outputs {
		of := fmt.Sprintf("%s.outputs[%d]", field, i)
		if strings.TrimSpace(out.Name) == "" {
			errs = append(errs, ValidationError{
				Field:   of + ".name",
				Message: "output name is required",
				Code:    ErrInvalidOutput,
			})
		} else if names[out.Name] {
			errs = append(errs, ValidationError{
				Field:   of + ".name",
				Message: fmt.Sprintf("duplicate output %q", out.Name),
				Code:    ErrInvalidOutput,
			})
		}
		names[out.Name] = true

		dest, ok := index[out.DestinationNodeID]
		if !ok {
			errs = append(errs, ValidationError{
				Field:   of + ".destination_node_id",
				Message: fmt.Sprintf("unknown destination node %q", out.DestinationNodeID),
				Code:    ErrUnknownDestination,
			})
			continue
		}
		if strings.TrimSpace(out.DestinationInputName) == "" {
			errs = append(errs, ValidationError{
				Field:   of + ".destination_input_name",
				Message: "destination input name is required",
				Code:    ErrInvalidDestInput,
			})
			continue
		}
		switch dest.Type {
		case ir.NodeDataSource:
			errs = append(errs, ValidationError{
				Field:   of + ".destination_node_id",
				Message: fmt.Sprintf("%s %q accepts no inputs", ir.NodeDataSource, dest.ID),
				Code:    ErrInvalidDestInput,
			})
		case ir.NodeProcess:
			if dest.Process != nil && !dest.Process.HasInput(out.DestinationInputName) {
				errs = append(errs, ValidationError{
					Field:   of + ".destination_input_name",
					Message: fmt.Sprintf("node %q declares no input %q", dest.ID, out.DestinationInputName),
					Code:    ErrInvalidDestInput,
				})
			}
		}
	}
	return errs
}

// checkOutputRef verifies that a non-empty output name is declared on n.
func checkOutputRef(n *ir.NodeConfig, output, field string) []ValidationError {
	if output == "" || n.HasOutput(output) {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Message: fmt.Sprintf("node %q declares no output %q", n.ID, output),
		Code:    ErrUndeclaredOutput,
	}}
}

// checkExpression warns about an expression that does not compile with vars
// in scope.
func checkExpression(src, field string, vars ...string) []ValidationError {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	if err := checker.Check(src, vars...); err != nil {
		return []ValidationError{{
			Field:    field,
			Message:  err.Error(),
			Code:     ErrInvalidExpression,
			Severity: SeverityWarning,
		}}
	}
	return nil
}

func validateAggregator(method, field string) []ValidationError {
	if method == "" || formula.IsReducer(method) {
		return nil
	}
	errs := checkExpression(method, field, formula.AggregateVars...)
	for i := range errs {
		errs[i].Code = ErrInvalidAggregator
	}
	return errs
}

// Variables bound for token expressions, and for FSM guards and actions.
// Object payload fields are bound too but are not known here.
var (
	tokenVars = []string{"value", "token_id", "input"}
	fsmVars   = []string{"value", "token_id", "input", "state", "next_state"}
)

// checker compiles expressions for validation only.
var checker = formula.NewEvaluator(formula.DefaultCacheSize)
