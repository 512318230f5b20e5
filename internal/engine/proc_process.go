package engine

import (
	"fmt"

	"github.com/roach88/flowledger/internal/ir"
)

// processProcessNode transforms one token from each input into an output
// token after a fixed processing time. Units run strictly one at a time,
// in arrival order.
func processProcessNode(env *Env, event *ir.Event, cfg *ir.NodeConfig, st *ir.NodeState) (Result, error) {
	pc := cfg.Process

	switch event.Type {
	case ir.EventSimulationStart:
		return Result{State: st}, nil

	case ir.EventTokenArrival:
		tok, err := arrivalToken(env, event)
		if err != nil {
			return Result{}, err
		}
		if !pc.HasInput(event.InputName) {
			return Result{}, fmt.Errorf("node %s: token arrived on undeclared input %q", cfg.ID, event.InputName)
		}
		st.Enqueue(event.InputName, tok)
		st.Incr(ir.CounterReceived)

		res := Result{
			State: st,
			Activities: []ir.ActivityEntry{
				tokenActivity(ir.ActionReceive, tok, ir.IRObject{"input": ir.IRString(event.InputName)}),
			},
		}
		startUnit(env, pc, st, &res)
		return res, nil

	case ir.EventProcessComplete:
		if !st.Busy {
			return Result{}, fmt.Errorf("node %s: completion %s while idle", cfg.ID, event.ID)
		}

		inputs, vars := unitInputs(pc, st.CurrentUnit)
		var value ir.IRValue
		if pc.Formula == "" {
			value = inputs[0].Value
		} else {
			v, err := env.Formulas.EvalValue(pc.Formula, vars)
			if err != nil {
				// The unit is dropped so the node can take the next one.
				st.Busy = false
				st.CurrentUnit = nil
				st.Incr(ir.CounterDropped)
				res := Result{State: st}
				startUnit(env, pc, st, &res)
				return res, env.FormulaError(pc.Formula, err)
			}
			value = v
		}

		tok, err := env.NewToken(value, inputs, nil)
		if err != nil {
			return Result{}, err
		}
		st.Stage(pc.Output, tok)
		st.Incr(ir.CounterEmitted)
		st.Busy = false
		st.CurrentUnit = nil

		res := Result{
			State:      st,
			Activities: []ir.ActivityEntry{tokenActivity(ir.ActionEmit, tok, nil)},
		}
		startUnit(env, pc, st, &res)
		return res, nil

	default:
		return Result{}, env.Unsupported()
	}
}

// startUnit begins the next unit of work when the node is idle and every
// required input has a token waiting.
func startUnit(env *Env, pc *ir.ProcessConfig, st *ir.NodeState, res *Result) {
	if st.Busy {
		return
	}
	for _, in := range pc.Inputs {
		if !in.Optional && st.Buffered(in.Name) == 0 {
			return
		}
	}

	unit := make(map[string]*ir.Token, len(pc.Inputs))
	for _, in := range pc.Inputs {
		if taken := st.Take(in.Name, 1); len(taken) == 1 {
			unit[in.Name] = taken[0]
		}
	}
	st.Busy = true
	st.CurrentUnit = unit

	inputs, _ := unitInputs(pc, unit)
	values := make(ir.IRObject, len(unit))
	for _, in := range pc.Inputs {
		if tok, ok := unit[in.Name]; ok {
			values[in.VarName()] = tok.Value
		}
	}
	ids := make([]string, len(inputs))
	corr := make([][]string, len(inputs))
	for i, tok := range inputs {
		ids[i] = tok.ID
		corr[i] = tok.CorrelationIDs
	}

	completeAt := env.Now + pc.ProcessingTime
	res.Activities = append(res.Activities, ir.ActivityEntry{
		Action:         ir.ActionProcessStart,
		Value:          values,
		SourceTokenIDs: ids,
		CorrelationIDs: ir.DedupIDs(corr...),
		Detail:         ir.IRObject{"complete_at": ir.IRInt(completeAt)},
	})
	res.NewEvents = append(res.NewEvents, ir.Event{
		Type:         ir.EventProcessComplete,
		SourceNodeID: env.Node.ID,
		TargetNodeID: env.Node.ID,
		Timestamp:    completeAt,
	})
}

// unitInputs returns the unit's tokens in declared input order and the
// formula environment binding each alias to its value. A missing optional
// input binds to nil.
func unitInputs(pc *ir.ProcessConfig, unit map[string]*ir.Token) ([]*ir.Token, map[string]any) {
	tokens := make([]*ir.Token, 0, len(unit))
	vars := make(map[string]any, len(pc.Inputs)+1)
	inputs := make(map[string]any, len(pc.Inputs))
	for _, in := range pc.Inputs {
		tok, ok := unit[in.Name]
		if !ok {
			vars[in.VarName()] = nil
			continue
		}
		tokens = append(tokens, tok)
		vars[in.VarName()] = ir.ToGo(tok.Value)
		inputs[in.Name] = ir.ToGo(tok.Value)
	}
	if _, taken := vars["inputs"]; !taken {
		vars["inputs"] = inputs
	}
	return tokens, vars
}
