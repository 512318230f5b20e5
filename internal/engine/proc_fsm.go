package engine

import (
	"github.com/roach88/flowledger/internal/ir"
)

// processFSM applies the first transition, in declaration order, whose From
// matches the current state (or is "*") and whose guard holds. Input that
// matches no transition is dropped without a ledger entry.
func processFSM(env *Env, event *ir.Event, cfg *ir.NodeConfig, st *ir.NodeState) (Result, error) {
	fc := cfg.FSM

	switch event.Type {
	case ir.EventSimulationStart:
		return Result{State: st}, nil

	case ir.EventTokenArrival:
		tok, err := arrivalToken(env, event)
		if err != nil {
			return Result{}, err
		}
		st.Incr(ir.CounterReceived)

		from := st.CurrentState
		vars := tokenVars(tok, event.InputName, map[string]any{"state": from})

		index := -1
		for i, tr := range fc.Transitions {
			if tr.From != from && tr.From != ir.AnyState {
				continue
			}
			ok, err := env.Formulas.EvalBool(tr.Guard, vars)
			if err != nil {
				return Result{}, env.FormulaError(tr.Guard, err)
			}
			if ok {
				index = i
				break
			}
		}

		if index < 0 {
			st.Incr(ir.CounterDropped)
			env.Logger.Debug("fsm input matched no transition",
				"node_id", cfg.ID,
				"state", from,
				"token_id", tok.ID,
			)
			return Result{State: st}, nil
		}

		tr := fc.Transitions[index]
		st.CurrentState = tr.To

		res := Result{
			State: st,
			Activities: []ir.ActivityEntry{tokenActivity(ir.ActionTransition, tok, ir.IRObject{
				"from":       ir.IRString(from),
				"to":         ir.IRString(tr.To),
				"transition": ir.IRInt(index),
				"input":      ir.IRString(event.InputName),
			})},
		}

		vars["next_state"] = tr.To
		for _, action := range tr.Actions {
			switch action.Type {
			case ir.FSMActionEmit:
				value := tok.Value
				if action.Formula != "" {
					v, err := env.Formulas.EvalValue(action.Formula, vars)
					if err != nil {
						return Result{}, env.FormulaError(action.Formula, err)
					}
					value = v
				}
				out, err := env.NewToken(value, []*ir.Token{tok}, nil)
				if err != nil {
					return Result{}, err
				}
				st.Stage(action.Output, out)
				st.Incr(ir.CounterEmitted)
				res.Activities = append(res.Activities, tokenActivity(ir.ActionEmit, out, ir.IRObject{
					"state": ir.IRString(tr.To),
				}))

			case ir.FSMActionLog:
				res.Activities = append(res.Activities, ir.ActivityEntry{
					Action:         ir.ActionLog,
					Value:          ir.IRString(action.Message),
					TokenID:        tok.ID,
					CorrelationIDs: tok.CorrelationIDs,
					Detail:         ir.IRObject{"state": ir.IRString(tr.To)},
				})
			}
		}
		return res, nil

	default:
		return Result{}, env.Unsupported()
	}
}
