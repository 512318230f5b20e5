package engine

import (
	"cmp"
	"slices"

	"github.com/roach88/flowledger/internal/ir"
)

// processMultiplexer forwards a token along the outputs whose conditions
// hold. Routes are tried by ascending priority, ties in declaration order.
// In "first" mode the first match wins; in "all" mode every match is taken.
// With no match the token goes to the default output, or is dropped.
func processMultiplexer(env *Env, event *ir.Event, cfg *ir.NodeConfig, st *ir.NodeState) (Result, error) {
	mc := cfg.Multiplexer

	switch event.Type {
	case ir.EventSimulationStart:
		return Result{State: st}, nil

	case ir.EventTokenArrival:
		tok, err := arrivalToken(env, event)
		if err != nil {
			return Result{}, err
		}
		st.Incr(ir.CounterReceived)

		routes := slices.Clone(mc.Routes)
		slices.SortStableFunc(routes, func(a, b ir.Route) int {
			return cmp.Compare(a.Priority, b.Priority)
		})

		vars := tokenVars(tok, event.InputName, nil)
		var outputs []string
		for _, r := range routes {
			ok, err := env.Formulas.EvalBool(r.Condition, vars)
			if err != nil {
				return Result{}, env.FormulaError(r.Condition, err)
			}
			if !ok {
				continue
			}
			outputs = append(outputs, r.Output)
			if mc.Mode != ir.MuxAll {
				break
			}
		}

		usedDefault := false
		if len(outputs) == 0 && mc.DefaultOutput != "" {
			outputs = []string{mc.DefaultOutput}
			usedDefault = true
		}

		if len(outputs) == 0 {
			st.Incr(ir.CounterDropped)
			env.Logger.Debug("multiplexer dropped token",
				"node_id", cfg.ID,
				"token_id", tok.ID,
			)
			return Result{
				State: st,
				Activities: []ir.ActivityEntry{tokenActivity(ir.ActionDrop, tok, ir.IRObject{
					"input": ir.IRString(event.InputName),
				})},
			}, nil
		}

		names := make(ir.IRArray, len(outputs))
		for i, out := range outputs {
			st.Stage(out, tok)
			st.Incr(ir.CounterRouted)
			names[i] = ir.IRString(out)
		}

		return Result{
			State: st,
			Activities: []ir.ActivityEntry{tokenActivity(ir.ActionRoute, tok, ir.IRObject{
				"input":   ir.IRString(event.InputName),
				"outputs": names,
				"default": ir.IRBool(usedDefault),
			})},
		}, nil

	default:
		return Result{}, env.Unsupported()
	}
}
