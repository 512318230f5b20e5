package engine

import (
	"github.com/roach88/flowledger/internal/formula"
	"github.com/roach88/flowledger/internal/ir"
)

// processQueue buffers tokens per input and aggregates them either in
// fixed-size batches or per time window.
func processQueue(env *Env, event *ir.Event, cfg *ir.NodeConfig, st *ir.NodeState) (Result, error) {
	qc := cfg.Queue

	switch event.Type {
	case ir.EventSimulationStart:
		return Result{State: st}, nil

	case ir.EventTokenArrival:
		tok, err := arrivalToken(env, event)
		if err != nil {
			return Result{}, err
		}
		st.Enqueue(event.InputName, tok)
		st.Incr(ir.CounterReceived)

		res := Result{
			State: st,
			Activities: []ir.ActivityEntry{
				tokenActivity(ir.ActionReceive, tok, ir.IRObject{"input": ir.IRString(event.InputName)}),
			},
		}

		if qc.IsWindowed() {
			if !st.TriggerPending {
				at := windowBoundary(env.Now, qc.WindowSize)
				st.TriggerPending = true
				st.TriggerAt = at
				res.NewEvents = append(res.NewEvents, ir.Event{
					Type:         ir.EventAggregationTrigger,
					SourceNodeID: cfg.ID,
					TargetNodeID: cfg.ID,
					Timestamp:    at,
				})
				env.Logger.Debug("window trigger scheduled",
					"node_id", cfg.ID,
					"now", env.Now,
					"trigger_at", at,
				)
			}
			return res, nil
		}

		for st.Buffered(event.InputName) >= qc.BatchSize {
			batch := st.Take(event.InputName, qc.BatchSize)
			act, err := emitAggregate(env, st, qc, batch)
			if err != nil {
				st.Incr(ir.CounterDropped)
				return res, err
			}
			res.Activities = append(res.Activities, act)
		}
		return res, nil

	case ir.EventAggregationTrigger:
		if !qc.IsWindowed() {
			return Result{}, env.Unsupported()
		}
		st.TriggerPending = false
		st.TriggerAt = 0

		tokens := st.DrainAll()
		if len(tokens) == 0 {
			return Result{
				State: st,
				Activities: []ir.ActivityEntry{{
					Action: ir.ActionAggregateEmpty,
					Value:  ir.IRNull{},
					Detail: ir.IRObject{"window_end": ir.IRInt(env.Now)},
				}},
			}, nil
		}

		act, err := emitAggregate(env, st, qc, tokens)
		if err != nil {
			// The window is dropped; the next arrival opens a new one.
			st.Incr(ir.CounterDropped)
			return Result{State: st}, err
		}
		return Result{State: st, Activities: []ir.ActivityEntry{act}}, nil

	default:
		return Result{}, env.Unsupported()
	}
}

// emitAggregate reduces tokens into one derived token and stages it.
func emitAggregate(env *Env, st *ir.NodeState, qc *ir.QueueConfig, tokens []*ir.Token) (ir.ActivityEntry, error) {
	method := qc.Aggregation
	if method == "" {
		method = formula.ReduceSum
	}

	value, err := env.Formulas.Reduce(method, ir.Values(tokens))
	if err != nil {
		return ir.ActivityEntry{}, env.FormulaError(method, err)
	}

	tok, err := env.NewToken(value, tokens, nil)
	if err != nil {
		return ir.ActivityEntry{}, err
	}
	st.Stage(qc.Output, tok)
	st.Incr(ir.CounterEmitted)

	return tokenActivity(ir.ActionEmit, tok, ir.IRObject{
		"aggregation": ir.IRString(method),
		"count":       ir.IRInt(len(tokens)),
	}), nil
}

// windowBoundary returns ceil(now/size)*size. A timestamp on a boundary
// maps to itself.
func windowBoundary(now, size int64) int64 {
	q := now / size
	if now%size != 0 && now > 0 {
		q++
	}
	return q * size
}
