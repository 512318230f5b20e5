package engine

import (
	"github.com/roach88/flowledger/internal/formula"
	"github.com/roach88/flowledger/internal/ir"
)

// processSink consumes tokens and keeps a running aggregate over every
// consumed value.
func processSink(env *Env, event *ir.Event, cfg *ir.NodeConfig, st *ir.NodeState) (Result, error) {
	switch event.Type {
	case ir.EventSimulationStart:
		return Result{State: st}, nil

	case ir.EventTokenArrival:
		tok, err := arrivalToken(env, event)
		if err != nil {
			return Result{}, err
		}

		method := SinkAggregation(cfg)
		st.Consumed = append(st.Consumed, tok.Value)
		st.Incr(ir.CounterConsumed)
		detail := ir.IRObject{"input": ir.IRString(event.InputName)}

		// The consume entry is logged even when the aggregate cannot be
		// computed; the sink then keeps its previous aggregate.
		agg, aggErr := env.Formulas.Reduce(method, st.Consumed)
		if aggErr == nil {
			st.Aggregate = agg
		} else {
			detail["aggregate_error"] = ir.IRString(aggErr.Error())
		}
		if st.Aggregate != nil {
			detail["aggregate"] = st.Aggregate
		} else {
			detail["aggregate"] = ir.IRNull{}
		}

		res := Result{
			State:      st,
			Activities: []ir.ActivityEntry{tokenActivity(ir.ActionConsume, tok, detail)},
		}
		if aggErr == nil {
			return res, nil
		}
		if cfg.Sink == nil || cfg.Sink.Aggregation == "" {
			env.Logger.Warn("sink aggregate unchanged",
				"node_id", cfg.ID,
				"token_id", tok.ID,
				"aggregation", method,
				"error", aggErr,
			)
			return res, nil
		}
		return res, env.FormulaError(method, aggErr)

	default:
		return Result{}, env.Unsupported()
	}
}

// SinkAggregation returns the aggregation a sink node applies.
func SinkAggregation(cfg *ir.NodeConfig) string {
	if cfg.Sink != nil && cfg.Sink.Aggregation != "" {
		return cfg.Sink.Aggregation
	}
	return formula.ReduceSum
}
