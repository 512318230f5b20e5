package engine

import "github.com/roach88/flowledger/internal/ir"

// processDataSource wraps an injected payload into a token and stages it.
// A DataSource never originates tokens on its own.
func processDataSource(env *Env, event *ir.Event, cfg *ir.NodeConfig, st *ir.NodeState) (Result, error) {
	switch event.Type {
	case ir.EventSimulationStart:
		return Result{State: st}, nil

	case ir.EventDataEmit:
		tok, err := env.NewToken(event.Data, nil, event.CorrelationIDs)
		if err != nil {
			return Result{}, err
		}
		st.Stage("", tok)
		st.Incr(ir.CounterEmitted)

		return Result{
			State:      st,
			Activities: []ir.ActivityEntry{tokenActivity(ir.ActionEmit, tok, nil)},
		}, nil

	default:
		return Result{}, env.Unsupported()
	}
}
