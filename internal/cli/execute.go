package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/config"
	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/formula"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/lineage"
	"github.com/roach88/flowledger/internal/store"
)

// execution is a scenario run to completion by a command.
type execution struct {
	config   *config.Config
	scenario *ir.Scenario
	engine   *engine.Engine
	result   engine.RunResult
}

// commandContext returns a context cancelled on SIGINT or SIGTERM. A
// cancelled run stops with reason "cancelled" and keeps its ledger.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newEngine loads path and builds an engine for it with the configured
// logger, quota and step tracer.
func newEngine(opts *RootOptions, cmd *cobra.Command, path string, observers ...engine.Observer) (*config.Config, *ir.Scenario, *engine.Engine, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := loadScenario(path)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := opts.logger(cfg, cmd.ErrOrStderr())
	eng, err := engine.NewFromScenario(s, opts.engineOptions(cfg, logger, observers...)...)
	if err != nil {
		if engine.IsConfigurationError(err) {
			return nil, nil, nil, WrapExitError(ExitFailure, "invalid scenario", err)
		}
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return cfg, s, eng, nil
}

// execute runs the scenario at path to the end of its queue, or until
// bounds stop it. Zero MaxTicks falls back to engine.max_ticks.
func execute(ctx context.Context, opts *RootOptions, cmd *cobra.Command, path string, bounds engine.RunOptions, observers ...engine.Observer) (*execution, error) {
	cfg, s, eng, err := newEngine(opts, cmd, path, observers...)
	if err != nil {
		return nil, err
	}
	if bounds.MaxTicks == 0 {
		bounds.MaxTicks = cfg.RunOptions().MaxTicks
	}

	res, err := eng.RunToEnd(ctx, bounds)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "run failed", err)
	}
	return &execution{config: cfg, scenario: s, engine: eng, result: res}, nil
}

// createStore opens or creates the database a run is recorded in.
func createStore(path string, ids store.IDGenerator) (*store.Store, error) {
	var opts []store.Option
	if ids != nil {
		opts = append(opts, store.WithIDGenerator(ids))
	}
	st, err := store.Open(path, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// record persists the scenario, ledger and run summary.
func (ex *execution) record(ctx context.Context, st *store.Store, ledger []ir.ActivityEntry) (store.Execution, error) {
	exec, err := st.RecordRun(ctx, ex.scenario, ledger, store.Summary{
		StopReason: string(ex.result.Reason),
		Steps:      ex.result.TotalSteps,
		Now:        ex.result.Now,
		LedgerSize: ex.result.LedgerSize,
	})
	if err != nil {
		return store.Execution{}, WrapExitError(ExitCommandError, "failed to record run", err)
	}
	return exec, nil
}

// sinkMethod is method when set, else the sink's configured aggregation,
// else sum.
func sinkMethod(s *ir.Scenario, sinkID, method string) string {
	if method != "" {
		return method
	}
	if n := s.Node(sinkID); n != nil && n.Sink != nil && n.Sink.Aggregation != "" {
		return n.Sink.Aggregation
	}
	return formula.ReduceSum
}

// SinkResult is the aggregate of one sink.
type SinkResult struct {
	Sink      string     `json:"sink"`
	Method    string     `json:"method"`
	Consumed  int        `json:"consumed"`
	Aggregate ir.IRValue `json:"aggregate"`
	Error     string     `json:"error,omitempty"`
}

// sinkResults aggregates every sink in declaration order.
func sinkResults(s *ir.Scenario, ledger []ir.ActivityEntry) []SinkResult {
	var out []SinkResult
	for _, n := range s.Nodes {
		if n.Type != ir.NodeSink {
			continue
		}
		r := SinkResult{
			Sink:     n.ID,
			Method:   sinkMethod(s, n.ID, ""),
			Consumed: len(lineage.SinkEntries(ledger, n.ID, 0)),
		}
		v, err := lineage.SinkAggregate(ledger, n.ID, r.Method, 0)
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Aggregate = v
		}
		out = append(out, r)
	}
	return out
}

// formatValue renders a value as canonical JSON.
func formatValue(v ir.IRValue) string {
	if v == nil {
		return "null"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func nodeLabel(id string) string {
	if id == "" {
		return "-"
	}
	return id
}

// writeLedger prints one line per entry.
func writeLedger(w io.Writer, entries []ir.ActivityEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "  [%d] step=%d t=%d %s %s %s\n",
			e.Seq, e.Step, e.Timestamp, nodeLabel(e.NodeID), e.Action, formatValue(e.Value))
	}
}

func writeFailures(w io.Writer, failures []engine.StepFailure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(w, "Failures (%d):\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  step %d at %s [%s]: %s\n", f.Step, nodeLabel(f.NodeID), f.Code, f.Message)
	}
}
