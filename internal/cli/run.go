package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/metrics"
	"github.com/roach88/flowledger/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	MaxSteps   int64
	MaxTicks   int64
	ShowLedger bool
	Metrics    bool

	// IDs overrides the execution id generator (for testing).
	// If nil, the store uses UUIDv7Generator.
	IDs store.IDGenerator
}

// RunSummary is the outcome of the run command.
type RunSummary struct {
	Scenario    string               `json:"scenario"`
	ExecutionID string               `json:"execution_id,omitempty"`
	StopReason  engine.StopReason    `json:"stop_reason"`
	Steps       int64                `json:"steps"`
	Now         int64                `json:"now"`
	LedgerSize  int                  `json:"ledger_size"`
	Pending     int                  `json:"pending"`
	Sinks       []SinkResult         `json:"sinks,omitempty"`
	Failures    []engine.StepFailure `json:"failures,omitempty"`
	Ledger      []ir.ActivityEntry   `json:"ledger,omitempty"`
	Metrics     string               `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run a scenario to completion",
		Long: `Run a scenario until its event queue is empty or a bound stops it.

Aborted steps are reported and the run continues past them. With --db the
scenario, the ledger and the run summary are recorded so the run can be
replayed, traced and claimed later.

Examples:
  flowledger run ./scenarios/batch.yaml
  flowledger run ./scenarios/batch.yaml --db ./flowledger.db
  flowledger run ./scenarios/batch.yaml --max-ticks 100 --ledger
  flowledger run ./scenarios/batch.yaml --metrics --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite database")
	cmd.Flags().Int64Var(&opts.MaxSteps, "max-steps", 0, "stop after this many steps (0 = unbounded)")
	cmd.Flags().Int64Var(&opts.MaxTicks, "max-ticks", 0, "stop before events past this time (0 = engine.max_ticks)")
	cmd.Flags().BoolVar(&opts.ShowLedger, "ledger", false, "include the full ledger in the output")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics for the run")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	cfg, err := opts.config()
	if err != nil {
		return err
	}

	var observers []engine.Observer
	var recorder *metrics.Recorder
	if opts.Metrics || cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		observers = append(observers, recorder)
	}

	ex, err := execute(ctx, opts.RootOptions, cmd, path, engine.RunOptions{
		MaxSteps: opts.MaxSteps,
		MaxTicks: opts.MaxTicks,
	}, observers...)
	if err != nil {
		return err
	}

	ledger := ex.engine.Ledger()
	summary := RunSummary{
		Scenario:   ex.scenario.Name,
		StopReason: ex.result.Reason,
		Steps:      ex.result.TotalSteps,
		Now:        ex.result.Now,
		LedgerSize: ex.result.LedgerSize,
		Pending:    ex.result.Pending,
		Sinks:      sinkResults(ex.scenario, ledger),
		Failures:   ex.engine.Failures(),
	}
	if opts.ShowLedger {
		summary.Ledger = ledger
	}

	if opts.Database != "" {
		formatter.VerboseLog("Recording run in %s", opts.Database)
		id, err := recordRun(context.WithoutCancel(ctx), opts, ex, ledger)
		if err != nil {
			return err
		}
		summary.ExecutionID = id
	}

	if recorder != nil {
		text, err := recorder.WriteText()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
		summary.Metrics = text
	}

	if formatter.IsJSON() {
		return formatter.Success(summary)
	}
	outputRunText(formatter, summary)
	return nil
}

// recordRun records the run and returns its execution id. A cancelled run
// is still recorded.
func recordRun(ctx context.Context, opts *RunOptions, ex *execution, ledger []ir.ActivityEntry) (string, error) {
	st, err := createStore(opts.Database, opts.IDs)
	if err != nil {
		return "", err
	}
	defer st.Close()

	exec, err := ex.record(ctx, st, ledger)
	if err != nil {
		return "", err
	}
	return exec.ID, nil
}

func outputRunText(formatter *OutputFormatter, s RunSummary) {
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Ran %s: %s after %d step(s), t=%d\n", s.Scenario, s.StopReason, s.Steps, s.Now)
	fmt.Fprintf(w, "  Ledger: %d entries, %d pending event(s)\n", s.LedgerSize, s.Pending)
	if s.ExecutionID != "" {
		fmt.Fprintf(w, "  Execution: %s\n", s.ExecutionID)
	}

	if len(s.Sinks) > 0 {
		fmt.Fprintln(w, "Sinks:")
		for _, sink := range s.Sinks {
			if sink.Error != "" {
				fmt.Fprintf(w, "  %s (%s): error: %s\n", sink.Sink, sink.Method, sink.Error)
				continue
			}
			fmt.Fprintf(w, "  %s (%s over %d): %s\n", sink.Sink, sink.Method, sink.Consumed, formatValue(sink.Aggregate))
		}
	}
	writeFailures(w, s.Failures)

	if len(s.Ledger) > 0 {
		fmt.Fprintln(w, "Ledger:")
		writeLedger(w, s.Ledger)
	}
	if s.Metrics != "" {
		fmt.Fprintln(w, "Metrics:")
		fmt.Fprint(w, s.Metrics)
	}
}
