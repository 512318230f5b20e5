package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
)

// StepOptions holds flags for the step command.
type StepOptions struct {
	*RootOptions
	To      int64
	FullLog bool
}

// NewStepCommand creates the step command.
func NewStepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "step <scenario-file>",
		Short: "Show the engine state after N steps",
		Long: `Replay a scenario from the start up to step N and show the state there:
the activities step N appended, every node's state and the queue size
before the next step.

Step 0 is the state before the simulation start event. Asking for more
steps than the scenario has shows its final state.

Examples:
  flowledger step ./scenarios/batch.yaml --to 5
  flowledger step ./scenarios/batch.yaml --to 5 --full-log --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.To, "to", 0, "step to stop after (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().BoolVar(&opts.FullLog, "full-log", false, "print the full activity log up to step N")

	return cmd
}

func runStep(opts *StepOptions, path string, cmd *cobra.Command) error {
	if opts.To < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--to must be non-negative, got %d", opts.To))
	}
	formatter := opts.formatter(cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	_, s, eng, err := newEngine(opts.RootOptions, cmd, path)
	if err != nil {
		return err
	}
	if err := eng.StepTo(ctx, opts.To); err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("failed to reach step %d", opts.To), err)
	}
	snap := eng.Snapshot()

	if formatter.IsJSON() {
		if !opts.FullLog {
			snap.FullActivityLog = nil
		}
		return formatter.Success(snap)
	}
	outputStepText(formatter, s, snap, opts.FullLog)
	return nil
}

func outputStepText(formatter *OutputFormatter, s *ir.Scenario, snap *engine.Snapshot, fullLog bool) {
	w := formatter.Writer
	fmt.Fprintf(w, "Step %d at t=%d (%d event(s) queued)\n", snap.Step, snap.Now, snap.QueueSizeBeforeNextStep)

	fmt.Fprintf(w, "Activities this step (%d):\n", len(snap.ActivitiesSinceLastStep))
	writeLedger(w, snap.ActivitiesSinceLastStep)

	fmt.Fprintln(w, "Nodes:")
	for _, n := range s.Nodes {
		st, ok := snap.NodeStates[n.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %s (%s): %s\n", n.ID, n.Type, describeState(st))
	}

	writeFailures(w, snap.Failures)

	if fullLog {
		fmt.Fprintf(w, "Activity log (%d):\n", len(snap.FullActivityLog))
		writeLedger(w, snap.FullActivityLog)
	}
}

// describeState summarizes the parts of a node state that are set.
func describeState(st *ir.NodeState) string {
	buffered := 0
	for _, tokens := range st.Inputs {
		buffered += len(tokens)
	}
	parts := []string{
		fmt.Sprintf("arrivals=%d", st.Arrivals),
		fmt.Sprintf("buffered=%d", buffered),
	}
	if len(st.OutputBuffer) > 0 {
		parts = append(parts, fmt.Sprintf("staged=%d", len(st.OutputBuffer)))
	}
	if st.CurrentState != "" {
		parts = append(parts, "state="+st.CurrentState)
	}
	if st.Busy {
		parts = append(parts, "busy")
	}
	if st.TriggerPending {
		parts = append(parts, fmt.Sprintf("trigger_at=%d", st.TriggerAt))
	}
	if st.Aggregate != nil {
		parts = append(parts, "aggregate="+formatValue(st.Aggregate))
	}
	return strings.Join(parts, " ")
}
