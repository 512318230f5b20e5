package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database    string
	ExecutionID string // optional - specific execution only
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Executions      []store.ReplayReport `json:"executions"`
	TotalExecutions int                  `json:"total_executions"`
	AllMatch        bool                 `json:"all_match"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded runs and verify their ledgers",
		Long: `Replay recorded executions and compare each replayed ledger with the
stored one, entry by entry.

Every execution is re-run from its stored scenario on a fresh engine. A
stored entry that differs from its replay (edited, missing or extra) is
reported by seq.

Exit codes:
  0 - Every replay matches its stored ledger
  1 - At least one execution diverged
  2 - Command error (database not found, unknown execution, etc.)

Examples:
  flowledger replay --db ./flowledger.db
  flowledger replay --db ./flowledger.db --execution 01920c4e-...
  flowledger replay --db ./flowledger.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default store.path)")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "replay a specific execution only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	cfg, err := opts.config()
	if err != nil {
		return err
	}
	st, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ids := []string{opts.ExecutionID}
	if opts.ExecutionID == "" {
		execs, err := st.ListExecutions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list executions", err)
		}
		ids = ids[:0]
		for _, e := range execs {
			ids = append(ids, e.ID)
		}
	}

	logger := opts.logger(cfg, cmd.ErrOrStderr())
	engineOpts := opts.engineOptions(cfg, logger)

	result := ReplayResult{Executions: []store.ReplayReport{}, AllMatch: true}
	for _, id := range ids {
		formatter.VerboseLog("Replaying execution %s", id)
		report, err := st.VerifyExecution(ctx, id, engineOpts...)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay execution %s", id), err)
		}
		result.Executions = append(result.Executions, report)
		if !report.Matches {
			result.AllMatch = false
		}
	}
	result.TotalExecutions = len(result.Executions)

	if formatter.IsJSON() {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	if result.AllMatch {
		return formatter.Success(result)
	}
	msg := fmt.Sprintf("%d execution(s) diverged", countDiverged(result))
	return formatter.Fail(ExitFailure, ErrCodeReplayMismatch, msg, result)
}

func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer
	if result.TotalExecutions == 0 {
		fmt.Fprintln(w, "No executions found.")
		return nil
	}

	for _, r := range result.Executions {
		if r.Matches {
			fmt.Fprintf(w, "✓ %s: %d entries match (%d steps)\n", r.ExecutionID, r.StoredEntries, r.Steps)
			continue
		}
		fmt.Fprintf(w, "✗ %s: diverged at seq %d (stored %d, replayed %d)\n",
			r.ExecutionID, r.FirstDivergence, r.StoredEntries, r.ReplayedEntries)
	}
	fmt.Fprintln(w)

	if !result.AllMatch {
		msg := fmt.Sprintf("%d execution(s) diverged", countDiverged(result))
		fmt.Fprintf(w, "Replay Summary: %s of %d\n", msg, result.TotalExecutions)
		return NewExitError(ExitFailure, msg)
	}
	fmt.Fprintf(w, "✓ All %d execution(s) replay identically\n", result.TotalExecutions)
	return nil
}

func countDiverged(result ReplayResult) int {
	n := 0
	for _, r := range result.Executions {
		if !r.Matches {
			n++
		}
	}
	return n
}
