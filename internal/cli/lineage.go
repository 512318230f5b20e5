package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/lineage"
)

// LineageOptions holds flags for the lineage command.
type LineageOptions struct {
	*RootOptions
	Mode     string
	Lookback int64
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LineageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lineage <scenario-file> <correlation-id>",
		Short: "Trace where a value came from and went",
		Long: `Run a scenario and reconstruct the lineage of one correlation id: an
external event id or a token id.

Exact mode follows token ids through joins and splits. Heuristic mode also
matches entries that share a correlation id within --lookback ledger
positions.

Examples:
  flowledger lineage ./scenarios/batch.yaml e2
  flowledger lineage ./scenarios/batch.yaml e2 --mode heuristic --lookback 50`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "lineage mode: exact or heuristic (default lineage.mode)")
	cmd.Flags().Int64Var(&opts.Lookback, "lookback", 0, "heuristic lookback in ledger positions (default lineage.lookback)")

	return cmd
}

func runLineage(opts *LineageOptions, path, correlationID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	ex, err := execute(ctx, opts.RootOptions, cmd, path, engine.RunOptions{})
	if err != nil {
		return err
	}

	lopts := ex.config.LineageOptions()
	if opts.Mode != "" {
		lopts.Mode = lineage.Mode(opts.Mode)
	}
	if opts.Lookback > 0 {
		lopts.Lookback = opts.Lookback
	}

	res, err := lineage.Trace(ex.engine.Ledger(), correlationID, lopts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to trace lineage", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(res)
	}

	w := formatter.Writer
	if len(res.Entries) == 0 {
		fmt.Fprintf(w, "No ledger entries for %s\n", correlationID)
		return nil
	}
	fmt.Fprintf(w, "Lineage of %s (%s): %d entries\n", res.CorrelationID, res.Mode, len(res.Entries))
	fmt.Fprintf(w, "  Path: %s\n", strings.Join(res.NodeIDs, " → "))
	fmt.Fprintf(w, "  Correlation ids: %s\n", strings.Join(res.CorrelationIDs, ", "))
	fmt.Fprintln(w, "Entries:")
	writeLedger(w, res.Entries)
	return nil
}
