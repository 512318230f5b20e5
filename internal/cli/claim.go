package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/claim"
	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/lineage"
	"github.com/roach88/flowledger/internal/store"
)

// ClaimOptions holds flags for the claim command.
type ClaimOptions struct {
	*RootOptions
	Method   string
	UptoSeq  int64
	Proofs   bool
	Output   string
	Extend   string
	Database string

	// IDs overrides the execution id generator (for testing).
	IDs store.IDGenerator
}

// ClaimResult is the outcome of the claim command.
type ClaimResult struct {
	ExecutionID string       `json:"execution_id,omitempty"`
	Claim       *claim.Claim `json:"claim"`
}

// NewClaimCommand creates the claim command.
func NewClaimCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClaimOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "claim <scenario-file> <sink-id>",
		Short: "Export a verifiable claim over a sink",
		Long: `Run a scenario and export a Merkle claim over the entries one sink
consumed: the full-ledger root, the sink root, the sink entry hashes, an
optional inclusion proof per entry, and the sink's aggregate.

--extend builds a claim that continues an earlier claim file over the same
ledger. With --db the run and the claim are recorded.

Examples:
  flowledger claim ./scenarios/batch.yaml snk -o claim.json
  flowledger claim ./scenarios/batch.yaml snk --upto 8 --proofs=false
  flowledger claim ./scenarios/batch.yaml snk --extend old-claim.json
  flowledger claim ./scenarios/batch.yaml snk --db ./flowledger.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaim(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Method, "method", "", "aggregation method (default: the sink's aggregation)")
	cmd.Flags().Int64Var(&opts.UptoSeq, "upto", 0, "only claim entries up to this seq (0 = whole ledger)")
	cmd.Flags().BoolVar(&opts.Proofs, "proofs", true, "include inclusion proofs (default claims.include_proofs)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the claim JSON to this file")
	cmd.Flags().StringVar(&opts.Extend, "extend", "", "claim file to extend")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run and claim in this SQLite database")

	return cmd
}

func runClaim(opts *ClaimOptions, path, sinkID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var prev *claim.Claim
	if opts.Extend != "" {
		var err error
		if prev, err = readClaimFile(opts.Extend); err != nil {
			return err
		}
	}

	ex, err := execute(ctx, opts.RootOptions, cmd, path, engine.RunOptions{})
	if err != nil {
		return err
	}
	if err := checkSink(ex.scenario, sinkID); err != nil {
		return err
	}

	copts := ex.config.ClaimOptions()
	if cmd.Flags().Changed("proofs") {
		copts.IncludeProofs = opts.Proofs
	}

	ledger := ex.engine.Ledger()
	method := sinkMethod(ex.scenario, sinkID, opts.Method)
	agg, err := lineage.SinkAggregate(ledger, sinkID, method, opts.UptoSeq)
	if err != nil {
		return WrapExitError(ExitFailure, "aggregation failed", err)
	}
	in := claim.Input{
		SinkID:      sinkID,
		Aggregation: method,
		Aggregate:   agg,
		Metadata:    ir.IRObject{"scenario": ir.IRString(ex.scenario.Name)},
	}

	sinkEvents := lineage.SinkEntries(ledger, sinkID, opts.UptoSeq)
	var c *claim.Claim
	if prev != nil {
		if prev.SinkEventCount > len(sinkEvents) {
			return NewExitError(ExitFailure, fmt.Sprintf("claim %s covers %d sink entries, the run has %d",
				prev.ClaimID, prev.SinkEventCount, len(sinkEvents)))
		}
		c, err = claim.Extend(prev, in, ledger, sinkEvents[prev.SinkEventCount:], copts)
	} else {
		c, err = claim.Tokenize(in, ledger, sinkEvents, copts)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build claim", err)
	}

	result := ClaimResult{Claim: c}
	if opts.Database != "" {
		id, err := recordClaim(context.WithoutCancel(ctx), opts, ex, ledger, c)
		if err != nil {
			return err
		}
		result.ExecutionID = id
	}

	if opts.Output != "" {
		if err := writeJSONFile(opts.Output, c); err != nil {
			return WrapExitError(ExitCommandError, "failed to write claim", err)
		}
		formatter.VerboseLog("Wrote claim %s to %s", c.ClaimID, opts.Output)
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Claim %s\n", c.ClaimID)
	fmt.Fprintf(w, "  Sink: %s (%s) = %s\n", sinkID, method, formatValue(c.Aggregate))
	fmt.Fprintf(w, "  Sink root: %s (%d entries)\n", c.SinkMerkleRoot, c.SinkEventCount)
	fmt.Fprintf(w, "  Ledger root: %s (%d entries)\n", c.FullLedgerMerkleRoot, c.FullLedgerEventCount)
	fmt.Fprintf(w, "  Inclusion proofs: %d\n", len(c.InclusionProofs))
	if result.ExecutionID != "" {
		fmt.Fprintf(w, "  Execution: %s\n", result.ExecutionID)
	}
	if opts.Output != "" {
		fmt.Fprintf(w, "Wrote claim to %s\n", opts.Output)
	}
	return nil
}

// recordClaim records the run and the claim over it.
func recordClaim(ctx context.Context, opts *ClaimOptions, ex *execution, ledger []ir.ActivityEntry, c *claim.Claim) (string, error) {
	st, err := createStore(opts.Database, opts.IDs)
	if err != nil {
		return "", err
	}
	defer st.Close()

	exec, err := ex.record(ctx, st, ledger)
	if err != nil {
		return "", err
	}
	if err := st.SaveClaim(ctx, exec.ID, c); err != nil {
		return "", WrapExitError(ExitCommandError, "failed to save claim", err)
	}
	return exec.ID, nil
}

// readClaimFile decodes a claim exported with -o.
func readClaimFile(path string) (*claim.Claim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read claim", err)
	}
	var c claim.Claim
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to parse claim %s", path), err)
	}
	return &c, nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
