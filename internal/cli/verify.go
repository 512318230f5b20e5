package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/claim"
	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Scenario    string
	Database    string
	ExecutionID string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <claim>",
		Short: "Verify a claim",
		Long: `Verify a claim using nothing but the claim: the sink root, the claim id
and every inclusion proof are recomputed.

With --scenario the scenario is re-run and the claim is also checked
against the resulting ledger. With --db the argument is a stored claim id;
adding --execution checks it against that execution's stored ledger.

Exit codes:
  0 - Claim valid
  1 - Claim invalid
  2 - Command error (claim not found, unreadable file, etc.)

Examples:
  flowledger verify claim.json
  flowledger verify claim.json --scenario ./scenarios/batch.yaml
  flowledger verify --db ./flowledger.db --execution 01920c4e-... 3f9a...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "re-run this scenario and check the claim against its ledger")
	cmd.Flags().StringVar(&opts.Database, "db", "", "read the claim from this SQLite database")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "check against this stored execution's ledger (requires --db)")

	return cmd
}

func runVerify(opts *VerifyOptions, arg string, cmd *cobra.Command) error {
	if opts.ExecutionID != "" && opts.Database == "" {
		return NewExitError(ExitCommandError, "--execution requires --db")
	}
	if opts.ExecutionID != "" && opts.Scenario != "" {
		return NewExitError(ExitCommandError, "--execution and --scenario are exclusive")
	}
	formatter := opts.formatter(cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var c *claim.Claim
	var ledger []ir.ActivityEntry
	if opts.Database != "" {
		st, err := openStore(opts.RootOptions, opts.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		if c, err = st.ReadClaim(ctx, arg); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read claim %s", arg), err)
		}
		if opts.ExecutionID != "" {
			if ledger, err = st.ReadActivities(ctx, opts.ExecutionID, 0); err != nil {
				return WrapExitError(ExitCommandError, "failed to read ledger", err)
			}
			if len(ledger) == 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("execution %s has no ledger", opts.ExecutionID))
			}
		}
	} else {
		var err error
		if c, err = readClaimFile(arg); err != nil {
			return err
		}
	}

	if opts.Scenario != "" {
		ex, err := execute(ctx, opts.RootOptions, cmd, opts.Scenario, engine.RunOptions{})
		if err != nil {
			return err
		}
		ledger = ex.engine.Ledger()
	}

	var report *claim.Report
	if ledger != nil {
		report = claim.VerifyAgainstLedger(c, ledger)
	} else {
		report = claim.Verify(c)
	}

	if formatter.IsJSON() {
		if report.Valid {
			return formatter.Success(report)
		}
		return formatter.Fail(ExitFailure, ErrCodeClaimInvalid, "claim invalid", report)
	}

	w := formatter.Writer
	if report.Valid {
		fmt.Fprintf(w, "✓ Claim %s valid (%d proof(s) checked", report.ClaimID, report.ProofsChecked)
		if report.LedgerChecked {
			fmt.Fprint(w, ", ledger checked")
		}
		fmt.Fprintln(w, ")")
		return nil
	}

	fmt.Fprintf(w, "✗ Claim %s invalid\n", report.ClaimID)
	for _, p := range report.Problems {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("claim invalid: %d problem(s)", len(report.Problems)))
}
