package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/ir"
)

// VersionInfo reports the engine and ledger format versions.
type VersionInfo struct {
	Engine string `json:"engine"`
	Ledger string `json:"ledger"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print version information",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{Engine: ir.EngineVersion, Ledger: ir.LedgerVersion}
			formatter := rootOpts.formatter(cmd)
			if formatter.IsJSON() {
				return formatter.Success(info)
			}
			fmt.Fprintf(formatter.Writer, "flowledger %s (ledger v%s)\n", info.Engine, info.Ledger)
			return nil
		},
	}
}
