package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/compiler"
	"github.com/roach88/flowledger/internal/topology"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Output string
}

// GraphResult is the JSON form of the graph command's output.
type GraphResult struct {
	Scenario string                  `json:"scenario"`
	DOT      string                  `json:"dot"`
	Cycles   []compiler.CycleWarning `json:"cycles,omitempty"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph <scenario-file>",
		Short: "Render the node graph as Graphviz DOT",
		Long: `Render a scenario's nodes and output edges as a Graphviz DOT digraph.
Node shapes follow node types; edges are labelled output→input.

Zero-delay feedback loops are reported on stderr.

Examples:
  flowledger graph ./scenarios/batch.yaml | dot -Tsvg > batch.svg
  flowledger graph ./scenarios/batch.yaml -o batch.dot`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the DOT graph to this file")

	return cmd
}

func runGraph(opts *GraphOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	s, err := loadScenario(path)
	if err != nil {
		return err
	}
	dot, err := topology.ToDOT(s)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render graph", err)
	}
	cycles := compiler.DetectCycles(s.Nodes)

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(dot), 0644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write graph", err)
		}
	}

	if formatter.IsJSON() {
		return formatter.Success(GraphResult{Scenario: s.Name, DOT: dot, Cycles: cycles})
	}

	for _, c := range cycles {
		fmt.Fprintf(formatter.GetErrWriter(), "warning: %s\n", c.Message)
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote graph to %s\n", opts.Output)
		return nil
	}
	fmt.Fprint(formatter.Writer, dot)
	return nil
}
