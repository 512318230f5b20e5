package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/compiler"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled scenario and its content id.
type CompilationResult struct {
	ScenarioID string       `json:"scenario_id"`
	Scenario   *ir.Scenario `json:"scenario"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	NodeCount  int
	EdgeCount  int
	EventCount int
	NodeTypes  map[ir.NodeType]int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <scenario-file>",
		Short: "Compile a scenario to IR JSON",
		Long: `Compile a CUE, YAML or JSON scenario to the engine's IR.

The scenario is validated first. The output carries the scenario's content
id, the same id the store uses when a run is recorded.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	s, err := LoadScenario(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Error())
		}
		return outputCompileError(formatter, ErrCodeGeneric, err.Error())
	}
	formatter.VerboseLog("Compiling scenario: %s", s.Name)

	if errs := compiler.Errors(compiler.Validate(s)); len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}

	id, _, err := store.ScenarioID(s)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error())
	}
	result := &CompilationResult{ScenarioID: id, Scenario: s}

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, result, calculateStats(s), opts.Output)
}

// calculateStats computes summary statistics for a scenario.
func calculateStats(s *ir.Scenario) CompilationStats {
	stats := CompilationStats{
		NodeCount:  len(s.Nodes),
		EventCount: len(s.Events),
		NodeTypes:  make(map[ir.NodeType]int),
	}
	for _, n := range s.Nodes {
		stats.EdgeCount += len(n.Outputs)
		stats.NodeTypes[n.Type]++
	}
	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %s: %d node(s), %d edge(s), %d event(s)\n\n",
		result.Scenario.Name, stats.NodeCount, stats.EdgeCount, stats.EventCount)

	fmt.Fprintln(w, "Nodes:")
	for _, n := range result.Scenario.Nodes {
		fmt.Fprintf(w, "  %s (%s): %d output(s)\n", n.ID, n.Type, len(n.Outputs))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scenario ID: %s\n", result.ScenarioID)

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote IR to %s\n", outputFile)
	}
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCompileErrors outputs every validation error that blocked compilation.
func outputCompileErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	cliErrors := make([]CLIError, len(errs))
	for i, e := range errs {
		cliErrors[i] = CLIError{Code: e.Code, Message: e.Message, Details: e.Field}
	}
	err := formatter.Fail(ExitCommandError, cliErrors[0].Code, fmt.Sprintf("compilation failed with %d error(s)", len(errs)), cliErrors)
	if formatter.IsJSON() {
		return err
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", e.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", e.Code, e.Field, e.Message)
	}
	return err
}

// writeIRToFile writes the compilation result as indented JSON.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
