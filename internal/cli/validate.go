package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Scenario string                     `json:"scenario"`
	Valid    bool                       `json:"valid"`
	Nodes    int                        `json:"nodes"`
	Events   int                        `json:"events"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.ValidationError `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-file>",
		Short: "Validate a scenario without running it",
		Long: `Validate a scenario file (.cue, .yaml, .yml or .json).

Checks node configuration, output edges, formulas and external events, and
warns about zero-delay feedback loops. Every problem is reported, not just
the first.

Exit codes:
  0 - Scenario valid (warnings allowed)
  1 - Scenario has errors
  2 - File missing or unparseable`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	s, err := LoadScenario(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Error())
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error())
	}
	formatter.VerboseLog("Loaded scenario %s: %d node(s), %d event(s)", s.Name, len(s.Nodes), len(s.Events))

	result := ValidationResult{
		Scenario: s.Name,
		Nodes:    len(s.Nodes),
		Events:   len(s.Events),
	}
	for _, p := range compiler.Validate(s) {
		if p.IsWarning() {
			result.Warnings = append(result.Warnings, p)
		} else {
			result.Errors = append(result.Errors, p)
		}
	}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Scenario %s valid (%d nodes, %d events)\n", result.Scenario, result.Nodes, result.Events)
	writeProblems(formatter, "warning", result.Warnings)
	return nil
}

// outputValidateError outputs a load failure. The file never parsed, so
// this is a command error (exit code 2).
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, message)
}

// outputValidationErrors outputs every validation problem.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	first := result.Errors[0]
	err := formatter.Fail(ExitFailure, first.Code, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)), result)
	if formatter.IsJSON() {
		return err
	}

	fmt.Fprintf(formatter.Writer, "✗ Scenario %s invalid\n\n", result.Scenario)
	writeProblems(formatter, "error", result.Errors)
	writeProblems(formatter, "warning", result.Warnings)
	return err
}

func writeProblems(formatter *OutputFormatter, label string, problems []compiler.ValidationError) {
	for _, p := range problems {
		if p.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", p.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s %s: %s: %s\n", label, p.Code, p.Field, p.Message)
	}
}
