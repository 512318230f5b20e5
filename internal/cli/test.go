package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // suite filter (glob pattern on the file name)
}

// SuiteResult holds the result of a single suite.
type SuiteResult struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Suites []SuiteResult `json:"suites"`
	Passed int           `json:"passed"`
	Failed int           `json:"failed"`
	Total  int           `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <suites-path>",
		Short: "Run conformance suites",
		Long: `Run YAML conformance suites against the engine.

Each suite names a scenario (inline or by file), optional run bounds and a
list of assertions over the resulting ledger: stop reason, ledger size,
activity counts and order, sink aggregates, lineage, claims, determinism
and replay. The path may be a directory, searched recursively, or a single
suite file.

Exit codes:
  0 - All suites passed
  1 - One or more suites failed
  2 - Command error (invalid paths, etc.)

Examples:
  flowledger test ./suites
  flowledger test ./suites --filter "batch-*"
  flowledger test ./suites/batch_sum.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter suites by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	cfg, err := opts.config()
	if err != nil {
		return err
	}

	paths, err := harness.Discover(path)
	if err != nil {
		var dirErr *harness.SuiteDirError
		if errors.As(err, &dirErr) && errors.Is(err, fs.ErrNotExist) {
			return NewExitError(ExitCommandError, fmt.Sprintf("suites path not found: %s", path))
		}
		return WrapExitError(ExitCommandError, "failed to find suites", err)
	}
	if paths, err = filterSuites(paths, opts.Filter); err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	if len(paths) == 0 {
		if formatter.IsJSON() {
			return formatter.Success(TestResult{Suites: []SuiteResult{}})
		}
		fmt.Fprintln(formatter.Writer, "No suites found.")
		return nil
	}

	logger := opts.logger(cfg, cmd.ErrOrStderr())
	h, err := harness.New(
		harness.WithLogger(logger),
		harness.WithEngineOptions(cfg.EngineOptions()...),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start harness", err)
	}
	defer h.Close()

	result := TestResult{Suites: make([]SuiteResult, 0, len(paths))}
	for _, p := range paths {
		formatter.VerboseLog("Running suite %s", p)
		sr := suiteResult(p, h.RunFiles(ctx, []string{p}))
		result.Suites = append(result.Suites, sr)
		result.Total++
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if formatter.IsJSON() {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(formatter, result)
}

// filterSuites keeps the paths whose base name, without extension,
// matches filter.
func filterSuites(paths []string, filter string) ([]string, error) {
	if filter == "" {
		return paths, nil
	}
	var kept []string
	for _, p := range paths {
		base := filepath.Base(p)
		matched, err := filepath.Match(filter, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, err
		}
		if matched {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// suiteResult converts the report of a single suite file.
func suiteResult(path string, report *harness.Report) SuiteResult {
	sr := SuiteResult{Name: filepath.Base(path), Path: path, Pass: report.OK()}
	if len(report.Results) > 0 {
		sr.Name = report.Results[0].Suite
	}
	for _, f := range report.Failures {
		if f.Suite != "" {
			sr.Name = f.Suite
		}
		sr.Errors = append(sr.Errors, f.Errors...)
	}
	return sr
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(formatter *OutputFormatter, result TestResult) error {
	if result.Failed == 0 {
		return formatter.Success(result)
	}
	return formatter.Fail(ExitFailure, ErrCodeTestFailed, fmt.Sprintf("%d suite(s) failed", result.Failed), result)
}

// outputTestText outputs the test result as text.
func outputTestText(formatter *OutputFormatter, result TestResult) error {
	w := formatter.Writer

	for _, s := range result.Suites {
		if s.Pass {
			fmt.Fprintf(w, "✓ %s\n", s.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			for _, line := range strings.Split(strings.TrimRight(e, "\n"), "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d suite(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All suites passed")
	return nil
}
