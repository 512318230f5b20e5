package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0   // Successful execution
	ExitFailure      = 1   // Check failed (invalid scenario, suite failure, replay mismatch, bad claim)
	ExitCommandError = 2   // Command error (missing file, database error, bad flags)
	ExitInterrupted  = 130 // SIGINT or SIGTERM stopped the command
)

// Error codes shared by every command's JSON output. Scenario validation
// problems carry the compiler's E1xx/E2xx codes instead.
const (
	ErrCodeGeneric        = "E001" // Generic/unknown error
	ErrCodeLoadFailed     = "E004" // Scenario could not be parsed
	ErrCodeNotFound       = "E005" // Path not found
	ErrCodeWriteFailed    = "E007" // File write error
	ErrCodeReplayMismatch = "E010" // Stored ledger differs from a replay
	ErrCodeClaimInvalid   = "E011" // Claim verification failed
	ErrCodeTestFailed     = "E012" // One or more suites failed
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors without an ExitError
// in their chain exit with ExitFailure, or ExitInterrupted when the command's
// context was cancelled by a signal.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or as a CLIResponse
// envelope. Diagnostics go to ErrWriter so JSON on Writer stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope every command writes.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// IsJSON reports whether output is JSON.
func (f *OutputFormatter) IsJSON() bool {
	return f.Format == "json"
}

// Success writes data, or an "ok" envelope around it.
func (f *OutputFormatter) Success(data any) error {
	if f.IsJSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Failure writes a result that did not pass a check, such as a diverged
// replay or an invalid claim. JSON output keeps the data next to the error.
func (f *OutputFormatter) Failure(code, message string, data any) error {
	if f.IsJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Data:   data,
			Error:  &CLIError{Code: code, Message: message},
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Fail writes a JSON failure envelope and returns the ExitError the command
// should return. Text output is left to the caller.
func (f *OutputFormatter) Fail(exit int, code, message string, data any) error {
	if f.IsJSON() {
		if err := f.Failure(code, message, data); err != nil {
			return err
		}
	}
	return NewExitError(exit, message)
}

// Error writes an error with no result data.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.IsJSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

// VerboseLog writes a diagnostic line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter, or Writer when none is set.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
