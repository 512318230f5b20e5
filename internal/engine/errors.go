package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/flowledger/internal/ir"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates an invalid scenario. Fatal at load.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeUnsupportedEvent indicates a processor received an event type
	// its node type does not handle. Recovered: the event is skipped.
	ErrCodeUnsupportedEvent ErrorCode = "UNSUPPORTED_EVENT"

	// ErrCodeFormulaEvaluation indicates a user expression failed. Aborts
	// the current step only.
	ErrCodeFormulaEvaluation ErrorCode = "FORMULA_EVALUATION"

	// ErrCodeQuotaExceeded indicates the engine hit its max steps quota.
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
)

// ErrQueueEmpty is returned by Step when no event is pending.
var ErrQueueEmpty = errors.New("event queue is empty")

// ErrNotLoaded is returned when the engine is driven before LoadScenario.
var ErrNotLoaded = errors.New("no scenario loaded")

// ConfigurationError reports every problem found while loading a scenario.
// Processing never starts when one is returned.
type ConfigurationError struct {
	Problems []string
}

// Code returns ErrCodeConfiguration.
func (e *ConfigurationError) Code() ErrorCode { return ErrCodeConfiguration }

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", ErrCodeConfiguration, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems: %s", ErrCodeConfiguration, len(e.Problems), strings.Join(e.Problems, "; "))
}

// NewConfigurationError creates a ConfigurationError from problem messages.
func NewConfigurationError(problems ...string) *ConfigurationError {
	return &ConfigurationError{Problems: problems}
}

// UnsupportedEventError is returned by a processor that does not handle an
// event type. The engine logs it, leaves node state untouched and continues.
type UnsupportedEventError struct {
	NodeID    string
	NodeType  ir.NodeType
	EventID   string
	EventType ir.EventType
}

// Code returns ErrCodeUnsupportedEvent.
func (e *UnsupportedEventError) Code() ErrorCode { return ErrCodeUnsupportedEvent }

// Error implements the error interface.
func (e *UnsupportedEventError) Error() string {
	return fmt.Sprintf("%s: %s node %s does not handle %s (event=%s)",
		ErrCodeUnsupportedEvent, e.NodeType, e.NodeID, e.EventType, e.EventID)
}

// FormulaEvaluationError reports a user expression that failed to compile
// or run. It carries the node id and the expression text.
type FormulaEvaluationError struct {
	NodeID     string
	EventID    string
	Expression string
	Err        error
}

// Code returns ErrCodeFormulaEvaluation.
func (e *FormulaEvaluationError) Code() ErrorCode { return ErrCodeFormulaEvaluation }

// Error implements the error interface.
func (e *FormulaEvaluationError) Error() string {
	return fmt.Sprintf("%s: node %s expression %q: %v", ErrCodeFormulaEvaluation, e.NodeID, e.Expression, e.Err)
}

// Unwrap returns the underlying evaluation error.
func (e *FormulaEvaluationError) Unwrap() error { return e.Err }

// IsConfigurationError returns true if the error is a ConfigurationError.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsUnsupportedEventError returns true if the error is an UnsupportedEventError.
// Uses errors.As to handle wrapped errors.
func IsUnsupportedEventError(err error) bool {
	var ue *UnsupportedEventError
	return errors.As(err, &ue)
}

// IsFormulaError returns true if the error is a FormulaEvaluationError.
// Uses errors.As to handle wrapped errors.
func IsFormulaError(err error) bool {
	var fe *FormulaEvaluationError
	return errors.As(err, &fe)
}

// CodeOf returns the ErrorCode of err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var coded interface{ Code() ErrorCode }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}
