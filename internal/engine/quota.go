package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps is the default engine-wide step quota.
// It stops zero-delay feedback loops that would otherwise never advance
// simulated time.
const DefaultMaxSteps = 1_000_000

// QuotaEnforcer tracks the number of steps an engine has taken and enforces
// a maximum. A non-positive limit disables the quota.
//
// The quota is engine-wide and survives across Run calls, unlike
// RunOptions.MaxSteps which bounds a single call.
type QuotaEnforcer struct {
	maxSteps int64
	current  int64
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int64) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check returns StepsExceededError if another step would exceed the quota.
// It does not consume a step.
func (q *QuotaEnforcer) Check() error {
	if q.maxSteps > 0 && q.current >= q.maxSteps {
		return &StepsExceededError{Steps: q.current, Limit: q.maxSteps}
	}
	return nil
}

// Record consumes one step.
func (q *QuotaEnforcer) Record() {
	q.current++
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int64 {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int64 {
	return q.maxSteps
}

// StepsExceededError is returned by Step once the engine quota is used up.
// Run reports it as StopMaxSteps rather than as an error.
type StepsExceededError struct {
	Steps int64
	Limit int64
}

// Code returns ErrCodeQuotaExceeded.
func (e *StepsExceededError) Code() ErrorCode { return ErrCodeQuotaExceeded }

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("%s: engine exceeded max steps quota: %d steps >= %d limit",
		ErrCodeQuotaExceeded, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
