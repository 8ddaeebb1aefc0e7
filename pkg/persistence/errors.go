// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrJourneyNotFound indicates a journey was not found by the given identifier.
	ErrJourneyNotFound = errors.New("journey not found")

	// ErrSegmentNotFound indicates a segment was not found by the given identifier.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrEntityNotFound indicates an entity was not found by the given identifier.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrRunNotFound indicates a journey run was not found by the given identifier.
	ErrRunNotFound = errors.New("journey run not found")

	// ErrVersionConflict indicates a compare-and-swap write lost the race:
	// another worker mutated the run first. Benign for lease attempts.
	ErrVersionConflict = errors.New("run version conflict")
)

// RunError wraps run-related errors with operation context.
type RunError struct {
	Op    string
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// IsVersionConflict checks if an error indicates a lost compare-and-swap.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFound checks if an error indicates any missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJourneyNotFound) ||
		errors.Is(err, ErrSegmentNotFound) ||
		errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrRunNotFound)
}
