// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates a workflow execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrInvalidID indicates an identifier that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid identifier")
)

// RecordError wraps a repository failure with the operation and record it concerns.
type RecordError struct {
	Op   string // Operation being performed (e.g., "GetByID", "Save")
	Kind string // Record kind ("workflow", "execution", "notification config")
	ID   string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a workflow record error.
func NewWorkflowError(op, workflowID string, err error) *RecordError {
	return &RecordError{Op: op, Kind: "workflow", ID: workflowID, Err: err}
}

// NewExecutionError creates an execution record error.
func NewExecutionError(op, executionID string, err error) *RecordError {
	return &RecordError{Op: op, Kind: "execution", ID: executionID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
