// Package services implements the operations behind the HTTP API: workflow
// management with scheduling hooks, execution requests and resume guards.
package services

import (
	"errors"
	"fmt"
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrWorkflowNil         = errors.New("workflow cannot be nil")
	ErrDuplicateStepOrder  = errors.New("step orders must be unique")
	ErrInvalidSchedule     = errors.New("invalid cron schedule")
	ErrInvalidChannel      = errors.New("invalid notification channel")
	ErrNotificationTargets = errors.New("notification config subscribes to no event")
)

// Business logic conflicts (409 Conflict).
var (
	ErrExecutionNotPaused = errors.New("execution is not paused")
	ErrResumeTooEarly     = errors.New("execution cannot be resumed before its resume time")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrDuplicateStepOrder) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidChannel) ||
		errors.Is(err, ErrNotificationTargets)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionNotPaused) ||
		errors.Is(err, ErrResumeTooEarly)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
