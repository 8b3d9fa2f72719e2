package workflow

import (
	"errors"
	"fmt"
)

// ErrExecutionFinished is returned when asked to continue a completed or failed execution.
var ErrExecutionFinished = errors.New("execution already finished")

// StepError is the terminal failure of a step after its retries were exhausted.
type StepError struct {
	Order    int
	Type     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	noun := "attempts"
	if e.Attempts == 1 {
		noun = "attempt"
	}

	return fmt.Sprintf("step %d (%s) failed after %d %s: %v", e.Order, e.Type, e.Attempts, noun, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
