package models

import "time"

// ExecutionStatus represents the state of a single workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCompleted ExecutionStatus = "completed"
)

// WorkflowExecution is the durable record of one run of a workflow. A resumed
// run keeps writing to the same record.
type WorkflowExecution struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflow_id"`
	Status           ExecutionStatus `json:"status"`
	CurrentStepOrder *int            `json:"current_step_order"`
	Context          map[string]any  `json:"context"`
	PausedAt         *time.Time      `json:"paused_at,omitempty"`
	ResumeAt         *time.Time      `json:"resume_at,omitempty"`
	Error            *string         `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the execution can no longer make progress on its own.
func (e *WorkflowExecution) IsTerminal() bool {
	return e.Status == ExecutionStatusFailed || e.Status == ExecutionStatusCompleted
}

// StartOrder is the step order a resumed run starts from.
func (e *WorkflowExecution) StartOrder() int {
	if e.CurrentStepOrder == nil {
		return 0
	}

	return *e.CurrentStepOrder
}
