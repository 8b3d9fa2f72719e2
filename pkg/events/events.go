// Package events defines the workflow execution lifecycle events published by workers.
package events

import (
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
)

type EventType string

// Event is implemented by every lifecycle event.
type Event interface {
	GetType() EventType
}

// Topic is the watermill topic all lifecycle events are published on.
const Topic = "aflow.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"
	WorkflowExecutionPausedEvent    EventType = "workflow.execution.paused"
	WorkflowExecutionResumedEvent   EventType = "workflow.execution.resumed"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type WorkflowExecutionStarted struct {
	BaseEvent

	JobID          string         `json:"job_id"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
}

func (e WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

type WorkflowExecutionResumed struct {
	BaseEvent

	JobID string `json:"job_id"`
}

func (e WorkflowExecutionResumed) GetType() EventType {
	return WorkflowExecutionResumedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	Context  map[string]any `json:"context,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (e WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	StepOrder *int   `json:"step_order,omitempty"`
	Error     string `json:"error"`
}

func (e WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

type WorkflowExecutionPaused struct {
	BaseEvent

	StepOrder *int       `json:"step_order,omitempty"`
	Error     string     `json:"error"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`
	ResumeAt  *time.Time `json:"resume_at,omitempty"`
}

func (e WorkflowExecutionPaused) GetType() EventType {
	return WorkflowExecutionPausedEvent
}

// NewBase fills the fields shared by every event about one execution.
func NewBase(id string, eventType EventType, workflowID, executionID, workerID string) BaseEvent {
	return BaseEvent{
		ID:          id,
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		WorkerID:    workerID,
	}
}

// ForOutcome builds the terminal or paused event describing execution, or
// nil while it is still running.
func ForOutcome(id, workerID string, execution *models.WorkflowExecution, duration time.Duration) Event {
	switch execution.Status {
	case models.ExecutionStatusCompleted:
		return WorkflowExecutionCompleted{
			BaseEvent: NewBase(id, WorkflowExecutionCompletedEvent, execution.WorkflowID, execution.ID, workerID),
			Context:   execution.Context,
			Duration:  duration,
		}
	case models.ExecutionStatusFailed:
		return WorkflowExecutionFailed{
			BaseEvent: NewBase(id, WorkflowExecutionFailedEvent, execution.WorkflowID, execution.ID, workerID),
			StepOrder: execution.CurrentStepOrder,
			Error:     errorText(execution.Error),
		}
	case models.ExecutionStatusPaused:
		return WorkflowExecutionPaused{
			BaseEvent: NewBase(id, WorkflowExecutionPausedEvent, execution.WorkflowID, execution.ID, workerID),
			StepOrder: execution.CurrentStepOrder,
			Error:     errorText(execution.Error),
			PausedAt:  execution.PausedAt,
			ResumeAt:  execution.ResumeAt,
		}
	default:
		return nil
	}
}

func errorText(err *string) string {
	if err == nil {
		return ""
	}

	return *err
}
