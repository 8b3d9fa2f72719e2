package web

import "github.com/Eld3rt/aflow-sub000/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name    string                `json:"name"              validate:"required,min=3"`
	Status  models.WorkflowStatus `json:"status,omitempty"  validate:"omitempty,oneof=draft published active"`
	Trigger *models.Trigger       `json:"trigger,omitempty"`
	Steps   []*models.Step        `json:"steps"             validate:"dive"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name    *string                `json:"name,omitempty"    validate:"omitempty,min=3"`
	Status  *models.WorkflowStatus `json:"status,omitempty"  validate:"omitempty,oneof=draft published active"`
	Trigger *models.Trigger        `json:"trigger,omitempty"`
	Steps   []*models.Step         `json:"steps,omitempty"   validate:"omitempty,dive"`
}

// ExecuteWorkflowRequest carries the trigger payload of an on-demand run.
type ExecuteWorkflowRequest struct {
	Payload map[string]any `json:"payload"`
}

// CreateNotificationConfigRequest subscribes a channel to the failures and pauses of a workflow.
type CreateNotificationConfigRequest struct {
	Channel   models.NotificationChannel `json:"channel"    validate:"required,oneof=email webhook"`
	Config    map[string]any             `json:"config"`
	OnFailure bool                       `json:"on_failure"`
	OnPause   bool                       `json:"on_pause"`
}

// JobResponse acknowledges a job accepted by the queue.
type JobResponse struct {
	JobID       string         `json:"job_id"`
	Name        models.JobName `json:"name"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id,omitempty"`
}

func newJobResponse(job *models.Job) JobResponse {
	return JobResponse{
		JobID:       job.ID,
		Name:        job.Name,
		WorkflowID:  job.WorkflowID,
		ExecutionID: job.ExecutionID,
	}
}
