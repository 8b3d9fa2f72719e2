package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
)

// ErrExecutionNotFound is returned when an execution is not found.
var ErrExecutionNotFound = persistence.ErrExecutionNotFound

// JobQueue accepts jobs for the workers.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job, delay time.Duration) error
}

// Execution turns execute and resume requests into queued jobs.
type Execution struct {
	persistence persistence.Persistence
	queue       JobQueue
	logger      *slog.Logger
	now         func() time.Time
}

func NewExecution(logger *slog.Logger, persistence persistence.Persistence, queue JobQueue) *Execution {
	return &Execution{
		persistence: persistence,
		queue:       queue,
		logger:      logger.With("module", "execution_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used by the resume guard.
func (e *Execution) WithClock(now func() time.Time) *Execution {
	e.now = now

	return e
}

// Execute queues a fresh run of the workflow with payload as the trigger data.
func (e *Execution) Execute(ctx context.Context, workflowID string, payload map[string]any) (*models.Job, error) {
	_, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	job := &models.Job{Name: models.JobNameExecute, WorkflowID: workflowID, Payload: payload}

	err = e.queue.Enqueue(ctx, job, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution queued", "workflow_id", workflowID, "job_id", job.ID)

	return job, nil
}

// Resume queues the continuation of a paused execution. It refuses executions
// that are not paused and pause-until executions whose resume time is still
// in the future.
func (e *Execution) Resume(ctx context.Context, executionID string) (*models.Job, error) {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusPaused {
		return nil, NewValidationError(
			"Resume",
			"EXECUTION_NOT_PAUSED",
			fmt.Sprintf("execution %s is %s", executionID, execution.Status),
			ErrExecutionNotPaused,
		)
	}

	if execution.ResumeAt != nil && e.now().Before(*execution.ResumeAt) {
		return nil, NewValidationError(
			"Resume",
			"RESUME_TOO_EARLY",
			"execution can be resumed after "+execution.ResumeAt.UTC().Format(time.RFC3339),
			ErrResumeTooEarly,
		)
	}

	job := &models.Job{Name: models.JobNameResume, WorkflowID: execution.WorkflowID, ExecutionID: execution.ID}

	err = e.queue.Enqueue(ctx, job, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue resume: %w", err)
	}

	e.logger.InfoContext(ctx, "Resume queued", "workflow_id", execution.WorkflowID, "execution_id", execution.ID, "job_id", job.ID)

	return job, nil
}

func (e *Execution) FetchByID(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.persistence.ExecutionRepository().GetByID(ctx, executionID)
}

// ListByWorkflow returns the executions of an existing workflow, newest first.
func (e *Execution) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	_, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	executions, err := e.persistence.ExecutionRepository().GetByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}
