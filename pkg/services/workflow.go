package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
	"github.com/google/uuid"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// Scheduler keeps repeatable jobs in line with workflow cron triggers.
type Scheduler interface {
	CreateJob(ctx context.Context, workflowID string)
	RemoveJob(ctx context.Context, workflowID string)
}

type Workflow struct {
	persistence persistence.Persistence
	scheduler   Scheduler
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(logger *slog.Logger, persistence persistence.Persistence, scheduler Scheduler) *Workflow {
	return &Workflow{
		persistence: persistence,
		scheduler:   scheduler,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create stores a new workflow and registers its schedule when it has one.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	err := validateWorkflow(workflow)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow ID: %w", err)
	}

	now := time.Now().UTC()
	workflow.ID = id.String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.reschedule(ctx, workflow)

	return workflow, nil
}

// Update replaces an existing workflow and brings its schedule up to date:
// the repeatable job is updated while the workflow stays an active cron
// workflow and removed otherwise.
func (w *Workflow) Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, error) {
	err := validateWorkflow(workflow)
	if err != nil {
		return nil, err
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	if workflow.Status == "" {
		workflow.Status = existing.Status
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.reschedule(ctx, workflow)

	return workflow, nil
}

// Delete removes a workflow and its repeatable job.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	err := w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return err
	}

	w.scheduler.RemoveJob(ctx, workflowID)

	return nil
}

func (w *Workflow) reschedule(ctx context.Context, workflow *models.Workflow) {
	if _, ok := workflow.CronExpression(); ok {
		w.scheduler.CreateJob(ctx, workflow.ID)

		return
	}

	w.scheduler.RemoveJob(ctx, workflow.ID)
}

func validateWorkflow(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	seen := make(map[int]bool, len(workflow.Steps))

	for _, step := range workflow.Steps {
		if step == nil {
			continue
		}

		if seen[step.Order] {
			return NewValidationError(
				"validateWorkflow",
				"DUPLICATE_STEP_ORDER",
				fmt.Sprintf("step order %d is used more than once", step.Order),
				ErrDuplicateStepOrder,
			)
		}

		seen[step.Order] = true
	}

	if workflow.Trigger != nil && workflow.Trigger.Type == models.TriggerTypeCron {
		expr, _ := workflow.Trigger.Config[models.CronConfigKey].(string)
		expr = strings.TrimSpace(expr)

		if expr != "" {
			_, err := models.NextRun(expr, time.Now())
			if err != nil {
				return NewValidationError(
					"validateWorkflow",
					"INVALID_SCHEDULE",
					fmt.Sprintf("invalid cron schedule '%s'", expr),
					ErrInvalidSchedule,
				)
			}
		}
	}

	return nil
}
