// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/google/uuid"
)

// Logger returns a logger that discards everything below error.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// CreateTestStep creates a test Step with default values that can be overridden.
func CreateTestStep(order int, overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		ID:     uuid.New().String(),
		Type:   "transform",
		Order:  order,
		Config: map[string]any{"code": "{}"},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithStepType sets the step type.
func WithStepType(stepType string) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = stepType
	}
}

// WithStepConfig sets the step configuration.
func WithStepConfig(config map[string]any) func(*models.Step) {
	return func(s *models.Step) {
		s.Config = config
	}
}

// CreateTestWorkflow creates a published workflow with two steps that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:     uuid.New().String(),
		Name:   "Test Workflow",
		Status: models.WorkflowStatusPublished,
		Steps: []*models.Step{
			CreateTestStep(0),
			CreateTestStep(1, WithStepType("database")),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithID sets the workflow ID.
func WithID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// WithName sets the workflow name.
func WithName(name string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Name = name
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithSteps replaces the workflow steps.
func WithSteps(steps ...*models.Step) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Steps = steps
	}
}

// WithCronTrigger makes the workflow an active cron workflow on pattern.
func WithCronTrigger(pattern string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = models.WorkflowStatusActive
		w.Trigger = &models.Trigger{
			ID:     uuid.New().String(),
			Type:   models.TriggerTypeCron,
			Config: map[string]any{models.CronConfigKey: pattern},
		}
	}
}

// CreateTestExecution creates an execution of workflowID in the given status.
func CreateTestExecution(workflowID string, status models.ExecutionStatus, overrides ...func(*models.WorkflowExecution)) *models.WorkflowExecution {
	now := time.Now().UTC()
	order := 0

	execution := &models.WorkflowExecution{
		ID:               uuid.New().String(),
		WorkflowID:       workflowID,
		Status:           status,
		CurrentStepOrder: &order,
		Context:          map[string]any{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}

// PausedUntil marks the execution paused with the given resume time.
func PausedUntil(resumeAt time.Time) func(*models.WorkflowExecution) {
	return func(e *models.WorkflowExecution) {
		pausedAt := time.Now().UTC()
		e.Status = models.ExecutionStatusPaused
		e.PausedAt = &pausedAt
		e.ResumeAt = &resumeAt
	}
}
