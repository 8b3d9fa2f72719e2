// Package persistence provides the storage abstraction for workflows, executions
// and notification configs.
package persistence

import (
	"context"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
)

// Persistence aggregates every repository the engine needs behind one backend.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	NotificationConfigRepository() NotificationConfigRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	// GetByID returns ErrWorkflowNotFound (wrapped) when the workflow does not exist.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores workflow executions. Save is an upsert applied as
// a single atomic write so a checkpoint never leaves a partially updated row.
type ExecutionRepository interface {
	// GetByID returns ErrExecutionNotFound (wrapped) when the execution does not exist.
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	Save(ctx context.Context, execution *models.WorkflowExecution) error
}

// NotificationConfigRepository stores per-workflow notification subscriptions.
type NotificationConfigRepository interface {
	GetByWorkflow(ctx context.Context, workflowID string) ([]*models.NotificationConfig, error)
	Save(ctx context.Context, config *models.NotificationConfig) error
}
