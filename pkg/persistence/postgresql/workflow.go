package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll returns all workflows that have not been deleted.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , status
		  , trigger
		  , created_at
		  , updated_at
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		workflow.Steps, err = r.loadSteps(ctx, workflow.ID)
		if err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , status
		  , trigger
		  , created_at
		  , updated_at
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	workflow, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	workflow.Steps, err = r.loadSteps(ctx, workflow.ID)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// Save upserts the workflow and replaces its steps in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) (err error) {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	triggerJSON, err := json.Marshal(workflow.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	workflowQuery := `
		INSERT INTO workflows (id, name, status, trigger, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			trigger = EXCLUDED.trigger,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.Name,
		workflow.Status,
		jsonOrNull(triggerJSON),
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	for _, step := range workflow.Steps {
		err = r.insertStep(ctx, tx, workflow.ID, step)
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete soft deletes a workflow by setting its deleted_at timestamp.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflows SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) insertStep(ctx context.Context, tx *sql.Tx, workflowID string, step *models.Step) error {
	if step.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate step ID: %w", err)
		}

		step.ID = id.String()
	}

	configJSON, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal step config: %w", err)
	}

	retryJSON, err := json.Marshal(step.Retry)
	if err != nil {
		return fmt.Errorf("failed to marshal step retry policy: %w", err)
	}

	errorPolicyJSON, err := json.Marshal(step.ErrorPolicy)
	if err != nil {
		return fmt.Errorf("failed to marshal step error policy: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_steps (workflow_id, id, step_type, step_order, config, retry, error_policy)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		workflowID,
		step.ID,
		step.Type,
		step.Order,
		configJSON,
		jsonOrNull(retryJSON),
		jsonOrNull(errorPolicyJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %s: %w", step.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflowID string) ([]*models.Step, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, step_type, step_order, config, retry, error_policy
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	steps := make([]*models.Step, 0)

	for rows.Next() {
		var (
			step                                   models.Step
			configJSON, retryJSON, errorPolicyJSON []byte
		)

		err := rows.Scan(&step.ID, &step.Type, &step.Order, &configJSON, &retryJSON, &errorPolicyJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow step: %w", err)
		}

		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &step.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step config: %w", err)
			}
		}

		if len(retryJSON) > 0 {
			if err := json.Unmarshal(retryJSON, &step.Retry); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step retry policy: %w", err)
			}
		}

		if len(errorPolicyJSON) > 0 {
			if err := json.Unmarshal(errorPolicyJSON, &step.ErrorPolicy); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step error policy: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow steps: %w", err)
	}

	return steps, nil
}

func (r *WorkflowRepository) scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow    models.Workflow
		triggerJSON []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Status,
		&triggerJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerJSON) > 0 {
		err = json.Unmarshal(triggerJSON, &workflow.Trigger)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
		}
	}

	return &workflow, nil
}
