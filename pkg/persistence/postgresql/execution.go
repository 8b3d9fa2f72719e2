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
)

// ExecutionRepository handles workflow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id, workflow_id, status, current_step_order, context,
	paused_at, resume_at, error, created_at, updated_at
`

// Save writes the whole execution row in one upsert statement.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	var currentStep sql.NullInt64
	if execution.CurrentStepOrder != nil {
		currentStep = sql.NullInt64{Int64: int64(*execution.CurrentStepOrder), Valid: true}
	}

	query := `
		INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step_order = EXCLUDED.current_step_order,
			context = EXCLUDED.context,
			paused_at = EXCLUDED.paused_at,
			resume_at = EXCLUDED.resume_at,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		currentStep,
		contextJSON,
		execution.PausedAt,
		execution.ResumeAt,
		nullString(execution.Error),
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// GetByWorkflow returns the executions of a workflow, newest first.
func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE workflow_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		currentStep sql.NullInt64
		contextJSON []byte
		pausedAt    sql.NullTime
		resumeAt    sql.NullTime
		errorText   sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&currentStep,
		&contextJSON,
		&pausedAt,
		&resumeAt,
		&errorText,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if currentStep.Valid {
		order := int(currentStep.Int64)
		execution.CurrentStepOrder = &order
	}

	if pausedAt.Valid {
		execution.PausedAt = &pausedAt.Time
	}

	if resumeAt.Valid {
		execution.ResumeAt = &resumeAt.Time
	}

	if errorText.Valid {
		execution.Error = &errorText.String
	}

	execution.Context = map[string]any{}
	if len(contextJSON) > 0 {
		err = json.Unmarshal(contextJSON, &execution.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
		}

		if execution.Context == nil {
			execution.Context = map[string]any{}
		}
	}

	return &execution, nil
}
