package file

import (
	"context"
	"sort"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
)

// ExecutionRepository handles workflow execution file operations.
type ExecutionRepository struct {
	store *store
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{store: newStore(root, "executions")}
}

// Save writes the full record; readers observe either the previous or the new version.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	record := *execution
	if record.Context == nil {
		record.Context = map[string]any{}
	}

	err := er.store.write(execution.ID, &record)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution

	found, err := er.store.read(id, &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if execution.Context == nil {
		execution.Context = map[string]any{}
	}

	return &execution, nil
}

func (er *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	ids, err := er.store.ids()
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range ids {
		execution, err := er.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	return executions, nil
}
