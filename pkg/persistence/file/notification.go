package file

import (
	"context"
	"fmt"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/google/uuid"
)

// NotificationConfigRepository handles notification config file operations.
type NotificationConfigRepository struct {
	store *store
}

func NewNotificationConfigRepository(root string) *NotificationConfigRepository {
	return &NotificationConfigRepository{store: newStore(root, "notification_configs")}
}

func (nr *NotificationConfigRepository) Save(_ context.Context, config *models.NotificationConfig) error {
	if config.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate notification config ID: %w", err)
		}

		config.ID = id.String()
	}

	return nr.store.write(config.ID, config)
}

func (nr *NotificationConfigRepository) GetByWorkflow(_ context.Context, workflowID string) ([]*models.NotificationConfig, error) {
	ids, err := nr.store.ids()
	if err != nil {
		return nil, err
	}

	configs := make([]*models.NotificationConfig, 0)

	for _, id := range ids {
		var config models.NotificationConfig

		found, err := nr.store.read(id, &config)
		if err != nil {
			return nil, err
		}

		if found && config.WorkflowID == workflowID {
			configs = append(configs, &config)
		}
	}

	return configs, nil
}
