package services

import (
	"context"
	"fmt"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
)

// NotificationConfig manages the alert subscriptions of workflows.
type NotificationConfig struct {
	persistence persistence.Persistence
}

func NewNotificationConfig(persistence persistence.Persistence) *NotificationConfig {
	return &NotificationConfig{persistence: persistence}
}

func (n *NotificationConfig) Create(ctx context.Context, config *models.NotificationConfig) (*models.NotificationConfig, error) {
	switch config.Channel {
	case models.NotificationChannelEmail, models.NotificationChannelWebhook:
	default:
		return nil, NewValidationError(
			"CreateNotificationConfig",
			"INVALID_CHANNEL",
			fmt.Sprintf("unsupported channel '%s'", config.Channel),
			ErrInvalidChannel,
		)
	}

	if !config.OnFailure && !config.OnPause {
		return nil, ErrNotificationTargets
	}

	_, err := n.persistence.WorkflowRepository().GetByID(ctx, config.WorkflowID)
	if err != nil {
		return nil, err
	}

	config.ID = ""

	err = n.persistence.NotificationConfigRepository().Save(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification config: %w", err)
	}

	return config, nil
}

func (n *NotificationConfig) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.NotificationConfig, error) {
	_, err := n.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	configs, err := n.persistence.NotificationConfigRepository().GetByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification configs: %w", err)
	}

	return configs, nil
}
