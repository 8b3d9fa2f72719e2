package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/google/uuid"
)

// NotificationConfigRepository handles notification config database operations.
type NotificationConfigRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewNotificationConfigRepository(db *sql.DB, logger *slog.Logger) *NotificationConfigRepository {
	return &NotificationConfigRepository{db: db, logger: logger}
}

func (r *NotificationConfigRepository) Save(ctx context.Context, config *models.NotificationConfig) error {
	if config.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate notification config ID: %w", err)
		}

		config.ID = id.String()
	}

	configJSON, err := json.Marshal(config.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal notification config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notification_configs (id, workflow_id, channel, config, on_failure, on_pause)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			channel = EXCLUDED.channel,
			config = EXCLUDED.config,
			on_failure = EXCLUDED.on_failure,
			on_pause = EXCLUDED.on_pause
	`,
		config.ID,
		config.WorkflowID,
		config.Channel,
		configJSON,
		config.OnFailure,
		config.OnPause,
	)
	if err != nil {
		return fmt.Errorf("failed to save notification config: %w", err)
	}

	return nil
}

func (r *NotificationConfigRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.NotificationConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, channel, config, on_failure, on_pause
		FROM notification_configs
		WHERE workflow_id = $1
		ORDER BY id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification configs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	configs := make([]*models.NotificationConfig, 0)

	for rows.Next() {
		var (
			config     models.NotificationConfig
			configJSON []byte
		)

		err := rows.Scan(&config.ID, &config.WorkflowID, &config.Channel, &configJSON, &config.OnFailure, &config.OnPause)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification config: %w", err)
		}

		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &config.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal notification config: %w", err)
			}
		}

		configs = append(configs, &config)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating notification configs: %w", err)
	}

	return configs, nil
}
