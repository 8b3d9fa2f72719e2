package models

// NotificationChannel is the delivery mechanism of a notification.
type NotificationChannel string

const (
	NotificationChannelEmail   NotificationChannel = "email"
	NotificationChannelWebhook NotificationChannel = "webhook"
)

// NotificationConfig subscribes a channel to failure and/or pause outcomes of a workflow.
type NotificationConfig struct {
	ID         string              `json:"id"`
	WorkflowID string              `json:"workflow_id" validate:"required"`
	Channel    NotificationChannel `json:"channel"     validate:"required"`
	Config     map[string]any      `json:"config"`
	OnFailure  bool                `json:"on_failure"`
	OnPause    bool                `json:"on_pause"`
}

// Wants reports whether this config subscribes to the given execution status.
func (n *NotificationConfig) Wants(status ExecutionStatus) bool {
	switch status {
	case ExecutionStatusFailed:
		return n.OnFailure
	case ExecutionStatusPaused:
		return n.OnPause
	default:
		return false
	}
}
