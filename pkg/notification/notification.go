// Package notification fans execution failure and pause alerts out to the
// channels configured for a workflow.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/metrics"
	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultDeliveryTimeout = 30 * time.Second

// Event describes the execution outcome being announced.
type Event struct {
	WorkflowID       string
	ExecutionID      string
	Status           models.ExecutionStatus
	CurrentStepOrder *int
	Error            string
	PausedAt         *time.Time
	ResumeAt         *time.Time
}

// EventFromExecution builds the event announcing execution's current state.
func EventFromExecution(execution *models.WorkflowExecution) Event {
	event := Event{
		WorkflowID:       execution.WorkflowID,
		ExecutionID:      execution.ID,
		Status:           execution.Status,
		CurrentStepOrder: execution.CurrentStepOrder,
		PausedAt:         execution.PausedAt,
		ResumeAt:         execution.ResumeAt,
	}

	if execution.Error != nil {
		event.Error = *execution.Error
	}

	return event
}

type StepInfo struct {
	Order int    `json:"order"`
	Type  string `json:"type,omitempty"`
}

// Payload is the document delivered to every channel.
type Payload struct {
	WorkflowID  string                 `json:"workflowId"`
	ExecutionID string                 `json:"executionId"`
	Status      models.ExecutionStatus `json:"status"`
	Step        *StepInfo              `json:"step,omitempty"`
	Error       string                 `json:"error,omitempty"`
	PausedAt    *time.Time             `json:"pausedAt,omitempty"`
	ResumeAt    *time.Time             `json:"resumeAt,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Message is what a sender delivers: the payload plus its encoded form.
type Message struct {
	Subject string
	Payload Payload
	Body    []byte
}

// Sender delivers a message over one channel type using the per-config settings.
type Sender interface {
	Channel() models.NotificationChannel
	Send(ctx context.Context, config map[string]any, message Message) error
}

type Service struct {
	logger     *slog.Logger
	configs    persistence.NotificationConfigRepository
	workflows  persistence.WorkflowRepository
	senders    map[models.NotificationChannel]Sender
	timeout    time.Duration
	now        func() time.Time
	deliveries *prometheus.CounterVec
}

type Option func(*Service)

func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMetrics counts deliveries by channel and outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.deliveries = m.NotificationDeliveries
	}
}

func WithSender(sender Sender) Option {
	return func(s *Service) {
		s.senders[sender.Channel()] = sender
	}
}

func NewService(
	logger *slog.Logger,
	configs persistence.NotificationConfigRepository,
	workflows persistence.WorkflowRepository,
	opts ...Option,
) *Service {
	s := &Service{
		logger:    logger.With("module", "notification"),
		configs:   configs,
		workflows: workflows,
		senders:   make(map[models.NotificationChannel]Sender),
		timeout:   DefaultDeliveryTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Send delivers event to every subscribed channel of the workflow and waits
// for all deliveries to settle. Failures are logged and never returned.
func (s *Service) Send(ctx context.Context, event Event) {
	logger := s.logger.With("workflow_id", event.WorkflowID, "execution_id", event.ExecutionID, "status", event.Status)

	configs, err := s.configs.GetByWorkflow(ctx, event.WorkflowID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load notification configs", "error", err)

		return
	}

	matching := make([]*models.NotificationConfig, 0, len(configs))

	for _, config := range configs {
		if config.Wants(event.Status) {
			matching = append(matching, config)
		}
	}

	if len(matching) == 0 {
		return
	}

	message, err := s.buildMessage(ctx, logger, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to build notification", "error", err)

		return
	}

	var wg sync.WaitGroup

	for _, config := range matching {
		sender, ok := s.senders[config.Channel]
		if !ok {
			logger.WarnContext(ctx, "Unsupported notification channel, skipping", "channel", config.Channel, "config_id", config.ID)

			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			s.deliver(ctx, logger, sender, config, message)
		}()
	}

	wg.Wait()
}

func (s *Service) deliver(ctx context.Context, logger *slog.Logger, sender Sender, config *models.NotificationConfig, message Message) {
	logger = logger.With("channel", config.Channel, "config_id", config.ID)

	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification sender panicked: %v", r)
		}

		if err != nil {
			logger.ErrorContext(ctx, "Notification delivery failed", "error", err)
		} else {
			logger.InfoContext(ctx, "Notification delivered")
		}

		if s.deliveries != nil {
			s.deliveries.WithLabelValues(string(config.Channel), metrics.Outcome(err)).Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = sender.Send(ctx, config.Config, message)
}

func (s *Service) buildMessage(ctx context.Context, logger *slog.Logger, event Event) (Message, error) {
	payload := Payload{
		WorkflowID:  event.WorkflowID,
		ExecutionID: event.ExecutionID,
		Status:      event.Status,
		Error:       event.Error,
		PausedAt:    event.PausedAt,
		ResumeAt:    event.ResumeAt,
		Timestamp:   s.now(),
	}

	if event.CurrentStepOrder != nil {
		payload.Step = &StepInfo{Order: *event.CurrentStepOrder}

		workflow, err := s.workflows.GetByID(ctx, event.WorkflowID)
		if err != nil {
			logger.WarnContext(ctx, "Failed to load workflow steps for notification", "error", err)
		} else if step, ok := workflow.StepByOrder(*event.CurrentStepOrder); ok {
			payload.Step.Type = step.Type
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	return Message{Subject: Subject(event), Payload: payload, Body: body}, nil
}

// Subject is the status-derived headline used by channels that need one.
func Subject(event Event) string {
	return fmt.Sprintf("[aflow] Workflow %s execution %s", event.WorkflowID, event.Status)
}
