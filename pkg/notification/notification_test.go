package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/metrics"
	"github.com/Eld3rt/aflow-sub000/pkg/mocks"
	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/notification"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	channel models.NotificationChannel
	send    func(ctx context.Context) error

	mu       sync.Mutex
	messages []notification.Message
}

func (r *recordingSender) Channel() models.NotificationChannel { return r.channel }

func (r *recordingSender) Send(ctx context.Context, _ map[string]any, message notification.Message) error {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()

	if r.send == nil {
		return nil
	}

	return r.send(ctx)
}

func (r *recordingSender) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.messages)
}

type fixture struct {
	store    *file.Persistence
	workflow *models.Workflow
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, configs ...*models.NotificationConfig) *fixture {
	t.Helper()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	workflow := &models.Workflow{
		Name:   "notify me",
		Status: models.WorkflowStatusActive,
		Steps: []*models.Step{
			{Type: "transform", Order: 0},
			{Type: "database", Order: 1},
		},
	}
	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))

	for _, config := range configs {
		config.WorkflowID = workflow.ID
		require.NoError(t, store.NotificationConfigRepository().Save(ctx, config))
	}

	return &fixture{
		store:    store,
		workflow: workflow,
		metrics:  metrics.New().MustRegister(prometheus.NewRegistry()),
	}
}

func (f *fixture) service(opts ...notification.Option) *notification.Service {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	opts = append([]notification.Option{notification.WithMetrics(f.metrics)}, opts...)

	return notification.NewService(logger, f.store.NotificationConfigRepository(), f.store.WorkflowRepository(), opts...)
}

func (f *fixture) event(status models.ExecutionStatus) notification.Event {
	order := 1

	return notification.Event{
		WorkflowID:       f.workflow.ID,
		ExecutionID:      "exec-1",
		Status:           status,
		CurrentStepOrder: &order,
		Error:            "step 1 (database) failed after 4 attempts: connection refused",
	}
}

func TestService_NoMatchingConfigsDeliversNothing(t *testing.T) {
	t.Parallel()

	email := &recordingSender{channel: models.NotificationChannelEmail}
	f := newFixture(t,
		&models.NotificationConfig{Channel: models.NotificationChannelEmail, OnPause: true},
	)

	f.service(notification.WithSender(email)).Send(context.Background(), f.event(models.ExecutionStatusFailed))

	assert.Zero(t, email.Count())
}

func TestService_NoConfigsAtAll(t *testing.T) {
	t.Parallel()

	email := &recordingSender{channel: models.NotificationChannelEmail}
	f := newFixture(t)

	f.service(notification.WithSender(email)).Send(context.Background(), f.event(models.ExecutionStatusPaused))

	assert.Zero(t, email.Count())
}

func TestService_FailingDeliveryDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	var (
		received []byte
		header   string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		header = r.Header.Get("X-Token")

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	email := &recordingSender{
		channel: models.NotificationChannelEmail,
		send:    func(context.Context) error { return errors.New("smtp unavailable") },
	}

	f := newFixture(t,
		&models.NotificationConfig{Channel: models.NotificationChannelEmail, OnFailure: true, Config: map[string]any{"to": "ops@example.com"}},
		&models.NotificationConfig{Channel: models.NotificationChannelWebhook, OnFailure: true, Config: map[string]any{
			"url":     server.URL,
			"headers": map[string]any{"X-Token": "secret"},
		}},
	)

	fixed := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	service := f.service(
		notification.WithSender(email),
		notification.WithSender(notification.NewWebhookSender(server.Client())),
		notification.WithClock(func() time.Time { return fixed }),
	)

	service.Send(context.Background(), f.event(models.ExecutionStatusFailed))

	require.Equal(t, 1, email.Count())
	assert.Equal(t, "[aflow] Workflow "+f.workflow.ID+" execution failed", email.messages[0].Subject)

	require.NotEmpty(t, received)
	assert.Equal(t, "secret", header)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(received, &payload))
	assert.Equal(t, f.workflow.ID, payload["workflowId"])
	assert.Equal(t, "exec-1", payload["executionId"])
	assert.Equal(t, "failed", payload["status"])
	assert.Equal(t, map[string]any{"order": float64(1), "type": "database"}, payload["step"])
	assert.Equal(t, "step 1 (database) failed after 4 attempts: connection refused", payload["error"])
	assert.Equal(t, "2030-01-01T12:00:00Z", payload["timestamp"])

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.NotificationDeliveries.WithLabelValues("email", metrics.OutcomeFailure)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.NotificationDeliveries.WithLabelValues("webhook", metrics.OutcomeSuccess)), 0)
}

func TestService_PanickingSenderIsRecovered(t *testing.T) {
	t.Parallel()

	email := &recordingSender{
		channel: models.NotificationChannelEmail,
		send:    func(context.Context) error { panic("boom") },
	}
	webhook := &recordingSender{channel: models.NotificationChannelWebhook}

	f := newFixture(t,
		&models.NotificationConfig{Channel: models.NotificationChannelEmail, OnPause: true},
		&models.NotificationConfig{Channel: models.NotificationChannelWebhook, OnPause: true},
	)

	assert.NotPanics(t, func() {
		f.service(notification.WithSender(email), notification.WithSender(webhook)).
			Send(context.Background(), f.event(models.ExecutionStatusPaused))
	})

	assert.Equal(t, 1, webhook.Count())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.NotificationDeliveries.WithLabelValues("email", metrics.OutcomeFailure)), 0)
}

func TestService_SlowDeliveryIsBoundedByTimeout(t *testing.T) {
	t.Parallel()

	slow := &recordingSender{
		channel: models.NotificationChannelWebhook,
		send: func(ctx context.Context) error {
			<-ctx.Done()

			return ctx.Err()
		},
	}

	f := newFixture(t, &models.NotificationConfig{Channel: models.NotificationChannelWebhook, OnFailure: true})

	start := time.Now()

	f.service(notification.WithSender(slow), notification.WithDeliveryTimeout(50*time.Millisecond)).
		Send(context.Background(), f.event(models.ExecutionStatusFailed))

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, slow.Count())
}

func TestService_UnknownChannelIsSkipped(t *testing.T) {
	t.Parallel()

	webhook := &recordingSender{channel: models.NotificationChannelWebhook}
	f := newFixture(t,
		&models.NotificationConfig{Channel: "sms", OnFailure: true},
		&models.NotificationConfig{Channel: models.NotificationChannelWebhook, OnFailure: true},
	)

	f.service(notification.WithSender(webhook)).Send(context.Background(), f.event(models.ExecutionStatusFailed))

	assert.Equal(t, 1, webhook.Count())
}

func TestEventFromExecution(t *testing.T) {
	t.Parallel()

	order := 2
	message := "boom"
	resumeAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	event := notification.EventFromExecution(&models.WorkflowExecution{
		ID:               "exec-1",
		WorkflowID:       "wf-1",
		Status:           models.ExecutionStatusPaused,
		CurrentStepOrder: &order,
		Error:            &message,
		ResumeAt:         &resumeAt,
	})

	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, models.ExecutionStatusPaused, event.Status)
	assert.Equal(t, &order, event.CurrentStepOrder)
	assert.Equal(t, "boom", event.Error)
	assert.Equal(t, &resumeAt, event.ResumeAt)
}

func TestService_ConfigLoadFailureDeliversNothing(t *testing.T) {
	t.Parallel()

	store := mocks.NewMockPersistence()
	store.Notifications.On("GetByWorkflow", mock.Anything, "wf-1").Return(nil, errors.New("timeout"))

	email := &recordingSender{channel: models.NotificationChannelEmail}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := notification.NewService(logger, store.Notifications, store.Workflows, notification.WithSender(email))

	service.Send(context.Background(), notification.Event{WorkflowID: "wf-1", Status: models.ExecutionStatusFailed})

	assert.Zero(t, email.Count())
	store.Notifications.AssertExpectations(t)
}

func TestService_MissingWorkflowStillDelivers(t *testing.T) {
	t.Parallel()

	store := mocks.NewMockPersistence()
	store.Notifications.On("GetByWorkflow", mock.Anything, "wf-1").Return([]*models.NotificationConfig{
		{ID: "cfg-1", WorkflowID: "wf-1", Channel: models.NotificationChannelEmail, OnFailure: true},
	}, nil)
	store.Workflows.On("GetByID", mock.Anything, "wf-1").Return(nil, errors.New("gone"))

	email := &recordingSender{channel: models.NotificationChannelEmail}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := notification.NewService(logger, store.Notifications, store.Workflows, notification.WithSender(email))

	order := 2
	service.Send(context.Background(), notification.Event{
		WorkflowID:       "wf-1",
		ExecutionID:      "exec-1",
		Status:           models.ExecutionStatusFailed,
		CurrentStepOrder: &order,
	})

	require.Equal(t, 1, email.Count())
	require.NotNil(t, email.messages[0].Payload.Step)
	assert.Equal(t, 2, email.messages[0].Payload.Step.Order)
	assert.Empty(t, email.messages[0].Payload.Step.Type)
}
