package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/channels/gochannel"
	"github.com/Eld3rt/aflow-sub000/pkg/eventbus"
	"github.com/Eld3rt/aflow-sub000/pkg/events"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(logger, pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.WorkflowExecutionPaused, 1)

	require.NoError(t, bus.Handle(events.WorkflowExecutionPausedEvent, func(_ context.Context, event any) error {
		paused, ok := event.(*events.WorkflowExecutionPaused)
		if !ok {
			return errors.New("unexpected event type")
		}

		received <- paused

		return nil
	}))

	require.NoError(t, bus.Subscribe(ctx))

	order := 3
	event := events.WorkflowExecutionPaused{
		BaseEvent: events.NewBase(bus.GenerateID(), events.WorkflowExecutionPausedEvent, "wf-1", "exec-1", "worker-1"),
		StepOrder: &order,
		Error:     "boom",
	}

	require.NoError(t, bus.Publish(ctx, "exec-1", event))

	select {
	case got := <-received:
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, "exec-1", got.ExecutionID)
		require.NotNil(t, got.StepOrder)
		assert.Equal(t, 3, *got.StepOrder)
		assert.Equal(t, "boom", got.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completed := make(chan struct{}, 1)

	require.NoError(t, bus.Handle(events.WorkflowExecutionCompletedEvent, func(context.Context, any) error {
		completed <- struct{}{}

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	failed := events.WorkflowExecutionFailed{
		BaseEvent: events.NewBase(bus.GenerateID(), events.WorkflowExecutionFailedEvent, "wf-1", "exec-1", ""),
	}
	require.NoError(t, bus.Publish(ctx, "exec-1", failed))

	done := events.WorkflowExecutionCompleted{
		BaseEvent: events.NewBase(bus.GenerateID(), events.WorkflowExecutionCompletedEvent, "wf-1", "exec-1", ""),
	}
	require.NoError(t, bus.Publish(ctx, "exec-1", done))

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("completed event not delivered")
	}
}

func TestGenerateID(t *testing.T) {
	t.Parallel()

	bus := newBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
