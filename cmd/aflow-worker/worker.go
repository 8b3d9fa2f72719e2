package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/eventbus"
	"github.com/Eld3rt/aflow-sub000/pkg/events"
	"github.com/Eld3rt/aflow-sub000/pkg/log"
	"github.com/Eld3rt/aflow-sub000/pkg/metrics"
	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/notification"
	"github.com/Eld3rt/aflow-sub000/pkg/otelhelper"
	"github.com/Eld3rt/aflow-sub000/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUnknownJob         = errors.New("unknown job name")
	ErrMissingExecutionID = errors.New("resume job without execution id")
)

// Runner creates executions and runs or resumes them.
type Runner interface {
	Start(ctx context.Context, workflowID string, triggerPayload map[string]any) (*models.WorkflowExecution, error)
	Execute(ctx context.Context, workflowID string, triggerPayload map[string]any, executionID string) (*workflow.Result, error)
}

// Notifier announces failed and paused executions.
type Notifier interface {
	Send(ctx context.Context, event notification.Event)
}

// JobQueue accepts the delayed resume jobs of pause-until executions and
// tracks what the job being handled has become.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job, delay time.Duration) error
	UpdateInFlight(ctx context.Context, job *models.Job) error
}

// Worker handles the jobs taken from the queue: it runs the executor and then
// reports the outcome through metrics, lifecycle events and notifications.
type Worker struct {
	id       string
	logger   *slog.Logger
	runner   Runner
	notifier Notifier
	queue    JobQueue
	eventBus eventbus.EventBus
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

func NewWorker(
	id string,
	logger *slog.Logger,
	runner Runner,
	notifier Notifier,
	queue JobQueue,
	eventBus eventbus.EventBus,
	m *metrics.Metrics,
	tracer trace.Tracer,
) *Worker {
	return &Worker{
		id:       id,
		logger:   logger.With("module", "aflow-worker", "worker_id", id),
		runner:   runner,
		notifier: notifier,
		queue:    queue,
		eventBus: eventBus,
		metrics:  m,
		tracer:   tracer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one job. A workflow that ends failed or paused is a handled
// outcome; only jobs that never produced an execution return an error.
func (w *Worker) Handle(ctx context.Context, job *models.Job) error {
	ctx = log.WithWorkflowID(ctx, job.WorkflowID)

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.handle",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.JobNameKey, string(job.Name)),
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
	)
	defer span.End()

	logger := w.logger.With("job_id", job.ID, "job_name", job.Name, "workflow_id", job.WorkflowID)

	var executionID string

	switch job.Name {
	case models.JobNameExecute:
	case models.JobNameResume:
		if job.ExecutionID == "" {
			return ErrMissingExecutionID
		}

		executionID = job.ExecutionID
	default:
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)
	}

	logger.InfoContext(ctx, "Processing job")

	started := w.now()

	if job.Name == models.JobNameExecute {
		execution, err := w.runner.Start(ctx, job.WorkflowID, job.Payload)
		if err != nil {
			otelhelper.SetError(span, err)
			w.metrics.Executions.WithLabelValues("error").Inc()

			return fmt.Errorf("failed to start workflow %s: %w", job.WorkflowID, err)
		}

		executionID = execution.ID
		w.handOff(ctx, logger, job, executionID)
	}

	result, err := w.runner.Execute(ctx, job.WorkflowID, nil, executionID)
	duration := w.now().Sub(started)

	if errors.Is(err, workflow.ErrExecutionFinished) {
		logger.InfoContext(ctx, "Execution already finished, dropping redelivered job", "execution_id", executionID)

		return nil
	}

	if result == nil {
		otelhelper.SetError(span, err)
		w.metrics.Executions.WithLabelValues("error").Inc()

		return fmt.Errorf("failed to execute workflow %s: %w", job.WorkflowID, err)
	}

	ctx = log.WithExecutionID(ctx, result.ExecutionID)
	logger = logger.With("execution_id", result.ExecutionID, "status", result.Status)

	if err != nil {
		otelhelper.SetError(span, err)
		logger.WarnContext(ctx, "Workflow execution failed", "error", err)
	} else {
		logger.InfoContext(ctx, "Workflow execution finished", "duration", duration)
	}

	w.metrics.Executions.WithLabelValues(string(result.Status)).Inc()
	w.metrics.ExecutionDuration.WithLabelValues(string(result.Status)).Observe(duration.Seconds())

	execution := executionFromResult(job.WorkflowID, result)

	w.publish(ctx, job.WorkflowID, w.startEvent(job, execution))
	w.publish(ctx, job.WorkflowID, events.ForOutcome(w.eventBus.GenerateID(), w.id, execution, duration))

	switch execution.Status {
	case models.ExecutionStatusFailed, models.ExecutionStatusPaused:
		w.notifier.Send(ctx, notification.EventFromExecution(execution))
	}

	if result.Paused && result.ResumeAt != nil {
		w.scheduleResume(ctx, logger, execution)
	}

	return nil
}

// handOff rewrites the in-flight copy of an execute job as a resume of the
// execution it created, so a redelivery after a crash continues that
// execution instead of starting another one.
func (w *Worker) handOff(ctx context.Context, logger *slog.Logger, job *models.Job, executionID string) {
	resume := *job
	resume.Name = models.JobNameResume
	resume.ExecutionID = executionID
	resume.Payload = nil

	err := w.queue.UpdateInFlight(ctx, &resume)
	if err != nil {
		logger.WarnContext(ctx, "Failed to hand off in-flight job", "execution_id", executionID, "error", err)
	}
}

func (w *Worker) startEvent(job *models.Job, execution *models.WorkflowExecution) events.Event {
	if job.Name == models.JobNameResume {
		return events.WorkflowExecutionResumed{
			BaseEvent: events.NewBase(w.eventBus.GenerateID(), events.WorkflowExecutionResumedEvent, execution.WorkflowID, execution.ID, w.id),
			JobID:     job.ID,
		}
	}

	return events.WorkflowExecutionStarted{
		BaseEvent:      events.NewBase(w.eventBus.GenerateID(), events.WorkflowExecutionStartedEvent, execution.WorkflowID, execution.ID, w.id),
		JobID:          job.ID,
		TriggerPayload: job.Payload,
	}
}

func (w *Worker) publish(ctx context.Context, key string, event events.Event) {
	if event == nil {
		return
	}

	err := w.eventBus.Publish(ctx, key, event)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// scheduleResume queues the continuation of a pause-until execution for its
// resume time.
func (w *Worker) scheduleResume(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution) {
	delay := max(execution.ResumeAt.Sub(w.now()), 0)

	job := &models.Job{
		Name:        models.JobNameResume,
		WorkflowID:  execution.WorkflowID,
		ExecutionID: execution.ID,
	}

	err := w.queue.Enqueue(ctx, job, delay)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to schedule resume", "resume_at", execution.ResumeAt, "error", err)

		return
	}

	logger.InfoContext(ctx, "Resume scheduled", "resume_at", execution.ResumeAt, "job_id", job.ID)
}

func executionFromResult(workflowID string, result *workflow.Result) *models.WorkflowExecution {
	execution := &models.WorkflowExecution{
		ID:               result.ExecutionID,
		WorkflowID:       workflowID,
		Status:           result.Status,
		CurrentStepOrder: result.CurrentStepOrder,
		Context:          result.Context,
		PausedAt:         result.PausedAt,
		ResumeAt:         result.ResumeAt,
	}

	if result.Error != "" {
		execution.Error = &result.Error
	}

	return execution
}
