// Package workflow runs persisted workflows step by step with retries,
// checkpoints and pause/resume.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/log"
	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/otelhelper"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
	"github.com/Eld3rt/aflow-sub000/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// StepResolver finds the executor for a step type.
type StepResolver interface {
	Resolve(stepType string) (protocol.StepExecutor, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Result is the outcome of one Execute call.
type Result struct {
	Success          bool
	Paused           bool
	Status           models.ExecutionStatus
	ExecutionID      string
	Context          map[string]any
	CurrentStepOrder *int
	Error            string
	PausedAt         *time.Time
	ResumeAt         *time.Time
}

// Executor drives the running -> {paused, failed, completed} state machine of
// a workflow execution, persisting a checkpoint after every step.
type Executor struct {
	logger     *slog.Logger
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	resolver   StepResolver
	sleep      Sleeper
	now        func() time.Time
	tracer     trace.Tracer
}

type Option func(*Executor)

func WithSleeper(sleep Sleeper) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func NewExecutor(
	logger *slog.Logger,
	workflows persistence.WorkflowRepository,
	executions persistence.ExecutionRepository,
	resolver StepResolver,
	opts ...Option,
) *Executor {
	e := &Executor{
		logger:     logger.With("module", "workflow_executor"),
		workflows:  workflows,
		executions: executions,
		resolver:   resolver,
		sleep:      sleepContext,
		now:        func() time.Time { return time.Now().UTC() },
		tracer:     noop.NewTracerProvider().Tracer("workflow"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs a workflow. With an empty executionID a new execution is
// started from the trigger payload; otherwise the paused or interrupted
// execution is resumed at its persisted step, and finished executions are
// refused with ErrExecutionFinished. A step that fails under the pause policies yields a
// paused Result and a nil error; under the fail policy the Result is returned
// together with the step error.
func (e *Executor) Execute(ctx context.Context, workflowID string, triggerPayload map[string]any, executionID string) (*Result, error) {
	ctx = log.WithWorkflowID(ctx, workflowID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.Bool(otelhelper.ResumeKey, executionID != ""),
	)
	defer span.End()

	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	execution, err := e.begin(ctx, workflow, triggerPayload, executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	ctx = log.WithExecutionID(ctx, execution.ID)
	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	result, err := e.run(ctx, workflow, execution)
	if err != nil && execution.Status == models.ExecutionStatusRunning {
		e.persistFailure(ctx, execution, err)

		result = e.result(execution)
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return result, err
}

// Start persists a new running execution of workflowID seeded from
// triggerPayload without running any step. Execute picks it up by ID.
func (e *Executor) Start(ctx context.Context, workflowID string, triggerPayload map[string]any) (*models.WorkflowExecution, error) {
	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	return e.create(ctx, workflow, triggerPayload)
}

// begin loads or creates the execution and persists it as running.
func (e *Executor) begin(ctx context.Context, workflow *models.Workflow, triggerPayload map[string]any, executionID string) (*models.WorkflowExecution, error) {
	if executionID == "" {
		return e.create(ctx, workflow, triggerPayload)
	}

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if execution.WorkflowID != workflow.ID {
		return nil, fmt.Errorf("execution %s belongs to workflow %s: %w", executionID, execution.WorkflowID, persistence.ErrExecutionNotFound)
	}

	if execution.IsTerminal() {
		return nil, fmt.Errorf("execution %s is %s: %w", executionID, execution.Status, ErrExecutionFinished)
	}

	start := execution.StartOrder()

	execution.Status = models.ExecutionStatusRunning
	execution.CurrentStepOrder = &start
	execution.PausedAt = nil
	execution.ResumeAt = nil
	execution.Error = nil

	if execution.Context == nil {
		execution.Context = map[string]any{}
	}

	err = e.executions.Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to mark execution %s running: %w", executionID, err)
	}

	e.logger.InfoContext(ctx, "Resuming workflow execution", "execution_id", execution.ID, "start_order", start)

	return execution, nil
}

// create persists a new running execution pointing at the first step, or at
// nothing when the workflow has no steps.
func (e *Executor) create(ctx context.Context, workflow *models.Workflow, triggerPayload map[string]any) (*models.WorkflowExecution, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	execCtx := map[string]any{}
	maps.Copy(execCtx, triggerPayload)

	var start *int
	if steps := workflow.OrderedSteps(); len(steps) > 0 {
		first := steps[0].Order
		start = &first
	}

	now := e.now()
	execution := &models.WorkflowExecution{
		ID:               id.String(),
		WorkflowID:       workflow.ID,
		Status:           models.ExecutionStatusRunning,
		CurrentStepOrder: start,
		Context:          execCtx,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = e.executions.Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Starting workflow execution", "execution_id", execution.ID)

	return execution, nil
}

func (e *Executor) run(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution) (*Result, error) {
	start := execution.StartOrder()

	steps := make([]*models.Step, 0, len(workflow.Steps))
	for _, step := range workflow.OrderedSteps() {
		if step.Order >= start {
			steps = append(steps, step)
		}
	}

	for i, step := range steps {
		output, err := e.runStep(ctx, step, execution.Context)
		if err != nil {
			var stepErr *StepError
			if !errors.As(err, &stepErr) {
				return nil, err
			}

			return e.applyErrorPolicy(ctx, execution, step, stepErr)
		}

		next := maps.Clone(execution.Context)
		maps.Copy(next, output)

		execution.Context = next
		execution.CurrentStepOrder = nil

		if i+1 < len(steps) {
			order := steps[i+1].Order
			execution.CurrentStepOrder = &order
		}

		err = e.executions.Save(ctx, execution)
		if err != nil {
			return nil, fmt.Errorf("failed to checkpoint step %d: %w", step.Order, err)
		}

		e.logger.InfoContext(ctx, "Step completed", "order", step.Order, "type", step.Type)
	}

	execution.Status = models.ExecutionStatusCompleted
	execution.CurrentStepOrder = nil

	err := e.executions.Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to mark execution completed: %w", err)
	}

	e.logger.InfoContext(ctx, "Workflow execution completed")

	return e.result(execution), nil
}

// runStep invokes the step executor with retries. Exhaustion is reported as a
// *StepError; any other error aborts the execution.
func (e *Executor) runStep(ctx context.Context, step *models.Step, execCtx map[string]any) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.Int(otelhelper.StepOrderKey, step.Order),
		attribute.String(otelhelper.StepTypeKey, step.Type),
	)
	defer span.End()

	executor, err := e.resolver.Resolve(step.Type)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, &StepError{Order: step.Order, Type: step.Type, Attempts: 1, Err: err}
	}

	policy := step.EffectiveRetryPolicy()
	config := step.ExecutorConfig()

	var lastErr error

	for attempt := range policy.Attempts() {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)

			e.logger.WarnContext(ctx, "Retrying step",
				"order", step.Order,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)

			err := e.sleep(ctx, delay)
			if err != nil {
				return nil, fmt.Errorf("step %d interrupted while waiting to retry: %w", step.Order, err)
			}
		}

		output, err := executor.Execute(ctx, config, maps.Clone(execCtx))
		if err == nil {
			return output, nil
		}

		lastErr = err
	}

	otelhelper.SetError(span, lastErr)

	return nil, &StepError{Order: step.Order, Type: step.Type, Attempts: policy.Attempts(), Err: lastErr}
}

func (e *Executor) applyErrorPolicy(ctx context.Context, execution *models.WorkflowExecution, step *models.Step, stepErr *StepError) (*Result, error) {
	policy := step.EffectiveErrorPolicy()
	message := stepErr.Error()
	order := step.Order

	execution.CurrentStepOrder = &order
	execution.Error = &message

	switch policy.Mode {
	case models.ErrorPolicyPause, models.ErrorPolicyPauseUntil:
		pausedAt := e.now()

		execution.Status = models.ExecutionStatusPaused
		execution.PausedAt = &pausedAt
		execution.ResumeAt = policy.ResumeAt

		err := e.executions.Save(ctx, execution)
		if err != nil {
			execution.Status = models.ExecutionStatusRunning

			return nil, fmt.Errorf("failed to persist paused execution: %w", err)
		}

		e.logger.WarnContext(ctx, "Workflow execution paused",
			"order", order,
			"resume_at", policy.ResumeAt,
			"error", message,
		)

		return e.result(execution), nil
	default:
		execution.Status = models.ExecutionStatusFailed

		err := e.executions.Save(ctx, execution)
		if err != nil {
			execution.Status = models.ExecutionStatusRunning

			return nil, fmt.Errorf("failed to persist failed execution: %w", err)
		}

		e.logger.ErrorContext(ctx, "Workflow execution failed", "order", order, "error", message)

		return e.result(execution), stepErr
	}
}

// persistFailure records an unexpected error on an execution still marked running.
func (e *Executor) persistFailure(ctx context.Context, execution *models.WorkflowExecution, cause error) {
	message := cause.Error()

	execution.Status = models.ExecutionStatusFailed
	execution.Error = &message

	err := e.executions.Save(context.WithoutCancel(ctx), execution)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist execution failure", "error", err, "cause", cause)

		return
	}

	e.logger.ErrorContext(ctx, "Workflow execution failed unexpectedly", "error", message)
}

func (e *Executor) result(execution *models.WorkflowExecution) *Result {
	result := &Result{
		Success:          execution.Status == models.ExecutionStatusCompleted,
		Paused:           execution.Status == models.ExecutionStatusPaused,
		Status:           execution.Status,
		ExecutionID:      execution.ID,
		Context:          execution.Context,
		CurrentStepOrder: execution.CurrentStepOrder,
		PausedAt:         execution.PausedAt,
		ResumeAt:         execution.ResumeAt,
	}

	if execution.Error != nil {
		result.Error = *execution.Error
	}

	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
