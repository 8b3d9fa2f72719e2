// Package scheduler keeps the job queue's repeatable jobs in line with the
// cron triggers of active workflows.
package scheduler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
)

const keyPrefix = "workflow-cron:"

// RepeatableQueue is the part of the job queue the scheduler manages.
type RepeatableQueue interface {
	UpsertRepeatable(ctx context.Context, key, pattern string, job models.Job) error
	Repeatables(ctx context.Context) ([]*models.RepeatableJob, error)
	GetRepeatable(ctx context.Context, key string) (*models.RepeatableJob, error)
	RemoveRepeatable(ctx context.Context, key string) (bool, error)
}

// JobKey is the deterministic repeatable job key of a workflow.
func JobKey(workflowID string) string {
	return keyPrefix + workflowID
}

// WorkflowIDFromKey recovers the workflow id from a key built by JobKey.
func WorkflowIDFromKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, keyPrefix)
	if !ok || id == "" {
		return "", false
	}

	return id, true
}

// Scheduler registers and removes repeatable jobs. None of its operations
// return errors: failures are logged so callers are never blocked by queue
// unavailability.
type Scheduler struct {
	logger    *slog.Logger
	workflows persistence.WorkflowRepository
	queue     RepeatableQueue
}

func New(logger *slog.Logger, workflows persistence.WorkflowRepository, queue RepeatableQueue) *Scheduler {
	return &Scheduler{
		logger:    logger.With("module", "scheduler"),
		workflows: workflows,
		queue:     queue,
	}
}

// CreateJob registers or updates the repeatable job of an active cron workflow.
// Any other workflow is left alone.
func (s *Scheduler) CreateJob(ctx context.Context, workflowID string) {
	logger := s.logger.With("workflow_id", workflowID)

	workflow, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load workflow for scheduling", "error", err)

		return
	}

	pattern, ok := workflow.CronExpression()
	if !ok {
		logger.DebugContext(ctx, "Workflow is not schedulable, skipping", "status", workflow.Status)

		return
	}

	s.register(ctx, logger, workflowID, pattern)
}

// RemoveJob removes the repeatable job of a workflow if one is registered.
func (s *Scheduler) RemoveJob(ctx context.Context, workflowID string) {
	logger := s.logger.With("workflow_id", workflowID)

	removed, err := s.queue.RemoveRepeatable(ctx, JobKey(workflowID))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to remove scheduled job", "error", err)

		return
	}

	if removed {
		logger.InfoContext(ctx, "Scheduled job removed")
	}
}

// Sync converges the registered repeatable jobs to exactly the set of active
// workflows with a cron trigger: missing jobs are created, jobs with a stale
// pattern are recreated and orphans are removed. Keys not created by this
// package are ignored.
func (s *Scheduler) Sync(ctx context.Context) {
	workflows, err := s.workflows.GetAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load workflows for sync", "error", err)

		return
	}

	desired := make(map[string]string)

	for _, workflow := range workflows {
		if pattern, ok := workflow.CronExpression(); ok {
			desired[workflow.ID] = pattern
		}
	}

	repeatables, err := s.queue.Repeatables(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list scheduled jobs for sync", "error", err)

		return
	}

	actual := make(map[string]string)

	for _, repeatable := range repeatables {
		if id, ok := WorkflowIDFromKey(repeatable.Key); ok {
			actual[id] = repeatable.Pattern
		}
	}

	var created, updated, removed int

	for id, pattern := range desired {
		current, exists := actual[id]

		switch {
		case !exists:
			if s.register(ctx, s.logger.With("workflow_id", id), id, pattern) {
				created++
			}
		case current != pattern:
			_, err := s.queue.RemoveRepeatable(ctx, JobKey(id))
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to remove stale scheduled job", "workflow_id", id, "error", err)

				continue
			}

			if s.register(ctx, s.logger.With("workflow_id", id), id, pattern) {
				updated++
			}
		}
	}

	for id := range actual {
		if _, ok := desired[id]; ok {
			continue
		}

		_, err := s.queue.RemoveRepeatable(ctx, JobKey(id))
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to remove orphaned scheduled job", "workflow_id", id, "error", err)

			continue
		}

		removed++
	}

	s.logger.InfoContext(ctx, "Scheduled jobs synchronized",
		"desired", len(desired),
		"created", created,
		"updated", updated,
		"removed", removed,
	)
}

func (s *Scheduler) register(ctx context.Context, logger *slog.Logger, workflowID, pattern string) bool {
	job := models.Job{Name: models.JobNameExecute, WorkflowID: workflowID}

	err := s.queue.UpsertRepeatable(ctx, JobKey(workflowID), pattern, job)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to register scheduled job", "pattern", pattern, "error", err)

		return false
	}

	logger.InfoContext(ctx, "Scheduled job registered", "pattern", pattern)

	return true
}
