package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/Eld3rt/aflow-sub000/pkg/mocks"
	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence/file"
	"github.com/Eld3rt/aflow-sub000/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memoryQueue keeps repeatable registrations in a map.
type memoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*models.RepeatableJob
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{jobs: map[string]*models.RepeatableJob{}}
}

func (q *memoryQueue) UpsertRepeatable(_ context.Context, key, pattern string, job models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs[key] = &models.RepeatableJob{Key: key, Pattern: pattern, Job: job}

	return nil
}

func (q *memoryQueue) Repeatables(context.Context) ([]*models.RepeatableJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := make([]*models.RepeatableJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		list = append(list, job)
	}

	return list, nil
}

func (q *memoryQueue) GetRepeatable(_ context.Context, key string) (*models.RepeatableJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[key]
	if !ok {
		return nil, errors.New("not found")
	}

	return job, nil
}

func (q *memoryQueue) RemoveRepeatable(_ context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.jobs[key]
	delete(q.jobs, key)

	return ok, nil
}

func (q *memoryQueue) snapshot() map[string]string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]string, len(q.jobs))
	for key, job := range q.jobs {
		out[key] = job.Pattern
	}

	return out
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func cronWorkflow(id string, status models.WorkflowStatus, pattern string) *models.Workflow {
	return &models.Workflow{
		ID:      id,
		Name:    "workflow " + id,
		Status:  status,
		Trigger: &models.Trigger{Type: models.TriggerTypeCron, Config: map[string]any{models.CronConfigKey: pattern}},
	}
}

func TestJobKey(t *testing.T) {
	t.Parallel()

	key := scheduler.JobKey("wf-1")
	assert.Equal(t, "workflow-cron:wf-1", key)

	id, ok := scheduler.WorkflowIDFromKey(key)
	assert.True(t, ok)
	assert.Equal(t, "wf-1", id)

	for _, foreign := range []string{"other:wf-1", "workflow-cron:", "wf-1"} {
		_, ok := scheduler.WorkflowIDFromKey(foreign)
		assert.False(t, ok, foreign)
	}
}

func TestScheduler_CreateJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		workflow *models.Workflow
		expected map[string]string
	}{
		{
			name:     "active cron workflow",
			workflow: cronWorkflow("wf-1", models.WorkflowStatusActive, "*/5 * * * *"),
			expected: map[string]string{"workflow-cron:wf-1": "*/5 * * * *"},
		},
		{
			name:     "draft workflow",
			workflow: cronWorkflow("wf-1", models.WorkflowStatusDraft, "*/5 * * * *"),
			expected: map[string]string{},
		},
		{
			name:     "published workflow",
			workflow: cronWorkflow("wf-1", models.WorkflowStatusPublished, "*/5 * * * *"),
			expected: map[string]string{},
		},
		{
			name:     "empty schedule",
			workflow: cronWorkflow("wf-1", models.WorkflowStatusActive, "  "),
			expected: map[string]string{},
		},
		{
			name: "webhook trigger",
			workflow: &models.Workflow{ID: "wf-1", Name: "hook", Status: models.WorkflowStatusActive,
				Trigger: &models.Trigger{Type: models.TriggerTypeWebhook}},
			expected: map[string]string{},
		},
		{
			name:     "no trigger",
			workflow: &models.Workflow{ID: "wf-1", Name: "bare", Status: models.WorkflowStatusActive},
			expected: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := file.NewPersistence(t.TempDir())
			require.NoError(t, store.WorkflowRepository().Save(ctx, tt.workflow))

			queue := newMemoryQueue()
			scheduler.New(newLogger(), store.WorkflowRepository(), queue).CreateJob(ctx, tt.workflow.ID)

			assert.Equal(t, tt.expected, queue.snapshot())
		})
	}
}

func TestScheduler_CreateJobIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	workflow := cronWorkflow("wf-1", models.WorkflowStatusActive, "0 * * * *")
	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))

	queue := newMemoryQueue()
	s := scheduler.New(newLogger(), store.WorkflowRepository(), queue)

	s.CreateJob(ctx, "wf-1")
	s.CreateJob(ctx, "wf-1")

	assert.Equal(t, map[string]string{"workflow-cron:wf-1": "0 * * * *"}, queue.snapshot())

	job, err := queue.GetRepeatable(ctx, "workflow-cron:wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobNameExecute, job.Job.Name)
	assert.Equal(t, "wf-1", job.Job.WorkflowID)
}

func TestScheduler_CreateJobForUnknownWorkflowIsSwallowed(t *testing.T) {
	t.Parallel()

	queue := newMemoryQueue()
	s := scheduler.New(newLogger(), file.NewPersistence(t.TempDir()).WorkflowRepository(), queue)

	assert.NotPanics(t, func() { s.CreateJob(context.Background(), "missing") })
	assert.Empty(t, queue.snapshot())
}

func TestScheduler_RemoveJobIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := newMemoryQueue()
	require.NoError(t, queue.UpsertRepeatable(ctx, "workflow-cron:wf-1", "* * * * *", models.Job{}))

	s := scheduler.New(newLogger(), file.NewPersistence(t.TempDir()).WorkflowRepository(), queue)

	s.RemoveJob(ctx, "wf-1")
	s.RemoveJob(ctx, "wf-1")

	assert.Empty(t, queue.snapshot())
}

func TestScheduler_SyncConverges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())

	for _, workflow := range []*models.Workflow{
		cronWorkflow("missing", models.WorkflowStatusActive, "*/10 * * * *"),
		cronWorkflow("stale", models.WorkflowStatusActive, "0 9 * * *"),
		cronWorkflow("current", models.WorkflowStatusActive, "@hourly"),
		cronWorkflow("deactivated", models.WorkflowStatusDraft, "* * * * *"),
	} {
		require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))
	}

	queue := newMemoryQueue()
	require.NoError(t, queue.UpsertRepeatable(ctx, "workflow-cron:stale", "0 8 * * *", models.Job{}))
	require.NoError(t, queue.UpsertRepeatable(ctx, "workflow-cron:current", "@hourly", models.Job{}))
	require.NoError(t, queue.UpsertRepeatable(ctx, "workflow-cron:deactivated", "* * * * *", models.Job{}))
	require.NoError(t, queue.UpsertRepeatable(ctx, "workflow-cron:deleted", "* * * * *", models.Job{}))
	require.NoError(t, queue.UpsertRepeatable(ctx, "reports:nightly", "0 0 * * *", models.Job{}))

	s := scheduler.New(newLogger(), store.WorkflowRepository(), queue)
	s.Sync(ctx)

	expected := map[string]string{
		"workflow-cron:missing": "*/10 * * * *",
		"workflow-cron:stale":   "0 9 * * *",
		"workflow-cron:current": "@hourly",
		"reports:nightly":       "0 0 * * *",
	}
	assert.Equal(t, expected, queue.snapshot())

	s.Sync(ctx)
	assert.Equal(t, expected, queue.snapshot())
}

func TestScheduler_SyncFromEmptyStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := newMemoryQueue()
	require.NoError(t, queue.UpsertRepeatable(ctx, "workflow-cron:gone", "* * * * *", models.Job{}))

	scheduler.New(newLogger(), file.NewPersistence(t.TempDir()).WorkflowRepository(), queue).Sync(ctx)

	assert.Empty(t, queue.snapshot())
}

func TestScheduler_QueueErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.WorkflowRepository().Save(ctx, cronWorkflow("wf-1", models.WorkflowStatusActive, "* * * * *")))
	require.NoError(t, store.WorkflowRepository().Save(ctx, cronWorkflow("wf-2", models.WorkflowStatusActive, "* * * * *")))

	queue := &mocks.MockJobQueue{}
	queue.On("UpsertRepeatable", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))
	queue.On("RemoveRepeatable", mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
	queue.On("Repeatables", mock.Anything).Return([]*models.RepeatableJob{
		{Key: "workflow-cron:orphan", Pattern: "* * * * *"},
	}, nil)

	s := scheduler.New(newLogger(), store.WorkflowRepository(), queue)

	assert.NotPanics(t, func() {
		s.CreateJob(ctx, "wf-1")
		s.RemoveJob(ctx, "wf-1")
		s.Sync(ctx)
	})

	var keys []string

	for _, call := range queue.Calls {
		if call.Method == "UpsertRepeatable" {
			keys = append(keys, call.Arguments.String(1))
		}
	}

	sort.Strings(keys)
	assert.Equal(t, []string{"workflow-cron:wf-1", "workflow-cron:wf-1", "workflow-cron:wf-2"}, keys)
	queue.AssertCalled(t, "RemoveRepeatable", mock.Anything, "workflow-cron:orphan")
}

func TestScheduler_SyncStopsWhenQueueListingFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.WorkflowRepository().Save(ctx, cronWorkflow("wf-1", models.WorkflowStatusActive, "* * * * *")))

	queue := &mocks.MockJobQueue{}
	queue.On("Repeatables", mock.Anything).Return(nil, errors.New("redis down"))

	scheduler.New(newLogger(), store.WorkflowRepository(), queue).Sync(ctx)

	queue.AssertNotCalled(t, "UpsertRepeatable", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	queue.AssertNotCalled(t, "RemoveRepeatable", mock.Anything, mock.Anything)
}
