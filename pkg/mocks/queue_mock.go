package mocks

import (
	"context"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockJobQueue is a mock of the job queue operations used by services and the scheduler.
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job *models.Job, delay time.Duration) error {
	args := m.Called(ctx, job, delay)

	return args.Error(0)
}

func (m *MockJobQueue) UpdateInFlight(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockJobQueue) UpsertRepeatable(ctx context.Context, key, pattern string, job models.Job) error {
	args := m.Called(ctx, key, pattern, job)

	return args.Error(0)
}

func (m *MockJobQueue) Repeatables(ctx context.Context) ([]*models.RepeatableJob, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.RepeatableJob), args.Error(1)
}

func (m *MockJobQueue) GetRepeatable(ctx context.Context, key string) (*models.RepeatableJob, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RepeatableJob), args.Error(1)
}

func (m *MockJobQueue) RemoveRepeatable(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)

	return args.Bool(0), args.Error(1)
}

// MockScheduler is a mock of the scheduler hooks called by the workflow service.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) CreateJob(ctx context.Context, workflowID string) {
	m.Called(ctx, workflowID)
}

func (m *MockScheduler) RemoveJob(ctx context.Context, workflowID string) {
	m.Called(ctx, workflowID)
}

func (m *MockScheduler) Sync(ctx context.Context) {
	m.Called(ctx)
}
