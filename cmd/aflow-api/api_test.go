package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Eld3rt/aflow-sub000/pkg/metrics"
	"github.com/Eld3rt/aflow-sub000/pkg/mocks"
	"github.com/Eld3rt/aflow-sub000/pkg/models"
	"github.com/Eld3rt/aflow-sub000/pkg/persistence/file"
	"github.com/Eld3rt/aflow-sub000/pkg/scheduler"
	"github.com/Eld3rt/aflow-sub000/pkg/testutil"
	"github.com/Eld3rt/aflow-sub000/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *mocks.MockJobQueue) {
	t.Helper()

	registry := prometheus.NewRegistry()
	m := metrics.New().MustRegister(registry)
	m.Executions.WithLabelValues("completed").Inc()

	queue := &mocks.MockJobQueue{}

	api := NewAPI(testutil.Logger(), file.NewPersistence(t.TempDir()), queue, registry)

	return api.App(), queue
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := get(t, app, "/")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "aflow API", body)
}

func TestAPI_Liveness(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := get(t, app, "/livez")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)
}

func TestAPI_Metrics(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := get(t, app, "/metrics")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `aflow_workflow_executions_total{status="completed"} 1`)
}

func TestAPI_GetWorkflows_Empty(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := get(t, app, "/workflows")

	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", body)
}

func TestAPI_ActiveCronWorkflowIsScheduled(t *testing.T) {
	t.Parallel()

	app, queue := setupTestApp(t)
	queue.On("UpsertRepeatable", mock.Anything, mock.Anything, "0 2 * * *", mock.Anything).Return(nil)

	raw, err := json.Marshal(web.CreateWorkflowRequest{
		Name:    "Nightly report",
		Status:  models.WorkflowStatusActive,
		Trigger: &models.Trigger{Type: models.TriggerTypeCron, Config: map[string]any{"cron": "0 2 * * *"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	queue.AssertCalled(t, "UpsertRepeatable", mock.Anything, scheduler.JobKey(created.ID), "0 2 * * *",
		models.Job{Name: models.JobNameExecute, WorkflowID: created.ID})
}
