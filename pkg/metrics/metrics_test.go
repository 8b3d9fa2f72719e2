package metrics_test

import (
	"errors"
	"testing"

	"github.com/Eld3rt/aflow-sub000/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegisterAndCount(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New().MustRegister(reg)

	m.Executions.WithLabelValues("completed").Inc()
	m.Executions.WithLabelValues("completed").Inc()
	m.NotificationDeliveries.WithLabelValues("webhook", metrics.Outcome(errors.New("x"))).Inc()

	assert.InDelta(t, 2, testutil.ToFloat64(m.Executions.WithLabelValues("completed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.NotificationDeliveries.WithLabelValues("webhook", metrics.OutcomeFailure)), 0)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}

	assert.Contains(t, names, "aflow_workflow_executions_total")
	assert.Contains(t, names, "aflow_notification_deliveries_total")
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics.New().MustRegister(reg)

	assert.Panics(t, func() {
		metrics.New().MustRegister(reg)
	})
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.Equal(t, metrics.OutcomeSuccess, metrics.Outcome(nil))
	assert.Equal(t, metrics.OutcomeFailure, metrics.Outcome(errors.New("boom")))
}
