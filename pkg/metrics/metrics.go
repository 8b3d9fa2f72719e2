// Package metrics holds the Prometheus collectors shared by the API and the workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aflow"

// Metrics groups the collectors. Each binary creates one set and registers it
// on its registry.
type Metrics struct {
	Executions             *prometheus.CounterVec
	ExecutionDuration      *prometheus.HistogramVec
	StepAttempts           *prometheus.CounterVec
	NotificationDeliveries *prometheus.CounterVec
	JobsEnqueued           *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Workflow executions by final status.",
		}, []string{"status"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Time spent in one executor run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		StepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_attempts_total",
			Help:      "Step executor invocations by step type and outcome.",
		}, []string{"type", "outcome"}),
		NotificationDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs put on the queue by job name.",
		}, []string{"name"}),
	}
}

// MustRegister registers every collector on reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) *Metrics {
	reg.MustRegister(
		m.Executions,
		m.ExecutionDuration,
		m.StepAttempts,
		m.NotificationDeliveries,
		m.JobsEnqueued,
	)

	return m
}

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}

	return OutcomeSuccess
}
