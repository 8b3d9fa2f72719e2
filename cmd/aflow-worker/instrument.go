package main

import (
	"context"

	"github.com/Eld3rt/aflow-sub000/pkg/metrics"
	"github.com/Eld3rt/aflow-sub000/pkg/protocol"
	"github.com/Eld3rt/aflow-sub000/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

// instrumentedResolver counts every step executor invocation by type and outcome.
type instrumentedResolver struct {
	resolver workflow.StepResolver
	attempts *prometheus.CounterVec
}

func instrument(resolver workflow.StepResolver, m *metrics.Metrics) workflow.StepResolver {
	return &instrumentedResolver{resolver: resolver, attempts: m.StepAttempts}
}

//nolint:ireturn
func (r *instrumentedResolver) Resolve(stepType string) (protocol.StepExecutor, error) {
	executor, err := r.resolver.Resolve(stepType)
	if err != nil {
		return nil, err
	}

	return &countingExecutor{StepExecutor: executor, attempts: r.attempts}, nil
}

type countingExecutor struct {
	protocol.StepExecutor

	attempts *prometheus.CounterVec
}

func (c *countingExecutor) Execute(ctx context.Context, config map[string]any, execCtx map[string]any) (map[string]any, error) {
	output, err := c.StepExecutor.Execute(ctx, config, execCtx)
	c.attempts.WithLabelValues(c.Type(), metrics.Outcome(err)).Inc()

	return output, err
}
