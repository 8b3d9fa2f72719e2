// Package registry maps step types to their executors.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Eld3rt/aflow-sub000/pkg/protocol"
)

// ErrExecutorNotRegistered is returned when a step type has no executor.
var ErrExecutorNotRegistered = errors.New("step executor not registered")

// Registry is a fixed step type to executor map. It is built once at startup
// and only read afterwards.
type Registry struct {
	logger    *slog.Logger
	executors map[string]protocol.StepExecutor
}

// New builds the registry. Registering the same type twice panics.
func New(logger *slog.Logger, executors ...protocol.StepExecutor) *Registry {
	r := &Registry{
		logger:    logger.With("module", "registry"),
		executors: make(map[string]protocol.StepExecutor, len(executors)),
	}

	for _, executor := range executors {
		stepType := executor.Type()
		if _, exists := r.executors[stepType]; exists {
			panic(fmt.Sprintf("step executor %q registered twice", stepType))
		}

		r.executors[stepType] = executor
		r.logger.Debug("registered step executor", "type", stepType)
	}

	return r
}

// Resolve returns the executor for a step type.
func (r *Registry) Resolve(stepType string) (protocol.StepExecutor, error) {
	executor, ok := r.executors[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotRegistered, stepType)
	}

	return executor, nil
}

// Types lists the registered step types in lexical order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.executors))
	for stepType := range r.executors {
		types = append(types, stepType)
	}

	sort.Strings(types)

	return types
}
