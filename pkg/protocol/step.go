// Package protocol defines the contracts between the workflow engine and step implementations.
package protocol

import "context"

// StepExecutor runs one step type. config is the step configuration with the
// reserved policy keys removed; execCtx is the accumulated execution context
// and must be treated as read-only. The returned map is shallow-merged into the
// context; a nil map merges nothing.
type StepExecutor interface {
	Type() string
	Execute(ctx context.Context, config map[string]any, execCtx map[string]any) (map[string]any, error)
}
