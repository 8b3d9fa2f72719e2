package registry_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/Eld3rt/aflow-sub000/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	stepType string
}

func (s stubExecutor) Type() string { return s.stepType }

func (s stubExecutor) Execute(_ context.Context, _ map[string]any, _ map[string]any) (map[string]any, error) {
	return map[string]any{"type": s.stepType}, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	r := registry.New(newLogger(), stubExecutor{"transform"}, stubExecutor{"database"})

	executor, err := r.Resolve("database")
	require.NoError(t, err)
	assert.Equal(t, "database", executor.Type())

	_, err = r.Resolve("telegram")
	require.ErrorIs(t, err, registry.ErrExecutorNotRegistered)
	assert.Contains(t, err.Error(), "telegram")

	assert.Equal(t, []string{"database", "transform"}, r.Types())
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		registry.New(newLogger(), stubExecutor{"database"}, stubExecutor{"database"})
	})
}
