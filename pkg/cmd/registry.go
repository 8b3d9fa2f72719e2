// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/Eld3rt/aflow-sub000/pkg/actions/database"
	"github.com/Eld3rt/aflow-sub000/pkg/actions/transform"
	"github.com/Eld3rt/aflow-sub000/pkg/registry"
)

// NewRegistry builds the step executor registry with the native step types.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	return registry.New(
		logger,
		database.NewAction(logger),
		transform.NewAction(logger),
	)
}
