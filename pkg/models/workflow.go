// Package models defines the core domain models for trigger-driven step workflows.
package models

import (
	"sort"
	"strings"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, never scheduled
	WorkflowStatusPublished WorkflowStatus = "published" // Frozen, executable on demand
	WorkflowStatusActive    WorkflowStatus = "active"    // Executable and scheduled when triggered by cron
)

// TriggerType identifies what starts a workflow.
type TriggerType string

const (
	TriggerTypeCron    TriggerType = "cron"
	TriggerTypeEmail   TriggerType = "email"
	TriggerTypeWebhook TriggerType = "webhook"
)

// CronConfigKey is the trigger config key holding the schedule expression.
const CronConfigKey = "cron"

// Workflow is a named, ordered list of steps started by a trigger.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"              validate:"required,min=3"`
	Status    WorkflowStatus `json:"status"            validate:"required,oneof=draft published active"`
	Trigger   *Trigger       `json:"trigger,omitempty"`
	Steps     []*Step        `json:"steps"             validate:"dive"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Trigger describes the event source of a workflow.
type Trigger struct {
	ID     string         `json:"id"`
	Type   TriggerType    `json:"type"   validate:"required,oneof=cron email webhook"`
	Config map[string]any `json:"config"`
}

// CronExpression returns the schedule of an active cron-triggered workflow.
// The second value is false when the workflow is not eligible for scheduling.
func (w *Workflow) CronExpression() (string, bool) {
	if w == nil || w.Status != WorkflowStatusActive || w.Trigger == nil || w.Trigger.Type != TriggerTypeCron {
		return "", false
	}

	expr, _ := w.Trigger.Config[CronConfigKey].(string)
	expr = strings.TrimSpace(expr)

	if expr == "" {
		return "", false
	}

	return expr, true
}

// OrderedSteps returns the steps sorted by ascending order without mutating the workflow.
func (w *Workflow) OrderedSteps() []*Step {
	steps := make([]*Step, 0, len(w.Steps))
	for _, step := range w.Steps {
		if step != nil {
			steps = append(steps, step)
		}
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})

	return steps
}

// StepByOrder finds the step at the given order.
func (w *Workflow) StepByOrder(order int) (*Step, bool) {
	for _, step := range w.Steps {
		if step != nil && step.Order == order {
			return step, true
		}
	}

	return nil, false
}
