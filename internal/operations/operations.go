// Package operations defines the task operations the bridge publishes: the
// tools, resources and prompts every transport exposes from one registry.
package operations

import (
	"context"
	"errors"
	"log/slog"

	"taskbridge/internal/bridge"
	"taskbridge/internal/task"
)

// Backend is the slice of the task store client the handlers use.
type Backend interface {
	CreateTask(ctx context.Context, fields map[string]any) (*task.Task, error)
	GetTask(ctx context.Context, id int64) (*task.Task, error)
	UpdateTask(ctx context.Context, id int64, patch map[string]any) (*task.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	ListTasks(ctx context.Context, f task.Filter) (*task.List, error)
	BulkUpdate(ctx context.Context, ids []int64, patch map[string]any) (*task.BulkResult, error)
	Metrics(ctx context.Context, timeframe string) (*task.Metrics, error)
}

// Register adds every task operation to reg.
func Register(reg *bridge.Registry, backend Backend, logger *slog.Logger) error {
	var errs []error
	for _, d := range Descriptors(backend, logger) {
		errs = append(errs, reg.Register(d))
	}
	return errors.Join(errs...)
}

// Descriptors lists the task operations in the order clients see them.
func Descriptors(backend Backend, logger *slog.Logger) []bridge.Descriptor {
	if logger == nil {
		logger = slog.Default()
	}
	ops := &handlers{backend: backend, logger: logger}
	var out []bridge.Descriptor
	out = append(out, ops.tools()...)
	out = append(out, ops.resources()...)
	out = append(out, ops.prompts()...)
	return out
}

type handlers struct {
	backend Backend
	logger  *slog.Logger
}

// field builders shared by several operations

func taskIDField(name string) bridge.Field {
	return bridge.IntegerField(name, bridge.Required(), bridge.Min(1), bridge.Describe("ID of the task"))
}

func statusField(opts ...bridge.FieldOption) bridge.Field {
	opts = append([]bridge.FieldOption{bridge.OneOf(task.Statuses...), bridge.Describe("Task status")}, opts...)
	return bridge.StringField("status", opts...)
}

func priorityField(opts ...bridge.FieldOption) bridge.Field {
	opts = append([]bridge.FieldOption{bridge.OneOf(task.Priorities...), bridge.Describe("Task priority")}, opts...)
	return bridge.StringField("priority", opts...)
}

func assigneeField() bridge.Field {
	return bridge.IntegerField("assignee_id", bridge.Describe("ID of the assigned user"))
}
