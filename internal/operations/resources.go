package operations

import (
	"context"
	"fmt"

	"taskbridge/internal/bridge"
	"taskbridge/internal/task"
)

const jsonMIME = "application/json"

func (h *handlers) resources() []bridge.Descriptor {
	return []bridge.Descriptor{
		{
			Name:        "task_list",
			Kind:        bridge.KindResource,
			Description: "All tasks, first page",
			URI:         "task://list",
			MIMEType:    jsonMIME,
			ReadOnly:    true,
			Handler:     h.listResource("task://list", ""),
		},
		{
			Name:        "task_get",
			Kind:        bridge.KindResource,
			Description: "A single task by its ID",
			URI:         "task://get/{id}",
			MIMEType:    jsonMIME,
			Schema:      bridge.Schema{Fields: []bridge.Field{taskIDField("id")}},
			ReadOnly:    true,
			Handler:     h.taskResource,
		},
		{
			Name:        "task_metrics",
			Kind:        bridge.KindResource,
			Description: "Task analytics for the last week",
			URI:         "task://metrics",
			MIMEType:    jsonMIME,
			ReadOnly:    true,
			Handler:     h.metricsResource,
		},
		{
			Name:        "pending_tasks",
			Kind:        bridge.KindResource,
			Description: "Tasks waiting to be started",
			URI:         "task://pending",
			MIMEType:    jsonMIME,
			ReadOnly:    true,
			Handler:     h.listResource("task://pending", task.StatusPending),
		},
		{
			Name:        "completed_tasks",
			Kind:        bridge.KindResource,
			Description: "Tasks that are done",
			URI:         "task://completed",
			MIMEType:    jsonMIME,
			ReadOnly:    true,
			Handler:     h.listResource("task://completed", task.StatusCompleted),
		},
	}
}

func resourcePayload(uri string, contents any, message string) bridge.Payload {
	return bridge.Payload{"uri": uri, "contents": contents, "message": message}
}

func (h *handlers) listResource(uri, status string) bridge.Handler {
	return func(ctx context.Context, _ bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
		list, err := h.backend.ListTasks(ctx, task.Filter{Status: status})
		if err != nil {
			return nil, err
		}
		return resourcePayload(uri, list, fmt.Sprintf("Read %d of %d tasks", len(list.Tasks), list.Total)), nil
	}
}

func (h *handlers) taskResource(ctx context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	id, _ := args.Int("id")
	t, err := h.backend.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return resourcePayload(fmt.Sprintf("task://get/%d", id), t, fmt.Sprintf("Read task %d", id)), nil
}

func (h *handlers) metricsResource(ctx context.Context, _ bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	m, err := h.backend.Metrics(ctx, "")
	if err != nil {
		return nil, err
	}
	return resourcePayload("task://metrics", m, "Read task metrics for the last "+m.Timeframe), nil
}
