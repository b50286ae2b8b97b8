package operations

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"taskbridge/internal/bridge"
	"taskbridge/internal/task"
)

// bulkChunkSize is how many ids go to the store per bulk request. Progress is
// reported after every chunk.
const bulkChunkSize = 10

func (h *handlers) tools() []bridge.Descriptor {
	return []bridge.Descriptor{
		{
			Name:        "create_task",
			Kind:        bridge.KindTool,
			Description: "Create a new task",
			Schema: bridge.Schema{Fields: []bridge.Field{
				bridge.StringField("title", bridge.Required(), bridge.MinLength(1), bridge.MaxLength(task.MaxTitleLength),
					bridge.Describe("Task title")),
				bridge.StringField("description", bridge.MaxLength(task.MaxDescriptionLength),
					bridge.Describe("Task description")),
				statusField(bridge.Default(task.StatusPending)),
				assigneeField(),
				priorityField(bridge.Default(task.PriorityMedium)),
				bridge.StringField("due_date", bridge.Format(bridge.FormatDateTime), bridge.Describe("Due date (RFC 3339)")),
			}},
			Handler: h.createTask,
		},
		{
			Name:        "get_task",
			Kind:        bridge.KindTool,
			Description: "Get a task by its ID",
			Schema:      bridge.Schema{Fields: []bridge.Field{taskIDField("task_id")}},
			ReadOnly:    true,
			Handler:     h.getTask,
		},
		{
			Name:        "update_task",
			Kind:        bridge.KindTool,
			Description: "Update an existing task",
			Schema: bridge.Schema{Fields: []bridge.Field{
				taskIDField("task_id"),
				bridge.StringField("title", bridge.MinLength(1), bridge.MaxLength(task.MaxTitleLength), bridge.Describe("Task title")),
				bridge.StringField("description", bridge.MaxLength(task.MaxDescriptionLength), bridge.Describe("Task description")),
				statusField(),
				assigneeField(),
				priorityField(),
				bridge.StringField("due_date", bridge.Format(bridge.FormatDateTime), bridge.Describe("Due date (RFC 3339)")),
			}},
			Destructive: true,
			Handler:     h.updateTask,
		},
		{
			Name:        "delete_task",
			Kind:        bridge.KindTool,
			Description: "Delete a task",
			Schema:      bridge.Schema{Fields: []bridge.Field{taskIDField("task_id")}},
			Destructive: true,
			Handler:     h.deleteTask,
		},
		{
			Name:        "bulk_update_tasks",
			Kind:        bridge.KindTool,
			Description: "Apply the same status, priority or assignee to several tasks",
			Schema: bridge.Schema{Fields: []bridge.Field{
				bridge.ArrayField("task_ids", bridge.TypeInteger, bridge.Required(), bridge.MinLength(1),
					bridge.Describe("IDs of the tasks to update")),
				statusField(),
				priorityField(),
				assigneeField(),
			}},
			Destructive: true,
			Handler:     h.bulkUpdate,
		},
		{
			Name:        "search_tasks",
			Kind:        bridge.KindTool,
			Description: "Search tasks by status, priority or assignee",
			Schema: bridge.Schema{Fields: []bridge.Field{
				statusField(),
				assigneeField(),
				priorityField(),
				bridge.IntegerField("limit", bridge.Min(1), bridge.Max(task.MaxLimit), bridge.Default(task.DefaultLimit),
					bridge.Describe("Maximum number of tasks to return")),
				bridge.IntegerField("offset", bridge.Min(0), bridge.Default(0), bridge.Describe("Number of tasks to skip")),
			}},
			ReadOnly: true,
			Handler:  h.searchTasks,
		},
		{
			Name:        "get_task_metrics",
			Kind:        bridge.KindTool,
			Description: "Get task analytics for a timeframe",
			Schema: bridge.Schema{Fields: []bridge.Field{
				bridge.StringField("timeframe", bridge.OneOf(task.Timeframes...), bridge.Default("week"),
					bridge.Describe("Window of created tasks to summarize")),
			}},
			ReadOnly: true,
			Handler:  h.taskMetrics,
		},
	}
}

func (h *handlers) createTask(ctx context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	t, err := h.backend.CreateTask(ctx, args)
	if err != nil {
		return nil, err
	}
	return bridge.Payload{
		"task":    t,
		"message": fmt.Sprintf("Task created successfully with ID: %d", t.ID),
	}, nil
}

func (h *handlers) getTask(ctx context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	id, _ := args.Int("task_id")
	t, err := h.backend.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return bridge.Payload{"task": t, "message": fmt.Sprintf("Retrieved task %d", id)}, nil
}

func (h *handlers) updateTask(ctx context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	id, _ := args.Int("task_id")
	t, err := h.backend.UpdateTask(ctx, id, args.Without("task_id"))
	if err != nil {
		return nil, err
	}
	return bridge.Payload{"task": t, "message": fmt.Sprintf("Task %d updated successfully", id)}, nil
}

func (h *handlers) deleteTask(ctx context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	id, _ := args.Int("task_id")
	if err := h.backend.DeleteTask(ctx, id); err != nil {
		return nil, err
	}
	return bridge.Payload{"task_id": id, "message": fmt.Sprintf("Task %d deleted successfully", id)}, nil
}

// bulkUpdate sends the ids to the store in chunks. A chunk the store rejects
// as a whole is recorded as a failure for each of its ids so that one bad
// round trip does not lose the outcome of the others.
func (h *handlers) bulkUpdate(ctx context.Context, args bridge.Args, progress bridge.Progress) (bridge.Payload, error) {
	ids := args.Ints("task_ids")
	patch := args.Without("task_ids")
	if len(patch) == 0 {
		return nil, &bridge.ValidationError{Field: "update", Reason: "needs at least one of status, priority or assignee_id"}
	}

	result := task.BulkResult{Results: make([]task.BulkItem, 0, len(ids))}
	progress.Report(0, len(ids), "Starting bulk update")
	for start := 0; start < len(ids); start += bulkChunkSize {
		chunk := ids[start:min(start+bulkChunkSize, len(ids))]
		res, err := h.backend.BulkUpdate(ctx, chunk, patch)
		switch {
		case status.Code(err) == codes.InvalidArgument:
			return nil, err
		case err != nil:
			h.logger.Warn("bulk update chunk failed", "ids", chunk, "error", err)
			for _, id := range chunk {
				result.Add(task.BulkItem{ID: id, Status: task.BulkError, Error: "update failed"})
			}
		default:
			for _, item := range chunkOutcomes(chunk, res.Results) {
				result.Add(item)
			}
		}
		done := start + len(chunk)
		progress.Report(done, len(ids), fmt.Sprintf("Processed %d of %d tasks", done, len(ids)))
	}

	return bridge.Payload{
		"total":     result.Total,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"results":   result.Results,
		"message":   fmt.Sprintf("Updated %d out of %d tasks", result.Succeeded, result.Total),
	}, nil
}

// chunkOutcomes lines the store's items up with the requested ids. An id the
// store did not report on counts as failed; items for ids that were not
// requested are ignored.
func chunkOutcomes(chunk []int64, items []task.BulkItem) []task.BulkItem {
	byID := make(map[int64][]task.BulkItem, len(items))
	for _, item := range items {
		byID[item.ID] = append(byID[item.ID], item)
	}
	out := make([]task.BulkItem, 0, len(chunk))
	for _, id := range chunk {
		queue := byID[id]
		if len(queue) == 0 {
			out = append(out, task.BulkItem{ID: id, Status: task.BulkError, Error: "update failed"})
			continue
		}
		item := queue[0]
		byID[id] = queue[1:]
		if item.Status != task.BulkSuccess {
			item.Status = task.BulkError
		}
		out = append(out, item)
	}
	return out
}

func (h *handlers) searchTasks(ctx context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	list, err := h.backend.ListTasks(ctx, filterFrom(args))
	if err != nil {
		return nil, err
	}
	return bridge.Payload{
		"tasks": list.Tasks,
		"total": list.Total,
		"pagination": map[string]any{
			"limit":    list.Limit,
			"offset":   list.Offset,
			"has_more": list.HasMore,
		},
		"message": fmt.Sprintf("Found %d tasks", list.Total),
	}, nil
}

func (h *handlers) taskMetrics(ctx context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	timeframe, _ := args.String("timeframe")
	m, err := h.backend.Metrics(ctx, timeframe)
	if err != nil {
		return nil, err
	}
	return bridge.Payload{"metrics": m, "message": "Task metrics for the last " + m.Timeframe}, nil
}

func filterFrom(args bridge.Args) task.Filter {
	var f task.Filter
	f.Status, _ = args.String("status")
	f.Priority, _ = args.String("priority")
	if id, ok := args.Int("assignee_id"); ok {
		f.AssigneeID = &id
	}
	if n, ok := args.Int("limit"); ok {
		f.Limit = int(n)
	}
	if n, ok := args.Int("offset"); ok {
		f.Offset = int(n)
	}
	return f
}
