package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"taskbridge/internal/task"
)

// CreateTask posts a new task. fields is sent as is; the store applies its
// own defaults.
func (c *Client) CreateTask(ctx context.Context, fields map[string]any) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", nil, fields, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodGet, taskPath(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, id int64, patch map[string]any) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodPut, taskPath(id), nil, patch, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil, nil)
}

func (c *Client) ListTasks(ctx context.Context, f task.Filter) (*task.List, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Priority != "" {
		q.Set("priority", f.Priority)
	}
	if f.AssigneeID != nil {
		q.Set("assignee_id", strconv.FormatInt(*f.AssigneeID, 10))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}

	var list task.List
	if err := c.do(ctx, http.MethodGet, "/api/tasks", q, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// BulkUpdate applies the same patch to every id in one store call. The store
// reports an outcome per id in input order.
func (c *Client) BulkUpdate(ctx context.Context, ids []int64, patch map[string]any) (*task.BulkResult, error) {
	body := map[string]any{"task_ids": ids, "update": patch}
	var result task.BulkResult
	if err := c.do(ctx, http.MethodPost, "/api/tasks/bulk-update", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Metrics(ctx context.Context, timeframe string) (*task.Metrics, error) {
	q := url.Values{}
	if timeframe != "" {
		q.Set("timeframe", timeframe)
	}
	var m task.Metrics
	if err := c.do(ctx, http.MethodGet, "/api/analytics/metrics", q, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Health checks that the store answers its root endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/", nil, nil, nil)
}

func taskPath(id int64) string {
	return fmt.Sprintf("/api/tasks/%d", id)
}
