package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbridge/internal/task"
)

func newAPI(t *testing.T) (*Store, *httptest.Server) {
	t.Helper()
	s := openTestStore(t)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func call(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAPICreateGetDelete(t *testing.T) {
	_, srv := newAPI(t)

	code, body := call(t, http.MethodPost, srv.URL+"/api/tasks", `{"title":"Ship it","priority":"high"}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 1.0, body["id"])
	assert.Equal(t, "pending", body["status"])

	code, body = call(t, http.MethodGet, srv.URL+"/api/tasks/1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ship it", body["title"])

	code, body = call(t, http.MethodPut, srv.URL+"/api/tasks/1", `{"status":"completed"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", body["status"])

	code, body = call(t, http.MethodDelete, srv.URL+"/api/tasks/1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Task deleted successfully", body["message"])

	code, body = call(t, http.MethodGet, srv.URL+"/api/tasks/1", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Task not found", body["detail"])
}

func TestAPIRejectsBadInput(t *testing.T) {
	_, srv := newAPI(t)
	tests := []struct {
		name, method, path, body string
	}{
		{"missing title", http.MethodPost, "/api/tasks", `{}`},
		{"bad json", http.MethodPost, "/api/tasks", `{"title":`},
		{"bad status", http.MethodPut, "/api/tasks/1", `{"status":"done"}`},
		{"bad id", http.MethodGet, "/api/tasks/abc", ``},
		{"bad limit", http.MethodGet, "/api/tasks?limit=0", ``},
		{"limit too large", http.MethodGet, "/api/tasks?limit=500", ``},
		{"bad assignee", http.MethodGet, "/api/tasks?assignee_id=x", ``},
		{"bad timeframe", http.MethodGet, "/api/analytics/metrics?timeframe=decade", ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := call(t, tc.method, srv.URL+tc.path, tc.body)
			assert.Equal(t, http.StatusUnprocessableEntity, code)
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestAPIListBulkAndMetrics(t *testing.T) {
	s, srv := newAPI(t)
	_, err := s.Seed(context.Background())
	require.NoError(t, err)

	code, body := call(t, http.MethodGet, srv.URL+"/api/tasks?status=pending&limit=1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["total"])
	assert.Equal(t, true, body["has_more"])
	assert.Len(t, body["tasks"], 1)

	code, body = call(t, http.MethodPost, srv.URL+"/api/tasks/bulk-update",
		`{"task_ids":[3,4,99],"update":{"status":"in_progress"}}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["succeeded"])
	assert.Equal(t, 1.0, body["failed"])

	code, body = call(t, http.MethodGet, srv.URL+"/api/analytics/metrics?timeframe=month", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5.0, body["total_tasks"])
	byStatus, ok := body["by_status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3.0, byStatus[task.StatusInProgress])

	code, body = call(t, http.MethodGet, srv.URL+"/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}
