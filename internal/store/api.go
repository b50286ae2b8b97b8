package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskbridge/internal/task"
)

// Handler serves the task store HTTP API.
func (s *Store) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "task-store"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.handleCreate)
		r.Get("/tasks", s.handleList)
		r.Post("/tasks/bulk-update", s.handleBulkUpdate)
		r.Get("/tasks/{id}", s.handleGet)
		r.Put("/tasks/{id}", s.handleUpdate)
		r.Delete("/tasks/{id}", s.handleDelete)
		r.Get("/analytics/metrics", s.handleMetrics)
	})
	return r
}

func (s *Store) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if !decode(w, r, &in) {
		return
	}
	t, err := s.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Store) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.Filter{Status: q.Get("status"), Priority: q.Get("priority")}

	var err error
	if v := q.Get("assignee_id"); v != "" {
		var id int64
		if id, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "assignee_id must be an integer")
			return
		}
		f.AssigneeID = &id
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 1 {
			writeDetail(w, http.StatusUnprocessableEntity, "limit must be between 1 and 100")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "offset must be an integer")
			return
		}
	}

	list, err := s.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Store) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, err := s.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Store) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var in Input
	if !decode(w, r, &in) {
		return
	}
	t, err := s.Update(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Store) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := s.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

type bulkRequest struct {
	TaskIDs []int64 `json:"task_ids"`
	Update  Input   `json:"update"`
}

func (s *Store) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := s.BulkUpdate(r.Context(), req.TaskIDs, req.Update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Store) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.Metrics(r.Context(), r.URL.Query().Get("timeframe"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "task id must be an integer")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Store) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var inputErr *InputError
	switch {
	case errors.Is(err, ErrNotFound):
		writeDetail(w, http.StatusNotFound, notFoundDetail)
	case errors.As(err, &inputErr):
		writeDetail(w, http.StatusUnprocessableEntity, inputErr.Msg)
	default:
		s.logger.Error("store request failed", slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("error", err))
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
