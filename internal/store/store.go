// Package store is a small SQLite task store that speaks the HTTP contract the
// bridge's backend client expects. It exists so the bridge can run end to end
// without an external service.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"taskbridge/internal/task"
)

var ErrNotFound = errors.New("task not found")

// notFoundDetail is the message clients see for a missing task.
const notFoundDetail = "Task not found"

// InputError is a rejected create or update.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func invalid(format string, a ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, a...)}
}

// timestamps are stored fixed width so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	title       TEXT NOT NULL,
	description TEXT,
	status      TEXT NOT NULL DEFAULT 'pending',
	assignee_id INTEGER,
	priority    TEXT NOT NULL DEFAULT 'medium',
	due_date    TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS tasks_assignee ON tasks(assignee_id);
`

type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite serializes writers anyway, and an in-memory database only lives
	// on its one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("task store opened", "path", path)
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Input is a create or partial update. Nil fields are left alone.
type Input struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	AssigneeID  *int64     `json:"assignee_id"`
	Priority    *string    `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

func (in Input) validate() error {
	if in.Title != nil {
		n := utf8.RuneCountInString(*in.Title)
		if n < 1 || n > task.MaxTitleLength {
			return invalid("title must be between 1 and %d characters", task.MaxTitleLength)
		}
	}
	if in.Description != nil && utf8.RuneCountInString(*in.Description) > task.MaxDescriptionLength {
		return invalid("description must be at most %d characters", task.MaxDescriptionLength)
	}
	if in.Status != nil && !slices.Contains(task.Statuses, *in.Status) {
		return invalid("status must be one of: %s", strings.Join(task.Statuses, ", "))
	}
	if in.Priority != nil && !slices.Contains(task.Priorities, *in.Priority) {
		return invalid("priority must be one of: %s", strings.Join(task.Priorities, ", "))
	}
	return nil
}

func (s *Store) Create(ctx context.Context, in Input) (task.Task, error) {
	if in.Title == nil {
		return task.Task{}, invalid("title is required")
	}
	if err := in.validate(); err != nil {
		return task.Task{}, err
	}
	status, priority := task.StatusPending, task.PriorityMedium
	if in.Status != nil {
		status = *in.Status
	}
	if in.Priority != nil {
		priority = *in.Priority
	}
	now := s.now().UTC().Format(timeLayout)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (title, description, status, assignee_id, priority, due_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		*in.Title, in.Description, status, in.AssigneeID, priority, formatTime(in.DueDate), now, now)
	if err != nil {
		return task.Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return task.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return s.Get(ctx, id)
}

const selectColumns = `SELECT id, title, description, status, assignee_id, priority, due_date, created_at, updated_at FROM tasks`

func (s *Store) Get(ctx context.Context, id int64) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, ErrNotFound
	}
	return t, err
}

func (s *Store) Update(ctx context.Context, id int64, in Input) (task.Task, error) {
	if err := in.validate(); err != nil {
		return task.Task{}, err
	}

	var sets []string
	var args []any
	add := func(column string, v any) {
		sets = append(sets, column+" = ?")
		args = append(args, v)
	}
	if in.Title != nil {
		add("title", *in.Title)
	}
	if in.Description != nil {
		add("description", *in.Description)
	}
	if in.Status != nil {
		add("status", *in.Status)
	}
	if in.AssigneeID != nil {
		add("assignee_id", *in.AssigneeID)
	}
	if in.Priority != nil {
		add("priority", *in.Priority)
	}
	if in.DueDate != nil {
		add("due_date", formatTime(in.DueDate))
	}
	add("updated_at", s.now().UTC().Format(timeLayout))
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return task.Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return task.Task{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, f task.Filter) (task.List, error) {
	if f.Limit == 0 {
		f.Limit = task.DefaultLimit
	}
	if f.Limit < 1 || f.Limit > task.MaxLimit {
		return task.List{}, invalid("limit must be between 1 and %d", task.MaxLimit)
	}
	if f.Offset < 0 {
		return task.List{}, invalid("offset must be at least 0")
	}

	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, f.Priority)
	}
	if f.AssigneeID != nil {
		where = append(where, "assignee_id = ?")
		args = append(args, *f.AssigneeID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+clause, args...).Scan(&total); err != nil {
		return task.List{}, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+clause+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return task.List{}, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return task.List{}, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return task.List{}, fmt.Errorf("list tasks: %w", err)
	}
	return task.List{
		Tasks:   tasks,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: f.Offset+len(tasks) < total,
	}, nil
}

// BulkUpdate applies one patch to many tasks, recording an outcome per id in
// input order.
func (s *Store) BulkUpdate(ctx context.Context, ids []int64, in Input) (task.BulkResult, error) {
	if err := in.validate(); err != nil {
		return task.BulkResult{}, err
	}
	result := task.BulkResult{Results: []task.BulkItem{}}
	for _, id := range ids {
		if _, err := s.Update(ctx, id, in); err != nil {
			msg := notFoundDetail
			if !errors.Is(err, ErrNotFound) {
				s.logger.Error("bulk update failed", "id", id, "error", err)
				msg = "update failed"
			}
			result.Add(task.BulkItem{ID: id, Status: task.BulkError, Error: msg})
			continue
		}
		result.Add(task.BulkItem{ID: id, Status: task.BulkSuccess})
	}
	return result, nil
}

var timeframes = map[string]time.Duration{
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
	"year":  365 * 24 * time.Hour,
}

// Metrics summarizes the tasks created within the timeframe.
func (s *Store) Metrics(ctx context.Context, timeframe string) (task.Metrics, error) {
	if timeframe == "" {
		timeframe = "week"
	}
	window, ok := timeframes[timeframe]
	if !ok {
		return task.Metrics{}, invalid("timeframe must be one of: %s", strings.Join(task.Timeframes, ", "))
	}
	since := s.now().Add(-window).UTC().Format(timeLayout)

	m := task.Metrics{
		Timeframe:  timeframe,
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
	}
	for _, st := range task.Statuses {
		m.ByStatus[st] = 0
	}
	for _, p := range task.Priorities {
		m.ByPriority[p] = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, priority, assignee_id FROM tasks WHERE created_at >= ?`, since)
	if err != nil {
		return task.Metrics{}, fmt.Errorf("metrics: %w", err)
	}
	defer rows.Close()

	assignees := map[int64]bool{}
	for rows.Next() {
		var status, priority string
		var assignee sql.NullInt64
		if err := rows.Scan(&status, &priority, &assignee); err != nil {
			return task.Metrics{}, fmt.Errorf("metrics: %w", err)
		}
		m.TotalTasks++
		m.ByStatus[status]++
		m.ByPriority[priority]++
		if assignee.Valid {
			assignees[assignee.Int64] = true
		}
	}
	if err := rows.Err(); err != nil {
		return task.Metrics{}, fmt.Errorf("metrics: %w", err)
	}

	if m.TotalTasks > 0 {
		m.CompletionRate = round2(float64(m.ByStatus[task.StatusCompleted]) / float64(m.TotalTasks) * 100)
	}
	if len(assignees) > 0 {
		m.AverageTasksPerUser = round2(float64(m.TotalTasks) / float64(len(assignees)))
	}
	return m, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (task.Task, error) {
	var (
		t                    task.Task
		description, dueDate sql.NullString
		assignee             sql.NullInt64
		created, updated     string
	)
	if err := row.Scan(&t.ID, &t.Title, &description, &t.Status, &assignee, &t.Priority, &dueDate, &created, &updated); err != nil {
		return task.Task{}, err
	}
	if description.Valid {
		t.Description = &description.String
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.Int64
	}
	if dueDate.Valid {
		if d, err := time.Parse(timeLayout, dueDate.String); err == nil {
			t.DueDate = &d
		}
	}
	var err error
	if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return task.Task{}, fmt.Errorf("task %d: bad created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return task.Task{}, fmt.Errorf("task %d: bad updated_at: %w", t.ID, err)
	}
	return t, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
