package store

import (
	"context"
	"fmt"
	"time"

	"taskbridge/internal/task"
)

func ptr[T any](v T) *T { return &v }

// Seed inserts a handful of sample tasks when the store is empty. It reports
// how many tasks it created.
func (s *Store) Seed(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	now := s.now()
	samples := []Input{
		{Title: ptr("Set up project repository"), Description: ptr("Create the repository and configure CI"),
			Status: ptr(task.StatusCompleted), AssigneeID: ptr(int64(1)), Priority: ptr(task.PriorityHigh)},
		{Title: ptr("Design database schema"), Description: ptr("Model tasks, users and assignments"),
			Status: ptr(task.StatusInProgress), AssigneeID: ptr(int64(2)), Priority: ptr(task.PriorityHigh),
			DueDate: ptr(now.Add(3 * 24 * time.Hour))},
		{Title: ptr("Write API documentation"), Description: ptr("Document every endpoint with examples"),
			Status: ptr(task.StatusPending), AssigneeID: ptr(int64(1)), Priority: ptr(task.PriorityMedium),
			DueDate: ptr(now.Add(7 * 24 * time.Hour))},
		{Title: ptr("Fix login timeout bug"), Description: ptr("Sessions expire after five minutes"),
			Status: ptr(task.StatusPending), AssigneeID: ptr(int64(3)), Priority: ptr(task.PriorityCritical),
			DueDate: ptr(now.Add(24 * time.Hour))},
		{Title: ptr("Plan team offsite"), Status: ptr(task.StatusCancelled), Priority: ptr(task.PriorityLow)},
	}
	for _, in := range samples {
		if _, err := s.Create(ctx, in); err != nil {
			return 0, fmt.Errorf("seed: %w", err)
		}
	}
	s.logger.Info("seeded task store", "tasks", len(samples))
	return len(samples), nil
}
