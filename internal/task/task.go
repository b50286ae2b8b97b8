// Package task holds the record shapes exchanged with the task store.
package task

import "time"

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"

	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

var (
	Statuses   = []string{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled}
	Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	Timeframes = []string{"day", "week", "month", "year"}
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 1000
	DefaultLimit         = 50
	MaxLimit             = 100
)

type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      string     `json:"status"`
	AssigneeID  *int64     `json:"assignee_id"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Filter narrows a task listing. Zero values mean "no filter".
type Filter struct {
	Status     string
	Priority   string
	AssigneeID *int64
	Limit      int
	Offset     int
}

type List struct {
	Tasks   []Task `json:"tasks"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
}

type BulkItem struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	BulkSuccess = "success"
	BulkError   = "error"
)

type BulkResult struct {
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Results   []BulkItem `json:"results"`
}

// Add appends one item outcome, keeping the counters in step.
func (r *BulkResult) Add(item BulkItem) {
	r.Total++
	if item.Status == BulkSuccess {
		r.Succeeded++
	} else {
		r.Failed++
	}
	r.Results = append(r.Results, item)
}

type Metrics struct {
	Timeframe           string         `json:"timeframe"`
	TotalTasks          int            `json:"total_tasks"`
	ByStatus            map[string]int `json:"by_status"`
	ByPriority          map[string]int `json:"by_priority"`
	CompletionRate      float64        `json:"completion_rate"`
	AverageTasksPerUser float64        `json:"average_tasks_per_user"`
}
