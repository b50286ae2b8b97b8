package operations

import (
	"context"
	"fmt"
	"strings"

	"taskbridge/internal/bridge"
	"taskbridge/internal/task"
)

func (h *handlers) prompts() []bridge.Descriptor {
	return []bridge.Descriptor{
		{
			Name:        "project_planning",
			Kind:        bridge.KindPrompt,
			Description: "Interactive project planning with task breakdown",
			Schema: bridge.Schema{Fields: []bridge.Field{
				bridge.StringField("project_description", bridge.Required(), bridge.MinLength(1),
					bridge.Describe("Description of the project to plan")),
			}},
			ReadOnly: true,
			Handler:  projectPlanning,
		},
		{
			Name:        "task_prioritization",
			Kind:        bridge.KindPrompt,
			Description: "Help prioritize tasks based on impact and urgency",
			ReadOnly:    true,
			Handler:     h.taskPrioritization,
		},
		{
			Name:        "daily_standup",
			Kind:        bridge.KindPrompt,
			Description: "Generate a daily standup report from task data",
			Schema: bridge.Schema{Fields: []bridge.Field{
				bridge.IntegerField("assignee_id", bridge.Describe("ID of the team member")),
			}},
			ReadOnly: true,
			Handler:  h.dailyStandup,
		},
		{
			Name:        "sprint_planning",
			Kind:        bridge.KindPrompt,
			Description: "Plan a sprint with task selection and estimation",
			Schema: bridge.Schema{Fields: []bridge.Field{
				bridge.IntegerField("sprint_duration", bridge.Required(), bridge.Min(1), bridge.Describe("Duration of the sprint in days")),
				bridge.IntegerField("team_capacity", bridge.Required(), bridge.Min(1), bridge.Describe("Team capacity in story points")),
			}},
			ReadOnly: true,
			Handler:  sprintPlanning,
		},
	}
}

func promptPayload(description, text string) bridge.Payload {
	return bridge.Payload{
		"description": description,
		"messages":    []bridge.PromptMessage{{Role: "user", Text: text}},
		"message":     "Prompt generated",
	}
}

func projectPlanning(_ context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	desc, _ := args.String("project_description")
	text := fmt.Sprintf(`I need help planning a project: %s

Please help me:
1. Break down the project into major milestones
2. Create specific tasks for each milestone
3. Suggest priorities and timelines
4. Identify potential dependencies between tasks

You can use the search_tasks, create_task and update_task tools, and the
task://list, task://metrics and task://pending resources.`, desc)
	return promptPayload("Project planning assistant for: "+desc, text), nil
}

func (h *handlers) taskPrioritization(ctx context.Context, _ bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	open, err := h.openTasks(ctx, nil)
	if err != nil {
		return nil, err
	}
	text := `Please help me prioritize my tasks.

Suggest:
1. Which tasks should be done first (urgent and important)
2. Which tasks can be delegated or deferred
3. Any tasks that might be blocking others
4. A recommended order of execution

Use the update_task tool to change a priority, or bulk_update_tasks to change several at once.

` + summarize(open)
	return promptPayload("Task prioritization assistant", text), nil
}

func (h *handlers) dailyStandup(ctx context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	var assignee *int64
	scope := ""
	if id, ok := args.Int("assignee_id"); ok {
		assignee = &id
		scope = fmt.Sprintf(" for assignee %d", id)
	}
	open, err := h.openTasks(ctx, assignee)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf(`Generate a daily standup report%s.

Please cover:
1. What was completed yesterday (see task://completed)
2. What is planned for today (in progress and high priority pending tasks)
3. Any blockers or concerns (critical items, overdue tasks)

Keep it concise enough for a team standup.

%s`, scope, summarize(open))
	return promptPayload("Daily standup report generator"+scope, text), nil
}

func sprintPlanning(_ context.Context, args bridge.Args, _ bridge.Progress) (bridge.Payload, error) {
	days, _ := args.Int("sprint_duration")
	capacity, _ := args.Int("team_capacity")
	text := fmt.Sprintf(`Help me plan a sprint:
- Duration: %d days
- Team capacity: %d story points

Please:
1. Review pending tasks using task://pending
2. Analyze task priorities and dependencies
3. Recommend which tasks to include in the sprint
4. Make sure the selection fits the team capacity
5. Identify risks

Use search_tasks to filter by priority and status, and update_task or
bulk_update_tasks to mark the selected tasks.

Provide sprint goals, the selected tasks with priorities, a risk assessment and
success criteria.`, days, capacity)
	return promptPayload(fmt.Sprintf("Sprint planning for %d days with %d story points capacity", days, capacity), text), nil
}

// openTasks returns in progress tasks followed by pending ones.
func (h *handlers) openTasks(ctx context.Context, assignee *int64) ([]task.Task, error) {
	var out []task.Task
	for _, status := range []string{task.StatusInProgress, task.StatusPending} {
		list, err := h.backend.ListTasks(ctx, task.Filter{Status: status, AssigneeID: assignee, Limit: task.MaxLimit})
		if err != nil {
			return nil, err
		}
		out = append(out, list.Tasks...)
	}
	return out, nil
}

func summarize(tasks []task.Task) string {
	if len(tasks) == 0 {
		return "There are no open tasks."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Open tasks (%d):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "- #%d [%s, %s] %s", t.ID, t.Status, t.Priority, t.Title)
		if t.DueDate != nil {
			fmt.Fprintf(&b, " (due %s)", t.DueDate.Format("2006-01-02"))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
