package workflow

import (
	"fmt"
	"slices"
	"time"
)

// TaskState represents the current state of a task.
type TaskState string

const (
	TaskPending    TaskState = "pending"     // Waiting for an agent
	TaskInProgress TaskState = "in_progress" // Bound to an agent, executing
	TaskCompleted  TaskState = "completed"   // Finished successfully
	TaskFailed     TaskState = "failed"      // Completion provider returned a failure
)

// AllTaskStates returns every task state in lifecycle order.
func AllTaskStates() []TaskState {
	return []TaskState{TaskPending, TaskInProgress, TaskCompleted, TaskFailed}
}

// Terminal reports whether no transition leaves this state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Valid reports whether s is one of the known task states.
func (s TaskState) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// ParseTaskState converts a persisted state string into a TaskState.
func ParseTaskState(s string) (TaskState, error) {
	state := TaskState(s)
	if !state.Valid() {
		return "", fmt.Errorf("unknown task state %q", s)
	}
	return state, nil
}

// Task represents a unit of work in a workflow.
type Task struct {
	ID              string    // Unique within the workflow
	Title           string    // Human-readable title
	Description     string    // What the agent should do
	AssignedAgentID string    // Agent the task was bound to ("" if never assigned)
	State           TaskState // Lifecycle state
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Result          string   // Provider text, or "Error: <reason>" on failure
	HasResult       bool     // Distinguishes an empty result from no result
	DependsOn       []string // Ordered set of task IDs that must complete first
}

// NewTask creates a pending task. Duplicate dependency IDs are dropped,
// keeping the first occurrence.
func NewTask(id, title, description string, dependsOn []string, now time.Time) *Task {
	return &Task{
		ID:          id,
		Title:       title,
		Description: description,
		State:       TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		DependsOn:   dedupe(dependsOn),
	}
}

// SetResult records the task result.
func (t *Task) SetResult(result string) {
	t.Result = result
	t.HasResult = true
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.DependsOn = slices.Clone(t.DependsOn)
	return &cp
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
