// Package scheduler decides which tasks can run, binds them to agents,
// executes them through a completion provider and drives whole workflows
// to completion.
package scheduler

import (
	"github.com/aristath/crew/internal/workflow"
)

// ReadyTasks returns, in insertion order, the ids of every pending task
// whose dependencies have all completed. Unknown dependency ids never count
// as completed, and a failed dependency blocks its dependents for good.
func ReadyTasks(w *workflow.Workflow) []string {
	var ready []string
	for _, task := range w.Tasks() {
		if IsReady(w, task) {
			ready = append(ready, task.ID)
		}
	}
	return ready
}

// IsReady reports whether task is pending with every dependency completed.
func IsReady(w *workflow.Workflow, task *workflow.Task) bool {
	if task.State != workflow.TaskPending {
		return false
	}
	for _, depID := range task.DependsOn {
		dep, ok := w.Task(depID)
		if !ok || dep.State != workflow.TaskCompleted {
			return false
		}
	}
	return true
}

// AvailableAgents returns the ids of idle agents in insertion order.
func AvailableAgents(w *workflow.Workflow) []string {
	var ids []string
	for _, agent := range idleAgents(w) {
		ids = append(ids, agent.ID)
	}
	return ids
}

func idleAgents(w *workflow.Workflow) []*workflow.Agent {
	var idle []*workflow.Agent
	for _, agent := range w.Agents() {
		if agent.Idle() {
			idle = append(idle, agent)
		}
	}
	return idle
}
