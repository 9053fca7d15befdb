package scheduler

import (
	"time"

	"github.com/aristath/crew/internal/workflow"
)

// AssignOptions tightens what Assign accepts.
type AssignOptions struct {
	// RequireReady rejects tasks whose dependencies have not all completed.
	RequireReady bool
}

// Assign binds a pending task to an idle agent. Readiness is not checked,
// so a caller may hand out a task whose dependencies are still open; use
// AssignChecked with RequireReady to refuse that. Nothing is mutated when
// an error is returned.
func Assign(w *workflow.Workflow, taskID, agentID string, now time.Time) error {
	return AssignChecked(w, taskID, agentID, now, AssignOptions{})
}

// AssignChecked is Assign with options.
func AssignChecked(w *workflow.Workflow, taskID, agentID string, now time.Time, opts AssignOptions) error {
	task, ok := w.Task(taskID)
	if !ok {
		return workflow.NotFound(workflow.ErrTaskNotFound, taskID)
	}
	agent, ok := w.Agent(agentID)
	if !ok {
		return workflow.NotFound(workflow.ErrAgentNotFound, agentID)
	}
	if !agent.Idle() {
		return workflow.Conflict(workflow.ErrAgentBusy, agentID,
			"agent %s is busy with task %s", agentID, agent.CurrentTask)
	}
	// Terminal tasks never reopen and in-progress tasks already have an owner
	if task.State != workflow.TaskPending {
		return workflow.Conflict(workflow.ErrTaskNotPending, taskID,
			"task %s is %s, only pending tasks can be assigned", taskID, task.State)
	}
	if opts.RequireReady && !IsReady(w, task) {
		return workflow.Conflict(workflow.ErrTaskNotReady, taskID,
			"task %s has dependencies that are not completed", taskID)
	}

	task.AssignedAgentID = agentID
	task.State = workflow.TaskInProgress
	task.UpdatedAt = now
	agent.CurrentTask = taskID
	w.Touch(now)
	return nil
}
