package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	WorkflowID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicWorkflow = "workflow"
)

// Event type constants
const (
	EventTypeTaskAssigned      = "task.assigned"
	EventTypeTaskCompleted     = "task.completed"
	EventTypeTaskFailed        = "task.failed"
	EventTypeWorkflowProgress  = "workflow.progress"
	EventTypeWorkflowStalled   = "workflow.stalled"
	EventTypeWorkflowCompleted = "workflow.completed"
	EventTypeLogLine           = "workflow.log"
)

// TaskAssignedEvent is published when a task is bound to an agent.
type TaskAssignedEvent struct {
	Workflow  string
	TaskID    string
	TaskTitle string
	AgentID   string
	AgentName string
	AgentRole string
	Timestamp time.Time
}

func (e TaskAssignedEvent) EventType() string  { return EventTypeTaskAssigned }
func (e TaskAssignedEvent) WorkflowID() string { return e.Workflow }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	Workflow  string
	TaskID    string
	AgentID   string
	Result    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string  { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) WorkflowID() string { return e.Workflow }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	Workflow  string
	TaskID    string
	AgentID   string
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string  { return EventTypeTaskFailed }
func (e TaskFailedEvent) WorkflowID() string { return e.Workflow }

// WorkflowProgressEvent is published after every task transition.
type WorkflowProgressEvent struct {
	Workflow   string
	Total      int
	Completed  int
	InProgress int
	Failed     int
	Pending    int
	Timestamp  time.Time
}

func (e WorkflowProgressEvent) EventType() string  { return EventTypeWorkflowProgress }
func (e WorkflowProgressEvent) WorkflowID() string { return e.Workflow }

// WorkflowStalledEvent is published when a run ends with nothing ready.
type WorkflowStalledEvent struct {
	Workflow  string
	Reason    string
	Timestamp time.Time
}

func (e WorkflowStalledEvent) EventType() string  { return EventTypeWorkflowStalled }
func (e WorkflowStalledEvent) WorkflowID() string { return e.Workflow }

// WorkflowCompletedEvent is published when every task has completed.
type WorkflowCompletedEvent struct {
	Workflow  string
	Name      string
	Timestamp time.Time
}

func (e WorkflowCompletedEvent) EventType() string  { return EventTypeWorkflowCompleted }
func (e WorkflowCompletedEvent) WorkflowID() string { return e.Workflow }

// LogLineEvent carries one line of a run's execution log as it is produced.
type LogLineEvent struct {
	Workflow  string
	Line      string
	Timestamp time.Time
}

func (e LogLineEvent) EventType() string  { return EventTypeLogLine }
func (e LogLineEvent) WorkflowID() string { return e.Workflow }
