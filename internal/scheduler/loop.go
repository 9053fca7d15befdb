package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/crew/internal/config"
	"github.com/aristath/crew/internal/events"
	"github.com/aristath/crew/internal/metrics"
	"github.com/aristath/crew/internal/workflow"
)

// StallMessage is logged when nothing is ready but the workflow is unfinished.
const StallMessage = "No more tasks are ready, but not all tasks are completed. There might be a dependency cycle."

const noAgentsMessage = "No available agents. Waiting for current tasks to complete..."

// Saver persists a workflow after a transition.
type Saver interface {
	Save(ctx context.Context, w *workflow.Workflow) error
}

// LoopState is where a run ended up.
type LoopState string

const (
	LoopRunning   LoopState = "running"
	LoopStalled   LoopState = "stalled"
	LoopCompleted LoopState = "completed"
)

// Report describes one run of a workflow.
type Report struct {
	Log            []string
	State          LoopState
	Completed      bool
	CompletedTasks int // Completed tasks in the workflow after the run
	RunCompleted   int // Tasks completed by this run; the summary line counts these
	TotalTasks     int
	Stalled        bool
	Cancelled      bool
}

// LoopConfig wires a Loop or ParallelRunner.
type LoopConfig struct {
	Executor *Executor
	Strategy AssignmentStrategy // Defaults to FirstIdle
	Saver    Saver              // Optional
	Bus      *events.EventBus   // Optional
	Metrics  *metrics.Collector // Optional
	Logger   *zap.Logger        // Optional
	Prompt   string             // Extra prompt for every task; defaults to config.DefaultRunPrompt
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.Strategy == nil {
		c.Strategy = FirstIdle{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Prompt == "" {
		c.Prompt = config.DefaultRunPrompt
	}
	return c
}

// Loop drives a workflow to completion one task at a time.
type Loop struct {
	cfg LoopConfig
}

// NewLoop creates a sequential execution loop.
func NewLoop(cfg LoopConfig) *Loop {
	cfg = cfg.withDefaults()
	cfg.Logger = cfg.Logger.With(zap.String("component", "loop"))
	return &Loop{cfg: cfg}
}

// RunToCompletion repeatedly assigns ready tasks to idle agents and executes
// them until the workflow completes or a pass makes no progress. Task
// failures are recorded on the workflow, never returned. The error is a
// ValidationError when the workflow cannot run at all, or the joined
// PersistenceErrors of saves that failed along the way.
func (l *Loop) RunToCompletion(ctx context.Context, w *workflow.Workflow) (Report, error) {
	r, done, err := startRun(ctx, l.cfg, w)
	if done || err != nil {
		return r.report, err
	}

	progress := true
	for progress && !w.Completed {
		progress = false

		ready := ReadyTasks(w)
		if len(ready) == 0 {
			if w.CompletedCount() < w.TaskCount() {
				r.stall()
			}
			break
		}

		for _, taskID := range ready {
			if ctx.Err() != nil {
				r.cancel()
				break
			}
			task, _ := w.Task(taskID)

			idle := idleAgents(w)
			if len(idle) == 0 {
				r.logf(noAgentsMessage)
				break
			}
			agentID, ok := l.cfg.Strategy.Choose(task, idle)
			if !ok {
				r.logf(noAgentsMessage)
				break
			}

			if err := Assign(w, taskID, agentID, l.cfg.Executor.Now()); err != nil {
				r.logf("Could not assign task %s to agent %s", taskID, agentID)
				continue
			}
			r.assigned(taskID, agentID)

			outcome, err := l.cfg.Executor.Execute(ctx, w, agentID, l.cfg.Prompt)
			if err != nil {
				// Only reachable if the binding vanished between assign and execute
				r.logf("Could not execute task %s on agent %s", taskID, agentID)
				continue
			}
			r.finished(outcome)
			if outcome.Success {
				progress = true
			}
		}
		if r.report.Cancelled {
			break
		}
	}

	// Cancellation during the last dispatch of a pass ends the loop before
	// the next ctx check.
	if ctx.Err() != nil && !w.Completed {
		r.cancel()
	}

	// A pass where every task failed ends the loop without reaching the
	// empty-ready check; failed dependencies still leave work stranded.
	if !w.Completed && !r.report.Stalled && !r.report.Cancelled && len(ReadyTasks(w)) == 0 {
		r.stall()
	}

	return r.finish()
}

// run accumulates the report, events and metrics of one workflow run.
type run struct {
	ctx    context.Context
	cfg    LoopConfig
	w      *workflow.Workflow
	report Report
	errs   []error
}

// startRun applies the pre-checks shared by every runner. done is true when
// the report is already final.
func startRun(ctx context.Context, cfg LoopConfig, w *workflow.Workflow) (*run, bool, error) {
	r := &run{
		ctx: ctx,
		cfg: cfg,
		w:   w,
		report: Report{
			State:      LoopRunning,
			TotalTasks: w.TaskCount(),
		},
	}
	logger := cfg.Logger.With(zap.String("workflow_id", w.ID))
	r.cfg.Logger = logger

	if w.Completed {
		r.logf("Workflow '%s' is already completed", w.Name)
		r.report.State = LoopCompleted
		r.report.Completed = true
		r.report.CompletedTasks = w.CompletedCount()
		return r, true, nil
	}
	if w.TaskCount() == 0 {
		return r, true, workflow.Invalid(workflow.ErrNoTasks, w.ID, "Workflow '%s' has no tasks", w.Name)
	}
	if w.AgentCount() == 0 {
		return r, true, workflow.Invalid(workflow.ErrNoAgents, w.ID, "Workflow '%s' has no agents", w.Name)
	}

	r.logf("Starting workflow '%s'...", w.Name)
	return r, false, nil
}

func (r *run) now() time.Time { return r.cfg.Executor.Now() }

func (r *run) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.report.Log = append(r.report.Log, line)
	r.cfg.Logger.Info(line)
	r.cfg.Bus.Publish(events.TopicWorkflow, events.LogLineEvent{
		Workflow:  r.w.ID,
		Line:      line,
		Timestamp: r.now(),
	})
}

// save persists the workflow. Saves run even after cancellation so the
// last transition is not lost.
func (r *run) save() {
	if r.cfg.Saver == nil {
		return
	}
	if err := r.cfg.Saver.Save(context.WithoutCancel(r.ctx), r.w); err != nil {
		r.cfg.Logger.Error("failed to save workflow", zap.Error(err))
		r.errs = append(r.errs, err)
	}
}

func (r *run) assigned(taskID, agentID string) {
	task, _ := r.w.Task(taskID)
	agent, _ := r.w.Agent(agentID)
	r.save()
	r.logf("Assigned task '%s' to agent '%s'", task.Title, agent.Name)
	r.cfg.Metrics.RecordAssignment(string(agent.Role))
	r.cfg.Bus.Publish(events.TopicTask, events.TaskAssignedEvent{
		Workflow:  r.w.ID,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		AgentRole: string(agent.Role),
		Timestamp: r.now(),
	})
	r.progress()
}

func (r *run) finished(outcome Outcome) {
	task, _ := r.w.Task(outcome.TaskID)
	agent, _ := r.w.Agent(outcome.AgentID)
	r.save()
	r.cfg.Metrics.RecordOutcome(string(outcome.Role), outcome.Success, outcome.Duration)

	if outcome.Success {
		r.report.RunCompleted++
		r.logf("Agent '%s' completed task '%s'", agent.Name, task.Title)
		r.cfg.Bus.Publish(events.TopicTask, events.TaskCompletedEvent{
			Workflow:  r.w.ID,
			TaskID:    task.ID,
			AgentID:   agent.ID,
			Result:    outcome.Text,
			Duration:  outcome.Duration,
			Timestamp: r.now(),
		})
	} else {
		r.logf("Agent '%s' failed to complete task '%s'", agent.Name, task.Title)
		r.cfg.Logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.String("agent_id", agent.ID),
			zap.String("reason", outcome.Reason))
		r.cfg.Bus.Publish(events.TopicTask, events.TaskFailedEvent{
			Workflow:  r.w.ID,
			TaskID:    task.ID,
			AgentID:   agent.ID,
			Reason:    outcome.Reason,
			Duration:  outcome.Duration,
			Timestamp: r.now(),
		})
	}
	r.progress()
}

func (r *run) progress() {
	counts := r.w.StateCounts()
	r.cfg.Bus.Publish(events.TopicWorkflow, events.WorkflowProgressEvent{
		Workflow:   r.w.ID,
		Total:      r.w.TaskCount(),
		Completed:  counts[workflow.TaskCompleted],
		InProgress: counts[workflow.TaskInProgress],
		Failed:     counts[workflow.TaskFailed],
		Pending:    counts[workflow.TaskPending],
		Timestamp:  r.now(),
	})
}

func (r *run) stall() {
	r.report.Stalled = true
	r.logf(StallMessage)
	r.cfg.Logger.Warn("workflow stalled",
		zap.Int("completed", r.w.CompletedCount()),
		zap.Int("total", r.w.TaskCount()))
	r.cfg.Bus.Publish(events.TopicWorkflow, events.WorkflowStalledEvent{
		Workflow:  r.w.ID,
		Reason:    StallMessage,
		Timestamp: r.now(),
	})
}

func (r *run) cancel() {
	if r.report.Cancelled {
		return
	}
	r.report.Cancelled = true
	r.logf("Workflow '%s' cancelled: %v", r.w.Name, r.ctx.Err())
}

// finish appends the summary lines and settles the final state.
func (r *run) finish() (Report, error) {
	w := r.w
	r.report.Completed = w.Completed
	r.report.CompletedTasks = w.CompletedCount()
	r.report.TotalTasks = w.TaskCount()

	result := metrics.RunStalled
	if w.Completed {
		r.report.State = LoopCompleted
		r.report.Stalled = false
		result = metrics.RunCompleted
		r.logf("Workflow '%s' completed successfully!", w.Name)
		r.cfg.Bus.Publish(events.TopicWorkflow, events.WorkflowCompletedEvent{
			Workflow:  w.ID,
			Name:      w.Name,
			Timestamp: r.now(),
		})
	} else {
		r.report.State = LoopStalled
		if r.report.Cancelled {
			result = metrics.RunCancelled
		}
		r.logf("Workflow '%s' did not complete.", w.Name)
	}
	r.logf("Completed %d out of %d tasks.", r.report.RunCompleted, r.report.TotalTasks)

	err := errors.Join(r.errs...)
	if err != nil {
		result = metrics.RunError
	}
	r.cfg.Metrics.RecordRun(result)
	return r.report, err
}
