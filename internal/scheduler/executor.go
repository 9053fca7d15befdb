package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aristath/crew/internal/provider"
	"github.com/aristath/crew/internal/workflow"
)

const tracerName = "github.com/aristath/crew/internal/scheduler"

// Call is a prepared provider request for one agent's current task. It is
// detached from the workflow so it can run without holding any lock.
type Call struct {
	WorkflowID string
	TaskID     string
	TaskTitle  string
	AgentID    string
	AgentName  string
	Role       workflow.AgentRole
	System     string
	User       string
}

// Outcome is the result of executing one task.
type Outcome struct {
	TaskID   string
	AgentID  string
	Role     workflow.AgentRole
	Success  bool
	Text     string // Result text on success
	Reason   string // Failure reason otherwise
	Duration time.Duration
}

// Err returns the ExecutionError for a failed outcome, nil on success.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return &workflow.ExecutionError{TaskID: o.TaskID, Reason: o.Reason}
}

// Executor runs an agent's current task through a completion provider and
// records the result on the workflow. It never saves; callers persist
// after every transition.
type Executor struct {
	provider     provider.Provider
	instructions *provider.Instructions
	timeout      time.Duration
	clock        func() time.Time
	tracer       trace.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTaskTimeout bounds each provider call. Zero disables the limit.
func WithTaskTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithClock overrides the time source used for timestamps.
func WithClock(clock func() time.Time) ExecutorOption {
	return func(e *Executor) { e.clock = clock }
}

// WithTracer overrides the tracer used for execution spans.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = tracer }
}

// NewExecutor creates an executor. A nil instructions value uses the
// built-in role descriptions.
func NewExecutor(p provider.Provider, instructions *provider.Instructions, opts ...ExecutorOption) *Executor {
	if instructions == nil {
		instructions = provider.NewInstructions(nil)
	}
	e := &Executor{
		provider:     p,
		instructions: instructions,
		clock:        time.Now,
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the executor's current time.
func (e *Executor) Now() time.Time { return e.clock() }

// Execute runs the agent's current task and applies the outcome to w.
// An ExecutionError is not returned as error; it is reported through
// Outcome.Success and recorded on the task.
func (e *Executor) Execute(ctx context.Context, w *workflow.Workflow, agentID, extraPrompt string) (Outcome, error) {
	call, err := e.Prepare(w, agentID, extraPrompt)
	if err != nil {
		return Outcome{}, err
	}
	outcome := e.Invoke(ctx, call)
	if err := e.Apply(w, outcome); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// Prepare builds the provider request for the agent's current task.
func (e *Executor) Prepare(w *workflow.Workflow, agentID, extraPrompt string) (Call, error) {
	agent, ok := w.Agent(agentID)
	if !ok {
		return Call{}, workflow.NotFound(workflow.ErrAgentNotFound, agentID)
	}
	if agent.Idle() {
		return Call{}, workflow.Conflict(workflow.ErrNoCurrentTask, agentID, "agent %s has no assigned task", agentID)
	}
	task, ok := w.Task(agent.CurrentTask)
	if !ok {
		return Call{}, workflow.NotFound(workflow.ErrTaskNotFound, agent.CurrentTask)
	}

	return Call{
		WorkflowID: w.ID,
		TaskID:     task.ID,
		TaskTitle:  task.Title,
		AgentID:    agent.ID,
		AgentName:  agent.Name,
		Role:       agent.Role,
		System:     e.instructions.System(agent),
		User:       e.instructions.User(task, extraPrompt),
	}, nil
}

// Invoke performs the provider call. It touches no workflow state and is
// safe to run without holding the workflow lock.
func (e *Executor) Invoke(ctx context.Context, call Call) Outcome {
	ctx, span := e.tracer.Start(ctx, "crew.task.execute", trace.WithAttributes(
		attribute.String("crew.workflow.id", call.WorkflowID),
		attribute.String("crew.task.id", call.TaskID),
		attribute.String("crew.agent.id", call.AgentID),
		attribute.String("crew.agent.role", string(call.Role)),
	))
	defer span.End()

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := e.clock()
	text, err := e.provider.Complete(callCtx, call.System, call.User)
	outcome := Outcome{
		TaskID:   call.TaskID,
		AgentID:  call.AgentID,
		Role:     call.Role,
		Duration: e.clock().Sub(start),
	}

	switch {
	case err == nil:
		outcome.Success = true
		outcome.Text = text
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		outcome.Reason = fmt.Sprintf("task execution timed out after %s", e.timeout)
	case ctx.Err() != nil:
		outcome.Reason = fmt.Sprintf("task execution cancelled: %v", ctx.Err())
	default:
		outcome.Reason = err.Error()
	}

	if !outcome.Success {
		span.RecordError(outcome.Err())
		span.SetStatus(codes.Error, outcome.Reason)
	}
	return outcome
}

// Apply records outcome on the task, frees the agent and refreshes the
// workflow's completion flag.
func (e *Executor) Apply(w *workflow.Workflow, outcome Outcome) error {
	agent, ok := w.Agent(outcome.AgentID)
	if !ok {
		return workflow.NotFound(workflow.ErrAgentNotFound, outcome.AgentID)
	}
	task, ok := w.Task(outcome.TaskID)
	if !ok {
		return workflow.NotFound(workflow.ErrTaskNotFound, outcome.TaskID)
	}
	if agent.CurrentTask != task.ID || task.State != workflow.TaskInProgress {
		return workflow.Conflict(workflow.ErrNoCurrentTask, agent.ID,
			"agent %s no longer holds task %s", agent.ID, task.ID)
	}

	now := e.clock()
	if outcome.Success {
		task.State = workflow.TaskCompleted
		task.SetResult(outcome.Text)
		agent.Increment(workflow.StateCompletedTasks)
	} else {
		task.State = workflow.TaskFailed
		task.SetResult("Error: " + outcome.Reason)
		agent.Increment(workflow.StateFailedTasks)
	}
	task.UpdatedAt = now
	agent.CurrentTask = ""
	w.Touch(now)
	w.RecomputeCompleted()
	return nil
}
