package store

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/aristath/crew/internal/persistence"
	"github.com/aristath/crew/internal/scheduler"
	"github.com/aristath/crew/internal/workflow"
)

// CreateWorkflow creates and persists an empty workflow. The workflow is
// kept even when the save fails; the error is then a PersistenceError.
func (s *Store) CreateWorkflow(ctx context.Context, name, description string) (*workflow.Workflow, error) {
	s.mu.Lock()
	id := s.newID(func(id string) bool {
		_, taken := s.live[id]
		return taken
	})
	w := workflow.New(id, name, description, s.opts.Clock())
	s.live[id] = w
	s.snapshots[id] = w.Clone()
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.locks.Lock(id)
	defer s.locks.Unlock(id)
	s.logger.Info("workflow created", zap.String("workflow_id", id), zap.String("name", name))
	err := s.Save(ctx, w)
	return w.Clone(), err
}

// AddAgent adds an idle agent with a generated id.
func (s *Store) AddAgent(ctx context.Context, workflowID, name, role string, skills []string) (*workflow.Agent, error) {
	parsed, err := workflow.ParseAgentRole(role)
	if err != nil {
		return nil, err
	}
	w, release, err := s.acquire(workflowID)
	if err != nil {
		return nil, err
	}
	defer release()

	id := s.newID(func(id string) bool {
		_, taken := w.Agent(id)
		return taken
	})
	agent := workflow.NewAgent(id, name, parsed, skills)
	if err := w.AddAgent(agent); err != nil {
		return nil, err
	}
	w.Touch(s.opts.Clock())
	return agent.Clone(), s.Save(ctx, w)
}

// AddTask adds a pending task with a generated id. Every dependency must
// name an existing task of the same workflow; repeated ids collapse.
func (s *Store) AddTask(ctx context.Context, workflowID, title, description string, dependsOn []string) (*workflow.Task, error) {
	w, release, err := s.acquire(workflowID)
	if err != nil {
		return nil, err
	}
	defer release()

	for _, depID := range dependsOn {
		if _, ok := w.Task(depID); !ok {
			return nil, workflow.Invalid(workflow.ErrDependencyNotFound, depID,
				"Dependency task with ID %s not found", depID)
		}
	}

	now := s.opts.Clock()
	id := s.newID(func(id string) bool {
		_, taken := w.Task(id)
		return taken
	})
	task := workflow.NewTask(id, title, description, dependsOn, now)
	if err := w.AddTask(task); err != nil {
		return nil, err
	}
	// A new pending task reopens a completed workflow
	w.RecomputeCompleted()
	w.Touch(now)
	return task.Clone(), s.Save(ctx, w)
}

// GetWorkflow returns a deep copy of the workflow.
func (s *Store) GetWorkflow(workflowID string) (*workflow.Workflow, error) {
	w, err := s.snapshot(workflowID)
	if err != nil {
		return nil, err
	}
	return w.Clone(), nil
}

// ListWorkflows summarizes every workflow in creation order.
func (s *Store) ListWorkflows() []workflow.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]workflow.Summary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snapshots[id].Summarize())
	}
	return out
}

// GetReadyTasks returns copies of the tasks that can be assigned now, in
// insertion order.
func (s *Store) GetReadyTasks(workflowID string) ([]*workflow.Task, error) {
	w, err := s.snapshot(workflowID)
	if err != nil {
		return nil, err
	}
	ids := scheduler.ReadyTasks(w)
	tasks := make([]*workflow.Task, 0, len(ids))
	for _, id := range ids {
		t, _ := w.Task(id)
		tasks = append(tasks, t.Clone())
	}
	return tasks, nil
}

// GetAvailableAgents returns copies of the idle agents in insertion order.
func (s *Store) GetAvailableAgents(workflowID string) ([]*workflow.Agent, error) {
	w, err := s.snapshot(workflowID)
	if err != nil {
		return nil, err
	}
	ids := scheduler.AvailableAgents(w)
	agents := make([]*workflow.Agent, 0, len(ids))
	for _, id := range ids {
		a, _ := w.Agent(id)
		agents = append(agents, a.Clone())
	}
	return agents, nil
}

// GetTaskResult returns a copy of a completed task.
func (s *Store) GetTaskResult(workflowID, taskID string) (*workflow.Task, error) {
	w, err := s.snapshot(workflowID)
	if err != nil {
		return nil, err
	}
	t, ok := w.Task(taskID)
	if !ok {
		return nil, workflow.NotFound(workflow.ErrTaskNotFound, taskID)
	}
	if t.State != workflow.TaskCompleted {
		return nil, workflow.Conflict(workflow.ErrTaskNotCompleted, taskID,
			"Task '%s' is not completed yet (current state: %s)", t.Title, t.State)
	}
	return t.Clone(), nil
}

// WorkflowResults maps task title to result for a completed workflow.
func (s *Store) WorkflowResults(workflowID string) (map[string]string, error) {
	w, err := s.snapshot(workflowID)
	if err != nil {
		return nil, err
	}
	if !w.Completed {
		return nil, workflow.Conflict(workflow.ErrWorkflowNotCompleted, workflowID,
			"Workflow '%s' is not completed yet", w.Name)
	}
	return persistence.Results(w), nil
}

// ValidateWorkflow checks the dependency graph and returns a
// dependency-respecting task order.
func (s *Store) ValidateWorkflow(workflowID string) ([]string, error) {
	w, err := s.snapshot(workflowID)
	if err != nil {
		return nil, err
	}
	return workflow.Validate(w)
}

// WorkflowIDs returns every workflow id in creation order.
func (s *Store) WorkflowIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}
