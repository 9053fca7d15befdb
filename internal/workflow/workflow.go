package workflow

import (
	"fmt"
	"slices"
	"time"
)

// Workflow owns a set of tasks and the agents that execute them.
// Tasks and agents keep insertion order, which the scheduler uses as a
// deterministic tie-break. A Workflow is not safe for concurrent use;
// callers serialize access per workflow id.
type Workflow struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Completed   bool

	tasks      map[string]*Task
	taskOrder  []string
	agents     map[string]*Agent
	agentOrder []string
}

// New creates an empty workflow.
func New(id, name, description string, now time.Time) *Workflow {
	return &Workflow{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		tasks:       make(map[string]*Task),
		agents:      make(map[string]*Agent),
	}
}

// AddTask appends a task. Dependencies are not checked here: loaded state
// may legitimately reference tasks in any order.
func (w *Workflow) AddTask(task *Task) error {
	if task == nil || task.ID == "" {
		return Invalid(ErrEmptyField, "", "task id is required")
	}
	if _, exists := w.tasks[task.ID]; exists {
		return Invalid(ErrDuplicateID, task.ID, "task with ID %q already exists", task.ID)
	}
	if w.tasks == nil {
		w.tasks = make(map[string]*Task)
	}
	w.tasks[task.ID] = task
	w.taskOrder = append(w.taskOrder, task.ID)
	return nil
}

// AddAgent appends an agent.
func (w *Workflow) AddAgent(agent *Agent) error {
	if agent == nil || agent.ID == "" {
		return Invalid(ErrEmptyField, "", "agent id is required")
	}
	if _, exists := w.agents[agent.ID]; exists {
		return Invalid(ErrDuplicateID, agent.ID, "agent with ID %q already exists", agent.ID)
	}
	if w.agents == nil {
		w.agents = make(map[string]*Agent)
	}
	w.agents[agent.ID] = agent
	w.agentOrder = append(w.agentOrder, agent.ID)
	return nil
}

// Task returns the live task with the given id.
func (w *Workflow) Task(id string) (*Task, bool) {
	t, ok := w.tasks[id]
	return t, ok
}

// Agent returns the live agent with the given id.
func (w *Workflow) Agent(id string) (*Agent, bool) {
	a, ok := w.agents[id]
	return a, ok
}

// Tasks returns the live tasks in insertion order.
func (w *Workflow) Tasks() []*Task {
	out := make([]*Task, 0, len(w.taskOrder))
	for _, id := range w.taskOrder {
		out = append(out, w.tasks[id])
	}
	return out
}

// Agents returns the live agents in insertion order.
func (w *Workflow) Agents() []*Agent {
	out := make([]*Agent, 0, len(w.agentOrder))
	for _, id := range w.agentOrder {
		out = append(out, w.agents[id])
	}
	return out
}

// TaskIDs returns task ids in insertion order.
func (w *Workflow) TaskIDs() []string {
	return append([]string(nil), w.taskOrder...)
}

// AgentIDs returns agent ids in insertion order.
func (w *Workflow) AgentIDs() []string {
	return append([]string(nil), w.agentOrder...)
}

// TaskCount returns the number of tasks.
func (w *Workflow) TaskCount() int { return len(w.taskOrder) }

// AgentCount returns the number of agents.
func (w *Workflow) AgentCount() int { return len(w.agentOrder) }

// Touch refreshes UpdatedAt.
func (w *Workflow) Touch(now time.Time) {
	w.UpdatedAt = now
}

// RecomputeCompleted sets Completed to true iff the workflow has at least
// one task and every task is completed. It returns the new value.
func (w *Workflow) RecomputeCompleted() bool {
	w.Completed = len(w.taskOrder) > 0 && w.CompletedCount() == len(w.taskOrder)
	return w.Completed
}

// CompletedCount returns the number of completed tasks.
func (w *Workflow) CompletedCount() int {
	n := 0
	for _, t := range w.tasks {
		if t.State == TaskCompleted {
			n++
		}
	}
	return n
}

// StateCounts counts tasks per state. Every known state has an entry.
func (w *Workflow) StateCounts() map[TaskState]int {
	counts := make(map[TaskState]int, 4)
	for _, s := range AllTaskStates() {
		counts[s] = 0
	}
	for _, t := range w.tasks {
		counts[t.State]++
	}
	return counts
}

// RoleCounts counts agents per role. Every known role has an entry.
func (w *Workflow) RoleCounts() map[AgentRole]int {
	counts := make(map[AgentRole]int, 5)
	for _, r := range AllRoles() {
		counts[r] = 0
	}
	for _, a := range w.agents {
		counts[a.Role]++
	}
	return counts
}

// CheckInvariants verifies the agent/task binding and the completion flag.
// It returns the first violation found.
func (w *Workflow) CheckInvariants() error {
	for _, a := range w.Agents() {
		if a.Idle() {
			continue
		}
		t, ok := w.tasks[a.CurrentTask]
		if !ok {
			return fmt.Errorf("agent %s references unknown task %s", a.ID, a.CurrentTask)
		}
		if t.State != TaskInProgress || t.AssignedAgentID != a.ID {
			return fmt.Errorf("agent %s holds task %s but task is %s/assigned to %q", a.ID, t.ID, t.State, t.AssignedAgentID)
		}
	}
	for _, t := range w.Tasks() {
		if t.State != TaskInProgress {
			continue
		}
		a, ok := w.agents[t.AssignedAgentID]
		if !ok || a.CurrentTask != t.ID {
			return fmt.Errorf("task %s is in progress but agent %q does not hold it", t.ID, t.AssignedAgentID)
		}
	}
	want := len(w.taskOrder) > 0 && w.CompletedCount() == len(w.taskOrder)
	if w.Completed != want {
		return fmt.Errorf("completed flag is %v but task states imply %v", w.Completed, want)
	}
	return nil
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	cp := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		Completed:   w.Completed,
		tasks:       make(map[string]*Task, len(w.tasks)),
		taskOrder:   slices.Clone(w.taskOrder),
		agents:      make(map[string]*Agent, len(w.agents)),
		agentOrder:  slices.Clone(w.agentOrder),
	}
	for id, t := range w.tasks {
		cp.tasks[id] = t.Clone()
	}
	for id, a := range w.agents {
		cp.agents[id] = a.Clone()
	}
	return cp
}

// Summary is the listing view of a workflow.
type Summary struct {
	ID          string
	Name        string
	Description string
	TasksCount  int
	AgentsCount int
	Completed   bool
	CreatedAt   time.Time
}

// Summarize builds the listing view.
func (w *Workflow) Summarize() Summary {
	return Summary{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		TasksCount:  len(w.taskOrder),
		AgentsCount: len(w.agentOrder),
		Completed:   w.Completed,
		CreatedAt:   w.CreatedAt,
	}
}
