package mcpserver

import (
	"encoding/json"
	"time"

	"github.com/aristath/crew/internal/workflow"
)

// JSON shapes returned by tools and resources. Field order is the order
// clients see.

type workflowSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	TasksCount  int     `json:"tasks_count"`
	AgentsCount int     `json:"agents_count"`
	Completed   bool    `json:"completed"`
	CreatedAt   float64 `json:"created_at"`
}

type workflowListing struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Completed   bool   `json:"completed"`
	TasksCount  int    `json:"tasks_count"`
	AgentsCount int    `json:"agents_count"`
}

type taskView struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	State           string   `json:"state"`
	AssignedAgentID *string  `json:"assigned_agent_id"`
	DependsOn       []string `json:"depends_on"`
}

type agentView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Skills      []string `json:"skills"`
	CurrentTask *string  `json:"current_task"`
}

type workflowDetails struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	CreatedAt   float64     `json:"created_at"`
	UpdatedAt   float64     `json:"updated_at"`
	Completed   bool        `json:"completed"`
	Tasks       []taskView  `json:"tasks"`
	Agents      []agentView `json:"agents"`
}

type readyTask struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type idleAgent struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Role   string   `json:"role"`
	Skills []string `json:"skills"`
}

type taskCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type roleCounts struct {
	Coordinator int `json:"coordinator"`
	Researcher  int `json:"researcher"`
	Analyzer    int `json:"analyzer"`
	Writer      int `json:"writer"`
	Critic      int `json:"critic"`
}

type workflowOverview struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	CreatedAt    float64    `json:"created_at"`
	UpdatedAt    float64    `json:"updated_at"`
	Completed    bool       `json:"completed"`
	TaskSummary  taskCounts `json:"task_summary"`
	AgentSummary roleCounts `json:"agent_summary"`
}

func detailsOf(w *workflow.Workflow) workflowDetails {
	d := workflowDetails{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		CreatedAt:   seconds(w.CreatedAt),
		UpdatedAt:   seconds(w.UpdatedAt),
		Completed:   w.Completed,
		Tasks:       make([]taskView, 0, w.TaskCount()),
		Agents:      make([]agentView, 0, w.AgentCount()),
	}
	for _, t := range w.Tasks() {
		d.Tasks = append(d.Tasks, taskView{
			ID:              t.ID,
			Title:           t.Title,
			State:           string(t.State),
			AssignedAgentID: optional(t.AssignedAgentID),
			DependsOn:       nonNil(t.DependsOn),
		})
	}
	for _, a := range w.Agents() {
		d.Agents = append(d.Agents, agentView{
			ID:          a.ID,
			Name:        a.Name,
			Role:        string(a.Role),
			Skills:      nonNil(a.Skills),
			CurrentTask: optional(a.CurrentTask),
		})
	}
	return d
}

func overviewOf(w *workflow.Workflow) workflowOverview {
	states := w.StateCounts()
	roles := w.RoleCounts()
	return workflowOverview{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		CreatedAt:   seconds(w.CreatedAt),
		UpdatedAt:   seconds(w.UpdatedAt),
		Completed:   w.Completed,
		TaskSummary: taskCounts{
			Pending:    states[workflow.TaskPending],
			InProgress: states[workflow.TaskInProgress],
			Completed:  states[workflow.TaskCompleted],
			Failed:     states[workflow.TaskFailed],
		},
		AgentSummary: roleCounts{
			Coordinator: roles[workflow.RoleCoordinator],
			Researcher:  roles[workflow.RoleResearcher],
			Analyzer:    roles[workflow.RoleAnalyzer],
			Writer:      roles[workflow.RoleWriter],
			Critic:      roles[workflow.RoleCritic],
		},
	}
}

func seconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func indent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
