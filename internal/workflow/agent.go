package workflow

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// AgentRole determines the system instruction an agent works under.
type AgentRole string

const (
	RoleCoordinator AgentRole = "coordinator"
	RoleResearcher  AgentRole = "researcher"
	RoleAnalyzer    AgentRole = "analyzer"
	RoleWriter      AgentRole = "writer"
	RoleCritic      AgentRole = "critic"
)

// AllRoles returns the known roles in declaration order.
func AllRoles() []AgentRole {
	return []AgentRole{RoleCoordinator, RoleResearcher, RoleAnalyzer, RoleWriter, RoleCritic}
}

// ParseAgentRole validates a role name.
func ParseAgentRole(s string) (AgentRole, error) {
	role := AgentRole(strings.ToLower(strings.TrimSpace(s)))
	for _, r := range AllRoles() {
		if r == role {
			return role, nil
		}
	}
	names := make([]string, 0, len(AllRoles()))
	for _, r := range AllRoles() {
		names = append(names, string(r))
	}
	return "", newValidationError(ErrInvalidRole, s, "invalid role %q, choose from: %s", s, strings.Join(names, ", "))
}

// Agent state keys maintained by the executor.
const (
	StateCompletedTasks = "completed_tasks"
	StateFailedTasks    = "failed_tasks"
)

// Agent is a worker that executes one task at a time.
type Agent struct {
	ID          string
	Name        string
	Role        AgentRole
	Skills      []string
	CurrentTask string         // Task being worked on ("" when idle)
	State       map[string]any // Free-form blob, opaque to scheduling
}

// NewAgent creates an idle agent.
func NewAgent(id, name string, role AgentRole, skills []string) *Agent {
	return &Agent{
		ID:     id,
		Name:   name,
		Role:   role,
		Skills: append([]string{}, skills...),
		State:  map[string]any{},
	}
}

// Idle reports whether the agent has no current task.
func (a *Agent) Idle() bool {
	return a.CurrentTask == ""
}

// Counter reads an integer counter from the state blob. Values that went
// through a JSON round trip come back as float64 or json.Number.
func (a *Agent) Counter(key string) int {
	switch v := a.State[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Increment bumps a counter in the state blob.
func (a *Agent) Increment(key string) {
	if a.State == nil {
		a.State = map[string]any{}
	}
	a.State[key] = a.Counter(key) + 1
}

// Clone returns a deep copy of the agent. State values are copied shallowly.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Skills = slices.Clone(a.Skills)
	cp.State = maps.Clone(a.State)
	return &cp
}
