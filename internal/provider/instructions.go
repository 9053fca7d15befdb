package provider

import (
	"fmt"
	"strings"

	"github.com/aristath/crew/internal/workflow"
)

const (
	fallbackRole = "You are an AI agent."
	systemSuffix = "Complete the assigned task to the best of your abilities."
)

var defaultRoleDescriptions = map[workflow.AgentRole]string{
	workflow.RoleCoordinator: "You are a coordinator agent responsible for planning and managing tasks.",
	workflow.RoleResearcher:  "You are a researcher agent responsible for gathering and synthesizing information.",
	workflow.RoleAnalyzer:    "You are an analyzer agent responsible for examining data and extracting insights.",
	workflow.RoleWriter:      "You are a writer agent responsible for creating well-written content.",
	workflow.RoleCritic:      "You are a critic agent responsible for reviewing and providing constructive feedback.",
}

// Instructions builds the system and user messages sent to a provider.
type Instructions struct {
	roles map[workflow.AgentRole]string
}

// NewInstructions returns builders using the built-in role descriptions,
// replaced by any non-empty entry in overrides (keyed by role name).
func NewInstructions(overrides map[string]string) *Instructions {
	roles := make(map[workflow.AgentRole]string, len(defaultRoleDescriptions))
	for role, desc := range defaultRoleDescriptions {
		roles[role] = desc
	}
	for name, desc := range overrides {
		if desc == "" {
			continue
		}
		if role, err := workflow.ParseAgentRole(name); err == nil {
			roles[role] = desc
		}
	}
	return &Instructions{roles: roles}
}

// RoleDescription returns the description used for role.
func (in *Instructions) RoleDescription(role workflow.AgentRole) string {
	if desc, ok := in.roles[role]; ok {
		return desc
	}
	return fallbackRole
}

// System returns the system instruction for agent.
func (in *Instructions) System(agent *workflow.Agent) string {
	return fmt.Sprintf("%s You have these skills: %s. %s",
		in.RoleDescription(agent.Role), strings.Join(agent.Skills, ", "), systemSuffix)
}

// User returns the user instruction for task, followed by the extra prompt.
func (in *Instructions) User(task *workflow.Task, extra string) string {
	return fmt.Sprintf("Task: %s\n\nDescription: %s\n\n%s", task.Title, task.Description, extra)
}
