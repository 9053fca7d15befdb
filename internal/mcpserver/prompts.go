package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var roleSpecializations = map[string]string{
	"coordinator": "organizing, planning, and tracking progress",
	"researcher":  "gathering information, exploring options, and synthesizing knowledge",
	"analyzer":    "examining data critically, finding patterns, and generating insights",
	"writer":      "creating well-structured, clear, and engaging content",
	"critic":      "evaluating work objectively, finding improvements, and ensuring quality",
}

func registerPrompts(s *server.MCPServer) {
	s.AddPrompt(mcp.NewPrompt("collaborative_task_prompt",
		mcp.WithPromptDescription("Generate a structured prompt for a collaborative task"),
		mcp.WithArgument("task_description", mcp.RequiredArgument(), mcp.ArgumentDescription("What the agent should do")),
		mcp.WithArgument("agent_role", mcp.RequiredArgument(), mcp.ArgumentDescription("Role of the agent")),
		mcp.WithArgument("previous_results", mcp.ArgumentDescription("JSON object mapping task name to result")),
	), collaborativeTaskPrompt)

	s.AddPrompt(mcp.NewPrompt("workflow_design_prompt",
		mcp.WithPromptDescription("Generate a prompt for designing a multi-agent workflow"),
		mcp.WithArgument("objective", mcp.RequiredArgument(), mcp.ArgumentDescription("What the workflow should achieve")),
		mcp.WithArgument("available_agent_roles", mcp.RequiredArgument(),
			mcp.ArgumentDescription("Roles to use, as a JSON array or comma-separated list")),
	), workflowDesignPrompt)
}

func collaborativeTaskPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := req.Params.Arguments
	role := args["agent_role"]
	focus, ok := roleSpecializations[strings.ToLower(role)]
	if !ok {
		focus = "completing tasks"
	}

	system := fmt.Sprintf(`You are a specialized %s agent working in a multi-agent team.
Your role focuses on %s.
You should approach the task from your specialized perspective while maintaining awareness that
you are part of a collaborative workflow where other agents will build upon your work.`, role, focus)

	var user strings.Builder
	fmt.Fprintf(&user, "Your task: %s\n\n", args["task_description"])
	if raw := strings.TrimSpace(args["previous_results"]); raw != "" {
		var previous map[string]string
		if err := json.Unmarshal([]byte(raw), &previous); err != nil {
			return nil, fmt.Errorf("previous_results must be a JSON object of strings: %w", err)
		}
		if len(previous) > 0 {
			names := make([]string, 0, len(previous))
			for name := range previous {
				names = append(names, name)
			}
			sort.Strings(names)
			user.WriteString("Previous results from other agents:\n")
			for _, name := range names {
				fmt.Fprintf(&user, "\n--- %s ---\n%s\n", name, previous[name])
			}
			user.WriteString("\nUse these previous results in your work as appropriate.")
		}
	}
	user.WriteString("\nComplete your part of this collaborative task, focusing on your role as a specialized agent.")

	return mcp.NewGetPromptResult("Collaborative task", []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleAssistant, mcp.NewTextContent(system)),
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(user.String())),
	}), nil
}

func workflowDesignPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := req.Params.Arguments
	roles := parseList(args["available_agent_roles"])

	user := fmt.Sprintf(`Help me design a multi-agent workflow to achieve this objective: %s

Available agent roles: %s

Please provide:
1. A structured breakdown of the workflow (3-6 sequential steps)
2. Which agent roles should handle each step
3. The specific tasks each agent should complete
4. How information should flow between agents
5. How to evaluate the final output

Focus on creating a workflow where agents with different specializations collaborate efficiently.`,
		args["objective"], strings.Join(roles, ", "))

	return mcp.NewGetPromptResult("Workflow design", []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleAssistant, mcp.NewTextContent(
			"You are a workflow design specialist experienced in creating effective multi-agent systems.")),
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(user)),
	}), nil
}

// parseList accepts a JSON array of strings or a comma-separated list.
func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	var list []string
	if strings.HasPrefix(raw, "[") && json.Unmarshal([]byte(raw), &list) == nil {
		return list
	}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}
