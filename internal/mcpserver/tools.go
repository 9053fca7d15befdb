package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/aristath/crew/internal/scheduler"
	"github.com/aristath/crew/internal/workflow"
)

func (h *handlers) registerTools(s *server.MCPServer) {
	workflowID := mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow"))
	stringList := map[string]any{"type": "string"}

	s.AddTool(mcp.NewTool("create_workflow",
		mcp.WithDescription("Create a new multi-agent workflow"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the workflow")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Description of the workflow")),
	), h.createWorkflow)

	s.AddTool(mcp.NewTool("add_agent_to_workflow",
		mcp.WithDescription("Add an agent to a workflow"),
		workflowID,
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the agent")),
		mcp.WithString("role", mcp.Required(),
			mcp.Description("Role of the agent"),
			mcp.Enum("coordinator", "researcher", "analyzer", "writer", "critic")),
		mcp.WithArray("skills", mcp.Required(), mcp.Description("List of agent skills"), mcp.Items(stringList)),
	), h.addAgent)

	s.AddTool(mcp.NewTool("add_task_to_workflow",
		mcp.WithDescription("Add a task to a workflow"),
		workflowID,
		mcp.WithString("title", mcp.Required(), mcp.Description("Title of the task")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Description of the task")),
		mcp.WithArray("depends_on", mcp.Description("List of task IDs this task depends on"), mcp.Items(stringList)),
	), h.addTask)

	s.AddTool(mcp.NewTool("list_workflows",
		mcp.WithDescription("List all workflows"),
	), h.listWorkflows)

	s.AddTool(mcp.NewTool("get_workflow_details",
		mcp.WithDescription("Get detailed information about a workflow"),
		workflowID,
	), h.workflowDetails)

	s.AddTool(mcp.NewTool("get_next_available_tasks",
		mcp.WithDescription("Get tasks that are ready to be assigned to agents"),
		workflowID,
	), h.readyTasks)

	s.AddTool(mcp.NewTool("get_available_agents",
		mcp.WithDescription("Get agents that are available for task assignment"),
		workflowID,
	), h.availableAgents)

	s.AddTool(mcp.NewTool("assign_task",
		mcp.WithDescription("Assign a task to an agent"),
		workflowID,
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to assign")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent to assign the task to")),
	), h.assignTask)

	s.AddTool(mcp.NewTool("run_agent_task",
		mcp.WithDescription("Run an agent on its assigned task"),
		workflowID,
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent")),
		mcp.WithString("prompt", mcp.Description("Additional prompt to guide the agent")),
	), h.runAgentTask)

	s.AddTool(mcp.NewTool("get_task_result",
		mcp.WithDescription("Get the result of a completed task"),
		workflowID,
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task")),
	), h.taskResult)

	s.AddTool(mcp.NewTool("run_full_workflow",
		mcp.WithDescription("Run a complete workflow from start to finish"),
		workflowID,
	), h.runFullWorkflow)

	s.AddTool(mcp.NewTool("run_parallel_workflow",
		mcp.WithDescription("Run a complete workflow, executing independent tasks on different agents concurrently"),
		workflowID,
	), h.runParallelWorkflow)

	s.AddTool(mcp.NewTool("validate_workflow",
		mcp.WithDescription("Check a workflow's task dependencies for missing tasks and cycles"),
		workflowID,
	), h.validateWorkflow)
}

type created struct {
	Message    string `json:"message"`
	WorkflowID string `json:"workflow_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

func (h *handlers) createWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	description := req.GetString("description", "")

	w, err := h.store.CreateWorkflow(ctx, name, description)
	if err != nil && !workflow.IsPersistence(err) {
		return errorResult(err), nil
	}
	return h.jsonResult(created{
		Message:    fmt.Sprintf("Workflow '%s' created successfully", name),
		WorkflowID: w.ID,
		Warning:    warning(err),
	})
}

func (h *handlers) addAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	role, err := req.RequireString("role")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	skills := req.GetStringSlice("skills", nil)

	agent, err := h.store.AddAgent(ctx, id, name, role, skills)
	if err != nil && !workflow.IsPersistence(err) {
		return errorResult(err), nil
	}
	return h.jsonResult(created{
		Message: fmt.Sprintf("Agent '%s' added to workflow '%s'", name, h.workflowName(id)),
		AgentID: agent.ID,
		Warning: warning(err),
	})
}

func (h *handlers) addTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	description := req.GetString("description", "")
	deps := req.GetStringSlice("depends_on", nil)

	task, err := h.store.AddTask(ctx, id, title, description, deps)
	if err != nil && !workflow.IsPersistence(err) {
		return errorResult(err), nil
	}
	return h.jsonResult(created{
		Message: fmt.Sprintf("Task '%s' added to workflow '%s'", title, h.workflowName(id)),
		TaskID:  task.ID,
		Warning: warning(err),
	})
}

func (h *handlers) listWorkflows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries := h.store.ListWorkflows()
	if len(summaries) == 0 {
		return mcp.NewToolResultText("No workflows found."), nil
	}
	out := make([]workflowSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, workflowSummary{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			TasksCount:  s.TasksCount,
			AgentsCount: s.AgentsCount,
			Completed:   s.Completed,
			CreatedAt:   seconds(s.CreatedAt),
		})
	}
	return h.jsonResult(out)
}

func (h *handlers) workflowDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	w, err := h.store.GetWorkflow(id)
	if err != nil {
		return errorResult(err), nil
	}
	return h.jsonResult(detailsOf(w))
}

func (h *handlers) readyTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tasks, err := h.store.GetReadyTasks(id)
	if err != nil {
		return errorResult(err), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No tasks ready for assignment in workflow '%s'", h.workflowName(id))), nil
	}
	out := make([]readyTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, readyTask{ID: t.ID, Title: t.Title, Description: t.Description})
	}
	return h.jsonResult(out)
}

func (h *handlers) availableAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agents, err := h.store.GetAvailableAgents(id)
	if err != nil {
		return errorResult(err), nil
	}
	if len(agents) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No available agents in workflow '%s'", h.workflowName(id))), nil
	}
	out := make([]idleAgent, 0, len(agents))
	for _, a := range agents {
		out = append(out, idleAgent{ID: a.ID, Name: a.Name, Role: string(a.Role), Skills: nonNil(a.Skills)})
	}
	return h.jsonResult(out)
}

type assignment struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Result  string `json:"result,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func (h *handlers) assignTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	err = h.store.AssignTask(ctx, id, taskID, agentID)
	if err != nil && !workflow.IsPersistence(err) {
		return errorResult(err), nil
	}
	w, gerr := h.store.GetWorkflow(id)
	if gerr != nil {
		return errorResult(gerr), nil
	}
	task, _ := w.Task(taskID)
	agent, _ := w.Agent(agentID)
	return h.jsonResult(assignment{
		Message: fmt.Sprintf("Task '%s' assigned to agent '%s'", task.Title, agent.Name),
		TaskID:  taskID,
		AgentID: agentID,
		Warning: warning(err),
	})
}

func (h *handlers) runAgentTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	prompt := req.GetString("prompt", "")

	outcome, err := h.store.RunTask(ctx, id, agentID, prompt)
	if outcome.TaskID == "" {
		return errorResult(err), nil
	}

	w, gerr := h.store.GetWorkflow(id)
	if gerr != nil {
		return errorResult(gerr), nil
	}
	task, _ := w.Task(outcome.TaskID)
	agent, _ := w.Agent(agentID)
	if !outcome.Success {
		msg := fmt.Sprintf("execution: Failed to run agent '%s' on task '%s': %s",
			agent.Name, task.Title, outcome.Reason)
		var perr *workflow.PersistenceError
		if errors.As(err, &perr) {
			msg += " (warning: " + warning(perr) + ")"
		}
		return mcp.NewToolResultError(msg), nil
	}
	return h.jsonResult(assignment{
		Message: fmt.Sprintf("Agent '%s' completed task '%s'", agent.Name, task.Title),
		TaskID:  outcome.TaskID,
		AgentID: agentID,
		Result:  outcome.Text,
		Warning: warning(err),
	})
}

type taskResult struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Result string `json:"result"`
}

func (h *handlers) taskResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := h.store.GetTaskResult(id, taskID)
	if err != nil {
		return errorResult(err), nil
	}
	return h.jsonResult(taskResult{TaskID: task.ID, Title: task.Title, Result: task.Result})
}

func (h *handlers) runFullWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.runWorkflow(ctx, req, h.store.RunToCompletion)
}

func (h *handlers) runParallelWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.runWorkflow(ctx, req, h.store.RunParallel)
}

func (h *handlers) runWorkflow(ctx context.Context, req mcp.CallToolRequest,
	run func(context.Context, string) (scheduler.Report, error)) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := run(ctx, id)
	if err != nil && !workflow.IsPersistence(err) {
		return errorResult(err), nil
	}
	text := strings.Join(report.Log, "\n")
	if err != nil {
		h.logger.Warn("workflow run had persistence failures", zap.String("workflow_id", id), zap.Error(err))
		text += "\nWarning: " + err.Error()
	}
	return mcp.NewToolResultText(text), nil
}

type validation struct {
	WorkflowID string   `json:"workflow_id"`
	Valid      bool     `json:"valid"`
	Order      []string `json:"order"`
}

func (h *handlers) validateWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	order, err := h.store.ValidateWorkflow(id)
	if err != nil {
		return errorResult(err), nil
	}
	return h.jsonResult(validation{WorkflowID: id, Valid: true, Order: order})
}

func (h *handlers) workflowName(id string) string {
	w, err := h.store.GetWorkflow(id)
	if err != nil {
		return id
	}
	return w.Name
}

func (h *handlers) jsonResult(v any) (*mcp.CallToolResult, error) {
	text, err := indent(v)
	if err != nil {
		h.logger.Error("failed to encode tool result", zap.Error(err))
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}

// errorResult renders err as a tool error whose text starts with the
// error kind.
func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(describe(err))
}

func describe(err error) string {
	switch {
	case err == nil:
		return "error: unknown failure"
	case workflow.IsValidation(err):
		return "validation: " + err.Error()
	case workflow.IsConflict(err):
		return "conflict: " + err.Error()
	case workflow.IsExecution(err):
		return "execution: " + err.Error()
	case workflow.IsPersistence(err):
		return "persistence: " + err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled: " + err.Error()
	}
	return "error: " + err.Error()
}

// warning reports a persistence failure on an otherwise successful call.
func warning(err error) string {
	if err == nil {
		return ""
	}
	return describe(err)
}
