package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aristath/crew/internal/idgen"
	"github.com/aristath/crew/internal/persistence"
	"github.com/aristath/crew/internal/provider"
	"github.com/aristath/crew/internal/store"
	"github.com/aristath/crew/internal/workflow"
)

var t0 = time.Date(2026, 7, 8, 9, 10, 11, 0, time.UTC)

// failing saves nothing; every Save reports an error.
type failing struct {
	persistence.Gateway
}

func (failing) Save(ctx context.Context, w *workflow.Workflow) error {
	return errors.New("read-only filesystem")
}

func newHandlers(t *testing.T, gw persistence.Gateway, p provider.Provider) *handlers {
	t.Helper()
	if gw == nil {
		mem, err := persistence.NewMemoryGateway(context.Background())
		require.NoError(t, err)
		t.Cleanup(func() { mem.Close() })
		gw = mem
	}
	if p == nil {
		p = &provider.EchoProvider{}
	}
	logger := zaptest.NewLogger(t)
	st := store.New(gw, p, idgen.NewSequence("id"), store.Options{
		Logger: logger,
		Clock:  func() time.Time { return t0 },
	})
	require.NoError(t, st.Open(context.Background()))
	return &handlers{store: st, logger: logger}
}

type toolFunc func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, fn toolFunc, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := fn(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text, res.IsError
}

func callJSON(t *testing.T, fn toolFunc, args map[string]any, out any) {
	t.Helper()
	text, isErr := call(t, fn, args)
	require.False(t, isErr, text)
	require.NoError(t, json.Unmarshal([]byte(text), out), text)
}

// setup builds a research workflow with two agents and a two-step chain.
func setup(t *testing.T, h *handlers) (wfID, gather, write string) {
	t.Helper()
	var c created
	callJSON(t, h.createWorkflow, map[string]any{"name": "Report", "description": "write a report"}, &c)
	wfID = c.WorkflowID

	callJSON(t, h.addAgent, map[string]any{
		"workflow_id": wfID, "name": "Ada", "role": "researcher", "skills": []any{"search"},
	}, &c)
	callJSON(t, h.addAgent, map[string]any{
		"workflow_id": wfID, "name": "Bo", "role": "writer", "skills": []any{},
	}, &c)

	callJSON(t, h.addTask, map[string]any{
		"workflow_id": wfID, "title": "Gather", "description": "collect sources",
	}, &c)
	gather = c.TaskID
	callJSON(t, h.addTask, map[string]any{
		"workflow_id": wfID, "title": "Write", "description": "draft", "depends_on": []any{gather},
	}, &c)
	write = c.TaskID
	return wfID, gather, write
}

func TestTools_CreateAndList(t *testing.T) {
	h := newHandlers(t, nil, nil)

	text, isErr := call(t, h.listWorkflows, nil)
	assert.False(t, isErr)
	assert.Equal(t, "No workflows found.", text)

	var c created
	callJSON(t, h.createWorkflow, map[string]any{"name": "Report", "description": "d"}, &c)
	assert.Equal(t, "Workflow 'Report' created successfully", c.Message)
	assert.Equal(t, "id-1", c.WorkflowID)
	assert.Empty(t, c.Warning)

	var list []workflowSummary
	callJSON(t, h.listWorkflows, nil, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Report", list[0].Name)
	assert.Equal(t, float64(t0.Unix()), list[0].CreatedAt)
}

func TestTools_BuildAndInspect(t *testing.T) {
	h := newHandlers(t, nil, nil)
	wfID, gather, write := setup(t, h)

	var details workflowDetails
	callJSON(t, h.workflowDetails, map[string]any{"workflow_id": wfID}, &details)
	require.Len(t, details.Tasks, 2)
	assert.Equal(t, "pending", details.Tasks[0].State)
	assert.Nil(t, details.Tasks[0].AssignedAgentID)
	assert.Equal(t, []string{gather}, details.Tasks[1].DependsOn)
	require.Len(t, details.Agents, 2)
	assert.Equal(t, []string{}, details.Agents[1].Skills)

	var ready []readyTask
	callJSON(t, h.readyTasks, map[string]any{"workflow_id": wfID}, &ready)
	require.Len(t, ready, 1)
	assert.Equal(t, "Gather", ready[0].Title)

	var idle []idleAgent
	callJSON(t, h.availableAgents, map[string]any{"workflow_id": wfID}, &idle)
	assert.Len(t, idle, 2)

	var v validation
	callJSON(t, h.validateWorkflow, map[string]any{"workflow_id": wfID}, &v)
	assert.True(t, v.Valid)
	assert.Equal(t, []string{gather, write}, v.Order)
}

func TestTools_ErrorKinds(t *testing.T) {
	h := newHandlers(t, nil, nil)
	wfID, _, write := setup(t, h)

	tests := []struct {
		name   string
		fn     toolFunc
		args   map[string]any
		prefix string
	}{
		{
			name:   "unknown workflow",
			fn:     h.workflowDetails,
			args:   map[string]any{"workflow_id": "nope"},
			prefix: "validation: ",
		},
		{
			name:   "bad role",
			fn:     h.addAgent,
			args:   map[string]any{"workflow_id": wfID, "name": "X", "role": "janitor", "skills": []any{}},
			prefix: "validation: ",
		},
		{
			name:   "unknown dependency",
			fn:     h.addTask,
			args:   map[string]any{"workflow_id": wfID, "title": "T", "description": "", "depends_on": []any{"ghost"}},
			prefix: "validation: ",
		},
		{
			name:   "result before completion",
			fn:     h.taskResult,
			args:   map[string]any{"workflow_id": wfID, "task_id": write},
			prefix: "conflict: ",
		},
		{
			name:   "agent without a task",
			fn:     h.runAgentTask,
			args:   map[string]any{"workflow_id": wfID, "agent_id": "id-2"},
			prefix: "conflict: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := call(t, tt.fn, tt.args)
			assert.True(t, isErr)
			assert.True(t, strings.HasPrefix(text, tt.prefix), text)
		})
	}
}

func TestTools_MissingArgument(t *testing.T) {
	h := newHandlers(t, nil, nil)
	_, isErr := call(t, h.createWorkflow, map[string]any{"description": "no name"})
	assert.True(t, isErr)
}

func TestTools_AssignAndRun(t *testing.T) {
	h := newHandlers(t, nil, nil)
	wfID, gather, _ := setup(t, h)

	var a assignment
	callJSON(t, h.assignTask, map[string]any{"workflow_id": wfID, "task_id": gather, "agent_id": "id-2"}, &a)
	assert.Equal(t, "Task 'Gather' assigned to agent 'Ada'", a.Message)

	text, isErr := call(t, h.assignTask, map[string]any{"workflow_id": wfID, "task_id": gather, "agent_id": "id-2"})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "conflict: "), text)

	callJSON(t, h.runAgentTask, map[string]any{"workflow_id": wfID, "agent_id": "id-2"}, &a)
	assert.Equal(t, "Agent 'Ada' completed task 'Gather'", a.Message)
	assert.Equal(t, "Completed Gather", a.Result)

	var r taskResult
	callJSON(t, h.taskResult, map[string]any{"workflow_id": wfID, "task_id": gather}, &r)
	assert.Equal(t, "Completed Gather", r.Result)
}

func TestTools_RunAgentTaskFailure(t *testing.T) {
	p := provider.Func(func(ctx context.Context, system, user string) (string, error) {
		return "", errors.New("model refused")
	})
	h := newHandlers(t, nil, p)
	wfID, gather, _ := setup(t, h)

	_, isErr := call(t, h.assignTask, map[string]any{"workflow_id": wfID, "task_id": gather, "agent_id": "id-2"})
	require.False(t, isErr)

	text, isErr := call(t, h.runAgentTask, map[string]any{"workflow_id": wfID, "agent_id": "id-2"})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "execution: Failed to run agent 'Ada' on task 'Gather'"), text)
	assert.Contains(t, text, "model refused")
}

func TestTools_RunAgentTaskFailureKeepsSaveWarning(t *testing.T) {
	mem, err := persistence.NewMemoryGateway(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	p := provider.Func(func(ctx context.Context, system, user string) (string, error) {
		return "", errors.New("model refused")
	})
	h := newHandlers(t, failing{Gateway: mem}, p)
	wfID, gather, _ := setup(t, h)

	_, isErr := call(t, h.assignTask, map[string]any{"workflow_id": wfID, "task_id": gather, "agent_id": "id-2"})
	require.False(t, isErr)

	text, isErr := call(t, h.runAgentTask, map[string]any{"workflow_id": wfID, "agent_id": "id-2"})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "execution: Failed to run agent 'Ada' on task 'Gather'"), text)
	assert.Contains(t, text, "model refused")
	assert.Contains(t, text, "(warning: persistence: ")
	assert.Contains(t, text, "read-only filesystem")
}

func TestTools_RunFullWorkflow(t *testing.T) {
	h := newHandlers(t, nil, nil)
	wfID, _, _ := setup(t, h)

	text, isErr := call(t, h.runFullWorkflow, map[string]any{"workflow_id": wfID})
	require.False(t, isErr, text)
	assert.Contains(t, text, "Starting workflow 'Report'...")
	assert.Contains(t, text, "Workflow 'Report' completed successfully!")
	assert.Contains(t, text, "Completed 2 out of 2 tasks.")

	text, _ = call(t, h.runParallelWorkflow, map[string]any{"workflow_id": wfID})
	assert.Contains(t, text, "is already completed")
}

func TestTools_PersistenceFailureIsAWarning(t *testing.T) {
	mem, err := persistence.NewMemoryGateway(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	h := newHandlers(t, failing{Gateway: mem}, nil)

	var c created
	callJSON(t, h.createWorkflow, map[string]any{"name": "Fragile", "description": "d"}, &c)
	assert.NotEmpty(t, c.WorkflowID)
	assert.True(t, strings.HasPrefix(c.Warning, "persistence: "), c.Warning)

	var details workflowDetails
	callJSON(t, h.workflowDetails, map[string]any{"workflow_id": c.WorkflowID}, &details)
	assert.Equal(t, "Fragile", details.Name)
}

func readResource(t *testing.T, fn func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error), uri string, out any) {
	t.Helper()
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	contents, err := fn(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, uri, text.URI)
	assert.Equal(t, "application/json", text.MIMEType)
	require.NoError(t, json.Unmarshal([]byte(text.Text), out), text.Text)
}

func TestResources(t *testing.T) {
	h := newHandlers(t, nil, nil)
	wfID, _, _ := setup(t, h)

	var list []workflowListing
	readResource(t, h.listResource, "workflows://list", &list)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].TasksCount)

	var overview workflowOverview
	readResource(t, h.workflowResource, "workflows://workflow/"+wfID, &overview)
	assert.Equal(t, "Report", overview.Name)
	assert.Equal(t, 2, overview.TaskSummary.Pending)
	assert.Equal(t, 1, overview.AgentSummary.Writer)

	var missing map[string]string
	readResource(t, h.workflowResource, "workflows://workflow/ghost", &missing)
	assert.Equal(t, "Workflow with ID ghost not found", missing["error"])

	var pending map[string]string
	readResource(t, h.resultsResource, "workflows://results/"+wfID, &pending)
	assert.Equal(t, "Workflow 'Report' is not completed yet", pending["message"])

	_, isErr := call(t, h.runFullWorkflow, map[string]any{"workflow_id": wfID})
	require.False(t, isErr)

	var results map[string]string
	readResource(t, h.resultsResource, "workflows://results/"+wfID, &results)
	assert.Equal(t, map[string]string{
		"Gather": "Completed Gather",
		"Write":  "Completed Write",
	}, results)
}

func getPrompt(t *testing.T, fn func(context.Context, mcp.GetPromptRequest) (*mcp.GetPromptResult, error), args map[string]string) []string {
	t.Helper()
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = args
	res, err := fn(context.Background(), req)
	require.NoError(t, err)
	var texts []string
	for _, m := range res.Messages {
		text, ok := m.Content.(mcp.TextContent)
		require.True(t, ok)
		texts = append(texts, text.Text)
	}
	return texts
}

func TestPrompts_CollaborativeTask(t *testing.T) {
	texts := getPrompt(t, collaborativeTaskPrompt, map[string]string{
		"task_description": "Summarise the findings",
		"agent_role":       "Writer",
		"previous_results": `{"Gather": "three sources", "Analyse": "two trends"}`,
	})
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "specialized Writer agent")
	assert.Contains(t, texts[0], "creating well-structured, clear, and engaging content")
	assert.Contains(t, texts[1], "Your task: Summarise the findings")
	assert.Less(t, strings.Index(texts[1], "--- Analyse ---"), strings.Index(texts[1], "--- Gather ---"))

	texts = getPrompt(t, collaborativeTaskPrompt, map[string]string{
		"task_description": "Plan",
		"agent_role":       "juggler",
	})
	assert.Contains(t, texts[0], "focuses on completing tasks")
	assert.NotContains(t, texts[1], "Previous results")

	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"task_description": "x", "agent_role": "writer", "previous_results": "not json"}
	_, err := collaborativeTaskPrompt(context.Background(), req)
	assert.Error(t, err)
}

func TestPrompts_WorkflowDesign(t *testing.T) {
	for _, roles := range []string{`["researcher", "writer"]`, "researcher, writer"} {
		texts := getPrompt(t, workflowDesignPrompt, map[string]string{
			"objective":             "Publish a report",
			"available_agent_roles": roles,
		})
		require.Len(t, texts, 2)
		assert.Contains(t, texts[1], "achieve this objective: Publish a report")
		assert.Contains(t, texts[1], "Available agent roles: researcher, writer")
	}
}

func TestNew_RegistersEverything(t *testing.T) {
	h := newHandlers(t, nil, nil)
	s := New(h.store, zaptest.NewLogger(t))
	require.NotNil(t, s)
}
