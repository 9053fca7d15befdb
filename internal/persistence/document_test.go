package persistence

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/aristath/crew/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A document in the layout written by earlier versions of the tool.
const legacyDocument = `{
  "name": "Blog post",
  "description": "Write about Go",
  "tasks": {
    "9f1c2d3e": {
      "title": "Research",
      "description": "Find sources",
      "assigned_agent_id": "a1b2c3d4",
      "state": "completed",
      "created_at": 1767312000.25,
      "updated_at": 1767312060.5,
      "result": "Found three sources",
      "depends_on": []
    },
    "1a2b3c4d": {
      "title": "Write",
      "description": "Draft the post",
      "assigned_agent_id": null,
      "state": "pending",
      "created_at": 1767312000.25,
      "updated_at": 1767312000.25,
      "result": null,
      "depends_on": ["9f1c2d3e"]
    }
  },
  "agents": {
    "a1b2c3d4": {
      "name": "Ada",
      "role": "researcher",
      "skills": ["search"],
      "current_task": null,
      "state": {"completed_tasks": 1}
    }
  },
  "created_at": 1767312000.25,
  "updated_at": 1767312060.5,
  "completed": false
}`

func TestDecodeDocument_Legacy(t *testing.T) {
	w, err := decodeDocument("wf-legacy", []byte(legacyDocument))
	require.NoError(t, err)

	assert.Equal(t, "wf-legacy", w.ID)
	assert.Equal(t, "Blog post", w.Name)
	// Member order, not key order
	assert.Equal(t, []string{"9f1c2d3e", "1a2b3c4d"}, w.TaskIDs())

	research, _ := w.Task("9f1c2d3e")
	assert.Equal(t, workflow.TaskCompleted, research.State)
	assert.Equal(t, "a1b2c3d4", research.AssignedAgentID)
	assert.True(t, research.HasResult)
	assert.Equal(t, int64(1767312000250000), research.CreatedAt.UnixMicro())

	write, _ := w.Task("1a2b3c4d")
	assert.False(t, write.HasResult)
	assert.Empty(t, write.AssignedAgentID)
	assert.Equal(t, []string{"9f1c2d3e"}, write.DependsOn)

	ada, ok := w.Agent("a1b2c3d4")
	require.True(t, ok)
	assert.Equal(t, workflow.RoleResearcher, ada.Role)
	assert.True(t, ada.Idle())
	assert.Equal(t, 1, ada.Counter(workflow.StateCompletedTasks))

	assert.NoError(t, w.CheckInvariants())
}

func TestEncodeDocument_FieldNamesAndOrder(t *testing.T) {
	w := sampleWorkflow(t, "wf-1", t0)
	data, err := encodeDocument(w)
	require.NoError(t, err)

	text := string(data)
	for _, field := range []string{`"assigned_agent_id"`, `"depends_on"`, `"current_task"`, `"created_at"`, `"completed"`} {
		assert.Contains(t, text, field)
	}
	// Insertion order t-z, t-a, t-m survives even though it is not sorted
	z, a, m := strings.Index(text, `"t-z"`), strings.Index(text, `"t-a"`), strings.Index(text, `"t-m"`)
	assert.True(t, z < a && a < m, "tasks out of order:\n%s", text)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasID := raw["id"]
	assert.False(t, hasID, "the id lives in the file name or key")
	tasks := raw["tasks"].(map[string]any)
	draft := tasks["t-m"].(map[string]any)
	assert.Nil(t, draft["result"])
	assert.Nil(t, draft["assigned_agent_id"])
	assert.Equal(t, []any{"t-z", "t-a"}, draft["depends_on"])
}

func TestDecodeDocument_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not json", doc: `{"name":`},
		{name: "unknown state", doc: `{"name":"n","description":"","tasks":{"a":{"title":"t","state":"exploded"}},"agents":{}}`},
		{name: "unknown role", doc: `{"name":"n","description":"","tasks":{},"agents":{"x":{"name":"X","role":"janitor","skills":[]}}}`},
		{name: "tasks not an object", doc: `{"name":"n","description":"","tasks":[],"agents":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeDocument("wf", []byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestEncodeResults_TaskOrder(t *testing.T) {
	w := workflow.New("wf", "n", "", t0)
	for _, spec := range []struct{ id, title, result string }{
		{"1", "Zeta", "z"},
		{"2", "Alpha", "a"},
		{"3", "Skipped", ""},
	} {
		task := workflow.NewTask(spec.id, spec.title, "", nil, t0)
		if spec.result != "" {
			task.State = workflow.TaskCompleted
			task.SetResult(spec.result)
		}
		require.NoError(t, w.AddTask(task))
	}

	data, err := encodeResults(w)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"Zeta\": \"z\",\n  \"Alpha\": \"a\"\n}", string(data))
}

func TestSecondsRoundTrip(t *testing.T) {
	assert.True(t, fromSeconds(toSeconds(t0)).Equal(t0))
	assert.True(t, fromSeconds(0).IsZero())
	assert.Zero(t, toSeconds(fromSeconds(0)))
}
