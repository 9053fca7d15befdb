package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/aristath/crew/internal/workflow"
)

// The JSON document shared by the file and Redis gateways. Tasks and agents
// are objects keyed by id whose member order is the insertion order, and
// timestamps are float seconds since the epoch.

type taskDoc struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	AssignedAgentID *string  `json:"assigned_agent_id"`
	State           string   `json:"state"`
	CreatedAt       float64  `json:"created_at"`
	UpdatedAt       float64  `json:"updated_at"`
	Result          *string  `json:"result"`
	DependsOn       []string `json:"depends_on"`
}

type agentDoc struct {
	Name        string         `json:"name"`
	Role        string         `json:"role"`
	Skills      []string       `json:"skills"`
	CurrentTask *string        `json:"current_task"`
	State       map[string]any `json:"state"`
}

type workflowDoc struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tasks       ordered[taskDoc]  `json:"tasks"`
	Agents      ordered[agentDoc] `json:"agents"`
	CreatedAt   float64           `json:"created_at"`
	UpdatedAt   float64           `json:"updated_at"`
	Completed   bool              `json:"completed"`
}

type entry[T any] struct {
	Key   string
	Value T
}

// ordered is a JSON object that keeps its member order.
type ordered[T any] []entry[T]

func (o ordered[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", e.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *ordered[T]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	var out ordered[T]
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", keyTok)
		}
		var v T
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("member %q: %w", key, err)
		}
		out = append(out, entry[T]{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}

// encodeDocument renders w as the indented JSON document.
func encodeDocument(w *workflow.Workflow) ([]byte, error) {
	doc := workflowDoc{
		Name:        w.Name,
		Description: w.Description,
		Tasks:       make(ordered[taskDoc], 0, w.TaskCount()),
		Agents:      make(ordered[agentDoc], 0, w.AgentCount()),
		CreatedAt:   toSeconds(w.CreatedAt),
		UpdatedAt:   toSeconds(w.UpdatedAt),
		Completed:   w.Completed,
	}
	for _, t := range w.Tasks() {
		td := taskDoc{
			Title:           t.Title,
			Description:     t.Description,
			AssignedAgentID: optional(t.AssignedAgentID, t.AssignedAgentID != ""),
			State:           string(t.State),
			CreatedAt:       toSeconds(t.CreatedAt),
			UpdatedAt:       toSeconds(t.UpdatedAt),
			Result:          optional(t.Result, t.HasResult),
			DependsOn:       nonNil(t.DependsOn),
		}
		doc.Tasks = append(doc.Tasks, entry[taskDoc]{Key: t.ID, Value: td})
	}
	for _, a := range w.Agents() {
		state := a.State
		if state == nil {
			state = map[string]any{}
		}
		ad := agentDoc{
			Name:        a.Name,
			Role:        string(a.Role),
			Skills:      nonNil(a.Skills),
			CurrentTask: optional(a.CurrentTask, a.CurrentTask != ""),
			State:       state,
		}
		doc.Agents = append(doc.Agents, entry[agentDoc]{Key: a.ID, Value: ad})
	}
	return json.MarshalIndent(doc, "", "  ")
}

// decodeDocument rebuilds a workflow from its document. The id is not part
// of the document; it comes from the file name or storage key.
func decodeDocument(id string, data []byte) (*workflow.Workflow, error) {
	var doc workflowDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", id, err)
	}

	w := workflow.New(id, doc.Name, doc.Description, fromSeconds(doc.CreatedAt))
	w.UpdatedAt = fromSeconds(doc.UpdatedAt)
	w.Completed = doc.Completed

	for _, e := range doc.Tasks {
		state, err := workflow.ParseTaskState(e.Value.State)
		if err != nil {
			return nil, fmt.Errorf("decode workflow %s task %s: %w", id, e.Key, err)
		}
		t := &workflow.Task{
			ID:          e.Key,
			Title:       e.Value.Title,
			Description: e.Value.Description,
			State:       state,
			CreatedAt:   fromSeconds(e.Value.CreatedAt),
			UpdatedAt:   fromSeconds(e.Value.UpdatedAt),
			DependsOn:   nonNil(e.Value.DependsOn),
		}
		if e.Value.AssignedAgentID != nil {
			t.AssignedAgentID = *e.Value.AssignedAgentID
		}
		if e.Value.Result != nil {
			t.SetResult(*e.Value.Result)
		}
		if err := w.AddTask(t); err != nil {
			return nil, fmt.Errorf("decode workflow %s: %w", id, err)
		}
	}

	for _, e := range doc.Agents {
		role, err := workflow.ParseAgentRole(e.Value.Role)
		if err != nil {
			return nil, fmt.Errorf("decode workflow %s agent %s: %w", id, e.Key, err)
		}
		a := workflow.NewAgent(e.Key, e.Value.Name, role, e.Value.Skills)
		if e.Value.CurrentTask != nil {
			a.CurrentTask = *e.Value.CurrentTask
		}
		if e.Value.State != nil {
			a.State = e.Value.State
		}
		if err := w.AddAgent(a); err != nil {
			return nil, fmt.Errorf("decode workflow %s: %w", id, err)
		}
	}
	return w, nil
}

// encodeResults renders the completed task results, title to result, in
// task order.
func encodeResults(w *workflow.Workflow) ([]byte, error) {
	var out ordered[string]
	index := make(map[string]int)
	for _, t := range w.Tasks() {
		if t.State != workflow.TaskCompleted || !t.HasResult {
			continue
		}
		if i, ok := index[t.Title]; ok {
			out[i].Value = t.Result
			continue
		}
		index[t.Title] = len(out)
		out = append(out, entry[string]{Key: t.Title, Value: t.Result})
	}
	if out == nil {
		out = ordered[string]{}
	}
	return json.MarshalIndent(out, "", "  ")
}

// toSeconds keeps microsecond precision, which a float64 holds exactly
// enough to round-trip for present-day timestamps.
func toSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

func fromSeconds(s float64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(math.Round(s * 1e6))).UTC()
}

func optional(s string, set bool) *string {
	if !set {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
