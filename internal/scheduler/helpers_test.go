package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/crew/internal/provider"
	"github.com/aristath/crew/internal/workflow"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

type taskSpec struct {
	id   string
	deps []string
}

// newWorkflow builds a workflow with the given tasks and n writer agents
// named agent-1..agent-n.
func newWorkflow(t testing.TB, tasks []taskSpec, agents int) *workflow.Workflow {
	t.Helper()
	w := workflow.New("wf", "Test flow", "", t0)
	for _, ts := range tasks {
		require.NoError(t, w.AddTask(workflow.NewTask(ts.id, "Task "+ts.id, "do "+ts.id, ts.deps, t0)))
	}
	for i := 1; i <= agents; i++ {
		id := fmt.Sprintf("agent-%d", i)
		require.NoError(t, w.AddAgent(workflow.NewAgent(id, "Agent "+id, workflow.RoleWriter, nil)))
	}
	return w
}

func taskTitle(user string) string {
	line, _, _ := strings.Cut(user, "\n")
	return strings.TrimPrefix(line, "Task: ")
}

// okProvider answers "done: <title>".
func okProvider() provider.Provider {
	return provider.Func(func(ctx context.Context, system, user string) (string, error) {
		return "done: " + taskTitle(user), nil
	})
}

// failingProvider fails every task whose title is in fail.
func failingProvider(fail ...string) provider.Provider {
	set := make(map[string]bool)
	for _, f := range fail {
		set["Task "+f] = true
	}
	return provider.Func(func(ctx context.Context, system, user string) (string, error) {
		title := taskTitle(user)
		if set[title] {
			return "", errors.New("model refused")
		}
		return "done: " + title, nil
	})
}

// recordingSaver counts saves and can be told to fail.
type recordingSaver struct {
	mu    sync.Mutex
	saves int
	err   error
}

func (s *recordingSaver) Save(ctx context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.err != nil {
		return &workflow.PersistenceError{WorkflowID: w.ID, Op: "save", Err: s.err}
	}
	return nil
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func newExecutor(p provider.Provider, opts ...ExecutorOption) *Executor {
	return NewExecutor(p, nil, append([]ExecutorOption{WithClock(fixedClock)}, opts...)...)
}
