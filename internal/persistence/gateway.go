package persistence

import (
	"context"
	"errors"

	"github.com/aristath/crew/internal/workflow"
)

// ErrNotFound is returned by Load when no workflow has the given id.
var ErrNotFound = errors.New("workflow not found in store")

// Gateway persists whole workflows. Save is an idempotent overwrite of the
// workflow's current state; LoadAll returns workflows in creation order.
type Gateway interface {
	Save(ctx context.Context, w *workflow.Workflow) error
	Load(ctx context.Context, id string) (*workflow.Workflow, error)
	LoadAll(ctx context.Context) ([]*workflow.Workflow, error)
	Close() error
}

// ResultsWriter is implemented by gateways that can export the results of a
// completed workflow. It returns a human-readable location.
type ResultsWriter interface {
	WriteResults(ctx context.Context, w *workflow.Workflow) (string, error)
}

// Results maps task title to result for every completed task, in insertion
// order of the tasks. Later titles overwrite earlier ones.
func Results(w *workflow.Workflow) map[string]string {
	results := make(map[string]string)
	for _, t := range w.Tasks() {
		if t.State == workflow.TaskCompleted && t.HasResult {
			results[t.Title] = t.Result
		}
	}
	return results
}
