package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
)

// Validate checks that every dependency exists and that the task graph is
// acyclic. On success it returns task ids in a dependency-respecting order.
func Validate(w *Workflow) ([]string, error) {
	for _, task := range w.Tasks() {
		for _, depID := range task.DependsOn {
			if _, exists := w.tasks[depID]; !exists {
				return nil, Invalid(ErrDependencyNotFound, depID, "task %q depends on non-existent task %q", task.ID, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, task := range w.Tasks() {
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, task.ID})
			continue
		}
		for _, depID := range task.DependsOn {
			// Edge (dep, task): dep must come first
			edges = append(edges, toposort.Edge{depID, task.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		stuck := blockedByCycle(w)
		return nil, Invalid(ErrDependencyCycle, strings.Join(stuck, ","),
			"dependency cycle among tasks: %s", strings.Join(stuck, ", "))
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(w.taskOrder) {
		return nil, fmt.Errorf("topological sort lost %d tasks", len(w.taskOrder)-len(order))
	}
	return order, nil
}

// blockedByCycle peels off tasks whose dependencies can all be ordered and
// returns what is left: the cycle members and anything downstream of them.
func blockedByCycle(w *Workflow) []string {
	resolved := make(map[string]bool, len(w.tasks))
	for changed := true; changed; {
		changed = false
		for _, task := range w.Tasks() {
			if resolved[task.ID] {
				continue
			}
			ok := true
			for _, depID := range task.DependsOn {
				if !resolved[depID] {
					ok = false
					break
				}
			}
			if ok {
				resolved[task.ID] = true
				changed = true
			}
		}
	}

	var stuck []string
	for id := range w.tasks {
		if !resolved[id] {
			stuck = append(stuck, id)
		}
	}
	sort.Strings(stuck)
	return stuck
}
