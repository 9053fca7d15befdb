package provider

import (
	"context"
	"strings"
	"time"
)

// EchoProvider answers without calling any model. It is used for dry runs
// and demos: the result restates the task line of the user instruction.
type EchoProvider struct {
	// Delay simulates work; the wait honours ctx.
	Delay time.Duration
}

// Complete returns a canned result for the task.
func (p *EchoProvider) Complete(ctx context.Context, system, user string) (string, error) {
	if p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}

	line, _, _ := strings.Cut(user, "\n")
	return "Completed " + strings.TrimPrefix(line, "Task: "), nil
}
