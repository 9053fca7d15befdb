// Package provider produces task results from role-conditioned instructions.
package provider

import (
	"context"
	"errors"
)

// Provider completes one instruction pair. A returned error is a failed
// completion; its message becomes the task's failure reason.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, system, user string) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// ErrEmptyResponse is returned when a provider produced no text.
var ErrEmptyResponse = errors.New("provider returned an empty response")
