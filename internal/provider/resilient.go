package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned without calling the provider while the breaker
// is open.
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

// ResilientConfig configures Resilient.
type ResilientConfig struct {
	Name        string
	Timeout     time.Duration // Per-call timeout (0 = none)
	RateLimit   float64       // Calls per second (0 = unlimited)
	Burst       int
	MaxFailures int           // Consecutive failures that open the breaker (0 = no breaker)
	OpenTimeout time.Duration // Time the breaker stays open before probing
}

// Resilient wraps a Provider with a circuit breaker, a rate limiter and a
// per-call timeout. It never retries: one Complete is at most one call.
type Resilient struct {
	next    Provider
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewResilient wraps next.
func NewResilient(next Provider, cfg ResilientConfig, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resilient{
		next:    next,
		timeout: cfg.Timeout,
		logger:  logger,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if cfg.MaxFailures > 0 {
		openTimeout := cfg.OpenTimeout
		if openTimeout <= 0 {
			openTimeout = 30 * time.Second
		}
		maxFailures := uint32(cfg.MaxFailures)
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1, // Single probe in half-open state
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("provider", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
			IsSuccessful: func(err error) bool {
				// Cancellation is the caller's doing, not a provider fault
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}
	return r
}

// Complete waits for the rate limiter, then calls the wrapped provider
// through the breaker under the per-call timeout.
func (r *Resilient) Complete(ctx context.Context, system, user string) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	call := func() (string, error) {
		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		text, err := r.next.Complete(callCtx, system, user)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("provider call timed out after %s", r.timeout)
		}
		return text, err
	}

	if r.breaker == nil {
		return call()
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return "", err
	}
	return result.(string), nil
}

// State reports the breaker state, or "disabled" when there is no breaker.
func (r *Resilient) State() string {
	if r.breaker == nil {
		return "disabled"
	}
	return r.breaker.State().String()
}
