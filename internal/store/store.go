// Package store owns the live workflows and exposes the operations the
// transports call. Every mutation is serialized per workflow id and written
// through to the persistence gateway.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aristath/crew/internal/config"
	"github.com/aristath/crew/internal/events"
	"github.com/aristath/crew/internal/idgen"
	"github.com/aristath/crew/internal/metrics"
	"github.com/aristath/crew/internal/persistence"
	"github.com/aristath/crew/internal/provider"
	"github.com/aristath/crew/internal/scheduler"
	"github.com/aristath/crew/internal/workflow"
)

// Options tunes a Store. The zero value is usable.
type Options struct {
	Strategy     scheduler.AssignmentStrategy // Defaults to first idle agent
	StrictAssign bool                         // Reject direct assignment of unready tasks
	TaskTimeout  time.Duration                // Per provider call, 0 disables
	Concurrency  int                          // Provider calls in flight during RunParallel
	RunPrompt    string                       // Extra prompt for full-workflow runs
	Instructions *provider.Instructions       // Defaults to the built-in role descriptions
	Bus          *events.EventBus
	Metrics      *metrics.Collector
	Logger       *zap.Logger
	Clock        func() time.Time
	Tracer       trace.Tracer
}

// OptionsFromConfig maps the scheduler and role sections of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	strategy, err := scheduler.StrategyByName(cfg.Scheduler.Strategy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Strategy:     strategy,
		StrictAssign: cfg.Scheduler.StrictAssign,
		TaskTimeout:  cfg.Scheduler.TaskTimeout.Std(),
		Concurrency:  cfg.Scheduler.Concurrency,
		RunPrompt:    cfg.Scheduler.RunPrompt,
		Instructions: provider.NewInstructions(provider.RoleOverrides(cfg.Roles)),
	}, nil
}

// Store holds every workflow in memory, backed by a persistence gateway.
//
// Live workflows are only touched under their per-id lock. After each
// mutation the store keeps a cloned snapshot, and read operations serve
// from snapshots so they never wait for a running workflow.
type Store struct {
	gateway  persistence.Gateway
	ids      idgen.Generator
	executor *scheduler.Executor
	opts     Options
	logger   *zap.Logger
	locks    *scheduler.WorkflowLocks

	mu        sync.RWMutex
	live      map[string]*workflow.Workflow
	snapshots map[string]*workflow.Workflow
	order     []string
}

// New creates an empty store. Call Open to load persisted workflows.
func New(gateway persistence.Gateway, p provider.Provider, ids idgen.Generator, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Instructions == nil {
		opts.Instructions = provider.NewInstructions(nil)
	}
	if opts.RunPrompt == "" {
		opts.RunPrompt = config.DefaultRunPrompt
	}
	if ids == nil {
		ids = idgen.NewUUIDGenerator(8)
	}

	execOpts := []scheduler.ExecutorOption{
		scheduler.WithTaskTimeout(opts.TaskTimeout),
		scheduler.WithClock(opts.Clock),
	}
	if opts.Tracer != nil {
		execOpts = append(execOpts, scheduler.WithTracer(opts.Tracer))
	}

	return &Store{
		gateway:   gateway,
		ids:       ids,
		executor:  scheduler.NewExecutor(p, opts.Instructions, execOpts...),
		opts:      opts,
		logger:    opts.Logger.With(zap.String("component", "store")),
		locks:     scheduler.NewWorkflowLocks(),
		live:      make(map[string]*workflow.Workflow),
		snapshots: make(map[string]*workflow.Workflow),
	}
}

// Open loads every persisted workflow. Loaded workflows are audited and
// problems are logged, never repaired: a workflow with a dependency cycle
// still loads and will stall when run.
func (s *Store) Open(ctx context.Context) error {
	loaded, err := s.gateway.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range loaded {
		if _, exists := s.live[w.ID]; exists {
			s.logger.Warn("duplicate workflow id in store, keeping the first", zap.String("workflow_id", w.ID))
			continue
		}
		s.audit(w)
		s.live[w.ID] = w
		s.snapshots[w.ID] = w.Clone()
		s.order = append(s.order, w.ID)
	}
	s.logger.Info("loaded workflows", zap.Int("count", len(s.order)))
	return nil
}

func (s *Store) audit(w *workflow.Workflow) {
	logger := s.logger.With(zap.String("workflow_id", w.ID))
	if _, err := workflow.Validate(w); err != nil {
		logger.Warn("workflow graph is invalid", zap.Error(err))
	}
	if err := w.CheckInvariants(); err != nil {
		logger.Warn("workflow state is inconsistent", zap.Error(err))
	}
	if n := w.StateCounts()[workflow.TaskInProgress]; n > 0 {
		logger.Warn("workflow has tasks left in progress by a previous run", zap.Int("in_progress", n))
	}
}

// Close closes the gateway.
func (s *Store) Close() error {
	return s.gateway.Close()
}

// acquire locks the live workflow with the given id. The caller must call
// the returned release func.
func (s *Store) acquire(id string) (*workflow.Workflow, func(), error) {
	s.mu.RLock()
	_, ok := s.live[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, workflow.NotFound(workflow.ErrWorkflowNotFound, id)
	}

	s.locks.Lock(id)
	s.mu.RLock()
	w := s.live[id]
	s.mu.RUnlock()
	return w, func() { s.locks.Unlock(id) }, nil
}

// snapshot returns the last published state of a workflow. It must not be
// mutated.
func (s *Store) snapshot(id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.snapshots[id]
	if !ok {
		return nil, workflow.NotFound(workflow.ErrWorkflowNotFound, id)
	}
	return w, nil
}

func (s *Store) publish(w *workflow.Workflow) {
	cp := w.Clone()
	s.mu.Lock()
	s.snapshots[w.ID] = cp
	s.mu.Unlock()
}

// Save publishes a snapshot of w and writes it to the gateway. A gateway
// failure comes back as a PersistenceError; the in-memory state stands.
func (s *Store) Save(ctx context.Context, w *workflow.Workflow) error {
	s.publish(w)
	if err := s.gateway.Save(ctx, w); err != nil {
		s.opts.Metrics.RecordPersistenceError("save")
		s.logger.Error("failed to save workflow", zap.String("workflow_id", w.ID), zap.Error(err))
		return &workflow.PersistenceError{WorkflowID: w.ID, Op: "save", Err: err}
	}
	return nil
}

// newID draws ids until taken reports false.
func (s *Store) newID(taken func(string) bool) string {
	for {
		id := s.ids.NewID()
		if !taken(id) {
			return id
		}
	}
}
