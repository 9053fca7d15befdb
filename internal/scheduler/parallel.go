package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/crew/internal/workflow"
)

// ParallelRunner executes a workflow with one worker per agent. Workers
// claim ready tasks under a shared mutex and call the provider outside it,
// so independent tasks run concurrently on different agents.
type ParallelRunner struct {
	cfg         LoopConfig
	concurrency int64
}

// NewParallelRunner creates a parallel runner. concurrency bounds the number
// of provider calls in flight (default 4).
func NewParallelRunner(cfg LoopConfig, concurrency int) *ParallelRunner {
	if concurrency <= 0 {
		concurrency = 4
	}
	cfg = cfg.withDefaults()
	cfg.Logger = cfg.Logger.With(zap.String("component", "parallel"))
	return &ParallelRunner{cfg: cfg, concurrency: int64(concurrency)}
}

// parallelRun is the state shared by the workers of one Run.
type parallelRun struct {
	*run
	mu       sync.Mutex
	cond     *sync.Cond
	sem      *semaphore.Weighted
	inFlight int
	stopped  bool
}

// Run drives w until it completes, stalls, or ctx is cancelled. The caller
// must hold the workflow's lock for the whole call. The report and error
// follow the same rules as Loop.RunToCompletion.
func (p *ParallelRunner) Run(ctx context.Context, w *workflow.Workflow) (Report, error) {
	r, done, err := startRun(ctx, p.cfg, w)
	if done || err != nil {
		return r.report, err
	}

	pr := &parallelRun{run: r, sem: semaphore.NewWeighted(p.concurrency)}
	pr.cond = sync.NewCond(&pr.mu)

	// Wake waiting workers when ctx ends
	stop := context.AfterFunc(ctx, func() {
		pr.mu.Lock()
		pr.cond.Broadcast()
		pr.mu.Unlock()
	})
	defer stop()

	var g errgroup.Group
	for _, agentID := range w.AgentIDs() {
		g.Go(func() error {
			p.worker(ctx, pr, agentID)
			return nil
		})
	}
	_ = g.Wait()

	return r.finish()
}

// worker claims and runs tasks for one agent until the run stops.
func (p *ParallelRunner) worker(ctx context.Context, pr *parallelRun, agentID string) {
	w := pr.w
	pr.mu.Lock()
	defer pr.mu.Unlock()

	for {
		switch {
		case pr.stopped || w.Completed:
			return
		case ctx.Err() != nil:
			if pr.inFlight == 0 {
				pr.cancel()
				pr.stopped = true
				pr.cond.Broadcast()
			}
			if pr.stopped {
				return
			}
			pr.cond.Wait()
			continue
		}

		taskID, claimable := p.claimFor(w, agentID)
		if taskID != "" && pr.sem.TryAcquire(1) {
			p.execute(ctx, pr, taskID, agentID)
			continue
		}

		if !claimable && pr.inFlight == 0 {
			// Nothing can be claimed by anyone and nothing will change
			if w.CompletedCount() < w.TaskCount() {
				pr.stall()
			}
			pr.stopped = true
			pr.cond.Broadcast()
			return
		}
		pr.cond.Wait()
	}
}

// claimFor walks ready tasks in order, handing each to the agent the
// strategy picks from the remaining idle pool. It returns the first task
// that lands on agentID, and whether any ready task could be placed at all.
func (p *ParallelRunner) claimFor(w *workflow.Workflow, agentID string) (string, bool) {
	agent, ok := w.Agent(agentID)
	if !ok || !agent.Idle() {
		return "", len(ReadyTasks(w)) > 0 && len(idleAgents(w)) > 0
	}

	pool := idleAgents(w)
	claimable := false
	for _, taskID := range ReadyTasks(w) {
		if len(pool) == 0 {
			break
		}
		task, _ := w.Task(taskID)
		chosen, ok := p.cfg.Strategy.Choose(task, pool)
		if !ok {
			continue
		}
		claimable = true
		if chosen == agentID {
			return taskID, true
		}
		pool = removeAgent(pool, chosen)
	}
	return "", claimable
}

func removeAgent(pool []*workflow.Agent, id string) []*workflow.Agent {
	out := make([]*workflow.Agent, 0, len(pool))
	for _, a := range pool {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

// execute assigns, runs and applies one task. Called with pr.mu held; the
// lock is released around the provider call.
func (p *ParallelRunner) execute(ctx context.Context, pr *parallelRun, taskID, agentID string) {
	w := pr.w
	exec := p.cfg.Executor
	defer pr.cond.Broadcast()

	if err := Assign(w, taskID, agentID, exec.Now()); err != nil {
		pr.sem.Release(1)
		pr.logf("Could not assign task %s to agent %s", taskID, agentID)
		return
	}
	pr.assigned(taskID, agentID)

	call, err := exec.Prepare(w, agentID, p.cfg.Prompt)
	if err != nil {
		pr.sem.Release(1)
		pr.logf("Could not execute task %s on agent %s", taskID, agentID)
		return
	}

	pr.inFlight++
	pr.cond.Broadcast()
	pr.mu.Unlock()

	outcome := exec.Invoke(ctx, call)
	pr.sem.Release(1)

	pr.mu.Lock()
	pr.inFlight--
	if err := exec.Apply(w, outcome); err != nil {
		pr.cfg.Logger.Error("failed to apply outcome", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	pr.finished(outcome)
}
