package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aristath/crew/internal/events"
	"github.com/aristath/crew/internal/persistence"
	"github.com/aristath/crew/internal/scheduler"
	"github.com/aristath/crew/internal/workflow"
)

// AssignTask binds a pending task to an idle agent. With StrictAssign the
// task must also be ready. Nothing changes when an error is returned,
// except for a PersistenceError where the assignment stands.
func (s *Store) AssignTask(ctx context.Context, workflowID, taskID, agentID string) error {
	w, release, err := s.acquire(workflowID)
	if err != nil {
		return err
	}
	defer release()

	opts := scheduler.AssignOptions{RequireReady: s.opts.StrictAssign}
	if err := scheduler.AssignChecked(w, taskID, agentID, s.opts.Clock(), opts); err != nil {
		return err
	}

	task, _ := w.Task(taskID)
	agent, _ := w.Agent(agentID)
	s.opts.Metrics.RecordAssignment(string(agent.Role))
	s.opts.Bus.Publish(events.TopicTask, events.TaskAssignedEvent{
		Workflow:  w.ID,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		AgentRole: string(agent.Role),
		Timestamp: s.opts.Clock(),
	})
	return s.Save(ctx, w)
}

// RunTask executes the agent's current task with prompt appended to the
// task instruction. A provider failure marks the task Failed and is
// returned as an ExecutionError alongside the outcome.
func (s *Store) RunTask(ctx context.Context, workflowID, agentID, prompt string) (scheduler.Outcome, error) {
	w, release, err := s.acquire(workflowID)
	if err != nil {
		return scheduler.Outcome{}, err
	}
	defer release()

	outcome, err := s.executor.Execute(ctx, w, agentID, prompt)
	if err != nil {
		return outcome, err
	}

	s.opts.Metrics.RecordOutcome(string(outcome.Role), outcome.Success, outcome.Duration)
	if outcome.Success {
		s.opts.Bus.Publish(events.TopicTask, events.TaskCompletedEvent{
			Workflow:  w.ID,
			TaskID:    outcome.TaskID,
			AgentID:   outcome.AgentID,
			Result:    outcome.Text,
			Duration:  outcome.Duration,
			Timestamp: s.opts.Clock(),
		})
	} else {
		s.logger.Warn("task failed",
			zap.String("workflow_id", w.ID),
			zap.String("task_id", outcome.TaskID),
			zap.String("reason", outcome.Reason))
		s.opts.Bus.Publish(events.TopicTask, events.TaskFailedEvent{
			Workflow:  w.ID,
			TaskID:    outcome.TaskID,
			AgentID:   outcome.AgentID,
			Reason:    outcome.Reason,
			Duration:  outcome.Duration,
			Timestamp: s.opts.Clock(),
		})
	}

	return outcome, errors.Join(outcome.Err(), s.Save(ctx, w))
}

// RunToCompletion drives the workflow one task at a time until it
// completes or stalls. See scheduler.Loop for the report semantics.
func (s *Store) RunToCompletion(ctx context.Context, workflowID string) (scheduler.Report, error) {
	return s.runWith(ctx, workflowID, func(cfg scheduler.LoopConfig, w *workflow.Workflow) (scheduler.Report, error) {
		return scheduler.NewLoop(cfg).RunToCompletion(ctx, w)
	})
}

// RunParallel drives the workflow with one worker per agent, running
// independent tasks concurrently.
func (s *Store) RunParallel(ctx context.Context, workflowID string) (scheduler.Report, error) {
	return s.runWith(ctx, workflowID, func(cfg scheduler.LoopConfig, w *workflow.Workflow) (scheduler.Report, error) {
		return scheduler.NewParallelRunner(cfg, s.opts.Concurrency).Run(ctx, w)
	})
}

type runner func(cfg scheduler.LoopConfig, w *workflow.Workflow) (scheduler.Report, error)

func (s *Store) runWith(ctx context.Context, workflowID string, run runner) (scheduler.Report, error) {
	w, release, err := s.acquire(workflowID)
	if err != nil {
		return scheduler.Report{}, err
	}
	defer release()

	wasCompleted := w.Completed
	cfg := scheduler.LoopConfig{
		Executor: s.executor,
		Strategy: s.opts.Strategy,
		Saver:    s,
		Bus:      s.opts.Bus,
		Metrics:  s.opts.Metrics,
		Logger:   s.opts.Logger,
		Prompt:   s.opts.RunPrompt,
	}
	report, err := run(cfg, w)
	if err != nil && !workflow.IsPersistence(err) {
		return report, err
	}

	if report.Completed && !wasCompleted {
		if rerr := s.writeResults(ctx, w, &report); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return report, err
}

// writeResults exports the results when the gateway supports it and notes
// the location in the run log.
func (s *Store) writeResults(ctx context.Context, w *workflow.Workflow, report *scheduler.Report) error {
	rw, ok := s.gateway.(persistence.ResultsWriter)
	if !ok {
		return nil
	}
	loc, err := rw.WriteResults(context.WithoutCancel(ctx), w)
	if err != nil {
		s.opts.Metrics.RecordPersistenceError("results")
		s.logger.Error("failed to write results", zap.String("workflow_id", w.ID), zap.Error(err))
		report.Log = append(report.Log, fmt.Sprintf("Could not save results: %v", err))
		return &workflow.PersistenceError{WorkflowID: w.ID, Op: "results", Err: err}
	}
	report.Log = append(report.Log, fmt.Sprintf("Results saved to %s", loc))
	return nil
}
