package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aristath/crew/internal/events"
	"github.com/aristath/crew/internal/mcpserver"
	"github.com/aristath/crew/internal/scheduler"
	"github.com/aristath/crew/internal/tui"
	"github.com/aristath/crew/internal/workflow"
)

func serveCmd(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	a, err := newApp(ctx, appOptions{configPath: *configPath, serveHTTP: true})
	if err != nil {
		return err
	}
	defer a.Close()

	mcpserver.Version = version
	s := mcpserver.New(a.store, a.logger)
	a.logger.Info("serving MCP over stdio", zap.Int("workflows", len(a.store.WorkflowIDs())))
	err = mcpserver.ServeStdio(ctx, s, stdin, stdout, a.logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}

func runCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("run", stderr)
	configPath := configFlag(fs)
	parallel := fs.Bool("parallel", false, "run independent tasks on different agents concurrently")
	dashboard := fs.Bool("tui", false, "watch the run in a terminal dashboard")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return usageError{"expected exactly one workflow id"}
	}
	id := positional[0]

	// Warnings reach the dashboard's log pane since the process log goes
	// to a file while it is up.
	var bus *events.EventBus
	opts := appOptions{configPath: *configPath, serveHTTP: true, logFile: *dashboard}
	if *dashboard {
		opts.logHooks = append(opts.logHooks, func(e zapcore.Entry) error {
			if e.Level >= zapcore.WarnLevel && bus != nil {
				bus.Publish(events.TopicWorkflow, events.LogLineEvent{
					Workflow:  id,
					Line:      fmt.Sprintf("[%s] %s", e.Level.CapitalString(), e.Message),
					Timestamp: e.Time,
				})
			}
			return nil
		})
	}

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	bus = a.bus

	runner := a.store.RunToCompletion
	if *parallel {
		runner = a.store.RunParallel
	}

	var report scheduler.Report
	if *dashboard {
		report, err = runWithDashboard(ctx, a, id, runner)
	} else {
		report, err = runner(ctx, id)
	}
	for _, line := range report.Log {
		fmt.Fprintln(stdout, line)
	}
	switch {
	case err != nil && !workflow.IsPersistence(err):
		return err
	case err != nil:
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}
	if !report.Completed {
		return exitError(1)
	}
	return nil
}

// runWithDashboard runs the workflow while a Bubble Tea program renders its
// events. Quitting the dashboard cancels the run.
func runWithDashboard(ctx context.Context, a *app, id string,
	runner func(context.Context, string) (scheduler.Report, error)) (scheduler.Report, error) {
	w, err := a.store.GetWorkflow(id)
	if err != nil {
		return scheduler.Report{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.New(a.bus, w, a.cfg, a.paths)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	type result struct {
		report scheduler.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := runner(runCtx, id)
		program.Send(tui.RunFinishedMsg{Report: report, Err: err})
		done <- result{report, err}
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		a.logger.Warn("dashboard exited with error", zap.Error(err))
	}

	// Dashboard closed: stop dispatching and wait for in-flight tasks.
	cancel()
	select {
	case r := <-done:
		return r.report, r.err
	case <-time.After(30 * time.Second):
		return scheduler.Report{}, fmt.Errorf("workflow %s did not stop within 30s of cancellation", id)
	}
}

func listCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("list", stderr)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	a, err := newApp(ctx, appOptions{configPath: *configPath})
	if err != nil {
		return err
	}
	defer a.Close()

	summaries := a.store.ListWorkflows()
	if len(summaries) == 0 {
		fmt.Fprintln(stdout, "No workflows found.")
		return nil
	}

	t := newTable("ID", "NAME", "TASKS", "AGENTS", "COMPLETED", "CREATED")
	for _, s := range summaries {
		t.Row(s.ID, s.Name, strconv.Itoa(s.TasksCount), strconv.Itoa(s.AgentsCount),
			strconv.FormatBool(s.Completed), s.CreatedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(stdout, t.Render())
	return nil
}

func showCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("show", stderr)
	configPath := configFlag(fs)
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return usageError{"expected exactly one workflow id"}
	}

	a, err := newApp(ctx, appOptions{configPath: *configPath})
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.store.GetWorkflow(positional[0])
	if err != nil {
		return err
	}

	status := "in progress"
	if w.Completed {
		status = "completed"
	}
	fmt.Fprintf(stdout, "%s (%s)\n%s\nStatus: %s, %d/%d tasks completed\n\n",
		w.Name, w.ID, w.Description, status, w.CompletedCount(), w.TaskCount())

	tasks := newTable("ID", "TITLE", "STATE", "AGENT", "DEPENDS ON")
	for _, t := range w.Tasks() {
		agent := "-"
		if ag, ok := w.Agent(t.AssignedAgentID); ok {
			agent = ag.Name
		}
		tasks.Row(t.ID, t.Title, string(t.State), agent, strings.Join(t.DependsOn, ", "))
	}
	fmt.Fprintln(stdout, tasks.Render())

	agents := newTable("ID", "NAME", "ROLE", "SKILLS", "CURRENT TASK", "COMPLETED")
	for _, ag := range w.Agents() {
		current := "-"
		if t, ok := w.Task(ag.CurrentTask); ok {
			current = t.Title
		}
		agents.Row(ag.ID, ag.Name, string(ag.Role), strings.Join(ag.Skills, ", "), current,
			strconv.Itoa(ag.Counter(workflow.StateCompletedTasks)))
	}
	fmt.Fprintln(stdout, agents.Render())
	return nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}
