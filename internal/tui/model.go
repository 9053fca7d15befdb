// Package tui renders a live view of a workflow run: agents and their task
// history, overall progress, and the run log.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/crew/internal/config"
	"github.com/aristath/crew/internal/events"
	"github.com/aristath/crew/internal/scheduler"
	"github.com/aristath/crew/internal/workflow"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneAgents PaneID = iota
	PaneLog
	PaneProgress
	paneCount
)

// RunFinishedMsg tells the model the run it is watching has returned.
type RunFinishedMsg struct {
	Report scheduler.Report
	Err    error
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	agentPane    AgentPaneModel
	logPane      LogPaneModel
	progressPane ProgressPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	workflowID   string
	width        int
	height       int
	quitting     bool
	showSettings bool
	finished     *RunFinishedMsg
}

// New creates a TUI model watching events for w. With a nil w it shows
// every workflow's events.
func New(bus *events.EventBus, w *workflow.Workflow, cfg *config.Config, paths config.Paths) Model {
	m := Model{
		agentPane:    NewAgentPaneModel(w),
		logPane:      NewLogPaneModel(),
		progressPane: NewProgressPaneModel(w),
		settingsPane: NewSettingsPaneModel(cfg, paths),
		focusedPane:  PaneAgents,
	}
	if w != nil {
		m.workflowID = w.ID
		m.eventSub = bus.SubscribeWorkflow(w.ID, 256)
	} else {
		m.eventSub = bus.SubscribeAll(256)
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, cmd
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			m.settingsPane.SetSize(m.width, m.height)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneAgents
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneLog
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneAgents:
				m.agentPane, cmd = m.agentPane.Update(msg)
			case PaneLog:
				m.logPane, cmd = m.logPane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case tickMsg:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)

	case RunFinishedMsg:
		m.finished = &msg

	case events.Event:
		if m.workflowID == "" || msg.WorkflowID() == m.workflowID {
			cmds = append(cmds, m.route(msg))
		}
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// route hands a bus event to the panes that display it.
func (m *Model) route(ev events.Event) tea.Cmd {
	var cmd tea.Cmd
	switch ev.(type) {
	case events.TaskAssignedEvent, events.TaskCompletedEvent, events.TaskFailedEvent:
		m.agentPane, cmd = m.agentPane.Update(ev)
	case events.LogLineEvent:
		m.logPane, cmd = m.logPane.Update(ev)
	case events.WorkflowProgressEvent, events.WorkflowStalledEvent, events.WorkflowCompletedEvent:
		m.progressPane, cmd = m.progressPane.Update(ev)
	}
	return cmd
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSettings {
		return m.settingsPane.View()
	}

	left := m.agentPane.View()
	right := lipgloss.JoinVertical(lipgloss.Left, m.logPane.View(), m.progressPane.View())
	main := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, main, m.statusLine())
}

func (m Model) statusLine() string {
	if m.finished == nil {
		return HelpView()
	}
	r := m.finished.Report
	status := fmt.Sprintf("Run finished: %d/%d tasks completed", r.CompletedTasks, r.TotalTasks)
	switch {
	case m.finished.Err != nil:
		status = StyleStatusFailed.Render(fmt.Sprintf("Run finished with errors: %v", m.finished.Err))
	case r.Completed:
		status = StyleStatusComplete.Render(status)
	case r.Cancelled:
		status = StyleStatusFailed.Render("Run cancelled. " + status)
	default:
		status = StyleStatusRunning.Render(status)
	}
	return status + "  " + HelpView()
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 45) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar
	logHeight := (availableHeight * 65) / 100

	m.agentPane.SetSize(leftWidth, availableHeight)
	m.logPane.SetSize(rightWidth, logHeight)
	m.progressPane.SetSize(rightWidth, availableHeight-logHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.agentPane.SetFocused(m.focusedPane == PaneAgents)
	m.logPane.SetFocused(m.focusedPane == PaneLog)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
