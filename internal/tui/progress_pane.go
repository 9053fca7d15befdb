package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/crew/internal/events"
	"github.com/aristath/crew/internal/workflow"
)

// ProgressPaneModel shows task counts for the running workflow.
type ProgressPaneModel struct {
	name       string
	total      int
	completed  int
	inProgress int
	failed     int
	pending    int
	stalled    bool
	done       bool
	width      int
	height     int
	focused    bool
}

// NewProgressPaneModel creates a progress pane seeded from w.
func NewProgressPaneModel(w *workflow.Workflow) ProgressPaneModel {
	if w == nil {
		return ProgressPaneModel{}
	}
	counts := w.StateCounts()
	return ProgressPaneModel{
		name:       w.Name,
		total:      w.TaskCount(),
		completed:  counts[workflow.TaskCompleted],
		inProgress: counts[workflow.TaskInProgress],
		failed:     counts[workflow.TaskFailed],
		pending:    counts[workflow.TaskPending],
		done:       w.Completed,
	}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.WorkflowProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.inProgress = msg.InProgress
		m.failed = msg.Failed
		m.pending = msg.Pending
	case events.WorkflowStalledEvent:
		m.stalled = true
	case events.WorkflowCompletedEvent:
		m.done = true
		m.stalled = false
	}
	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	if m.name != "" {
		title = StyleTitle.Render("Progress: " + m.name)
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:       %d\n", m.total)
	fmt.Fprintf(&b, "Completed:   %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
	fmt.Fprintf(&b, "In progress: %s\n", StyleStatusRunning.Render(fmt.Sprint(m.inProgress)))
	fmt.Fprintf(&b, "Failed:      %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
	fmt.Fprintf(&b, "Pending:     %s\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		b.WriteString(m.bar(min(m.width-12, 40)))
		b.WriteString("\n")
	}
	switch {
	case m.done:
		b.WriteString(StyleStatusComplete.Render("Workflow completed"))
	case m.stalled:
		b.WriteString(StyleStatusFailed.Render("Stalled: nothing left is ready"))
	}

	return focusStyle(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m ProgressPaneModel) bar(width int) string {
	width = max(width, 1)
	completedWidth := m.completed * width / m.total
	failedWidth := m.failed * width / m.total
	runningWidth := m.inProgress * width / m.total
	pendingWidth := max(0, width-completedWidth-failedWidth-runningWidth)

	bar := StyleStatusComplete.Render(strings.Repeat("=", completedWidth))
	bar += StyleStatusFailed.Render(strings.Repeat("!", failedWidth))
	bar += StyleStatusRunning.Render(strings.Repeat("-", runningWidth))
	bar += StyleStatusPending.Render(strings.Repeat(".", pendingWidth))
	return fmt.Sprintf("[%s]  %d/%d", bar, m.completed, m.total)
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
