package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/crew/internal/events"
)

// maxLogLines bounds the run log kept in memory.
const maxLogLines = 1000

// LogPaneModel follows the run's execution log.
type LogPaneModel struct {
	lines    []string
	viewport viewport.Model
	follow   bool // Stick to the bottom as lines arrive
	width    int
	height   int
	focused  bool
}

// NewLogPaneModel creates an empty log pane.
func NewLogPaneModel() LogPaneModel {
	return LogPaneModel{viewport: viewport.New(0, 0), follow: true}
}

// Update handles messages for the log pane.
func (m LogPaneModel) Update(msg tea.Msg) (LogPaneModel, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case events.LogLineEvent:
		m.lines = append(m.lines, msg.Line)
		if len(m.lines) > maxLogLines {
			m.lines = m.lines[len(m.lines)-maxLogLines:]
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if m.follow {
			m.viewport.GotoBottom()
		}
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		m.viewport, cmd = m.viewport.Update(msg)
		m.follow = m.viewport.AtBottom()
	}
	return m, cmd
}

// View renders the log pane.
func (m LogPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	title := StyleTitle.Render("Run log")
	return focusStyle(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(title + "\n" + m.viewport.View())
}

// Lines returns the log lines received so far.
func (m LogPaneModel) Lines() []string {
	return m.lines
}

// SetSize updates the pane dimensions.
func (m *LogPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-4, 10)
	m.viewport.Height = max(h-3, 3)
}

// SetFocused updates the focus state.
func (m *LogPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
