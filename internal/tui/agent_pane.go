package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/crew/internal/events"
	"github.com/aristath/crew/internal/workflow"
)

// Agent display states.
const (
	agentIdle    = "idle"
	agentWorking = "working"
	agentFailed  = "failed"
)

// AgentState is what the pane knows about one agent.
type AgentState struct {
	ID        string
	Name      string
	Role      string
	Status    string
	TaskTitle string // Title of the current or last task
	Completed int
	History   []string
}

// AgentPaneModel lists the workflow's agents next to the selected agent's
// history.
type AgentPaneModel struct {
	agents      map[string]*AgentState // agentID -> state
	agentOrder  []string               // insertion order for display
	taskTitles  map[string]string      // taskID -> title
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewAgentPaneModel creates an agent pane seeded with w's agents and tasks.
func NewAgentPaneModel(w *workflow.Workflow) AgentPaneModel {
	m := AgentPaneModel{
		agents:     make(map[string]*AgentState),
		taskTitles: make(map[string]string),
		viewport:   viewport.New(0, 0),
	}
	if w == nil {
		return m
	}
	for _, t := range w.Tasks() {
		m.taskTitles[t.ID] = t.Title
	}
	for _, a := range w.Agents() {
		st := &AgentState{
			ID:        a.ID,
			Name:      a.Name,
			Role:      string(a.Role),
			Status:    agentIdle,
			Completed: a.Counter(workflow.StateCompletedTasks),
		}
		if a.CurrentTask != "" {
			st.Status = agentWorking
			st.TaskTitle = m.taskTitles[a.CurrentTask]
		}
		m.agents[a.ID] = st
		m.agentOrder = append(m.agentOrder, a.ID)
	}
	m.updateViewportContent()
	return m
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the agent pane.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.agentOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskAssignedEvent:
		m.taskTitles[msg.TaskID] = msg.TaskTitle
		agent := m.ensure(msg.AgentID, msg.AgentName, msg.AgentRole)
		agent.Status = agentWorking
		agent.TaskTitle = msg.TaskTitle
		agent.History = append(agent.History, fmt.Sprintf("[%s] assigned %q", clock(msg.Timestamp), msg.TaskTitle))
		return m, m.refresh(msg.AgentID)

	case events.TaskCompletedEvent:
		if agent, ok := m.agents[msg.AgentID]; ok {
			agent.Status = agentIdle
			agent.Completed++
			agent.History = append(agent.History,
				fmt.Sprintf("[%s] completed %q in %v", clock(msg.Timestamp), m.taskTitles[msg.TaskID], msg.Duration.Round(time.Millisecond)),
				indentLines(msg.Result))
			return m, m.refresh(msg.AgentID)
		}

	case events.TaskFailedEvent:
		if agent, ok := m.agents[msg.AgentID]; ok {
			agent.Status = agentFailed
			agent.History = append(agent.History,
				fmt.Sprintf("[%s] failed %q: %s", clock(msg.Timestamp), m.taskTitles[msg.TaskID], msg.Reason))
			return m, m.refresh(msg.AgentID)
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// ensure returns the state for an agent, adding it when it joined after the
// pane was built.
func (m *AgentPaneModel) ensure(id, name, role string) *AgentState {
	if agent, ok := m.agents[id]; ok {
		return agent
	}
	agent := &AgentState{ID: id, Name: name, Role: role, Status: agentIdle}
	m.agents[id] = agent
	m.agentOrder = append(m.agentOrder, id)
	if len(m.agentOrder) == 1 {
		m.selectedIdx = 0
	}
	return agent
}

// refresh schedules a debounced viewport update when agentID is selected.
func (m *AgentPaneModel) refresh(agentID string) tea.Cmd {
	if m.selectedAgentID() != agentID {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// View renders the agent pane.
func (m AgentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderAgentList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	return focusStyle(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m AgentPaneModel) renderAgentList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Agents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.agentOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("No agents"))
	}
	for i, id := range m.agentOrder {
		agent := m.agents[id]
		label := fmt.Sprintf("%s (%s) %d", agent.Name, agent.Role, agent.Completed)
		if len(label) > width-3 {
			label = label[:width-6] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(agent.Status), label)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case agentWorking:
		return StyleStatusRunning.Render("●")
	case agentFailed:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m AgentPaneModel) selectedAgentID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.agentOrder) {
		return m.agentOrder[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected agent, or nil when there are none.
func (m AgentPaneModel) Selected() *AgentState {
	return m.agents[m.selectedAgentID()]
}

func (m *AgentPaneModel) updateViewportContent() {
	agent := m.Selected()
	if agent == nil {
		m.viewport.SetContent("No agents in this workflow.")
		return
	}
	header := fmt.Sprintf("%s, %s", agent.Name, agent.Role)
	if agent.Status == agentWorking {
		header += fmt.Sprintf("\nworking on %q", agent.TaskTitle)
	}
	body := strings.Join(agent.History, "\n")
	if body == "" {
		body = "Waiting for tasks..."
	}
	m.viewport.SetContent(header + "\n\n" + body)
	m.viewport.GotoBottom()
}

func (m *AgentPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-28-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func clock(t time.Time) string {
	return t.Format("15:04:05")
}

func indentLines(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
