package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/crew/internal/config"
)

// Save targets
const (
	saveGlobal  = "global"
	saveProject = "project"
)

// SettingsPaneModel edits provider and scheduler settings. Changes apply
// to the next run, not the one on screen.
type SettingsPaneModel struct {
	form    *huh.Form
	config  *config.Config
	paths   config.Paths
	width   int
	height  int
	visible bool
	saved   bool
	err     error

	// Form field bindings
	saveTarget   string
	providerType string
	command      string
	model        string
	strategy     string
	concurrency  string
	taskTimeout  string
}

// NewSettingsPaneModel creates a settings pane over cfg.
func NewSettingsPaneModel(cfg *config.Config, paths config.Paths) SettingsPaneModel {
	m := SettingsPaneModel{
		config: cfg,
		paths:  paths,
	}
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFields() {
	m.saveTarget = saveGlobal
	m.providerType = m.config.Provider.Type
	m.command = m.config.Provider.Command
	m.model = m.config.Provider.Model
	m.strategy = m.config.Scheduler.Strategy
	m.concurrency = strconv.Itoa(m.config.Scheduler.Concurrency)
	m.taskTimeout = m.config.Scheduler.TaskTimeout.Std().String()
}

func (m *SettingsPaneModel) buildForm() {
	m.loadFields()
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global ("+m.paths.Global+")", saveGlobal),
					huh.NewOption("Project ("+m.paths.Project+")", saveProject),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("providerType").
				Title("Provider").
				Options(
					huh.NewOption("CLI", "cli"),
					huh.NewOption("Echo (dry run)", "echo"),
				).
				Value(&m.providerType),

			huh.NewInput().
				Key("command").
				Title("Command").
				Value(&m.command).
				Placeholder("claude"),

			huh.NewInput().
				Key("model").
				Title("Model").
				Value(&m.model).
				Placeholder("default"),
		).Title("Provider Settings"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("strategy").
				Title("Assignment Strategy").
				Options(
					huh.NewOption("First idle agent", "first_idle"),
					huh.NewOption("Best skill match", "skill_match"),
					huh.NewOption("Least loaded agent", "least_loaded"),
				).
				Value(&m.strategy),

			huh.NewInput().
				Key("concurrency").
				Title("Parallel Provider Calls").
				Value(&m.concurrency).
				Validate(validateConcurrency),

			huh.NewInput().
				Key("taskTimeout").
				Title("Task Timeout").
				Value(&m.taskTimeout).
				Placeholder("10m0s").
				Validate(validateTimeout),
		).Title("Scheduler Settings"),
	)
}

func validateConcurrency(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a whole number of at least 1")
	}
	return nil
}

func validateTimeout(s string) error {
	var d config.Duration
	if err := d.UnmarshalJSON([]byte(strconv.Quote(s))); err != nil || d < 0 {
		return fmt.Errorf("must be a duration like 90s or 10m")
	}
	return nil
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.err = m.save()
		m.saved = m.err == nil
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// save applies the form to the config, validates, and writes it to the
// chosen target.
func (m *SettingsPaneModel) save() error {
	next := *m.config
	next.Provider.Type = m.providerType
	next.Provider.Command = m.command
	next.Provider.Model = m.model
	next.Scheduler.Strategy = m.strategy
	if n, err := strconv.Atoi(m.concurrency); err == nil {
		next.Scheduler.Concurrency = n
	}
	var timeout config.Duration
	if err := timeout.UnmarshalJSON([]byte(strconv.Quote(m.taskTimeout))); err == nil {
		next.Scheduler.TaskTimeout = timeout
	}
	if err := next.Validate(); err != nil {
		return err
	}

	target := m.paths.Global
	if m.saveTarget == saveProject {
		target = m.paths.Project
	}
	if err := config.Save(&next, target); err != nil {
		return err
	}
	*m.config = next
	return nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible && m.err == nil {
		return ""
	}

	var content string
	switch {
	case m.err != nil:
		content = StyleStatusFailed.Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	default:
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings (applies to the next run)")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it rebuilds the
// form from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
