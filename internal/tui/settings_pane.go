package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agman/internal/agent"
	"github.com/aristath/agman/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget     string
	backend        string
	command        string
	args           string
	maxIdleRetries string
	pollInterval   string
	logLevel       string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFields()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFields() {
	m.saveTarget = "global"
	m.backend = m.config.Agent.Backend
	m.command = m.config.Agent.Command
	m.args = strings.Join(m.config.Agent.Args, " ")
	m.maxIdleRetries = strconv.Itoa(m.config.Runner.MaxIdleRetries)
	m.pollInterval = m.config.Poll.Interval.String()
	m.logLevel = m.config.Log.Level
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	backends := []huh.Option[string]{}
	for _, name := range agent.Presets() {
		backends = append(backends, huh.NewOption(name, name))
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global ("+m.globalPath+")", "global"),
					huh.NewOption("Project ("+m.projectPath+")", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("backend").
				Title("Agent Backend").
				Options(backends...).
				Value(&m.backend),

			huh.NewInput().
				Key("command").
				Title("Custom Command").
				Description("Replaces the backend preset when set").
				Value(&m.command),

			huh.NewInput().
				Key("args").
				Title("Extra Arguments").
				Value(&m.args),
		).Title("Agent"),

		huh.NewGroup(
			huh.NewInput().
				Key("maxIdleRetries").
				Title("Max Idle Retries").
				Description("Agent runs without a signal before a task stops; 0 retries forever").
				Value(&m.maxIdleRetries).
				Validate(validateNonNegative),

			huh.NewInput().
				Key("pollInterval").
				Title("Review Poll Interval").
				Value(&m.pollInterval).
				Validate(validateDuration),

			huh.NewSelect[string]().
				Key("logLevel").
				Title("Log Level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&m.logLevel),
		).Title("Runner"),
	)
}

func validateNonNegative(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return fmt.Errorf("enter a whole number of at least 0")
	}
	return nil
}

func validateDuration(s string) error {
	var d config.Duration
	if err := d.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return err
	}
	if d.Duration <= 0 {
		return fmt.Errorf("interval must be positive")
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
		m.err = m.applyFormToConfig()
		if m.err == nil {
			target := m.globalPath
			if m.saveTarget == "project" {
				target = m.projectPath
			}
			m.err = config.Save(m.config, target)
		}
		m.saved = m.err == nil
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
func (m *SettingsPaneModel) applyFormToConfig() error {
	retries, err := strconv.Atoi(strings.TrimSpace(m.maxIdleRetries))
	if err != nil {
		return fmt.Errorf("max idle retries: %w", err)
	}
	var interval config.Duration
	if err := interval.UnmarshalText([]byte(strings.TrimSpace(m.pollInterval))); err != nil {
		return err
	}

	m.config.Agent.Backend = m.backend
	m.config.Agent.Command = strings.TrimSpace(m.command)
	m.config.Agent.Args = strings.Fields(m.args)
	m.config.Runner.MaxIdleRetries = retries
	m.config.Poll.Interval = interval
	m.config.Log.Level = m.logLevel
	return nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
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
		Render("⚙ Settings")

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

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.loadFields()
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
