package wizard

import (
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/libertydev/internal/application"
)

type (
	wizardState int

	initWizardModel struct {
		state      wizardState
		options    []wizardOption
		candidates []string
		selected   int
		modules    int
		cursor     int
		confirmed  bool
		aborted    bool
		base       application.Config
	}

	wizardOption struct {
		label string
		value bool
		apply func(*application.Config, bool)
	}
)

const (
	stateIntro wizardState = iota
	stateEdit
	stateConfirm
)

// Run lets the user review the detected configuration. It reports false when
// the wizard was cancelled.
func Run(detected application.DetectResult, stdout io.Writer, stdin io.Reader) (application.Config, bool, error) {
	return runInitWizard(detected, stdout, stdin)
}

func runInitWizard(detected application.DetectResult, stdout io.Writer, stdin io.Reader) (application.Config, bool, error) {
	model := newInitWizardModel(detected)
	program := tea.NewProgram(model, tea.WithInput(stdin), tea.WithOutput(stdout))
	res, err := program.Run()
	if err != nil {
		return detected.Config, false, err
	}
	finalModel, ok := res.(*initWizardModel)
	if !ok {
		return detected.Config, false, fmt.Errorf("unexpected wizard state")
	}
	if finalModel.aborted || !finalModel.confirmed {
		return detected.Config, false, nil
	}
	return finalModel.toConfig(), true, nil
}

func newInitWizardModel(detected application.DetectResult) *initWizardModel {
	cfg := detected.Config
	m := &initWizardModel{
		state:      stateIntro,
		candidates: append([]string(nil), detected.Candidates...),
		modules:    len(detected.Modules),
		base:       cfg,
	}
	for i, c := range m.candidates {
		if c == cfg.Module {
			m.selected = i
		}
	}
	m.options = []wizardOption{
		{"Run tests automatically after each change (hotTests)", cfg.HotTests, func(c *application.Config, v bool) { c.HotTests = v }},
		{"Recompile downstream modules (recompileDependencies)", cfg.RecompileDependencies, func(c *application.Config, v bool) { c.RecompileDependencies = v }},
		{"Start the server in debug mode (debug)", cfg.Debug, func(c *application.Config, v bool) { c.Debug = v }},
		{"Run the server in a container (container)", cfg.Container, func(c *application.Config, v bool) { c.Container = v }},
		{"Accept feature licenses on install (acceptLicense)", cfg.AcceptLicense, func(c *application.Config, v bool) { c.AcceptLicense = v }},
	}
	return m
}

func (m *initWizardModel) Init() tea.Cmd {
	return nil
}

func (m *initWizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			switch m.state {
			case stateIntro:
				m.state = stateEdit
			case stateEdit:
				m.state = stateConfirm
			case stateConfirm:
				m.confirmed = true
				return m, tea.Quit
			}
		case "esc":
			if m.state == stateConfirm {
				m.state = stateEdit
			}
		case "up":
			if m.state == stateEdit {
				m.moveCursor(-1)
			}
		case "down":
			if m.state == stateEdit {
				m.moveCursor(1)
			}
		case " ", "space":
			if m.state == stateEdit {
				m.toggle()
			}
		case "left", "-":
			if m.state == stateEdit {
				m.cycleModule(-1)
			}
		case "right", "+":
			if m.state == stateEdit {
				m.cycleModule(1)
			}
		}
	}
	return m, nil
}

func (m *initWizardModel) View() string {
	switch m.state {
	case stateIntro:
		return m.viewIntro()
	case stateEdit:
		return m.viewEdit()
	case stateConfirm:
		return m.viewConfirm()
	default:
		return ""
	}
}

// rows is the number of selectable rows: the module choice, when there is
// one, followed by the options.
func (m *initWizardModel) rows() int {
	return m.moduleRows() + len(m.options)
}

func (m *initWizardModel) moduleRows() int {
	if len(m.candidates) > 1 {
		return 1
	}
	return 0
}

func (m *initWizardModel) moveCursor(delta int) {
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor > m.rows()-1 {
		m.cursor = m.rows() - 1
	}
}

func (m *initWizardModel) toggle() {
	idx := m.cursor - m.moduleRows()
	if idx < 0 || idx >= len(m.options) {
		return
	}
	m.options[idx].value = !m.options[idx].value
}

func (m *initWizardModel) cycleModule(delta int) {
	if m.moduleRows() == 0 || m.cursor != 0 {
		return
	}
	n := len(m.candidates)
	m.selected = ((m.selected+delta)%n + n) % n
}

func (m *initWizardModel) viewIntro() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nlibertydev init wizard\n\n")
	fmt.Fprintf(&b, "libertydev detected %d modules", m.modules)
	if len(m.candidates) > 1 {
		fmt.Fprintf(&b, " and %d runnable modules", len(m.candidates))
	}
	fmt.Fprintf(&b, ". The wizard helps you review dev mode settings.\n\n")
	fmt.Fprintf(&b, "Press Enter to continue, or Ctrl+C to cancel.\n")
	return b.String()
}

func (m *initWizardModel) viewEdit() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nReview dev mode settings\n\n")
	fmt.Fprintf(&b, "Use ↑/↓ to move, space to toggle, ←/→ to pick the module.\n\n")
	if m.moduleRows() > 0 {
		fmt.Fprintf(&b, "%sModule: %s\n\n", m.indicator(0), m.candidates[m.selected])
	}
	for i, opt := range m.options {
		mark := " "
		if opt.value {
			mark = "x"
		}
		fmt.Fprintf(&b, "%s[%s] %s\n", m.indicator(i+m.moduleRows()), mark, opt.label)
	}
	fmt.Fprintf(&b, "\nEnter to continue, q to cancel.\n")
	return b.String()
}

func (m *initWizardModel) indicator(row int) string {
	if m.cursor == row {
		return "> "
	}
	return "  "
}

func (m *initWizardModel) viewConfirm() string {
	cfg := m.toConfig()
	var b strings.Builder
	fmt.Fprintf(&b, "\nReady to write configuration\n\n")
	if cfg.Module != "" {
		fmt.Fprintf(&b, "Module: %s\n", cfg.Module)
	}
	fmt.Fprintf(&b, "Server: %s (%s)\n", cfg.ServerName, cfg.InstallDirectory)
	for _, opt := range m.options {
		state := "off"
		if opt.value {
			state = "on"
		}
		fmt.Fprintf(&b, "  %s: %s\n", opt.label, state)
	}
	if cfg.Debug {
		fmt.Fprintf(&b, "\nDebug port: %d\n", cfg.DebugPort)
	}
	fmt.Fprintf(&b, "\nPress Enter to save, Esc to go back, q to cancel.\n")
	return b.String()
}

func (m *initWizardModel) toConfig() application.Config {
	cfg := m.base
	cfg.Ignore = append([]string(nil), m.base.Ignore...)
	for _, opt := range m.options {
		opt.apply(&cfg, opt.value)
	}
	if m.moduleRows() > 0 {
		cfg.Module = m.candidates[m.selected]
	}
	return cfg
}
