package wizard

import (
	"bytes"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/libertydev/internal/application"
)

func TestInitWizardTogglesOptions(t *testing.T) {
	model := newInitWizardModel(minimalDetect())

	model.toggle() // hotTests
	if !model.options[0].value {
		t.Fatalf("expected hotTests toggled on")
	}

	model.moveCursor(2)
	model.toggle() // debug
	cfg := model.toConfig()
	if !cfg.HotTests {
		t.Fatalf("expected hot tests in config")
	}
	if cfg.Debug {
		t.Fatalf("expected debug toggled off")
	}
	if !cfg.RecompileDependencies {
		t.Fatalf("untouched option changed")
	}
}

func TestInitWizardSelectsModule(t *testing.T) {
	detected := minimalDetect()
	detected.Candidates = []string{"demo:a", "demo:b", "demo:c"}
	model := newInitWizardModel(detected)

	model.cycleModule(-1)
	if got := model.toConfig().Module; got != "demo:c" {
		t.Fatalf("expected wrap to last candidate, got %s", got)
	}
	model.cycleModule(1)
	model.cycleModule(1)
	if got := model.toConfig().Module; got != "demo:b" {
		t.Fatalf("expected demo:b, got %s", got)
	}

	model.moveCursor(1)
	model.toggle()
	if !model.options[0].value {
		t.Fatalf("first option row follows the module row")
	}
}

func TestRunInitWizardCompletes(t *testing.T) {
	var out bytes.Buffer
	stdin := strings.NewReader("\r\r\r")
	cfg, confirmed, err := runInitWizard(minimalDetect(), &out, stdin)
	if err != nil {
		t.Fatalf("wizard error: %v", err)
	}
	if !confirmed {
		t.Fatalf("expected wizard to confirm")
	}
	if cfg.ServerName != "defaultServer" || cfg.DebugPort != 7777 {
		t.Fatalf("expected detected config preserved, got %+v", cfg)
	}
}

func TestInitWizardMoveCursor(t *testing.T) {
	model := newInitWizardModel(minimalDetect())
	model.moveCursor(1)
	if model.cursor != 1 {
		t.Fatalf("expected cursor 1, got %d", model.cursor)
	}
	model.moveCursor(-5)
	if model.cursor != 0 {
		t.Fatalf("expected cursor 0, got %d", model.cursor)
	}
	model.moveCursor(len(model.options) + 5)
	if model.cursor != len(model.options)-1 {
		t.Fatalf("expected cursor at max %d, got %d", len(model.options)-1, model.cursor)
	}
}

func TestInitWizardUpdateTransitions(t *testing.T) {
	model := newInitWizardModel(minimalDetect())
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if model.state != stateEdit {
		t.Fatalf("expected edit state, got %d", model.state)
	}
	model.Update(tea.KeyMsg{Type: tea.KeyDown})
	model.Update(tea.KeyMsg{Type: tea.KeySpace})
	if model.options[1].value == minimalDetect().Config.RecompileDependencies {
		t.Fatalf("expected space to toggle the option under the cursor")
	}
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if model.state != stateConfirm {
		t.Fatalf("expected confirm state, got %d", model.state)
	}
	model.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if model.state != stateEdit {
		t.Fatalf("expected edit state on esc, got %d", model.state)
	}
}

func TestInitWizardViewConfirm(t *testing.T) {
	model := newInitWizardModel(minimalDetect())
	model.state = stateConfirm
	view := model.View()
	if !strings.Contains(view, "Debug port: 7777") {
		t.Fatalf("expected debug port in view:\n%s", view)
	}
	if !strings.Contains(view, "defaultServer") {
		t.Fatalf("expected server name in view")
	}
}

func minimalDetect() application.DetectResult {
	return application.DetectResult{
		Config:  application.DefaultConfig(),
		Modules: []string{"demo:lib", "demo:app"},
	}
}
