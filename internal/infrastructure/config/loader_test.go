package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultPath)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	content := `version: 1
serverName: appServer
module: demo:app
hotTests: true
skipITs: true
debugPort: 8787
debounce: 250ms
serverStartTimeout: 2m
ignore:
  - "**/generated/**"
modules:
  demo:lib:
    skipTests: true
`
	cfg, err := Loader{}.Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerName != "appServer" || cfg.Module != "demo:app" {
		t.Fatalf("unexpected names: %+v", cfg)
	}
	if !cfg.HotTests || cfg.DebugPort != 8787 {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
	if cfg.Debounce != 250*time.Millisecond || cfg.ServerStartTimeout != 2*time.Minute {
		t.Fatalf("unexpected durations: %v %v", cfg.Debounce, cfg.ServerStartTimeout)
	}
	if cfg.Skip.SkipITs == nil || !*cfg.Skip.SkipITs || cfg.Skip.SkipTests != nil {
		t.Fatalf("unexpected skip: %+v", cfg.Skip)
	}
	if lib := cfg.ModuleSkip["demo:lib"]; lib.SkipTests == nil || !*lib.SkipTests {
		t.Fatalf("expected module skip block, got %+v", cfg.ModuleSkip)
	}
	if cfg.Ignore[len(cfg.Ignore)-1] != "**/generated/**" {
		t.Fatalf("expected extra ignore appended, got %v", cfg.Ignore)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	cfg, err := Loader{}.Load(writeConfig(t, "version: 1\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := application.DefaultConfig()
	if cfg.ServerName != want.ServerName || cfg.DebugPort != want.DebugPort || !cfg.Debug || !cfg.RecompileDependencies {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.VerifyTimeout != want.VerifyTimeout {
		t.Fatalf("verify timeout = %v", cfg.VerifyTimeout)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"duration", "debounce: soon\n", "debounce"},
		{"negative duration", "verifyTimeout: -1s\n", "verifyTimeout"},
		{"port", "debugPort: 70000\n", "debugPort"},
		{"version", "version: 2\n", "version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Loader{}.Load(writeConfig(t, tt.content))
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if perr.Field != tt.field {
				t.Fatalf("field = %s, want %s", perr.Field, tt.field)
			}
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := (Loader{}).Load(writeConfig(t, "serverName: [\n")); err == nil {
		t.Fatal("expected yaml error")
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	yes := true
	cfg := application.DefaultConfig()
	cfg.Module = "demo:app"
	cfg.HotTests = true
	cfg.Skip = domain.SkipSources{SkipUTs: &yes}
	cfg.ModuleSkip = map[string]domain.SkipSources{"demo:lib": {SkipITs: &yes}}
	cfg.Ignore = append(cfg.Ignore, "**/*.log")

	var buf bytes.Buffer
	if err := Write(&buf, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"version: 1", "module: demo:app", "hotTests: true", "debounce: 500ms", "demo:lib:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	path := filepath.Join(t.TempDir(), DefaultPath)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	loaded, err := Loader{}.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Ignore) != len(cfg.Ignore) {
		t.Fatalf("ignore patterns duplicated: %v", loaded.Ignore)
	}
	if !loaded.HotTests || loaded.Module != "demo:app" || loaded.Skip.SkipUTs == nil {
		t.Fatalf("round trip lost settings: %+v", loaded)
	}
}

func TestExistsMissing(t *testing.T) {
	ok, err := (Loader{}).Exists(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatalf("expected missing to be false")
	}
}

func TestExistsPresent(t *testing.T) {
	ok, err := (Loader{}).Exists(writeConfig(t, "version: 1\n"))
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !ok {
		t.Fatalf("expected config to exist")
	}
}
