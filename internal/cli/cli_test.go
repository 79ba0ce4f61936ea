package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
	"github.com/felixgeelhaar/libertydev/internal/mcp"
)

var errSentinel = errors.New("boom")

type fakeService struct {
	devErr        error
	devOpts       application.DevOptions
	runErr        error
	runOpts       application.RunOptions
	inspectErr    error
	inspectResult application.InspectResult
	inspectOpts   application.InspectOptions
	inspectDir    string
	detectErr     error
	detectResult  application.DetectResult
}

func (f *fakeService) Dev(_ context.Context, opts application.DevOptions) error {
	f.devOpts = opts
	return f.devErr
}

func (f *fakeService) Run(_ context.Context, opts application.RunOptions) error {
	f.runOpts = opts
	return f.runErr
}

func (f *fakeService) Inspect(_ context.Context, opts application.InspectOptions) (application.InspectResult, error) {
	f.inspectOpts = opts
	f.inspectDir, _ = os.Getwd()
	return f.inspectResult, f.inspectErr
}

func (f *fakeService) Detect(_ context.Context, _ application.DetectOptions) (application.DetectResult, error) {
	if f.detectErr != nil {
		return application.DetectResult{}, f.detectErr
	}
	return f.detectResult, nil
}

func run(svc Service, args ...string) (int, string) {
	var out bytes.Buffer
	code := Run(append([]string{"libertydev"}, args...), &out, &out, svc)
	return code, out.String()
}

func TestRunUsage(t *testing.T) {
	code, out := run(&fakeService{})
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(out, "dev") || !strings.Contains(out, "inspect") {
		t.Fatalf("expected command list, got %s", out)
	}
}

func TestRunUnknown(t *testing.T) {
	code, _ := run(&fakeService{}, "nope")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestRunDevOptions(t *testing.T) {
	svc := &fakeService{}
	code, out := run(svc, "dev", "--module", "app", "-D", "skipITs", "-D", "app.port=9080", "--hot-tests")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out)
	}
	opts := svc.devOpts
	if opts.Module != "app" || opts.ConfigPath != ".libertydev.yaml" {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.UserProperties["skipITs"] != "" || opts.UserProperties["app.port"] != "9080" {
		t.Fatalf("unexpected properties: %v", opts.UserProperties)
	}
	if _, ok := opts.UserProperties["skipITs"]; !ok {
		t.Fatal("expected skipITs to be defined")
	}
	if opts.HotTests == nil || !*opts.HotTests {
		t.Fatalf("expected hot tests override, got %v", opts.HotTests)
	}
	if opts.Debug != nil {
		t.Fatal("debug was not set on the command line")
	}
}

func TestRunDevError(t *testing.T) {
	code, out := run(&fakeService{devErr: errSentinel}, "dev")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "boom") {
		t.Fatalf("expected error message, got %s", out)
	}
}

func TestRunDevInvalidDefine(t *testing.T) {
	code, _ := run(&fakeService{}, "dev", "-D", "=x")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestRunRun(t *testing.T) {
	svc := &fakeService{}
	if code, out := run(svc, "run", "--skip-goals", "--config", "custom.yaml"); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out)
	}
	if !svc.runOpts.SkipGoals || svc.runOpts.ConfigPath != "custom.yaml" {
		t.Fatalf("unexpected options: %+v", svc.runOpts)
	}

	if code, _ := run(&fakeService{runErr: application.ErrServerNotReady}, "run"); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func inspectResult() application.InspectResult {
	return application.InspectResult{
		BuildOrder: []string{"demo:lib", "demo:app"},
		Selected:   "demo:app",
		Modules: []application.ModuleInfo{
			{ID: "demo:lib", Packaging: domain.PackagingJar, Downstream: []string{"demo:app"}},
			{ID: "demo:app", Packaging: domain.PackagingWar, Upstream: []string{"demo:lib"}, Runnable: true},
		},
	}
}

func TestRunInspectText(t *testing.T) {
	code, out := run(&fakeService{inspectResult: inspectResult()}, "inspect")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out)
	}
	if !strings.Contains(out, "demo:lib -> demo:app") {
		t.Fatalf("expected build order, got %s", out)
	}
}

func TestRunInspectJSON(t *testing.T) {
	code, out := run(&fakeService{inspectResult: inspectResult()}, "inspect", "--format", "json")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out)
	}
	var decoded application.InspectResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if decoded.Selected != "demo:app" {
		t.Fatalf("unexpected selection: %+v", decoded)
	}
}

func TestRunInspectErrors(t *testing.T) {
	if code, _ := run(&fakeService{inspectErr: errSentinel}, "inspect"); code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
	if code, _ := run(&fakeService{}, "inspect", "-o", "xml"); code != 2 {
		t.Fatalf("expected exit 2 for an invalid format, got %d", code)
	}
}

func TestRunProjectDirectory(t *testing.T) {
	t.Chdir(t.TempDir())
	project := t.TempDir()
	svc := &fakeService{inspectResult: inspectResult()}

	if code, out := run(svc, "-C", project, "inspect"); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out)
	}
	want, _ := filepath.EvalSymlinks(project)
	got, _ := filepath.EvalSymlinks(svc.inspectDir)
	if got != want {
		t.Fatalf("expected to run in %s, ran in %s", want, got)
	}
	if svc.inspectOpts.ProjectDir != "." {
		t.Fatalf("unexpected project dir option %q", svc.inspectOpts.ProjectDir)
	}
}

func TestRunProjectDirectoryMissing(t *testing.T) {
	code, _ := run(&fakeService{}, "-C", filepath.Join(t.TempDir(), "missing"), "inspect")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func detected() application.DetectResult {
	return application.DetectResult{Config: application.DefaultConfig(), Modules: []string{"demo:app"}}
}

func TestRunInitCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".libertydev.yaml")

	code, out := run(&fakeService{detectResult: detected()}, "init", "--no-interactive", "--config", path, "--module", "app")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if !strings.Contains(string(data), "module: app") {
		t.Fatalf("expected module selection in config, got %s", data)
	}

	if code, _ := run(&fakeService{detectResult: detected()}, "init", "--no-interactive", "--config", path); code != 2 {
		t.Fatalf("expected exit 2 for an existing config, got %d", code)
	}
	if code, _ := run(&fakeService{detectResult: detected()}, "init", "--no-interactive", "--force", "--config", path); code != 0 {
		t.Fatalf("expected --force to overwrite, got %d", code)
	}
}

func TestRunInitDetectError(t *testing.T) {
	code, _ := run(&fakeService{detectErr: domain.ErrNoRunnableModule}, "init", "--no-interactive")
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
}

func TestRunInitWizard(t *testing.T) {
	orig := initWizard
	t.Cleanup(func() { initWizard = orig })
	path := filepath.Join(t.TempDir(), ".libertydev.yaml")

	initWizard = func(d application.DetectResult, _ io.Writer, _ io.Reader) (application.Config, bool, error) {
		return d.Config, false, nil
	}
	code, out := run(&fakeService{detectResult: detected()}, "init", "--config", path)
	if code != 0 || !strings.Contains(out, "Init cancelled") {
		t.Fatalf("expected cancellation, got %d: %s", code, out)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no config file, got %v", err)
	}

	initWizard = func(d application.DetectResult, _ io.Writer, _ io.Reader) (application.Config, bool, error) {
		cfg := d.Config
		cfg.HotTests = true
		return cfg, true, nil
	}
	if code, _ := run(&fakeService{detectResult: detected()}, "init", "--config", path); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "hotTests: true") {
		t.Fatalf("expected wizard choices in config, got %s", data)
	}

	initWizard = func(d application.DetectResult, _ io.Writer, _ io.Reader) (application.Config, bool, error) {
		return d.Config, false, errSentinel
	}
	if code, _ := run(&fakeService{detectResult: detected()}, "init", "--config", path, "--force"); code != 5 {
		t.Fatalf("expected exit 5, got %d", code)
	}
}

func TestRunMCP(t *testing.T) {
	orig := serveMCP
	t.Cleanup(func() { serveMCP = orig })
	var got mcp.Config
	serveMCP = func(_ context.Context, _ Service, cfg mcp.Config) error {
		got = cfg
		return nil
	}

	if code, out := run(&fakeService{}, "mcp", "--config", "custom.yaml"); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, out)
	}
	if got.ConfigPath != "custom.yaml" || got.ProjectDir != "." {
		t.Fatalf("unexpected mcp config: %+v", got)
	}
}

func TestRunVersion(t *testing.T) {
	code, out := run(&fakeService{}, "version")
	if code != 0 || !strings.HasPrefix(out, "libertydev dev") {
		t.Fatalf("unexpected version output %d: %s", code, out)
	}
}

func TestParseDefines(t *testing.T) {
	props, err := parseDefines([]string{"a=1", "b", "c=x=y"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := map[string]string{"a": "1", "b": "", "c": "x=y"}
	for k, v := range want {
		if got, ok := props[k]; !ok || got != v {
			t.Fatalf("property %s: expected %q, got %q", k, v, got)
		}
	}

	if props, err := parseDefines(nil); err != nil || props != nil {
		t.Fatalf("expected no properties, got %v %v", props, err)
	}
	if _, err := parseDefines([]string{" =1"}); err == nil {
		t.Fatal("expected error for a missing name")
	}
}

func TestFormatValueSet(t *testing.T) {
	val := formatValue("text")
	if err := val.Set("json"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if string(val) != "json" {
		t.Fatalf("expected json")
	}
	if err := val.Set("bad"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteConfigFileToStdout(t *testing.T) {
	var out bytes.Buffer
	if err := writeConfigFile("-", application.DefaultConfig(), &out, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out.String(), "serverName: defaultServer") {
		t.Fatalf("unexpected config: %s", out.String())
	}
}
