package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// mockService implements the Service interface for testing.
type mockService struct {
	inspectResult application.InspectResult
	inspectErr    error
	inspectOpts   application.InspectOptions
	detectResult  application.DetectResult
	detectErr     error
	detectOpts    application.DetectOptions
}

func (m *mockService) Inspect(_ context.Context, opts application.InspectOptions) (application.InspectResult, error) {
	m.inspectOpts = opts
	return m.inspectResult, m.inspectErr
}

func (m *mockService) Detect(_ context.Context, opts application.DetectOptions) (application.DetectResult, error) {
	m.detectOpts = opts
	return m.detectResult, m.detectErr
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if r == nil {
		t.Fatal("nil result")
	}
	var b strings.Builder
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(&mockService{}, Config{})
	if s.config != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", s.config)
	}

	s = New(&mockService{}, Config{ConfigPath: "custom.yaml", ProjectDir: "/work"})
	if s.config.ConfigPath != "custom.yaml" || s.config.ProjectDir != "/work" {
		t.Fatalf("custom config not kept: %+v", s.config)
	}
	if s.build() == nil {
		t.Fatal("expected an MCP server")
	}
}

func TestCoalesce(t *testing.T) {
	if got := coalesce("", "b"); got != "b" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := coalesce("a", "b"); got != "a" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestHandleInspect(t *testing.T) {
	svc := &mockService{inspectResult: application.InspectResult{
		BuildOrder: []string{"demo:lib", "demo:app"},
		Selected:   "demo:app",
	}}
	s := New(svc, Config{ProjectDir: "/work"})

	res, err := s.handleInspect(context.Background(), toolRequest(map[string]any{
		"module":     "app",
		"properties": map[string]any{"skipTests": "true", "count": float64(2)},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var out application.InspectResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Selected != "demo:app" || len(out.BuildOrder) != 2 {
		t.Fatalf("unexpected result: %+v", out)
	}
	if svc.inspectOpts.Module != "app" || svc.inspectOpts.ProjectDir != "/work" {
		t.Fatalf("unexpected options: %+v", svc.inspectOpts)
	}
	if svc.inspectOpts.UserProperties["skipTests"] != "true" || svc.inspectOpts.UserProperties["count"] != "2" {
		t.Fatalf("unexpected properties: %v", svc.inspectOpts.UserProperties)
	}
}

func TestHandleInspectError(t *testing.T) {
	s := New(&mockService{inspectErr: errors.New("no pom.xml")}, Config{})

	res, err := s.handleInspect(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "no pom.xml") {
		t.Fatalf("expected tool error, got %+v", res)
	}
}

func TestHandleClassify(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app", "src", "main", "java")
	svc := &mockService{inspectResult: application.InspectResult{
		Modules: []application.ModuleInfo{{
			ID: "demo:app",
			Roots: []domain.WatchRoot{
				{Path: filepath.Join(dir, "app"), Role: domain.RoleOther, Module: "demo:app"},
				{Path: src, Role: domain.RoleSource, Module: "demo:app"},
			},
		}},
	}}
	s := New(svc, Config{ProjectDir: dir})

	tests := []struct {
		name   string
		path   string
		role   domain.Role
		module string
		rel    string
	}{
		{"relative source", "app/src/main/java/demo/App.java", domain.RoleSource, "demo:app", filepath.Join("demo", "App.java")},
		{"absolute source", filepath.Join(src, "A.java"), domain.RoleSource, "demo:app", "A.java"},
		{"outside every root", filepath.Join(dir, "README.md"), domain.RoleOther, "", filepath.Join(dir, "README.md")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleClassify(context.Background(), toolRequest(map[string]any{"path": tt.path}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var out ClassifyOutput
			if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Role != tt.role || out.Module != tt.module || out.RelativePath != tt.rel {
				t.Fatalf("got %+v", out)
			}
		})
	}
}

func TestHandleClassifyRequiresPath(t *testing.T) {
	s := New(&mockService{}, Config{})

	res, err := s.handleClassify(context.Background(), toolRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error")
	}
}

func TestHandleResolveSkip(t *testing.T) {
	s := New(&mockService{}, Config{})

	res, err := s.handleResolveSkip(context.Background(), toolRequest(map[string]any{
		"config":  map[string]any{"skipITs": false},
		"user":    map[string]any{"skipITs": true, "skipUTs": "true"},
		"ambient": map[string]any{"skipTests": "false"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out SkipOutput
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := SkipOutput{SkipUTs: true, SkipUnit: true}
	if out != want {
		t.Fatalf("expected %+v, got %+v", want, out)
	}
}

func TestHandleResolveSkipRejectsNonBoolean(t *testing.T) {
	s := New(&mockService{}, Config{})

	res, err := s.handleResolveSkip(context.Background(), toolRequest(map[string]any{
		"user": map[string]any{"skipTests": "maybe"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "user") {
		t.Fatalf("expected tool error naming the source, got %+v", res)
	}
}

func TestHandleConfigResource(t *testing.T) {
	cfg := application.DefaultConfig()
	cfg.Debounce = 250 * time.Millisecond
	svc := &mockService{detectResult: application.DetectResult{
		Config:     cfg,
		Modules:    []string{"demo:a", "demo:b"},
		Candidates: []string{"demo:a", "demo:b"},
	}}
	s := New(svc, Config{ProjectDir: "/work"})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "libertydev://config"
	contents, err := s.handleConfigResource(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected one content, got %d", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected content type %T", contents[0])
	}

	var out ConfigOutput
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Debounce != "250ms" || out.ServerName != "defaultServer" || len(out.Candidates) != 2 {
		t.Fatalf("unexpected config: %+v", out)
	}
	if svc.detectOpts.ProjectDir != "/work" {
		t.Fatalf("unexpected detect options: %+v", svc.detectOpts)
	}
}

func TestHandleConfigResourceError(t *testing.T) {
	s := New(&mockService{detectErr: domain.ErrNoRunnableModule}, Config{})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "libertydev://config"
	if _, err := s.handleConfigResource(context.Background(), req); !errors.Is(err, domain.ErrNoRunnableModule) {
		t.Fatalf("expected ErrNoRunnableModule, got %v", err)
	}
}
