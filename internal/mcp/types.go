// Package mcp provides a Model Context Protocol server exposing dev-mode
// project inspection to assistants.
package mcp

import (
	"context"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// Service defines the application operations needed by MCP.
// This interface allows for easy mocking in tests.
type Service interface {
	Inspect(ctx context.Context, opts application.InspectOptions) (application.InspectResult, error)
	Detect(ctx context.Context, opts application.DetectOptions) (application.DetectResult, error)
}

// Config holds MCP server configuration.
type Config struct {
	ConfigPath string // Path to .libertydev.yaml (default: ".libertydev.yaml")
	ProjectDir string // Reactor root (default: ".")
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() Config {
	return Config{
		ConfigPath: ".libertydev.yaml",
		ProjectDir: ".",
	}
}

// ClassifyOutput is the result of the classify_path tool.
type ClassifyOutput struct {
	Path         string      `json:"path"`
	Role         domain.Role `json:"role"`
	Module       string      `json:"module,omitempty"`
	RelativePath string      `json:"relativePath"`
	Root         string      `json:"root,omitempty"`
	Target       string      `json:"target,omitempty"`
}

// SkipOutput is the result of the resolve_skip tool.
type SkipOutput struct {
	SkipTests       bool `json:"skipTests"`
	SkipUTs         bool `json:"skipUTs"`
	SkipITs         bool `json:"skipITs"`
	SkipUnit        bool `json:"skipUnit"`
	SkipIntegration bool `json:"skipIntegration"`
}

// ConfigOutput is the body of the config resource.
type ConfigOutput struct {
	ServerName            string   `json:"serverName"`
	InstallDirectory      string   `json:"installDirectory"`
	Module                string   `json:"module,omitempty"`
	RecompileDependencies bool     `json:"recompileDependencies"`
	HotTests              bool     `json:"hotTests"`
	Debug                 bool     `json:"debug"`
	DebugPort             int      `json:"debugPort"`
	Debounce              string   `json:"debounce"`
	ServerStartTimeout    string   `json:"serverStartTimeout"`
	VerifyTimeout         string   `json:"verifyTimeout"`
	Container             bool     `json:"container"`
	Modules               []string `json:"modules"`
	Candidates            []string `json:"candidates,omitempty"`
}

// coalesce returns value if non-empty, otherwise fallback.
func coalesce(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
