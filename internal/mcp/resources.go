package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixgeelhaar/libertydev/internal/application"
)

// handleConfigResource returns the configuration detected for the project.
func (s *Server) handleConfigResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	result, err := s.svc.Detect(ctx, application.DetectOptions{ProjectDir: s.config.ProjectDir})
	if err != nil {
		return nil, fmt.Errorf("failed to detect config: %w", err)
	}

	cfg := result.Config
	out := ConfigOutput{
		ServerName:            cfg.ServerName,
		InstallDirectory:      cfg.InstallDirectory,
		Module:                cfg.Module,
		RecompileDependencies: cfg.RecompileDependencies,
		HotTests:              cfg.HotTests,
		Debug:                 cfg.Debug,
		DebugPort:             cfg.DebugPort,
		Debounce:              cfg.Debounce.String(),
		ServerStartTimeout:    cfg.ServerStartTimeout.String(),
		VerifyTimeout:         cfg.VerifyTimeout.String(),
		Container:             cfg.Container,
		Modules:               result.Modules,
		Candidates:            result.Candidates,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
