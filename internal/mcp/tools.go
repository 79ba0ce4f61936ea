package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
	"github.com/felixgeelhaar/libertydev/internal/pathutil"
)

// handleInspect implements the inspect_reactor tool.
func (s *Server) handleInspect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.svc.Inspect(ctx, application.InspectOptions{
		ConfigPath:     s.config.ConfigPath,
		ProjectDir:     s.config.ProjectDir,
		Module:         req.GetString("module", ""),
		UserProperties: stringMap(req.GetArguments()["properties"]),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("inspecting reactor: %v", err)), nil
	}
	return jsonResult(result)
}

// handleClassify implements the classify_path tool.
func (s *Server) handleClassify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := pathutil.Resolve(s.config.ProjectDir, req.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("'path': %v", err)), nil
	}

	result, err := s.svc.Inspect(ctx, application.InspectOptions{
		ConfigPath: s.config.ConfigPath,
		ProjectDir: s.config.ProjectDir,
		Module:     req.GetString("module", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("inspecting reactor: %v", err)), nil
	}

	var roots []domain.WatchRoot
	for _, m := range result.Modules {
		roots = append(roots, m.Roots...)
	}
	c := domain.Classify(path, roots)
	return jsonResult(ClassifyOutput{
		Path:         path,
		Role:         c.Role,
		Module:       c.Module(),
		RelativePath: c.RelativePath,
		Root:         c.Root.Path,
		Target:       c.Root.Target,
	})
}

// handleResolveSkip implements the resolve_skip tool.
func (s *Server) handleResolveSkip(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	var sources [3]domain.SkipSources
	for i, key := range []string{"config", "user", "ambient"} {
		src, err := skipSources(args[key])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", key, err)), nil
		}
		sources[i] = src
	}

	flags := domain.ResolveSkipFlags(sources[0], sources[1], sources[2])
	return jsonResult(SkipOutput{
		SkipTests:       flags.SkipTests,
		SkipUTs:         flags.SkipUTs,
		SkipITs:         flags.SkipITs,
		SkipUnit:        flags.SkipUnit(),
		SkipIntegration: flags.SkipIntegration(),
	})
}

func skipSources(raw any) (domain.SkipSources, error) {
	obj, _ := raw.(map[string]any)
	var out domain.SkipSources
	for key, dst := range map[string]**bool{
		"skipTests": &out.SkipTests,
		"skipUTs":   &out.SkipUTs,
		"skipITs":   &out.SkipITs,
	} {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		b, err := toBool(v)
		if err != nil {
			return out, fmt.Errorf("%s: %w", key, err)
		}
		*dst = &b
	}
	return out, nil
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(t)
	default:
		return false, fmt.Errorf("not a boolean: %v", v)
	}
}

// stringMap converts a JSON object argument to build properties.
func stringMap(raw any) map[string]string {
	obj, ok := raw.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
