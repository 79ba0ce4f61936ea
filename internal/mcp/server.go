package mcp

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time.
var Version = "dev"

// Server wraps the application service with MCP protocol handling.
type Server struct {
	svc    Service
	config Config
	In     io.Reader
	Out    io.Writer
}

// New creates a new MCP server wrapping the given service.
func New(svc Service, cfg Config) *Server {
	defaults := DefaultConfig()
	cfg.ConfigPath = coalesce(cfg.ConfigPath, defaults.ConfigPath)
	cfg.ProjectDir = coalesce(cfg.ProjectDir, defaults.ProjectDir)

	return &Server{
		svc:    svc,
		config: cfg,
		In:     os.Stdin,
		Out:    os.Stdout,
	}
}

// Run serves MCP over stdio and blocks until the context is canceled or the
// client closes the stream.
func (s *Server) Run(ctx context.Context) error {
	if err := server.NewStdioServer(s.build()).Listen(ctx, s.In, s.Out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func (s *Server) build() *server.MCPServer {
	srv := server.NewMCPServer(
		"libertydev",
		Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)
	s.registerTools(srv)
	s.registerResources(srv)
	return srv
}

// registerTools adds all tool handlers to the server.
func (s *Server) registerTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("inspect_reactor",
		mcp.WithDescription("Load the Maven reactor and report the build order, the runnable module selection, resolved test skip flags and watch roots of every module."),
		mcp.WithString("module", mcp.Description("Runnable module selector (artifactId or groupId:artifactId)")),
		mcp.WithObject("properties", mcp.Description("User properties, as passed with -D on the command line")),
	), s.handleInspect)

	srv.AddTool(mcp.NewTool("classify_path",
		mcp.WithDescription("Classify a file path against the project's watch roots: which module owns it and whether dev mode treats it as source, test source, resource, server config or build descriptor."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, absolute or relative to the project directory")),
		mcp.WithString("module", mcp.Description("Runnable module selector")),
	), s.handleClassify)

	srv.AddTool(mcp.NewTool("resolve_skip",
		mcp.WithDescription("Resolve skipTests, skipUTs and skipITs from the plugin configuration, user properties and project properties. Configuration wins over user properties, which win over project properties."),
		mcp.WithObject("config", mcp.Description("Plugin configuration values: {skipTests, skipUTs, skipITs}")),
		mcp.WithObject("user", mcp.Description("User property values: {skipTests, skipUTs, skipITs}")),
		mcp.WithObject("ambient", mcp.Description("Project property values: {skipTests, skipUTs, skipITs}")),
	), s.handleResolveSkip)
}

// registerResources adds all resource handlers to the server.
func (s *Server) registerResources(srv *server.MCPServer) {
	srv.AddResource(mcp.NewResource(
		"libertydev://config",
		"Detected Configuration",
		mcp.WithResourceDescription("Dev-mode configuration proposed for the project, with its modules and runnable candidates"),
		mcp.WithMIMEType("application/json"),
	), s.handleConfigResource)
}
