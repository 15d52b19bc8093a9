// Package mcp exposes PlanVault over the Model Context Protocol so AI
// agents can read and mutate plans through typed tools.
package mcp

import (
	"context"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/middleware"
	"github.com/planvault/planvault/internal/service"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Deps holds the collaborators the MCP tools operate on.
type Deps struct {
	Tenants *service.TenantFactories
	Metrics *adapterotel.Metrics
	Log     *slog.Logger
}

// Server wires PlanVault tools and resources into an MCP server served
// over stdio.
type Server struct {
	mcpServer *mcpserver.MCPServer
	deps      Deps
}

// NewServer creates the MCP server with all tools and resources registered.
func NewServer(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	s := &Server{
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(
			"planvault",
			Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(false, true),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving MCP requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

// factoryFor resolves the repository factory for the request. A "tenant"
// argument selects an explicit tenant; otherwise the default applies.
func (s *Server) factoryFor(ctx context.Context, args map[string]any) (*service.Factory, string, error) {
	if tenant, ok := args["tenant"].(string); ok && tenant != "" {
		ctx = middleware.WithTenant(ctx, tenant)
	}
	f, err := s.deps.Tenants.For(ctx)
	if err != nil {
		return nil, "", err
	}
	return f, s.deps.Tenants.Tenant(ctx), nil
}

// toolResultJSON wraps a JSON payload as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
