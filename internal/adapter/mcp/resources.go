package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"planvault://plans",
			"Plan List",
			mcplib.WithResourceDescription("All plan manifests for the default tenant"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePlansResource,
	)
}

func (s *Server) handlePlansResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	factory, err := s.deps.Tenants.For(ctx)
	if err != nil {
		return nil, err
	}
	plans, err := factory.PlanRepo().ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(plans)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
