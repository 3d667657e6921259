package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// warden://rules — the full policy surface
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"warden://rules",
			"Access Rules",
			mcp.WithResourceDescription(
				"All access rules configured in Warden, including their "+
					"assignments to users and groups.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleRulesResource,
	)

	// -------------------------------------------------------------------
	// warden://topology/{hub} — per-hub topology view (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"warden://topology/{hub}",
			"Hub Topology",
			mcp.WithTemplateDescription(
				"The administrative topology view of one hub: derived status, "+
					"spokes, and reachable networks.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleTopologyResource,
	)
}

// handleRulesResource returns the full rule set with assignments as JSON.
func (s *MCPServer) handleRulesResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	snap, err := s.store.LoadRuleSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	payload := map[string]interface{}{
		"rules":       snap.Rules,
		"assignments": snap.Assignments,
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handleTopologyResource returns the topology view for the hub named in
// the resource URI.
func (s *MCPServer) handleTopologyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	hubID := strings.TrimPrefix(request.Params.URI, "warden://topology/")
	if hubID == "" || hubID == request.Params.URI {
		return nil, fmt.Errorf("invalid topology resource URI %q", request.Params.URI)
	}

	view, err := s.resolver.TopologyRoutes(ctx, hubID)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology for hub %q: %w", hubID, err)
	}

	b, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal topology: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
