package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
)

// registerTools registers all Warden MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Policy discovery -----

	srv.AddTool(
		mcp.NewTool("warden_list_rules",
			mcp.WithDescription(
				"List all access rules configured in Warden. Returns each rule's "+
					"name, type (ip, cidr, hostname, hostname_wildcard), value, port "+
					"range, protocol, and active status. Use this first to understand "+
					"the policy surface.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListRules,
	)

	srv.AddTool(
		mcp.NewTool("warden_effective_rules",
			mcp.WithDescription(
				"List the access rules effective for one identity: the union of rules "+
					"assigned to the user directly and to any of their groups. Only "+
					"active rules are returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("user",
				mcp.Required(),
				mcp.Description("User identifier to resolve rules for"),
			),
			mcp.WithArray("groups",
				mcp.Description("Groups the user belongs to"),
			),
		),
		s.handleEffectiveRules,
	)

	// ----- Resolution -----

	srv.AddTool(
		mcp.NewTool("warden_check_access",
			mcp.WithDescription(
				"Check whether an identity may reach a target address or hostname, "+
					"optionally on a specific port and protocol. Returns allowed true "+
					"or false. A denial never reveals whether the target exists.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("user",
				mcp.Required(),
				mcp.Description("User identifier to check access for"),
			),
			mcp.WithArray("groups",
				mcp.Description("Groups the user belongs to"),
			),
			mcp.WithString("host",
				mcp.Required(),
				mcp.Description("Target IP address or hostname"),
			),
			mcp.WithNumber("port",
				mcp.Description("Target port (omit to check any port)"),
			),
			mcp.WithString("protocol",
				mcp.Description("Target protocol, tcp or udp (omit to check any)"),
			),
		),
		s.handleCheckAccess,
	)

	srv.AddTool(
		mcp.NewTool("warden_resolve_routes",
			mcp.WithDescription(
				"Compute the routes an identity's session through a hub would be "+
					"given: the authorized subset of everything reachable via that "+
					"hub, narrowed to rule granularity. An offline or unprovisioned "+
					"hub yields no routes.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("user",
				mcp.Required(),
				mcp.Description("User identifier to resolve routes for"),
			),
			mcp.WithArray("groups",
				mcp.Description("Groups the user belongs to"),
			),
			mcp.WithString("hub",
				mcp.Required(),
				mcp.Description("Hub ID the session would connect through"),
			),
		),
		s.handleResolveRoutes,
	)

	// ----- Topology -----

	srv.AddTool(
		mcp.NewTool("warden_topology",
			mcp.WithDescription(
				"Get the administrative topology view of a hub: its derived status, "+
					"its spokes with their statuses, and every network reachable "+
					"through it while online. No authorization filter is applied.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("hub",
				mcp.Required(),
				mcp.Description("Hub ID to inspect"),
			),
		),
		s.handleTopology,
	)
}

// --------------------------------------------------------------------------
// Tool handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleListRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return toolError("failed to list rules: %v", err)
	}
	return successJSON(map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

func (s *MCPServer) handleEffectiveRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal, err := principalArg(request)
	if err != nil {
		return toolError("%v", err)
	}

	rules, err := s.resolver.EffectiveRules(ctx, principal)
	if err != nil {
		return toolError("failed to resolve rules: %v", err)
	}
	return successJSON(map[string]interface{}{
		"user":  principal.UserID,
		"rules": rules,
		"count": len(rules),
	})
}

func (s *MCPServer) handleCheckAccess(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal, err := principalArg(request)
	if err != nil {
		return toolError("%v", err)
	}
	host, err := requireString(request, "host")
	if err != nil {
		return toolError("%v", err)
	}

	target := model.Target{
		Host:     host,
		Port:     optionalInt(request, "port", 0),
		Protocol: optionalString(request, "protocol"),
	}

	allowed, err := s.resolver.IsAuthorized(ctx, principal, target)
	if err != nil {
		return toolError("failed to check access: %v", err)
	}
	return successJSON(map[string]interface{}{
		"user":    principal.UserID,
		"host":    host,
		"allowed": allowed,
	})
}

func (s *MCPServer) handleResolveRoutes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal, err := principalArg(request)
	if err != nil {
		return toolError("%v", err)
	}
	hubID, err := requireString(request, "hub")
	if err != nil {
		return toolError("%v", err)
	}

	routes, err := s.resolver.ComputeRoutes(ctx, principal, hubID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return toolError("hub %q not found", hubID)
		}
		return toolError("failed to resolve routes: %v", err)
	}
	return successJSON(map[string]interface{}{
		"user":   principal.UserID,
		"hub":    hubID,
		"routes": routes,
		"count":  len(routes),
	})
}

func (s *MCPServer) handleTopology(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hubID, err := requireString(request, "hub")
	if err != nil {
		return toolError("%v", err)
	}

	view, err := s.resolver.TopologyRoutes(ctx, hubID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return toolError("hub %q not found", hubID)
		}
		return toolError("failed to load topology: %v", err)
	}
	return successJSON(view)
}
