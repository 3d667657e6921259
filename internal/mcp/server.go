package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/resolve"
)

// MCPServer wraps the mcp-go server with Warden-specific tool and resource
// registrations. It exposes access resolution as MCP tools so AI agents can
// answer "who can reach what" questions against the live policy store.
type MCPServer struct {
	store    *config.Store
	resolver *resolve.Resolver
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all Warden tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(store *config.Store, resolver *resolve.Resolver, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"Warden Access Control Plane",
		"0.1.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode. This is the primary
// integration path for MCP clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). This is suitable for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

// readOnlyAnnotation marks a tool as non-mutating. Every Warden MCP tool
// is read-only: policy changes go through the REST API.
func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
