package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	wmcp "github.com/meshwarden/warden/internal/mcp"
	"github.com/meshwarden/warden/internal/resolve"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes access resolution
as tools for AI agents. Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with MCP clients launched as subprocesses.

In HTTP mode, the server listens on the specified port for remote clients.`,
		Example: `  warden mcp                            # stdio mode
  warden mcp --transport http --port 3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("init config store: %w", err)
	}
	defer store.Close()

	mcpSrv := wmcp.NewMCPServer(store, resolve.New(store), logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		addr := fmt.Sprintf(":%d", port)
		logger.Info("starting MCP HTTP server", "addr", addr)
		return mcpSrv.ServeHTTP(addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
