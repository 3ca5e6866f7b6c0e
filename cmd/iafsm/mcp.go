package main

import (
	"context"
	"fmt"

	"github.com/egorky/iafsm/internal/cli"
	"github.com/egorky/iafsm/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the engine as an MCP Server so AI agents can drive conversations as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Run: func(cmd *cobra.Command, args []string) {
		transport, _ := cmd.Flags().GetString("transport")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		rt, err := cli.NewRuntime(ctx, settings, logger)
		exitOnError("initializing engine", err)
		defer rt.Close(context.Background())

		srv := mcp.NewServer(rt.Engine, mcp.WithLogger(logger))
		switch transport {
		case "stdio":
			logger.Info("starting MCP server", "transport", "stdio")
			exitOnError("serving MCP", srv.ServeStdio())
		case "sse":
			logger.Info("starting MCP server", "transport", "sse", "port", settings.HTTP.Port)
			exitOnError("serving MCP", srv.ServeSSE(ctx, settings.HTTP.Port))
			logger.Info("MCP server stopped gracefully")
		default:
			exitOnError("serving MCP", fmt.Errorf("unknown transport %q, supported: stdio, sse", transport))
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
}
