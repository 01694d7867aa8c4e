package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	citymcp "github.com/ajitpratap0/cityscope/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  list_cities    — list cities with their generation status
  get_city       — one city with its generated content
  add_city       — register a city and start generating it
  delete_city    — delete a city by ID
  generate_city  — (re)generate a city's content

If the store or the generation provider are unavailable at startup the server
still starts; individual tool calls will return MCP error responses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			st, storeErr := newStore(logger)
			if storeErr != nil {
				// Log to stderr and continue with a nil store.
				// Tool calls will return per-call errors rather than crashing.
				logger.Error("mcp: failed to connect to store; tool calls requiring storage will fail",
					"error", storeErr)
			}

			var trigger citymcp.Trigger
			if st != nil {
				defer func() { _ = st.Close() }()
				gen, genErr := newGenerator(cmd.Context(), st, logger)
				if genErr != nil {
					logger.Error("mcp: generation is unavailable", "error", genErr)
				} else {
					defer gen.Wait()
					trigger = gen
				}
			}

			srv := citymcp.NewServer(st, trigger, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: cityscope MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
