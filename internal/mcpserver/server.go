// Package mcpserver exposes the workflow store as MCP tools, resources and
// prompts.
package mcpserver

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/aristath/crew/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

const instructions = `crew coordinates workflows of role-based agents.
Create a workflow, add agents and tasks (tasks may depend on other tasks),
then either assign and run tasks one at a time or run the whole workflow.`

// New creates the MCP server with every tool, resource and prompt
// registered against st.
func New(st *store.Store, logger *zap.Logger) *server.MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := server.NewMCPServer(
		"crew",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	h := &handlers{store: st, logger: logger.With(zap.String("component", "mcp"))}
	h.registerTools(s)
	h.registerResources(s)
	registerPrompts(s)
	return s
}

// ServeStdio serves s over in/out until ctx is cancelled or in is closed.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(zap.NewStdLog(logger.With(zap.String("component", "stdio"))))
	return stdio.Listen(ctx, in, out)
}

type handlers struct {
	store  *store.Store
	logger *zap.Logger
}
