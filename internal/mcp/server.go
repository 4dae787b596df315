// Package mcp exposes the permission hooks as MCP tools over stdio, so a
// tool host can ask for decisions and report executions without linking Go.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/permguard/internal/audit"
	"github.com/ppiankov/permguard/internal/cmdguard"
)

// Config holds MCP server configuration.
type Config struct {
	Guard   *cmdguard.Guard
	Audit   *audit.Store // optional; audit_stats fails without it
	Version string
}

// Server wraps the MCP SDK server around a Guard.
type Server struct {
	mcpServer *mcpsdk.Server
	guard     *cmdguard.Guard
	audit     *audit.Store
}

// New creates an MCP server with all tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Guard == nil {
		return nil, fmt.Errorf("mcp: guard is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{guard: cfg.Guard, audit: cfg.Audit}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "permguard",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves on stdio. Blocks until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "permission_check",
		Description: "Decide whether an action is allowed by the permission rules. Records the decision unless dry_run is set.",
	}, s.handlePermissionCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "tool_start",
		Description: "Check a tool call and record its start. Denied calls return an error result with the reason.",
	}, s.handleToolStart)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "tool_end",
		Description: "Record the completion or failure of a tool call started with tool_start.",
	}, s.handleToolEnd)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "session_event",
		Description: "Record a session lifecycle event (session_start, session_end, or any other type).",
	}, s.handleSessionEvent)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "audit_stats",
		Description: "Summarize recorded tool executions and permission decisions.",
	}, s.handleAuditStats)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "exec",
		Description: "Execute a command through the permission rules. Blocked commands return an error result with the reason.",
	}, s.handleExec)
}
