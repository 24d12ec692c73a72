// Package mcp implements the Model Context Protocol server for mamori.
//
// The MCP server exposes the agent loop and the action review queue
// through MCP tools, resources and prompts, allowing MCP-compatible
// assistants to run cycles and triage pending actions.
package mcp

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mamori/internal/agent"
	"github.com/ashita-ai/mamori/internal/model"
)

// AgentRunner runs and reports on agent cycles. *agent.Agent satisfies it.
type AgentRunner interface {
	RunOnce(ctx context.Context) (agent.LoopResult, error)
	Status() model.AgentStatus
}

// ActionService applies decisions to persisted actions. *actor.Actor satisfies it.
type ActionService interface {
	ApproveAction(ctx context.Context, id uuid.UUID, approvedBy string) (model.ExecutionResult, error)
	RejectAction(ctx context.Context, id uuid.UUID, rejectedBy, reason string) error
	Rollback(ctx context.Context, id uuid.UUID) (model.ExecutionResult, error)
}

// ActionLister lists persisted actions. *storage.DB satisfies it.
type ActionLister interface {
	ListActions(ctx context.Context, status model.ApprovalStatus, limit int) ([]model.ActionListItem, error)
}

// Server wraps the MCP server with mamori's agent and action services.
type Server struct {
	mcpServer *mcpserver.MCPServer
	agent     AgentRunner
	actions   ActionService
	lister    ActionLister
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools
// and prompts.
func New(runner AgentRunner, actions ActionService, lister ActionLister, logger *slog.Logger, version string) *Server {
	s := &Server{
		agent:   runner,
		actions: actions,
		lister:  lister,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mamori",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRecovery(),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
