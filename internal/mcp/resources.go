package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mamori/internal/model"
)

const (
	uriStatus         = "mamori://agent/status"
	uriPendingActions = "mamori://actions/pending"
)

func (s *Server) registerResources() {
	// mamori://agent/status: loop state and memory stats.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriStatus,
			"Agent Status",
			mcplib.WithResourceDescription("Loop state, active incidents and pending action counts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatusResource,
	)

	// mamori://actions/pending: the approval queue.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriPendingActions,
			"Pending Actions",
			mcplib.WithResourceDescription("Actions waiting for human approval, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePendingResource,
	)
}

func (s *Server) handleStatusResource(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(uriStatus, s.agent.Status())
}

func (s *Server) handlePendingResource(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	items, err := s.lister.ListActions(ctx, model.ApprovalPending, maxListLimit)
	if err != nil {
		return nil, fmt.Errorf("mcp: pending actions: %w", err)
	}
	if items == nil {
		items = []model.ActionListItem{}
	}
	return jsonResource(uriPendingActions, items)
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
