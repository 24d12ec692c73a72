package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mamori/internal/agent"
	"github.com/ashita-ai/mamori/internal/agent/actor"
	"github.com/ashita-ai/mamori/internal/auth"
	"github.com/ashita-ai/mamori/internal/ctxutil"
	"github.com/ashita-ai/mamori/internal/model"
)

const (
	maxListLimit           = 50
	defaultRejectionReason = "Rejected by admin"
)

func (s *Server) registerTools() {
	// mamori_run: run one observe/reason/decide/act cycle.
	s.mcpServer.AddTool(
		mcplib.NewTool("mamori_run",
			mcplib.WithDescription(`Run one agent cycle over the recent signal window.

WHEN TO USE: When you want a fresh read on platform health, or right after
new tickets or errors arrived. The cycle observes tickets, API errors,
webhook and checkout failures, classifies the issues, and executes the
low-risk actions. Higher-risk actions are queued for approval.

WHAT YOU GET BACK: counts of signals, patterns and issues, plus the
reasoning, the decisions and the execution results.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleRun,
	)

	// mamori_status: agent status and memory stats.
	s.mcpServer.AddTool(
		mcplib.NewTool("mamori_status",
			mcplib.WithDescription("Report whether the loop is running, whether a cycle is in flight, and the active incident and pending action counts."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleStatus,
	)

	// mamori_list_actions: the review queue.
	s.mcpServer.AddTool(
		mcplib.NewTool("mamori_list_actions",
			mcplib.WithDescription(`List persisted actions by approval status, newest first.

WHEN TO USE: Before approving or rejecting anything. Each action carries
its risk level, confidence and the incident it belongs to.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("status",
				mcplib.Description("Approval status to list"),
				mcplib.Enum(string(model.ApprovalPending), string(model.ApprovalApproved),
					string(model.ApprovalRejected), string(model.ApprovalAutoApproved)),
				mcplib.DefaultString(string(model.ApprovalPending)),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(maxListLimit),
				mcplib.DefaultNumber(maxListLimit),
			),
		),
		s.handleListActions,
	)

	// mamori_approve_action: approve and execute a pending action.
	s.mcpServer.AddTool(
		mcplib.NewTool("mamori_approve_action",
			mcplib.WithDescription(`Approve a pending action and execute it immediately.

Approving an action that already executed returns its stored result
without running it again. A rejected action cannot be approved.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("action_id", mcplib.Description("ID of the action to approve"), mcplib.Required()),
			mcplib.WithString("approved_by", mcplib.Description("Who approved it. Defaults to your authenticated identity.")),
		),
		s.handleApprove,
	)

	// mamori_reject_action: reject a pending action.
	s.mcpServer.AddTool(
		mcplib.NewTool("mamori_reject_action",
			mcplib.WithDescription("Reject an action so it never executes. Rejecting an action that already executed changes nothing."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("action_id", mcplib.Description("ID of the action to reject"), mcplib.Required()),
			mcplib.WithString("rejected_by", mcplib.Description("Who rejected it. Defaults to your authenticated identity.")),
			mcplib.WithString("reason", mcplib.Description("Why it was rejected")),
		),
		s.handleReject,
	)

	// mamori_rollback_action: undo an executed action.
	s.mcpServer.AddTool(
		mcplib.NewTool("mamori_rollback_action",
			mcplib.WithDescription("Undo an executed action whose handler supports rollback (create_incident, apply_mitigation)."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("action_id", mcplib.Description("ID of the action to roll back"), mcplib.Required()),
		),
		s.handleRollback,
	)
}

func (s *Server) handleRun(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if r := requireOperator(ctx); r != nil {
		return r, nil
	}
	res, err := s.agent.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, agent.ErrCycleInProgress) {
			return errorResult("an agent cycle is already in progress; try again shortly"), nil
		}
		s.logger.Error("mcp: run failed", "error", err)
		return errorResult(fmt.Sprintf("run failed: %v", err)), nil
	}
	return jsonResult(res.Summary())
}

func (s *Server) handleStatus(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(s.agent.Status())
}

func (s *Server) handleListActions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := model.ApprovalStatus(request.GetString("status", string(model.ApprovalPending)))
	if !status.Valid() {
		return errorResult("status must be one of pending, approved, rejected, auto_approved"), nil
	}
	limit := request.GetInt("limit", maxListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = maxListLimit
	}

	items, err := s.lister.ListActions(ctx, status, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("list failed: %v", err)), nil
	}
	if items == nil {
		items = []model.ActionListItem{}
	}
	return jsonResult(map[string]any{"actions": items, "total": len(items)})
}

func (s *Server) handleApprove(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if r := requireOperator(ctx); r != nil {
		return r, nil
	}
	id, r := actionID(request)
	if r != nil {
		return r, nil
	}
	by := request.GetString("approved_by", "")
	if by == "" {
		by = ctxutil.Operator(ctx)
	}

	res, err := s.actions.ApproveAction(ctx, id, by)
	if err != nil {
		return actionError(err), nil
	}
	return jsonResult(model.ActionDecisionResponse{Message: "Action approved and executed", Result: &res})
}

func (s *Server) handleReject(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if r := requireOperator(ctx); r != nil {
		return r, nil
	}
	id, r := actionID(request)
	if r != nil {
		return r, nil
	}
	by := request.GetString("rejected_by", "")
	if by == "" {
		by = ctxutil.Operator(ctx)
	}
	reason := request.GetString("reason", defaultRejectionReason)
	if reason == "" {
		reason = defaultRejectionReason
	}

	if err := s.actions.RejectAction(ctx, id, by, reason); err != nil {
		return actionError(err), nil
	}
	return jsonResult(model.ActionDecisionResponse{Message: "Action rejected"})
}

func (s *Server) handleRollback(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if r := requireOperator(ctx); r != nil {
		return r, nil
	}
	id, r := actionID(request)
	if r != nil {
		return r, nil
	}
	res, err := s.actions.Rollback(ctx, id)
	if err != nil {
		return actionError(err), nil
	}
	return jsonResult(model.ActionDecisionResponse{Message: "Action rolled back", Result: &res})
}

// requireOperator returns a tool error when the caller may only read.
func requireOperator(ctx context.Context) *mcplib.CallToolResult {
	if !ctxutil.RoleFromContext(ctx).AtLeast(auth.RoleOperator) {
		return errorResult("insufficient permissions: operator role required")
	}
	return nil
}

func actionID(request mcplib.CallToolRequest) (uuid.UUID, *mcplib.CallToolResult) {
	raw := request.GetString("action_id", "")
	if raw == "" {
		return uuid.Nil, errorResult("action_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errorResult("action_id must be a UUID")
	}
	return id, nil
}

func actionError(err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, actor.ErrActionNotFound):
		return errorResult("action not found")
	case errors.Is(err, actor.ErrActionRejected):
		return errorResult("action already rejected")
	case errors.Is(err, actor.ErrRollbackUnavailable):
		return errorResult("rollback not available for this action")
	default:
		return errorResult(fmt.Sprintf("action update failed: %v", err))
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
