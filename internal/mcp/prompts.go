package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// triage-pending: walks the assistant through the approval queue.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("triage-pending",
			mcplib.WithPromptDescription("Review the pending actions and decide which to approve or reject"),
			mcplib.WithArgument("operator",
				mcplib.ArgumentDescription("Name to record as the approver or rejecter"),
			),
		),
		s.handleTriagePrompt,
	)

	// investigate-incident: focuses a cycle on one merchant or endpoint.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("investigate-incident",
			mcplib.WithPromptDescription("Run a cycle and explain the root cause of a reported problem"),
			mcplib.WithArgument("symptom",
				mcplib.ArgumentDescription("What the merchant or engineer reported"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleInvestigatePrompt,
	)
}

func (s *Server) handleTriagePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	operator := request.Params.Arguments["operator"]
	who := "yourself"
	if operator != "" {
		who = fmt.Sprintf("%q", operator)
	}

	return &mcplib.GetPromptResult{
		Description: "Triage the pending action queue",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Triage the actions waiting for approval:

1. CALL mamori_list_actions with status="pending".

2. For each action, weigh its risk_level and confidence against the
   incident it belongs to. Escalations and merchant-wide notifications
   reach real people; approve them only when the evidence supports it.

3. APPROVE with mamori_approve_action or REJECT with
   mamori_reject_action, recording %s as the decider. Give a reason
   when rejecting.

4. SUMMARIZE what you approved, what you rejected and why.`, who),
				},
			},
		},
	}, nil
}

func (s *Server) handleInvestigatePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	symptom := request.Params.Arguments["symptom"]
	if symptom == "" {
		return nil, fmt.Errorf("symptom argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: "Investigate: " + symptom,
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`A problem was reported: %q

1. CALL mamori_run to observe the latest signals.

2. Find the reasoning result whose evidence matches the report. State its
   classification, root cause, confidence and affected merchants.

3. If no result matches, say so and list the signals you did see.

4. Point to any pending actions for that incident; do not approve them
   without being asked.`, symptom),
				},
			},
		},
	}, nil
}
