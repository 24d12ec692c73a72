package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mamori/internal/agent"
	"github.com/ashita-ai/mamori/internal/agent/actor"
	"github.com/ashita-ai/mamori/internal/agent/agenttest"
	"github.com/ashita-ai/mamori/internal/agent/decider"
	"github.com/ashita-ai/mamori/internal/agent/observer"
	"github.com/ashita-ai/mamori/internal/agent/reasoner"
	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/auth"
	"github.com/ashita-ai/mamori/internal/ctxutil"
	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *agenttest.Store) {
	t.Helper()
	store := agenttest.New()
	mem := state.NewMemory()
	logger := testutil.TestLogger()
	st := state.NewStore(store, mem, logger)
	reg := actor.DefaultRegistry(actor.Deps{Tickets: store, Incidents: store, State: st, Memory: mem, Logger: logger})
	act := actor.New(store, reg, mem, logger)

	a := agent.New(agent.Deps{
		Observer: observer.New(store, mem, st, observer.DefaultConfig(), logger),
		Reasoner: reasoner.New(nil, store, mem, logger),
		Decider:  decider.New(decider.Policy{}, mem, logger),
		Actor:    act,
		State:    st,
		Memory:   mem,
		Logger:   logger,
	})
	return New(a, act, store, logger, "test"), store
}

func seedCheckoutOutage(t *testing.T, store *agenttest.Store) {
	t.Helper()
	code := 500
	msg := "Internal server error"
	merchants := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i := 0; i < 5; i++ {
		require.NoError(t, store.InsertAPILog(context.Background(), model.APILog{
			MerchantID:   merchants[i%3],
			Endpoint:     "/api/v2/checkout/create",
			Method:       "POST",
			StatusCode:   &code,
			ErrorMessage: &msg,
			CreatedAt:    time.Now().UTC().Add(-time.Duration(i) * time.Minute),
		}))
	}
}

func callTool(name string, args map[string]any) mcplib.CallToolRequest {
	var req mcplib.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func decodeResult[T any](t *testing.T, res *mcplib.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, resultText(t, res))
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &v))
	return v
}

func withRole(operator string, role auth.Role) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: operator},
		Role:             role,
	})
}

type listResult struct {
	Actions []model.ActionListItem `json:"actions"`
	Total   int                    `json:"total"`
}

func TestRunListAndDecide(t *testing.T) {
	s, store := newTestServer(t)
	seedCheckoutOutage(t, store)
	ctx := context.Background()

	res, err := s.handleRun(ctx, callTool("mamori_run", nil))
	require.NoError(t, err)
	summary := decodeResult[model.RunSummary](t, res)
	assert.Equal(t, 5, summary.SignalsObserved)
	assert.Equal(t, 2, summary.ActionsPending)

	res, err = s.handleStatus(ctx, callTool("mamori_status", nil))
	require.NoError(t, err)
	assert.Equal(t, 2, decodeResult[model.AgentStatus](t, res).PendingActions)

	res, err = s.handleListActions(ctx, callTool("mamori_list_actions", map[string]any{"limit": float64(10)}))
	require.NoError(t, err)
	list := decodeResult[listResult](t, res)
	require.Equal(t, 2, list.Total)

	approveID := list.Actions[0].ID
	res, err = s.handleApprove(withRole("olga", auth.RoleOperator),
		callTool("mamori_approve_action", map[string]any{"action_id": approveID.String()}))
	require.NoError(t, err)
	approved := decodeResult[model.ActionDecisionResponse](t, res)
	require.NotNil(t, approved.Result)
	assert.True(t, approved.Result.Success)
	assert.Equal(t, "olga", *store.Actions[approveID].ApprovedBy)

	rejectID := list.Actions[1].ID
	res, err = s.handleReject(ctx, callTool("mamori_reject_action", map[string]any{
		"action_id": rejectID.String(),
		"reason":    "duplicate of an open ticket",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Action rejected", decodeResult[model.ActionDecisionResponse](t, res).Message)
	rejected := store.Actions[rejectID]
	assert.Equal(t, "admin", *rejected.ApprovedBy)
	assert.Equal(t, "duplicate of an open ticket", *rejected.RejectionReason)

	res, err = s.handleApprove(ctx, callTool("mamori_approve_action", map[string]any{"action_id": rejectID.String()}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "action already rejected", resultText(t, res))

	res, err = s.handleListActions(ctx, callTool("mamori_list_actions", map[string]any{"status": "rejected"}))
	require.NoError(t, err)
	assert.Equal(t, 1, decodeResult[listResult](t, res).Total)
}

func TestListActions_InvalidStatus(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleListActions(context.Background(),
		callTool("mamori_list_actions", map[string]any{"status": "done"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleListActions(context.Background(), callTool("mamori_list_actions", nil))
	require.NoError(t, err)
	list := decodeResult[listResult](t, res)
	assert.NotNil(t, list.Actions, "empty queue renders as []")
	assert.Zero(t, list.Total)
}

func TestMutatingToolsRequireOperator(t *testing.T) {
	s, _ := newTestServer(t)
	viewer := withRole("vera", auth.RoleViewer)
	args := map[string]any{"action_id": uuid.NewString()}

	handlers := map[string]func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error){
		"mamori_run":             s.handleRun,
		"mamori_approve_action":  s.handleApprove,
		"mamori_reject_action":   s.handleReject,
		"mamori_rollback_action": s.handleRollback,
	}
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			res, err := h(viewer, callTool(name, args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), "operator role required")
		})
	}

	res, err := s.handleStatus(viewer, callTool("mamori_status", nil))
	require.NoError(t, err)
	assert.False(t, res.IsError, "reads stay open to viewers")
}

func TestActionIDValidation(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing", nil, "action_id is required"},
		{"not a uuid", map[string]any{"action_id": "abc"}, "action_id must be a UUID"},
		{"unknown", map[string]any{"action_id": uuid.NewString()}, "action not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleRollback(ctx, callTool("mamori_rollback_action", tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Equal(t, tt.want, resultText(t, res))
		})
	}
}

func TestRollbackTool(t *testing.T) {
	s, store := newTestServer(t)
	seedCheckoutOutage(t, store)
	ctx := context.Background()

	_, err := s.handleRun(ctx, callTool("mamori_run", nil))
	require.NoError(t, err)

	incidents := store.ActionsByType(model.ActionCreateIncident)
	require.Len(t, incidents, 1)
	res, err := s.handleRollback(ctx, callTool("mamori_rollback_action", map[string]any{"action_id": incidents[0].ID.String()}))
	require.NoError(t, err)
	assert.Equal(t, "Action rolled back", decodeResult[model.ActionDecisionResponse](t, res).Message)
	assert.Empty(t, store.Incidents)

	res, err = s.handleRollback(ctx, callTool("mamori_rollback_action", map[string]any{"action_id": incidents[0].ID.String()}))
	require.NoError(t, err)
	again := decodeResult[model.ActionDecisionResponse](t, res)
	require.NotNil(t, again.Result)
	assert.True(t, again.Result.RolledBack, "second rollback returns the stored result")
}

func TestResources(t *testing.T) {
	s, store := newTestServer(t)
	seedCheckoutOutage(t, store)
	ctx := context.Background()
	_, err := s.handleRun(ctx, callTool("mamori_run", nil))
	require.NoError(t, err)

	contents, err := s.handlePendingResource(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, uriPendingActions, text.URI)
	var pending []model.ActionListItem
	require.NoError(t, json.Unmarshal([]byte(text.Text), &pending))
	assert.Len(t, pending, 2)

	contents, err = s.handleStatusResource(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	text, ok = contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	var status model.AgentStatus
	require.NoError(t, json.Unmarshal([]byte(text.Text), &status))
	assert.Equal(t, 2, status.PendingActions)
}

func TestPrompts(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	var req mcplib.GetPromptRequest
	req.Params.Arguments = map[string]string{"operator": "olga"}
	res, err := s.handleTriagePrompt(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	text := res.Messages[0].Content.(mcplib.TextContent).Text
	assert.Contains(t, text, "mamori_list_actions")
	assert.Contains(t, text, `"olga"`)

	req.Params.Arguments = map[string]string{}
	_, err = s.handleInvestigatePrompt(ctx, req)
	assert.Error(t, err)

	req.Params.Arguments = map[string]string{"symptom": "checkout returns 500"}
	res, err = s.handleInvestigatePrompt(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Investigate: checkout returns 500", res.Description)
}
