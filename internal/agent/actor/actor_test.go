package actor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mamori/internal/agent/actor"
	"github.com/ashita-ai/mamori/internal/agent/agenttest"
	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/testutil"
)

type fixture struct {
	store  *agenttest.Store
	memory *state.Memory
	actor  *actor.Actor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := agenttest.New()
	mem := state.NewMemory()
	logger := testutil.TestLogger()
	reg := actor.DefaultRegistry(actor.Deps{
		Tickets:   store,
		Incidents: store,
		State:     state.NewStore(store, mem, logger),
		Memory:    mem,
		Logger:    logger,
	})
	return fixture{store: store, memory: mem, actor: actor.New(store, reg, mem, logger)}
}

func recommend(t model.ActionType, risk model.RiskLevel, approval bool) model.RecommendedAction {
	return model.RecommendedAction{
		ActionType:       t,
		Description:      "do " + string(t),
		Confidence:       0.85,
		RiskLevel:        risk,
		RequiresApproval: approval,
		Details: model.ActionDetails{
			Classification:    model.IncidentPlatformRegression,
			AffectedMerchants: []string{"m1", "m2"},
			RootCause:         "bad deploy",
		},
	}
}

func TestExecute_AutoAndPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := model.Decision{RecommendedActions: []model.RecommendedAction{
		recommend(model.ActionCreateIncident, model.RiskLow, false),
		recommend(model.ActionNotifyMerchantsBatch, model.RiskMedium, true),
		recommend(model.ActionNotifyMerchant, model.RiskLow, false),
	}}

	results, err := f.actor.Execute(ctx, d, actor.ExecContext{MerchantIDs: []string{"m1", "m2", "m3"}})
	require.NoError(t, err)
	require.Len(t, results, 3)

	inc := results[0]
	assert.True(t, inc.Success)
	assert.True(t, inc.RollbackAvailable)
	assert.Equal(t, "Incident created", inc.Result["message"])
	assert.Equal(t, []string{"New incident created for tracking"}, inc.SideEffects)
	incidentID, err := uuid.Parse(inc.Result["incident_id"].(string))
	require.NoError(t, err)
	stored, ok := f.store.Incidents[incidentID]
	require.True(t, ok)
	assert.Equal(t, "do create_incident", stored.Title)
	assert.Equal(t, model.IncidentPlatformRegression, stored.Type)
	assert.Equal(t, model.IncidentSeverityMedium, stored.Severity)
	assert.Equal(t, "bad deploy", *stored.RootCause)
	_, tracked := f.memory.Incident(incidentID)
	assert.True(t, tracked)
	for _, r := range results {
		rec, err := f.store.GetAction(ctx, r.ActionID)
		require.NoError(t, err)
		require.NotNil(t, rec.IncidentID, "action %s", rec.ActionType)
		assert.Equal(t, incidentID, *rec.IncidentID)
	}
	assert.Equal(t, &incidentID, actor.CreatedIncident(results))

	pending := results[1]
	assert.True(t, pending.Success)
	assert.True(t, pending.PendingApproval())
	assert.Empty(t, pending.SideEffects)
	assert.Len(t, f.memory.PendingActions(), 1)
	rec, err := f.store.GetAction(ctx, pending.ActionID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, rec.ApprovalStatus)
	assert.False(t, rec.Executed)

	notify := results[2]
	assert.Equal(t, 3, notify.Result["merchants_notified"])
	assert.Equal(t, []string{"Notified 3 merchant(s)"}, notify.SideEffects)

	rec, err = f.store.GetAction(ctx, notify.ActionID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalAutoApproved, rec.ApprovalStatus)
	assert.True(t, rec.Executed)
	require.NotNil(t, rec.ExecutionResult)
	assert.True(t, rec.ExecutionResult.Success)
}

func TestExecute_UnknownHandlerAndPanic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.actor.RegisterHandler(model.ActionUpdateDocumentation, actor.HandlerFunc(
		func(context.Context, model.AgentAction, actor.ExecContext) (model.ExecutionResult, error) {
			panic("boom")
		}))
	d := model.Decision{RecommendedActions: []model.RecommendedAction{
		{ActionType: "page_oncall", RiskLevel: model.RiskLow},
		recommend(model.ActionUpdateDocumentation, model.RiskLow, false),
	}}

	results, err := f.actor.Execute(ctx, d, actor.ExecContext{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Equal(t, "No handler registered for action type: page_oncall", *results[0].Error)
	assert.False(t, results[1].Success)
	assert.Contains(t, *results[1].Error, "boom")

	rec, err := f.store.GetAction(ctx, results[1].ActionID)
	require.NoError(t, err)
	assert.True(t, rec.Executed, "failed executions are still recorded as executed")
}

func TestExecute_HandlerErrorBecomesFailedResult(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("CreateIncident", errors.New("insert failed"))

	results, err := f.actor.Execute(context.Background(), model.Decision{RecommendedActions: []model.RecommendedAction{
		recommend(model.ActionCreateIncident, model.RiskLow, false),
	}}, actor.ExecContext{})
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Equal(t, "insert failed", *results[0].Error)
}

func TestExecute_CreateActionFailureStopsBatch(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("CreateAction", errors.New("db down"))

	results, err := f.actor.Execute(context.Background(), model.Decision{RecommendedActions: []model.RecommendedAction{
		recommend(model.ActionEscalateSupport, model.RiskLow, false),
	}}, actor.ExecContext{})
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, results)
}

func TestAutoReply_UpdatesTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticketID := uuid.New()
	require.NoError(t, f.store.InsertTicket(ctx, model.SupportTicket{ID: ticketID, Status: model.TicketOpen}))

	ra := recommend(model.ActionAutoReply, model.RiskLow, false)
	ra.Details.Reply = &model.ReplyDetails{TicketID: ticketID.String()}
	results, err := f.actor.Execute(ctx, model.Decision{RecommendedActions: []model.RecommendedAction{ra}}, actor.ExecContext{})
	require.NoError(t, err)

	assert.True(t, results[0].Success)
	assert.Equal(t, []string{"Ticket status updated to in_progress"}, results[0].SideEffects)
	tk := f.store.Tickets[0]
	assert.Equal(t, model.TicketInProgress, tk.Status)
	assert.Equal(t, "do auto_reply", *tk.AgentResponse)
	assert.InDelta(t, 0.85, *tk.AgentConfidence, 1e-9)

	rec, err := f.store.GetAction(ctx, results[0].ActionID)
	require.NoError(t, err)
	require.NotNil(t, rec.TicketID)
	assert.Equal(t, ticketID, *rec.TicketID)
}

func TestApproveAction_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	results, err := f.actor.Execute(ctx, model.Decision{RecommendedActions: []model.RecommendedAction{
		recommend(model.ActionEscalateEngineering, model.RiskCritical, true),
	}}, actor.ExecContext{})
	require.NoError(t, err)
	id := results[0].ActionID

	res, err := f.actor.ApproveAction(ctx, id, "admin")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "engineering-alerts", res.Result["channel"])
	assert.Empty(t, f.memory.PendingActions())

	rec, err := f.store.GetAction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, rec.ApprovalStatus)
	assert.Equal(t, "admin", *rec.ApprovedBy)
	assert.True(t, rec.Executed)

	// A second approval replays the stored result.
	again, err := f.actor.ApproveAction(ctx, id, "someone-else")
	require.NoError(t, err)
	assert.Equal(t, res, again)

	// Rejecting an executed action is a no-op.
	require.NoError(t, f.actor.RejectAction(ctx, id, "admin", "too late"))
	rec, err = f.store.GetAction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, rec.ApprovalStatus)
	assert.Nil(t, rec.RejectionReason)
}

func TestApproveAction_LinksApprovedIncident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	results, err := f.actor.Execute(ctx, model.Decision{RecommendedActions: []model.RecommendedAction{
		recommend(model.ActionCreateIncident, model.RiskHigh, true),
	}}, actor.ExecContext{})
	require.NoError(t, err)
	id := results[0].ActionID

	rec, err := f.store.GetAction(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, rec.IncidentID, "no incident exists before approval")

	res, err := f.actor.ApproveAction(ctx, id, "admin")
	require.NoError(t, err)
	incidentID := actor.CreatedIncident([]model.ExecutionResult{res})
	require.NotNil(t, incidentID)

	rec, err = f.store.GetAction(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.IncidentID)
	assert.Equal(t, *incidentID, *rec.IncidentID)
}

func TestRejectThenApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	results, err := f.actor.Execute(ctx, model.Decision{RecommendedActions: []model.RecommendedAction{
		recommend(model.ActionNotifyMerchantsBatch, model.RiskMedium, true),
	}}, actor.ExecContext{})
	require.NoError(t, err)
	id := results[0].ActionID

	require.NoError(t, f.actor.RejectAction(ctx, id, "ops", "not needed"))
	assert.Empty(t, f.memory.PendingActions())

	res, err := f.actor.ApproveAction(ctx, id, "admin")
	assert.ErrorIs(t, err, actor.ErrActionRejected)
	assert.Equal(t, "Action already rejected", *res.Error)

	rec, err := f.store.GetAction(ctx, id)
	require.NoError(t, err)
	assert.False(t, rec.Executed)
	assert.Equal(t, "not needed", *rec.RejectionReason)
}

func TestApproveAction_NotFound(t *testing.T) {
	f := newFixture(t)
	res, err := f.actor.ApproveAction(context.Background(), uuid.New(), "admin")
	assert.ErrorIs(t, err, actor.ErrActionNotFound)
	assert.False(t, res.Success)
	assert.Equal(t, "Action not found", *res.Error)

	assert.ErrorIs(t, f.actor.RejectAction(context.Background(), uuid.New(), "admin", "x"), actor.ErrActionNotFound)
}

func TestApproveAction_RedrivesUnexecutedAutoApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.store.CreateAction(ctx, model.AgentAction{
		ActionType:     model.ActionEscalateSupport,
		Description:    "left behind by a crash",
		RiskLevel:      model.RiskLow,
		ApprovalStatus: model.ApprovalAutoApproved,
	})
	require.NoError(t, err)

	res, err := f.actor.ApproveAction(ctx, a.ID, "admin")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "medium", res.Result["priority"])
}

func TestRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	results, err := f.actor.Execute(ctx, model.Decision{RecommendedActions: []model.RecommendedAction{
		recommend(model.ActionApplyMitigation, model.RiskHigh, true),
		recommend(model.ActionCreateIncident, model.RiskLow, false),
		recommend(model.ActionEscalateSupport, model.RiskLow, false),
	}}, actor.ExecContext{})
	require.NoError(t, err)

	mitigationID := results[0].ActionID
	res, err := f.actor.ApproveAction(ctx, mitigationID, "admin")
	require.NoError(t, err)
	assert.Equal(t, "temporary", res.Result["mitigation_type"])
	key := actor.MitigationKeyPrefix + mitigationID.String()
	assert.Contains(t, f.store.State, key)

	rolled, err := f.actor.Rollback(ctx, mitigationID)
	require.NoError(t, err)
	assert.True(t, rolled.RolledBack)
	assert.NotContains(t, f.store.State, key)

	// Idempotent.
	again, err := f.actor.Rollback(ctx, mitigationID)
	require.NoError(t, err)
	assert.True(t, again.RolledBack)

	incidentAction := results[1].ActionID
	_, err = f.actor.Rollback(ctx, incidentAction)
	require.NoError(t, err)
	assert.Empty(t, f.store.Incidents)

	_, err = f.actor.Rollback(ctx, results[2].ActionID)
	assert.ErrorIs(t, err, actor.ErrRollbackUnavailable)
	_, err = f.actor.Rollback(ctx, uuid.New())
	assert.ErrorIs(t, err, actor.ErrActionNotFound)
}

func TestRegistryWithIsCopy(t *testing.T) {
	base := actor.NewRegistry()
	noop := actor.HandlerFunc(func(context.Context, model.AgentAction, actor.ExecContext) (model.ExecutionResult, error) {
		return model.ExecutionResult{Success: true}, nil
	})
	extended := base.With(model.ActionAutoReply, noop)

	_, inBase := base.Lookup(model.ActionAutoReply)
	_, inExtended := extended.Lookup(model.ActionAutoReply)
	assert.False(t, inBase)
	assert.True(t, inExtended)
	assert.Equal(t, len(model.ActionTypes), actor.DefaultRegistry(actor.Deps{}).Len())
}
