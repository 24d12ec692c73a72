package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mamori/internal/agent"
	"github.com/ashita-ai/mamori/internal/agent/actor"
	"github.com/ashita-ai/mamori/internal/agent/agenttest"
	"github.com/ashita-ai/mamori/internal/agent/decider"
	"github.com/ashita-ai/mamori/internal/agent/observer"
	"github.com/ashita-ai/mamori/internal/agent/reasoner"
	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/testutil"
)

type harness struct {
	store  *agenttest.Store
	memory *state.Memory
	agent  *agent.Agent
}

func newHarness(t *testing.T) harness {
	t.Helper()
	store := agenttest.New()
	mem := state.NewMemory()
	logger := testutil.TestLogger()
	st := state.NewStore(store, mem, logger)
	reg := actor.DefaultRegistry(actor.Deps{Tickets: store, Incidents: store, State: st, Memory: mem, Logger: logger})

	a := agent.New(agent.Deps{
		Observer: observer.New(store, mem, st, observer.DefaultConfig(), logger),
		Reasoner: reasoner.New(nil, store, mem, logger),
		Decider:  decider.New(decider.Policy{}, mem, logger),
		Actor:    actor.New(store, reg, mem, logger),
		State:    st,
		Memory:   mem,
		Logger:   logger,
	})
	return harness{store: store, memory: mem, agent: a}
}

func seedCheckoutOutage(t *testing.T, store *agenttest.Store) {
	t.Helper()
	ctx := context.Background()
	merchants := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	code := 500
	msg := "Internal server error"
	for i, m := range []uuid.UUID{merchants[0], merchants[0], merchants[1], merchants[1], merchants[2]} {
		require.NoError(t, store.InsertAPILog(ctx, model.APILog{
			MerchantID:   m,
			Endpoint:     "/api/v2/checkout/create",
			Method:       "POST",
			StatusCode:   &code,
			ErrorMessage: &msg,
			CreatedAt:    time.Now().UTC().Add(-time.Duration(i) * time.Minute),
		}))
	}
}

func TestRunOnce_EmptyWindow(t *testing.T) {
	h := newHarness(t)

	res, err := h.agent.RunOnce(context.Background())
	require.NoError(t, err)

	s := res.Summary()
	assert.Zero(t, s.SignalsObserved)
	assert.Zero(t, s.IssuesAnalyzed)
	assert.NotNil(t, s.Reasoning)
	assert.NotNil(t, s.Executions)
	assert.Empty(t, h.store.Actions)
	assert.Empty(t, h.store.Incidents)
	assert.Empty(t, h.store.ReasoningLogs)
	assert.False(t, h.memory.IsProcessing())
	assert.NotNil(t, h.memory.Stats().LastProcessedAt)
}

func TestRunOnce_WidespreadEndpointFailure(t *testing.T) {
	h := newHarness(t)
	seedCheckoutOutage(t, h.store)

	res, err := h.agent.RunOnce(context.Background())
	require.NoError(t, err)

	s := res.Summary()
	assert.Equal(t, 5, s.SignalsObserved)
	assert.Equal(t, 1, s.PatternsDetected)
	require.Equal(t, 1, s.IssuesAnalyzed)
	assert.Equal(t, model.IncidentPlatformRegression, res.Reasoning[0].Classification)
	assert.Len(t, res.Reasoning[0].AffectedScope.Merchants, 3)

	assert.Equal(t, 3, s.ActionsRecommended)
	assert.Equal(t, 1, s.ActionsExecuted)
	assert.Equal(t, 2, s.ActionsPending)
	assert.Len(t, h.store.Actions, 3)
	assert.Len(t, h.store.Incidents, 1)
	assert.Len(t, h.memory.PendingActions(), 2)
	incidentID := res.Reasoning[0].IncidentID
	require.NotNil(t, incidentID)
	assert.Contains(t, h.store.Incidents, *incidentID)
	for _, act := range h.store.Actions {
		require.NotNil(t, act.IncidentID, "action %s", act.ActionType)
		assert.Equal(t, *incidentID, *act.IncidentID)
	}
	assert.NotEmpty(t, h.store.ReasoningLogs)
	assert.Len(t, h.store.Patterns, 1)

	snap, ok := h.store.State[agent.LastRunKey]
	require.True(t, ok)
	assert.Equal(t, 3, snap.Value["actions_recommended"])
	require.NotNil(t, snap.ExpiresAt)

	// The same window again recurs the pattern instead of storing a new one.
	_, err = h.agent.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.store.Patterns, 1)
	for _, p := range h.store.Patterns {
		assert.Equal(t, 2, p.Occurrences)
	}
}

type blockingObserver struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingObserver) Observe(context.Context) (model.Observation, error) {
	close(b.entered)
	<-b.release
	return model.Observation{}, nil
}

func TestRunOnce_RejectsOverlap(t *testing.T) {
	obs := blockingObserver{entered: make(chan struct{}), release: make(chan struct{})}
	a := agent.New(agent.Deps{Observer: obs, Logger: testutil.TestLogger()})

	done := make(chan error, 1)
	go func() {
		_, err := a.RunOnce(context.Background())
		done <- err
	}()
	<-obs.entered

	_, err := a.RunOnce(context.Background())
	assert.ErrorIs(t, err, agent.ErrCycleInProgress)
	assert.True(t, a.Status().IsProcessing)

	close(obs.release)
	require.NoError(t, <-done)
	assert.False(t, a.Status().IsProcessing)
}

type failingObserver struct{}

func (failingObserver) Observe(context.Context) (model.Observation, error) {
	return model.Observation{}, context.Canceled
}

func TestRunOnce_ErrorClearsFlag(t *testing.T) {
	a := agent.New(agent.Deps{Observer: failingObserver{}, Logger: testutil.TestLogger()})

	_, err := a.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, a.Memory().IsProcessing())

	_, err = a.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.Canceled, "a failed cycle does not block the next one")
}

func TestRunOnce_ActorFailurePropagates(t *testing.T) {
	h := newHarness(t)
	seedCheckoutOutage(t, h.store)
	h.store.FailOn("CreateAction", errors.New("connection reset"))

	res, err := h.agent.RunOnce(context.Background())
	assert.ErrorContains(t, err, "connection reset")
	assert.Len(t, res.Reasoning, 1)
	assert.NotContains(t, h.store.State, agent.LastRunKey)
	assert.False(t, h.memory.IsProcessing())
}

func TestSummaryCounts(t *testing.T) {
	res := agent.LoopResult{
		Decisions: []model.Decision{{RecommendedActions: make([]model.RecommendedAction, 2)}, {RecommendedActions: make([]model.RecommendedAction, 1)}},
		Executions: []model.ExecutionResult{
			{Success: true},
			{Success: true, Result: map[string]any{"status": model.ResultStatusPendingApproval}},
			{Success: false},
		},
		Duration: 1500 * time.Millisecond,
	}
	s := res.Summary()
	assert.Equal(t, 3, s.ActionsRecommended)
	assert.Equal(t, 1, s.ActionsExecuted)
	assert.Equal(t, 1, s.ActionsPending)
	assert.Equal(t, int64(1500), s.DurationMS)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Error(t, h.agent.Start(ctx, 0))
	require.NoError(t, h.agent.Start(ctx, time.Hour))
	assert.ErrorIs(t, h.agent.Start(ctx, time.Hour), agent.ErrAlreadyStarted)
	assert.True(t, h.agent.Status().IsRunning)

	// The first cycle runs immediately.
	require.Eventually(t, func() bool {
		return h.memory.Stats().LastProcessedAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	h.agent.Stop()
	assert.False(t, h.agent.Status().IsRunning)
	assert.False(t, h.memory.IsProcessing())
	h.agent.Stop()
}
