package state_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mamori/internal/agent/agenttest"
	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/testutil"
)

func TestPersistAndLoadState(t *testing.T) {
	ctx := context.Background()
	backend := agenttest.New()
	s := state.NewStore(backend, nil, testutil.TestLogger())

	require.NoError(t, s.PersistState(ctx, "agent:last_run", map[string]any{"actions": 3}, time.Hour))
	require.NotNil(t, backend.State["agent:last_run"].ExpiresAt)

	v, ok, err := s.LoadState(ctx, "agent:last_run")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, v["actions"])

	_, ok, err = s.LoadState(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PersistState(ctx, "forever", map[string]any{}, 0))
	assert.Nil(t, backend.State["forever"].ExpiresAt)
}

func TestLoadStateDropsExpired(t *testing.T) {
	ctx := context.Background()
	backend := agenttest.New()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, backend.UpsertState(ctx, "stale", map[string]any{"a": 1}, &past))

	s := state.NewStore(backend, nil, testutil.TestLogger())
	_, ok, err := s.LoadState(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, backend.State, "stale")
}

func TestPersistStateWrapsBackendError(t *testing.T) {
	backend := agenttest.New()
	backend.FailOn("UpsertState", errors.New("disk full"))
	s := state.NewStore(backend, nil, testutil.TestLogger())

	err := s.PersistState(context.Background(), "k", map[string]any{}, 0)
	assert.ErrorContains(t, err, `state: persist "k": disk full`)
}

func TestRememberStoresThenIncrements(t *testing.T) {
	ctx := context.Background()
	backend := agenttest.New()
	s := state.NewStore(backend, nil, testutil.TestLogger())

	rc := model.IncidentPlatformRegression
	p := model.Pattern{
		PatternType:         model.PatternEndpointWidespreadFailure,
		Signature:           map[string]any{"endpoint": "/api/v1/orders", "count": 7},
		Description:         "orders failing",
		AssociatedRootCause: &rc,
	}

	known, err := s.Remember(ctx, p)
	require.NoError(t, err)
	assert.False(t, known)

	p.Signature["count"] = 9
	known, err = s.Remember(ctx, p)
	require.NoError(t, err)
	assert.True(t, known)

	other := model.Pattern{PatternType: model.PatternEndpointWidespreadFailure, Signature: map[string]any{"endpoint": "/api/v1/products"}}
	_, err = s.Remember(ctx, other)
	require.NoError(t, err)

	found, err := s.FindSimilarPatterns(ctx, model.PatternEndpointWidespreadFailure, 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, 2, found[0].Occurrences)
	assert.Equal(t, "platform_regression", *found[0].AssociatedRootCause)
	assert.Equal(t, 1, found[1].Occurrences)
}

func TestRememberIsMonotonic(t *testing.T) {
	ctx := context.Background()
	backend := agenttest.New()
	s := state.NewStore(backend, nil, testutil.TestLogger())
	p := model.Pattern{
		PatternType: model.PatternRepeatedMerchantErrors,
		Signature:   map[string]any{"merchant_id": "m-42"},
	}

	last := 0
	for i := range 5 {
		known, err := s.Remember(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, i > 0, known)

		require.Len(t, backend.Patterns, 1, "a recurring signature never adds a row")
		for _, row := range backend.Patterns {
			assert.Greater(t, row.Occurrences, last)
			last = row.Occurrences
		}
	}
	assert.Equal(t, 5, last)
}

func TestRememberMatchesBeyondTopPatterns(t *testing.T) {
	ctx := context.Background()
	backend := agenttest.New()
	s := state.NewStore(backend, nil, testutil.TestLogger())

	rare := model.Pattern{
		PatternType: model.PatternRepeatedMerchantErrors,
		Signature:   map[string]any{"merchant_id": "rare"},
	}
	_, err := s.Remember(ctx, rare)
	require.NoError(t, err)

	// Enough busier signatures to push the rare one far down the ranking.
	for i := range 80 {
		busy := model.Pattern{
			PatternType: model.PatternRepeatedMerchantErrors,
			Signature:   map[string]any{"merchant_id": fmt.Sprintf("busy-%d", i)},
		}
		for range 3 {
			_, err := s.Remember(ctx, busy)
			require.NoError(t, err)
		}
	}

	known, err := s.Remember(ctx, rare)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Len(t, backend.Patterns, 81)

	got, err := backend.FindPatternByKey(ctx, model.PatternRepeatedMerchantErrors, "merchant_id=rare")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Occurrences)
}

func TestSignatureKey(t *testing.T) {
	assert.Equal(t, "merchant_id=m1", state.SignatureKey(map[string]any{"merchant_id": "m1", "endpoint": "/x"}))
	assert.Equal(t, "endpoint=/x", state.SignatureKey(map[string]any{"endpoint": "/x", "count": 3}))
	assert.Equal(t, "", state.SignatureKey(map[string]any{"count": 3}))
	assert.Equal(t, "", state.SignatureKey(nil))
}

func TestResolveIncident(t *testing.T) {
	ctx := context.Background()
	backend := agenttest.New()
	mem := state.NewMemory()
	s := state.NewStore(backend, mem, testutil.TestLogger())

	inc, err := backend.CreateIncident(ctx, model.Incident{Title: "webhooks failing"})
	require.NoError(t, err)
	mem.TrackIncident(inc)

	require.NoError(t, s.ResolveIncident(ctx, inc.ID))
	_, tracked := mem.Incident(inc.ID)
	assert.False(t, tracked)
	assert.Equal(t, model.IncidentResolved, backend.Incidents[inc.ID].Status)
	assert.NotNil(t, backend.Incidents[inc.ID].ResolvedAt)

	assert.Error(t, s.ResolveIncident(ctx, uuid.New()))
}
