package observer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/testutil"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	tickets   []model.SupportTicket
	apiLogs   []model.APILog
	webhooks  []model.WebhookLog
	checkouts []model.CheckoutSession
	failAPI   error
	since     time.Time
}

func (f *fakeSource) RecentTickets(_ context.Context, since time.Time, _ int) ([]model.SupportTicket, error) {
	f.since = since
	return f.tickets, nil
}

func (f *fakeSource) RecentAPIErrors(_ context.Context, _ time.Time, _ int) ([]model.APILog, error) {
	if f.failAPI != nil {
		return nil, f.failAPI
	}
	return f.apiLogs, nil
}

func (f *fakeSource) RecentWebhookFailures(_ context.Context, _ time.Time, _ int) ([]model.WebhookLog, error) {
	return f.webhooks, nil
}

func (f *fakeSource) RecentCheckoutFailures(_ context.Context, _ time.Time, _ int) ([]model.CheckoutSession, error) {
	return f.checkouts, nil
}

type recordingMemory struct {
	seen []string
	err  error
}

func (r *recordingMemory) Remember(_ context.Context, p model.Pattern) (bool, error) {
	r.seen = append(r.seen, p.ID)
	return false, r.err
}

func ptr[T any](v T) *T { return &v }

func apiLog(merchant uuid.UUID, endpoint string, code int) model.APILog {
	return model.APILog{
		ID:           uuid.New(),
		MerchantID:   merchant,
		Endpoint:     endpoint,
		Method:       "POST",
		StatusCode:   ptr(code),
		ErrorMessage: ptr("Internal server error"),
		DurationMS:   ptr(1200),
		CreatedAt:    fixedNow.Add(-time.Minute),
	}
}

func checkout(merchant uuid.UUID, code string) model.CheckoutSession {
	return model.CheckoutSession{
		ID:            uuid.New(),
		MerchantID:    merchant,
		CartTotal:     99.5,
		Status:        model.CheckoutFailed,
		FailureReason: ptr("Card declined"),
		ErrorCode:     ptr(code),
		CreatedAt:     fixedNow.Add(-2 * time.Minute),
	}
}

func newTestObserver(src Source, mem *state.Memory, patterns PatternMemory) *Observer {
	o := New(src, mem, patterns, DefaultConfig(), testutil.TestLogger())
	o.now = func() time.Time { return fixedNow }
	return o
}

func TestObserve_EmptyWindow(t *testing.T) {
	src := &fakeSource{}
	obs, err := newTestObserver(src, nil, nil).Observe(context.Background())
	require.NoError(t, err)

	assert.True(t, obs.Empty())
	assert.Empty(t, obs.Signals)
	assert.NotNil(t, obs.PatternsDetected)
	assert.NotNil(t, obs.Anomalies)
	assert.Equal(t, "No new signals detected in the observation window.", obs.Summary)
	assert.Equal(t, fixedNow.Add(-15*time.Minute), src.since)
}

func TestObserve_EndpointWidespreadFailure(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ep := "/api/v2/checkout/create"
	src := &fakeSource{apiLogs: []model.APILog{
		apiLog(a, ep, 500), apiLog(a, ep, 500), apiLog(b, ep, 500), apiLog(b, ep, 500), apiLog(b, ep, 500),
	}}
	obs, err := newTestObserver(src, nil, nil).Observe(context.Background())
	require.NoError(t, err)
	require.Len(t, obs.Signals, 5)

	var endpoint *model.Pattern
	for i := range obs.PatternsDetected {
		if obs.PatternsDetected[i].PatternType == model.PatternEndpointWidespreadFailure {
			endpoint = &obs.PatternsDetected[i]
		}
	}
	require.NotNil(t, endpoint)
	assert.Equal(t, "pattern-endpoint-"+ep, endpoint.ID)
	assert.Equal(t, fmt.Sprintf("Endpoint %s is failing for 2 merchants", ep), endpoint.Description)
	require.NotNil(t, endpoint.AssociatedRootCause)
	assert.Equal(t, model.IncidentPlatformRegression, *endpoint.AssociatedRootCause)
	assert.InDelta(t, 0.7, *endpoint.Confidence, 1e-9)
	assert.Equal(t, 5, endpoint.Signature["failure_count"])
	assert.ElementsMatch(t, []string{a.String(), b.String()}, endpoint.Signature["affected_merchants"])

	// Merchant b has three critical errors, merchant a only two.
	assert.Contains(t, patternIDs(obs), "pattern-merchant-"+b.String())
	assert.NotContains(t, patternIDs(obs), "pattern-merchant-"+a.String())

	require.NotEmpty(t, obs.Anomalies)
	assert.Equal(t, model.AnomalyCriticalErrors, obs.Anomalies[0].Type)
	assert.Equal(t, "5 critical errors detected", obs.Anomalies[0].Description)
	assert.Equal(t, model.IncidentSeverityCritical, obs.Anomalies[0].Severity)

	assert.Equal(t, "Observed 5 signals (5 api errors). Detected 2 pattern(s). 1 critical anomaly(ies) require attention.", obs.Summary)
}

func TestObserve_CheckoutSpike(t *testing.T) {
	m := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	src := &fakeSource{checkouts: []model.CheckoutSession{
		checkout(m[0], "card_declined"), checkout(m[0], "insufficient_funds"),
		checkout(m[1], "card_declined"), checkout(m[1], "gateway_timeout"),
		checkout(m[2], "card_declined"), checkout(m[2], "card_declined"),
	}}
	obs, err := newTestObserver(src, nil, nil).Observe(context.Background())
	require.NoError(t, err)

	require.Len(t, obs.PatternsDetected, 1)
	p := obs.PatternsDetected[0]
	assert.Equal(t, "pattern-checkout-spike", p.ID)
	assert.Equal(t, "Checkout failure spike: 6 failures across 3 merchants", p.Description)
	assert.Equal(t, []string{"card_declined", "insufficient_funds", "gateway_timeout"}, p.Signature["error_codes"])
	assert.Nil(t, p.AssociatedRootCause)
	assert.Equal(t, "Checkout failed: Card declined", obs.Signals[0].Message)
	assert.Equal(t, model.SeverityError, obs.Signals[0].Severity)
}

func TestObserve_RepeatedMerchantWebhookErrors(t *testing.T) {
	merchant := uuid.New()
	var hooks []model.WebhookLog
	for i := 0; i < 4; i++ {
		hooks = append(hooks, model.WebhookLog{
			ID:             uuid.New(),
			MerchantID:     merchant,
			EventType:      "order.created",
			DeliveryStatus: model.DeliveryFailed,
			RetryCount:     3,
			LastError:      ptr("Connection refused"),
			CreatedAt:      fixedNow.Add(-time.Minute),
		})
	}
	obs, err := newTestObserver(&fakeSource{webhooks: hooks}, nil, nil).Observe(context.Background())
	require.NoError(t, err)

	require.Len(t, obs.PatternsDetected, 1)
	p := obs.PatternsDetected[0]
	assert.Equal(t, model.PatternRepeatedMerchantErrors, p.PatternType)
	assert.Equal(t, "Merchant "+merchant.String()+" has 4 errors in the last 15 minutes", p.Description)
	assert.Equal(t, []string{"webhook_failure"}, p.Signature["error_types"])
	assert.Equal(t, "Webhook order.created failed (3 retries)", obs.Signals[0].Message)
	assert.Empty(t, obs.Anomalies)
}

func TestObserve_WidespreadAndVolumeAnomalies(t *testing.T) {
	var logs []model.APILog
	for i := 0; i < 10; i++ {
		logs = append(logs, apiLog(uuid.New(), fmt.Sprintf("/api/v2/route-%d", i), 422))
	}
	obs, err := newTestObserver(&fakeSource{apiLogs: logs}, nil, nil).Observe(context.Background())
	require.NoError(t, err)

	types := make([]string, 0, len(obs.Anomalies))
	for _, a := range obs.Anomalies {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{model.AnomalyErrorVolumeSpike, model.AnomalyWidespreadImpact}, types)
	assert.Equal(t, "Unusually high error volume: 10 errors in 15 minutes", obs.Anomalies[0].Description)
	assert.Equal(t, "Issues affecting 10 merchants simultaneously", obs.Anomalies[1].Description)
}

func TestObserve_StreamOrderAndBatchCap(t *testing.T) {
	merchant := uuid.New()
	src := &fakeSource{
		tickets: []model.SupportTicket{{
			ID:         uuid.New(),
			MerchantID: &merchant,
			Subject:    "Webhooks stopped",
			Category:   ptr("webhooks"),
			Priority:   model.PriorityHigh,
			Status:     model.TicketOpen,
			Source:     "email",
			CreatedAt:  fixedNow,
		}},
		apiLogs: []model.APILog{apiLog(merchant, "/api/v2/products", 404)},
		checkouts: []model.CheckoutSession{
			checkout(merchant, "card_declined"),
		},
	}
	o := newTestObserver(src, nil, nil)
	o.cfg.BatchSize = 2
	obs, err := o.Observe(context.Background())
	require.NoError(t, err)

	require.Len(t, obs.Signals, 2)
	assert.Equal(t, model.SignalTicket, obs.Signals[0].Type)
	assert.Equal(t, "[webhooks] Webhooks stopped", obs.Signals[0].Message)
	assert.Equal(t, model.SeverityError, obs.Signals[0].Severity)
	assert.Equal(t, model.SignalAPIError, obs.Signals[1].Type)
	assert.Equal(t, "POST /api/v2/products returned 404", obs.Signals[1].Message)
	assert.Equal(t, "Observed 2 signals (1 tickets, 1 api errors).", obs.Summary)
}

func TestObserve_DegradedSource(t *testing.T) {
	mem := state.NewMemory()
	src := &fakeSource{
		failAPI:   errors.New("connection reset"),
		checkouts: []model.CheckoutSession{checkout(uuid.New(), "card_declined")},
	}
	obs, err := newTestObserver(src, mem, nil).Observe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{SourceAPILogs}, obs.DegradedSources)
	require.Len(t, obs.Signals, 1)

	stored, ok := mem.Observation()
	require.True(t, ok)
	assert.Equal(t, obs.Summary, stored.Summary)
	assert.Equal(t, 1, mem.Stats().BufferedSignals)
}

func TestObserve_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestObserver(&fakeSource{}, nil, nil).Observe(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestObserve_RemembersPatterns(t *testing.T) {
	m := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	src := &fakeSource{checkouts: []model.CheckoutSession{
		checkout(m[0], "a"), checkout(m[1], "b"), checkout(m[2], "c"), checkout(m[0], "d"), checkout(m[1], "e"),
	}}
	mem := &recordingMemory{err: errors.New("db down")}
	obs, err := newTestObserver(src, nil, mem).Observe(context.Background())
	require.NoError(t, err, "pattern memory failures are advisory")
	assert.Equal(t, patternIDs(obs), mem.seen)
}

func TestSeverityMappings(t *testing.T) {
	assert.Equal(t, model.SeverityCritical, ticketSeverity(model.PriorityUrgent))
	assert.Equal(t, model.SeverityError, ticketSeverity(model.PriorityHigh))
	assert.Equal(t, model.SeverityWarning, ticketSeverity(model.PriorityMedium))
	assert.Equal(t, model.SeverityInfo, ticketSeverity(model.PriorityLow))

	assert.Equal(t, model.SeverityWarning, statusSeverity(nil))
	assert.Equal(t, model.SeverityWarning, statusSeverity(ptr(0)))
	assert.Equal(t, model.SeverityCritical, statusSeverity(ptr(503)))
	assert.Equal(t, model.SeverityError, statusSeverity(ptr(400)))
	assert.Equal(t, model.SeverityWarning, statusSeverity(ptr(302)))

	assert.Equal(t, model.SeverityWarning, webhookSeverity(2))
	assert.Equal(t, model.SeverityError, webhookSeverity(3))
}

func patternIDs(obs model.Observation) []string {
	ids := make([]string, 0, len(obs.PatternsDetected))
	for _, p := range obs.PatternsDetected {
		ids = append(ids, p.ID)
	}
	return ids
}
