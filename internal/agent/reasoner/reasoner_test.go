package reasoner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/testutil"
)

type fakeLogs struct {
	batches [][]model.ReasoningLog
	err     error
}

func (f *fakeLogs) InsertReasoningLogs(_ context.Context, logs []model.ReasoningLog) error {
	f.batches = append(f.batches, logs)
	return f.err
}

// flakyClassifier fails every cluster whose id is listed.
type flakyClassifier struct {
	fail map[string]bool
}

func (flakyClassifier) Name() string { return "flaky" }

func (f flakyClassifier) Classify(ctx context.Context, c Cluster) (Analysis, error) {
	if f.fail[c.ID] {
		return Analysis{}, errors.New("classifier unavailable")
	}
	return RuleClassifier{}.Classify(ctx, c)
}

func sig(id string, typ model.SignalType, merchant string, sev model.Severity, data map[string]any) model.Signal {
	var m *string
	if merchant != "" {
		m = &merchant
	}
	if data == nil {
		data = map[string]any{}
	}
	return model.Signal{
		ID:         id,
		Type:       typ,
		MerchantID: m,
		Severity:   sev,
		Message:    string(typ) + " " + id,
		Data:       data,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func endpointPattern(ep string, merchants ...string) model.Pattern {
	return model.Pattern{
		ID:          "pattern-endpoint-" + ep,
		PatternType: model.PatternEndpointWidespreadFailure,
		Signature:   map[string]any{"endpoint": ep, "affected_merchants": merchants, "failure_count": 3},
	}
}

func merchantPattern(m string) model.Pattern {
	return model.Pattern{
		ID:          "pattern-merchant-" + m,
		PatternType: model.PatternRepeatedMerchantErrors,
		Signature:   map[string]any{"merchant_id": m},
	}
}

func TestReason_EmptyObservation(t *testing.T) {
	logs := &fakeLogs{}
	r := New(nil, logs, nil, testutil.TestLogger())

	results, out := r.Reason(context.Background(), model.Observation{})
	assert.Empty(t, results)
	assert.NoError(t, out.PersistErr)
	assert.Empty(t, logs.batches, "no logs are written for an empty observation")
}

func TestReason_EndpointPatternIsPlatformRegression(t *testing.T) {
	ep := "/api/v2/checkout/create"
	data := map[string]any{"endpoint": ep}
	obs := model.Observation{
		Signals: []model.Signal{
			sig("s1", model.SignalAPIError, "m1", model.SeverityCritical, data),
			sig("s2", model.SignalAPIError, "m1", model.SeverityCritical, data),
			sig("s3", model.SignalAPIError, "m2", model.SeverityCritical, data),
			sig("s4", model.SignalTicket, "m3", model.SeverityInfo, nil),
		},
		// The merchant pattern is listed first but the endpoint pattern still
		// claims the shared signals.
		PatternsDetected: []model.Pattern{merchantPattern("m1"), endpointPattern(ep, "m1", "m2")},
	}
	mem := state.NewMemory()
	logs := &fakeLogs{}
	results, out := New(RuleClassifier{}, logs, mem, testutil.TestLogger()).Reason(context.Background(), obs)
	require.NoError(t, out.PersistErr)

	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, model.IncidentPlatformRegression, res.Classification)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.Equal(t, []string{"m1", "m2"}, res.AffectedScope.Merchants)
	assert.Equal(t, []string{"API", "Checkout"}, res.AffectedScope.Features)
	assert.Equal(t, "2 merchants affected", res.AffectedScope.EstimatedImpact)
	require.Len(t, res.EvidenceChain, 3)
	assert.Equal(t, model.EvidenceAPIError, res.EvidenceChain[0].Type)
	assert.Equal(t, "s1", res.EvidenceChain[0].SourceID)
	assert.Len(t, res.ReasoningSteps, 3)

	require.Len(t, logs.batches, 1)
	steps := logs.batches[0]
	require.Len(t, steps, 3)
	for i, s := range steps {
		assert.Equal(t, i+1, s.StepNumber)
		assert.Equal(t, model.PhaseReason, s.Phase)
	}
	assert.Equal(t, "Analyzing 4 signals and 2 patterns", steps[0].Thought)
	assert.Equal(t, "Identified 1 distinct issue clusters", steps[1].Thought)
	assert.Equal(t, "Analyzed cluster: platform_regression", steps[2].Thought)
	require.NotNil(t, steps[2].ModelUsed)
	assert.Equal(t, "rules", *steps[2].ModelUsed)
	assert.NotNil(t, steps[2].DurationMS)

	assert.Equal(t, results, mem.Reasoning())
}

func TestReason_FailedClusterIsSkipped(t *testing.T) {
	obs := model.Observation{
		Signals: []model.Signal{
			sig("s1", model.SignalWebhookFailure, "m1", model.SeverityError, nil),
			sig("s2", model.SignalWebhookFailure, "m1", model.SeverityError, nil),
			sig("s3", model.SignalWebhookFailure, "m1", model.SeverityError, nil),
			sig("s4", model.SignalCheckoutFailure, "m2", model.SeverityError, nil),
		},
		PatternsDetected: []model.Pattern{merchantPattern("m1")},
	}
	logs := &fakeLogs{err: errors.New("insert failed")}
	r := New(flakyClassifier{fail: map[string]bool{"pattern-merchant-m1": true}}, logs, nil, testutil.TestLogger())

	results, out := r.Reason(context.Background(), obs)
	assert.Error(t, out.PersistErr)
	assert.Equal(t, 1, out.FailedClusters)

	require.Len(t, results, 1)
	assert.Equal(t, model.IncidentPaymentIssue, results[0].Classification)
	assert.InDelta(t, 0.65, results[0].Confidence, 1e-9)

	steps := logs.batches[0]
	require.Len(t, steps, 4)
	assert.Equal(t, "Error analyzing cluster: classifier unavailable", steps[2].Thought)
	require.NotNil(t, steps[2].Confidence)
	assert.Zero(t, *steps[2].Confidence)
	assert.Equal(t, "Analysis failed", *steps[2].Conclusion)
	assert.Len(t, results[0].ReasoningSteps, 4)
}

func TestClusterSignals_AtMostOneCluster(t *testing.T) {
	signals := []model.Signal{
		sig("a", model.SignalCheckoutFailure, "m1", model.SeverityError, nil),
		sig("b", model.SignalCheckoutFailure, "m2", model.SeverityError, nil),
		sig("c", model.SignalTicket, "m3", model.SeverityCritical, nil),
		sig("d", model.SignalTicket, "m4", model.SeverityInfo, nil),
	}
	spike := model.Pattern{
		ID:          "pattern-checkout-spike",
		PatternType: model.PatternCheckoutFailureSpike,
		Signature:   map[string]any{"affected_merchants": []any{"m1", "m2"}},
	}
	clusters := clusterSignals(signals, []model.Pattern{merchantPattern("m1"), spike})

	require.Len(t, clusters, 2)
	assert.Equal(t, "pattern-checkout-spike", clusters[0].ID)
	assert.Len(t, clusters[0].Signals, 2)
	assert.Equal(t, "cluster-2", clusters[1].ID)
	require.Len(t, clusters[1].Signals, 1)
	assert.Equal(t, "c", clusters[1].Signals[0].ID, "info signals never join the residual cluster")

	seen := map[string]int{}
	for _, c := range clusters {
		for _, s := range c.Signals {
			seen[s.ID]++
		}
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "signal %s clustered more than once", id)
	}
}

func TestRuleClassifier(t *testing.T) {
	ctx := context.Background()
	classify := func(c Cluster) Analysis {
		c.Types = signalTypes(c.Signals)
		a, err := RuleClassifier{}.Classify(ctx, c)
		require.NoError(t, err)
		return a
	}

	a := classify(Cluster{Signals: []model.Signal{
		sig("1", model.SignalWebhookFailure, "m1", model.SeverityError, nil),
		sig("2", model.SignalWebhookFailure, "m2", model.SeverityError, nil),
	}})
	assert.Equal(t, model.IncidentPlatformRegression, a.Classification)
	assert.InDelta(t, 0.7, a.Confidence, 1e-9)

	a = classify(Cluster{Signals: []model.Signal{sig("1", model.SignalWebhookFailure, "m1", model.SeverityError, nil)}})
	assert.Equal(t, model.IncidentConfigError, a.Classification)
	assert.InDelta(t, 0.75, a.Confidence, 1e-9)

	a = classify(Cluster{Signals: []model.Signal{
		sig("1", model.SignalTicket, "m1", model.SeverityCritical, map[string]any{"body": "This used to work before the move"}),
	}})
	assert.Equal(t, model.IncidentMigrationMisstep, a.Classification)

	a = classify(Cluster{Signals: []model.Signal{sig("1", model.SignalAPIError, "m1", model.SeverityError, nil)}})
	assert.Equal(t, model.IncidentDocumentationGap, a.Classification)
	assert.InDelta(t, 0.3, a.Confidence, 1e-9)
	assert.Equal(t, []string{"api_error"}, a.AffectedFeatures)

	mp := merchantPattern("m1")
	a = classify(Cluster{Pattern: &mp, Signals: []model.Signal{
		sig("1", model.SignalAPIError, "m1", model.SeverityError, nil),
		sig("2", model.SignalWebhookFailure, "m1", model.SeverityError, nil),
	}})
	assert.Equal(t, model.IncidentConfigError, a.Classification)
	assert.InDelta(t, 0.8, a.Confidence, 1e-9)
	assert.Equal(t, []string{"api error", "webhook failure"}, a.AffectedFeatures)
}

type fakeMessages struct {
	reply  string
	err    error
	params anthropic.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = body
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: f.reply}},
		Usage:   anthropic.Usage{InputTokens: 120, OutputTokens: 30},
	}, nil
}

func TestAnthropicClassifier(t *testing.T) {
	cluster := Cluster{ID: "cluster-1", Signals: []model.Signal{
		sig("1", model.SignalAPIError, "m1", model.SeverityCritical, nil),
	}}

	t.Run("parses the embedded object", func(t *testing.T) {
		msgs := &fakeMessages{reply: "Here is my analysis:\n" +
			`{"classification":"api_outage","root_cause_hypothesis":"Gateway down","confidence":0.9,` +
			`"affected_features":["API"],"impact_assessment":"All merchants"}` + "\nDone."}
		c := newAnthropicClassifier(msgs, AnthropicConfig{})

		a, err := c.Classify(context.Background(), cluster)
		require.NoError(t, err)
		assert.Equal(t, model.IncidentAPIOutage, a.Classification)
		assert.Equal(t, "Gateway down", a.RootCauseHypothesis)
		assert.Equal(t, 150, a.TokensUsed)
		assert.Equal(t, anthropic.Model(DefaultModel), msgs.params.Model)
		assert.Equal(t, int64(DefaultMaxTokens), msgs.params.MaxTokens)
		assert.Equal(t, DefaultModel, c.Name())
	})

	t.Run("ignores braces in trailing prose", func(t *testing.T) {
		msgs := &fakeMessages{reply: `{"classification":"config_error","root_cause_hypothesis":"Bad key","confidence":0.8}` +
			"\nIf it persists, check {store}/settings or send {\"retry\": true}."}
		a, err := newAnthropicClassifier(msgs, AnthropicConfig{}).Classify(context.Background(), cluster)
		require.NoError(t, err)
		assert.Equal(t, model.IncidentConfigError, a.Classification)
		assert.Equal(t, "Bad key", a.RootCauseHypothesis)
	})

	t.Run("skips braces before the object", func(t *testing.T) {
		msgs := &fakeMessages{reply: `Looking at {merchant} errors: {"classification":"payment_issue","confidence":0.7}`}
		a, err := newAnthropicClassifier(msgs, AnthropicConfig{}).Classify(context.Background(), cluster)
		require.NoError(t, err)
		assert.Equal(t, model.IncidentPaymentIssue, a.Classification)
	})

	t.Run("rejects unknown classification", func(t *testing.T) {
		msgs := &fakeMessages{reply: `{"classification":"cosmic_rays","confidence":0.5}`}
		_, err := newAnthropicClassifier(msgs, AnthropicConfig{}).Classify(context.Background(), cluster)
		assert.ErrorContains(t, err, "unknown classification")
	})

	t.Run("rejects reply without json", func(t *testing.T) {
		msgs := &fakeMessages{reply: "I am not sure."}
		_, err := newAnthropicClassifier(msgs, AnthropicConfig{}).Classify(context.Background(), cluster)
		assert.Error(t, err)
	})

	t.Run("wraps transport errors", func(t *testing.T) {
		msgs := &fakeMessages{err: errors.New("overloaded")}
		_, err := newAnthropicClassifier(msgs, AnthropicConfig{}).Classify(context.Background(), cluster)
		assert.ErrorContains(t, err, "overloaded")
	})

	_, err := NewAnthropicClassifier(AnthropicConfig{})
	assert.Error(t, err, "api key is required")
}
