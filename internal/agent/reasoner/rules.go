package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashita-ai/mamori/internal/model"
)

// Analysis is a classifier's verdict on one cluster.
type Analysis struct {
	Classification      model.IncidentType
	RootCauseHypothesis string
	Confidence          float64
	AffectedFeatures    []string
	ImpactAssessment    string
	TokensUsed          int
}

// Classifier assigns a root-cause classification to a cluster.
type Classifier interface {
	Classify(ctx context.Context, c Cluster) (Analysis, error)
	Name() string
}

var migrationKeywords = []string{"migration", "headless", "api key", "webhook", "used to work"}

// RuleClassifier is the deterministic classifier: pattern-derived verdicts
// first, then signal-type heuristics, then a low-confidence default.
type RuleClassifier struct{}

func (RuleClassifier) Name() string { return "rules" }

func (RuleClassifier) Classify(_ context.Context, c Cluster) (Analysis, error) {
	if c.Pattern != nil {
		if a, ok := classifyPattern(c); ok {
			return a, nil
		}
	}

	if c.hasType(model.SignalWebhookFailure) {
		if n := len(c.merchants()); n > 1 {
			return Analysis{
				Classification:      model.IncidentPlatformRegression,
				RootCauseHypothesis: "Webhook delivery system may have an issue affecting multiple merchants.",
				Confidence:          0.7,
				AffectedFeatures:    []string{"Webhooks", "Order Processing"},
				ImpactAssessment:    fmt.Sprintf("%d merchants affected", n),
			}, nil
		}
		return Analysis{
			Classification:      model.IncidentConfigError,
			RootCauseHypothesis: "Webhook endpoint may be misconfigured or unreachable for this merchant.",
			Confidence:          0.75,
			AffectedFeatures:    []string{"Webhooks"},
			ImpactAssessment:    "Single merchant affected",
		}, nil
	}

	if c.hasType(model.SignalCheckoutFailure) {
		return Analysis{
			Classification:      model.IncidentPaymentIssue,
			RootCauseHypothesis: "Checkout failures detected, could be Stripe integration or cart processing issue.",
			Confidence:          0.65,
			AffectedFeatures:    []string{"Checkout", "Payments"},
			ImpactAssessment:    "Revenue at risk",
		}, nil
	}

	if c.hasType(model.SignalTicket) && mentionsMigration(c.Signals) {
		return Analysis{
			Classification:      model.IncidentMigrationMisstep,
			RootCauseHypothesis: "Issues appear related to the migration process. Merchant may have missed configuration steps.",
			Confidence:          0.7,
			AffectedFeatures:    []string{"Migration", "Configuration"},
			ImpactAssessment:    "Migration-related issues",
		}, nil
	}

	features := make([]string, 0, len(c.Types))
	for _, t := range c.Types {
		features = append(features, string(t))
	}
	return Analysis{
		Classification:      model.IncidentDocumentationGap,
		RootCauseHypothesis: "Unable to determine specific root cause. May require manual investigation.",
		Confidence:          0.3,
		AffectedFeatures:    features,
		ImpactAssessment:    "Requires investigation",
	}, nil
}

func classifyPattern(c Cluster) (Analysis, bool) {
	p := c.Pattern
	switch p.PatternType {
	case model.PatternEndpointWidespreadFailure:
		endpoint, _ := p.Signature["endpoint"].(string)
		impact := "Multiple merchants affected"
		if n := len(StringList(p.Signature["affected_merchants"])); n > 0 {
			impact = fmt.Sprintf("%d merchants affected", n)
		}
		return Analysis{
			Classification:      model.IncidentPlatformRegression,
			RootCauseHypothesis: fmt.Sprintf("API endpoint %s is experiencing widespread failures, likely due to a recent code change or infrastructure issue.", endpoint),
			Confidence:          0.85,
			AffectedFeatures:    []string{"API", "Checkout"},
			ImpactAssessment:    impact,
		}, true
	case model.PatternCheckoutFailureSpike:
		return Analysis{
			Classification:      model.IncidentPaymentIssue,
			RootCauseHypothesis: "Checkout failures are spiking, potentially due to Stripe configuration issues or payment processing errors.",
			Confidence:          0.75,
			AffectedFeatures:    []string{"Checkout", "Payments"},
			ImpactAssessment:    "Revenue-impacting issue affecting multiple merchants",
		}, true
	case model.PatternRepeatedMerchantErrors:
		features := make([]string, 0, len(c.Types))
		for _, t := range c.Types {
			features = append(features, strings.Replace(string(t), "_", " ", 1))
		}
		return Analysis{
			Classification:      model.IncidentConfigError,
			RootCauseHypothesis: "Single merchant experiencing repeated errors, likely due to misconfiguration during migration or missing setup steps.",
			Confidence:          0.8,
			AffectedFeatures:    features,
			ImpactAssessment:    "Single merchant affected",
		}, true
	}
	return Analysis{}, false
}

func mentionsMigration(signals []model.Signal) bool {
	for _, s := range signals {
		text := strings.ToLower(s.Message)
		if raw, err := json.Marshal(s.Data); err == nil {
			text += " " + strings.ToLower(string(raw))
		}
		for _, kw := range migrationKeywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
	}
	return false
}
