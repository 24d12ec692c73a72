package decider

import "github.com/ashita-ai/mamori/internal/model"

type actionTemplate struct {
	Type             model.ActionType
	Priority         int
	Risk             model.RiskLevel
	RequiresApproval bool
	Description      string
}

type rule struct {
	name    string
	matches func(r model.ReasoningResult) bool
	actions []actionTemplate
}

// rules is evaluated in order; every matching rule contributes its actions.
var rules = []rule{
	{
		name: "platform_regression_widespread",
		matches: func(r model.ReasoningResult) bool {
			return r.Classification == model.IncidentPlatformRegression && len(r.AffectedScope.Merchants) >= 3
		},
		actions: []actionTemplate{
			{model.ActionEscalateEngineering, 1, model.RiskCritical, false, "Escalate to engineering: Platform regression affecting {merchant_count} merchants"},
			{model.ActionNotifyMerchantsBatch, 2, model.RiskMedium, true, "Notify affected merchants about known issue and ETA"},
			{model.ActionCreateIncident, 3, model.RiskLow, false, "Create incident ticket for tracking"},
		},
	},
	{
		name: "payment_issue",
		matches: func(r model.ReasoningResult) bool {
			return r.Classification == model.IncidentPaymentIssue
		},
		actions: []actionTemplate{
			{model.ActionEscalateEngineering, 1, model.RiskHigh, false, "Escalate payment issue to engineering for immediate investigation"},
			{model.ActionNotifyMerchant, 2, model.RiskMedium, true, "Notify merchant(s) about checkout issue being investigated"},
		},
	},
	{
		name: "config_error_confident",
		matches: func(r model.ReasoningResult) bool {
			return r.Classification == model.IncidentConfigError && r.Confidence >= 0.7
		},
		actions: []actionTemplate{
			{model.ActionConfigFixSuggestion, 1, model.RiskLow, false, "Send configuration fix suggestion to merchant"},
			{model.ActionAutoReply, 2, model.RiskLow, false, "Auto-reply to support ticket with fix instructions"},
		},
	},
	{
		name: "migration_misstep",
		matches: func(r model.ReasoningResult) bool {
			return r.Classification == model.IncidentMigrationMisstep
		},
		actions: []actionTemplate{
			{model.ActionNotifyMerchant, 1, model.RiskLow, true, "Send migration checklist and troubleshooting guide to merchant"},
			{model.ActionEscalateSupport, 2, model.RiskLow, false, "Flag for support team follow-up"},
		},
	},
	{
		name: "documentation_gap",
		matches: func(r model.ReasoningResult) bool {
			return r.Classification == model.IncidentDocumentationGap
		},
		actions: []actionTemplate{
			{model.ActionUpdateDocumentation, 1, model.RiskLow, true, "Suggest documentation update based on common questions"},
			{model.ActionAutoReply, 2, model.RiskLow, false, "Auto-reply with relevant documentation links"},
		},
	},
	{
		name: "api_outage",
		matches: func(r model.ReasoningResult) bool {
			return r.Classification == model.IncidentAPIOutage
		},
		actions: []actionTemplate{
			{model.ActionEscalateEngineering, 1, model.RiskCritical, false, "URGENT: API outage detected - escalate immediately"},
			{model.ActionApplyMitigation, 2, model.RiskHigh, true, "Consider applying temporary mitigation (failover, circuit breaker)"},
			{model.ActionNotifyMerchantsBatch, 3, model.RiskMedium, true, "Send status update to all affected merchants"},
		},
	},
}

// DefaultThreshold applies to action types missing from the threshold table.
const DefaultThreshold = 0.5

// defaultThresholds is the minimum confidence for an action to run without
// approval.
var defaultThresholds = map[model.ActionType]float64{
	model.ActionAutoReply:              0.85,
	model.ActionNotifyMerchant:         0.70,
	model.ActionConfigFixSuggestion:    0.80,
	model.ActionEscalateSupport:        0.60,
	model.ActionEscalateEngineering:    0.50,
	model.ActionCreateIncident:         0.50,
	model.ActionNotifyMerchantsBatch:   0.75,
	model.ActionUpdateDocumentation:    0.70,
	model.ActionApplyMitigation:        0.90,
	model.ActionRollbackRecommendation: 0.85,
}

// defaultAlwaysApprove lists types that never run without a human.
var defaultAlwaysApprove = []model.ActionType{
	model.ActionApplyMitigation,
	model.ActionRollbackRecommendation,
	model.ActionNotifyMerchantsBatch,
}

// ruleActionTypes returns every action type the rule table can recommend,
// in first-seen order.
func ruleActionTypes() []model.ActionType {
	var out []model.ActionType
	seen := make(map[model.ActionType]bool)
	for _, r := range rules {
		for _, a := range r.actions {
			if !seen[a.Type] {
				seen[a.Type] = true
				out = append(out, a.Type)
			}
		}
	}
	return out
}
