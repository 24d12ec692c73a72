// Package decider implements the decide phase: it maps each reasoning result
// to a prioritized set of recommended actions through a fixed rule table and
// applies the confidence and risk gates that decide which actions need a
// human.
package decider

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
)

// maxAlternatives caps Decision.AlternativesConsidered.
const maxAlternatives = 5

// Decider turns reasoning results into decisions.
type Decider struct {
	policy resolved
	memory *state.Memory
	logger *slog.Logger
}

// New creates a Decider. The policy must already be validated; a zero
// Policy uses the built-in defaults. memory may be nil.
func New(policy Policy, memory *state.Memory, logger *slog.Logger) *Decider {
	return &Decider{
		policy: policy.resolve(),
		memory: memory,
		logger: logger,
	}
}

// Decide returns one decision per result, in input order.
func (d *Decider) Decide(results []model.ReasoningResult) []model.Decision {
	decisions := make([]model.Decision, 0, len(results))
	for _, r := range results {
		decisions = append(decisions, d.decide(r))
	}
	if d.memory != nil {
		d.memory.SetDecisions(decisions)
	}
	recommended := 0
	for _, dec := range decisions {
		recommended += len(dec.RecommendedActions)
	}
	d.logger.Info("decisions made", "decisions", len(decisions), "actions_recommended", recommended)
	return decisions
}

func (d *Decider) decide(r model.ReasoningResult) model.Decision {
	var actions []model.RecommendedAction
	for _, rl := range rules {
		if !rl.matches(r) {
			continue
		}
		for _, tmpl := range rl.actions {
			actions = append(actions, d.recommend(tmpl, r))
		}
	}

	if len(actions) == 0 {
		return model.Decision{
			RecommendedActions: []model.RecommendedAction{{
				ActionType:       model.ActionEscalateSupport,
				Description:      "No specific action rule matched. Escalating to support for manual review.",
				Confidence:       r.Confidence,
				RiskLevel:        model.RiskLow,
				RequiresApproval: false,
				Priority:         1,
				Details: model.ActionDetails{
					Classification: r.Classification,
					Reason:         "No matching decision rule",
				},
			}},
			Reasoning:              "Unable to determine specific action. Defaulting to support escalation for manual review.",
			AlternativesConsidered: []string{"Auto-reply", "Engineering escalation"},
		}
	}

	slices.SortStableFunc(actions, func(a, b model.RecommendedAction) int {
		return a.Priority - b.Priority
	})

	alternatives := []string{}
	for _, t := range ruleActionTypes() {
		if len(alternatives) == maxAlternatives {
			break
		}
		if !slices.ContainsFunc(actions, func(a model.RecommendedAction) bool { return a.ActionType == t }) {
			alternatives = append(alternatives, t.Title())
		}
	}

	return model.Decision{
		RecommendedActions:     actions,
		Reasoning:              reasoning(r, actions),
		AlternativesConsidered: alternatives,
	}
}

func (d *Decider) recommend(tmpl actionTemplate, r model.ReasoningResult) model.RecommendedAction {
	threshold := d.policy.threshold(tmpl.Type)
	meets := r.Confidence >= threshold
	requiresApproval := tmpl.RequiresApproval ||
		!meets ||
		tmpl.Risk.AtLeastHigh() ||
		slices.Contains(d.policy.alwaysApprove, tmpl.Type)

	details := model.ActionDetails{
		Classification:    r.Classification,
		AffectedMerchants: slices.Clone(r.AffectedScope.Merchants),
		RootCause:         r.RootCauseHypothesis,
		ThresholdMet:      &meets,
		ThresholdRequired: &threshold,
	}
	switch tmpl.Type {
	case model.ActionAutoReply:
		reply := &model.ReplyDetails{}
		if ev, ok := r.FirstEvidence(model.EvidenceTicket); ok {
			reply.TicketID = ev.SourceID
		}
		details.Reply = reply
	case model.ActionApplyMitigation:
		details.Mitigation = &model.MitigationDetails{Kind: "temporary"}
	}

	return model.RecommendedAction{
		ActionType:       tmpl.Type,
		Description:      describe(tmpl.Description, r),
		Confidence:       r.Confidence,
		RiskLevel:        tmpl.Risk,
		RequiresApproval: requiresApproval,
		Priority:         tmpl.Priority,
		Details:          details,
	}
}

func describe(template string, r model.ReasoningResult) string {
	return strings.NewReplacer(
		"{merchant_count}", strconv.Itoa(len(r.AffectedScope.Merchants)),
		"{classification}", string(r.Classification),
		"{confidence}", percent(r.Confidence),
		"{features}", strings.Join(r.AffectedScope.Features, ", "),
	).Replace(template)
}

func reasoning(r model.ReasoningResult, actions []model.RecommendedAction) string {
	parts := []string{
		fmt.Sprintf("Classified as %s with %s confidence.", r.Classification, percent(r.Confidence)),
		"Root cause: " + r.RootCauseHypothesis,
	}
	if n := len(r.AffectedScope.Merchants); n > 0 {
		parts = append(parts, fmt.Sprintf("Affecting %d merchant(s).", n))
	}
	auto, approval := 0, 0
	for _, a := range actions {
		if a.RequiresApproval {
			approval++
		} else {
			auto++
		}
	}
	if auto > 0 {
		parts = append(parts, fmt.Sprintf("%d action(s) can be auto-executed.", auto))
	}
	if approval > 0 {
		parts = append(parts, fmt.Sprintf("%d action(s) require human approval.", approval))
	}
	return strings.Join(parts, " ")
}

func percent(v float64) string {
	return strconv.Itoa(int(math.Round(v*100))) + "%"
}

// AutoApproval is the verdict of EvaluateForAutoApproval.
type AutoApproval struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// EvaluateForAutoApproval checks whether an action could run without a
// human. High and critical risk never qualify, then confidence must meet the
// type's threshold, then the deny-list is consulted.
func (d *Decider) EvaluateForAutoApproval(t model.ActionType, confidence float64, risk model.RiskLevel) AutoApproval {
	if risk.AtLeastHigh() {
		return AutoApproval{Reason: fmt.Sprintf("%s risk level requires human approval", risk)}
	}
	threshold := d.policy.threshold(t)
	if confidence < threshold {
		return AutoApproval{Reason: fmt.Sprintf("Confidence %s below threshold %s", percent(confidence), percent(threshold))}
	}
	if slices.Contains(d.policy.alwaysApprove, t) {
		return AutoApproval{Reason: t.Title() + " always requires human approval"}
	}
	return AutoApproval{
		Approved: true,
		Reason:   fmt.Sprintf("Auto-approved: confidence %s meets threshold", percent(confidence)),
	}
}

// Threshold returns the effective confidence threshold for t.
func (d *Decider) Threshold(t model.ActionType) float64 {
	return d.policy.threshold(t)
}
