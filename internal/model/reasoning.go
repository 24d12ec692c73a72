package model

import (
	"time"

	"github.com/google/uuid"
)

// EvidenceType tags what an evidence item was derived from.
type EvidenceType string

const (
	EvidenceTicket          EvidenceType = "ticket"
	EvidenceAPIError        EvidenceType = "api_error"
	EvidenceWebhookFailure  EvidenceType = "webhook_failure"
	EvidenceCheckoutFailure EvidenceType = "checkout_failure"
	EvidencePattern         EvidenceType = "pattern"
	EvidenceMetric          EvidenceType = "metric"
)

// Evidence ties a reasoning conclusion back to the signal that supports it.
type Evidence struct {
	Type        EvidenceType   `json:"type"`
	SourceID    string         `json:"source_id"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data"`
}

// EvidenceFromSignal converts a signal into an evidence item.
func EvidenceFromSignal(s Signal) Evidence {
	t := EvidenceMetric
	switch s.Type {
	case SignalTicket:
		t = EvidenceTicket
	case SignalAPIError:
		t = EvidenceAPIError
	case SignalWebhookFailure:
		t = EvidenceWebhookFailure
	case SignalCheckoutFailure:
		t = EvidenceCheckoutFailure
	}
	return Evidence{
		Type:        t,
		SourceID:    s.ID,
		Description: s.Message,
		Timestamp:   s.Timestamp,
		Data:        s.Data,
	}
}

// Phase is one stage of the agent loop.
type Phase string

const (
	PhaseObserve Phase = "observe"
	PhaseReason  Phase = "reason"
	PhaseDecide  Phase = "decide"
	PhaseAct     Phase = "act"
)

// ReasoningLog is one ordered step of the reasoning audit trail.
type ReasoningLog struct {
	ID         uuid.UUID      `json:"id"`
	IncidentID *uuid.UUID     `json:"incident_id,omitempty"`
	TicketID   *uuid.UUID     `json:"ticket_id,omitempty"`
	ActionID   *uuid.UUID     `json:"action_id,omitempty"`
	StepNumber int            `json:"step_number"`
	Phase      Phase          `json:"phase"`
	Thought    string         `json:"thought"`
	Evidence   map[string]any `json:"evidence,omitempty"`
	Conclusion *string        `json:"conclusion,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	TokensUsed *int           `json:"tokens_used,omitempty"`
	ModelUsed  *string        `json:"model_used,omitempty"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AffectedScope describes who and what an issue touches.
type AffectedScope struct {
	Merchants       []string `json:"merchants"`
	Features        []string `json:"features"`
	EstimatedImpact string   `json:"estimated_impact"`
}

// ReasoningResult is the classified outcome for one signal cluster.
type ReasoningResult struct {
	IncidentID          *uuid.UUID     `json:"incident_id"`
	Classification      IncidentType   `json:"classification"`
	RootCauseHypothesis string         `json:"root_cause_hypothesis"`
	Confidence          float64        `json:"confidence"`
	EvidenceChain       []Evidence     `json:"evidence_chain"`
	AffectedScope       AffectedScope  `json:"affected_scope"`
	ReasoningSteps      []ReasoningLog `json:"reasoning_steps"`
}

// FirstEvidence returns the first evidence of type t, if any.
func (r ReasoningResult) FirstEvidence(t EvidenceType) (Evidence, bool) {
	for _, e := range r.EvidenceChain {
		if e.Type == t {
			return e, true
		}
	}
	return Evidence{}, false
}
