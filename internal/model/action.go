package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionType names a remediation the actor knows how to perform.
type ActionType string

const (
	ActionAutoReply              ActionType = "auto_reply"
	ActionEscalateEngineering    ActionType = "escalate_engineering"
	ActionEscalateSupport        ActionType = "escalate_support"
	ActionNotifyMerchant         ActionType = "notify_merchant"
	ActionNotifyMerchantsBatch   ActionType = "notify_merchants_batch"
	ActionUpdateDocumentation    ActionType = "update_documentation"
	ActionApplyMitigation        ActionType = "apply_mitigation"
	ActionRollbackRecommendation ActionType = "rollback_recommendation"
	ActionConfigFixSuggestion    ActionType = "config_fix_suggestion"
	ActionCreateIncident         ActionType = "create_incident"
)

// ActionTypes lists every known action type.
var ActionTypes = []ActionType{
	ActionAutoReply,
	ActionEscalateEngineering,
	ActionEscalateSupport,
	ActionNotifyMerchant,
	ActionNotifyMerchantsBatch,
	ActionUpdateDocumentation,
	ActionApplyMitigation,
	ActionRollbackRecommendation,
	ActionConfigFixSuggestion,
	ActionCreateIncident,
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	for _, v := range ActionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Title renders the type for humans: "notify_merchants_batch" -> "Notify Merchants Batch".
func (t ActionType) Title() string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// RiskLevel is the blast radius of an action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AtLeastHigh reports whether the risk forces human approval.
func (r RiskLevel) AtLeastHigh() bool {
	return r == RiskHigh || r == RiskCritical
}

// ApprovalStatus is the approval state of a persisted action.
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
	ApprovalAutoApproved ApprovalStatus = "auto_approved"
)

// Valid reports whether s is a known approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalAutoApproved:
		return true
	}
	return false
}

// ReplyDetails is carried by auto_reply actions.
type ReplyDetails struct {
	TicketID string
	Response string
}

// MitigationDetails is carried by apply_mitigation actions.
type MitigationDetails struct {
	Kind string
}

// ActionDetails holds the fields that vary per action. The common fields
// are typed; Reply and Mitigation are set only for their action types.
// Extra keeps any unrecognized keys so the stored form round-trips.
//
// On the wire and in storage the whole struct is a single flat JSON object.
type ActionDetails struct {
	Classification    IncidentType `json:"classification,omitempty"`
	AffectedMerchants []string     `json:"affected_merchants,omitempty"`
	RootCause         string       `json:"root_cause,omitempty"`
	ThresholdMet      *bool        `json:"threshold_met,omitempty"`
	ThresholdRequired *float64     `json:"threshold_required,omitempty"`
	Priority          string       `json:"priority,omitempty"`
	Reason            string       `json:"reason,omitempty"`

	Reply      *ReplyDetails      `json:"-"`
	Mitigation *MitigationDetails `json:"-"`
	Extra      map[string]any     `json:"-"`
}

const (
	detailTicketID       = "ticket_id"
	detailResponse       = "response"
	detailMitigationType = "mitigation_type"
)

var commonDetailKeys = []string{
	"classification", "affected_merchants", "root_cause",
	"threshold_met", "threshold_required", "priority", "reason",
	detailTicketID, detailResponse, detailMitigationType,
}

// MarshalJSON flattens the typed fields, the variant and Extra into one object.
func (d ActionDetails) MarshalJSON() ([]byte, error) {
	type plain ActionDetails
	b, err := json.Marshal(plain(d))
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(d.Extra)+8)
	for k, v := range d.Extra {
		out[k] = v
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if d.Reply != nil {
		if d.Reply.TicketID != "" {
			out[detailTicketID] = d.Reply.TicketID
		}
		if d.Reply.Response != "" {
			out[detailResponse] = d.Reply.Response
		}
	}
	if d.Mitigation != nil {
		out[detailMitigationType] = d.Mitigation.Kind
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the typed fields and variants from a flat object.
func (d *ActionDetails) UnmarshalJSON(b []byte) error {
	type plain ActionDetails
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = ActionDetails(p)

	ticketID, hasTicket := raw[detailTicketID].(string)
	response, hasResponse := raw[detailResponse].(string)
	if hasTicket || hasResponse {
		d.Reply = &ReplyDetails{TicketID: ticketID, Response: response}
	}
	if kind, ok := raw[detailMitigationType].(string); ok {
		d.Mitigation = &MitigationDetails{Kind: kind}
	}

	for _, k := range commonDetailKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		d.Extra = raw
	}
	return nil
}

// RecommendedAction is one candidate remediation inside a decision.
type RecommendedAction struct {
	ActionType       ActionType    `json:"action_type"`
	Description      string        `json:"description"`
	Confidence       float64       `json:"confidence"`
	RiskLevel        RiskLevel     `json:"risk_level"`
	RequiresApproval bool          `json:"requires_approval"`
	Priority         int           `json:"priority"`
	Details          ActionDetails `json:"details"`
}

// Decision is the ordered action plan for one reasoning result.
type Decision struct {
	RecommendedActions     []RecommendedAction `json:"recommended_actions"`
	Reasoning              string              `json:"reasoning"`
	AlternativesConsidered []string            `json:"alternatives_considered"`
}

// AgentAction is a persisted action record.
type AgentAction struct {
	ID               uuid.UUID        `json:"id"`
	IncidentID       *uuid.UUID       `json:"incident_id"`
	TicketID         *uuid.UUID       `json:"ticket_id"`
	ActionType       ActionType       `json:"action_type"`
	Description      string           `json:"description"`
	Details          ActionDetails    `json:"details"`
	Confidence       float64          `json:"confidence"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	RequiresApproval bool             `json:"requires_approval"`
	ApprovalStatus   ApprovalStatus   `json:"approval_status"`
	ApprovedBy       *string          `json:"approved_by"`
	ApprovedAt       *time.Time       `json:"approved_at"`
	RejectionReason  *string          `json:"rejection_reason"`
	Executed         bool             `json:"executed"`
	ExecutedAt       *time.Time       `json:"executed_at"`
	ExecutionResult  *ExecutionResult `json:"execution_result"`
	CreatedAt        time.Time        `json:"created_at"`
}

// ActionListItem is an action joined with its incident for display.
type ActionListItem struct {
	AgentAction
	IncidentTitle    *string           `json:"incident_title"`
	IncidentSeverity *IncidentSeverity `json:"incident_severity"`
	IncidentType     *IncidentType     `json:"incident_type"`
}

// ResultStatusPendingApproval marks an execution result that is waiting on a human.
const ResultStatusPendingApproval = "pending_approval"

// ExecutionResult is the outcome of dispatching (or queueing) one action.
type ExecutionResult struct {
	ActionID          uuid.UUID      `json:"action_id"`
	Success           bool           `json:"success"`
	Result            map[string]any `json:"result"`
	Error             *string        `json:"error"`
	SideEffects       []string       `json:"side_effects"`
	RollbackAvailable bool           `json:"rollback_available"`
	RolledBack        bool           `json:"rolled_back,omitempty"`
}

// PendingApproval reports whether the result represents a queued action.
func (r ExecutionResult) PendingApproval() bool {
	s, _ := r.Result["status"].(string)
	return s == ResultStatusPendingApproval
}

// FailedResult builds an unsuccessful result carrying msg.
func FailedResult(actionID uuid.UUID, msg string) ExecutionResult {
	return ExecutionResult{
		ActionID:    actionID,
		Success:     false,
		Error:       &msg,
		SideEffects: []string{},
	}
}
