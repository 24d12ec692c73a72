package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
)

// MitigationKeyPrefix namespaces active mitigations in agent state.
const MitigationKeyPrefix = "mitigation:"

// TicketWriter updates support tickets. *storage.DB satisfies it.
type TicketWriter interface {
	UpdateTicketAgentResponse(ctx context.Context, id uuid.UUID, response string, confidence float64) error
}

// IncidentWriter creates and removes incidents. *storage.DB satisfies it.
type IncidentWriter interface {
	CreateIncident(ctx context.Context, inc model.Incident) (model.Incident, error)
	DeleteIncident(ctx context.Context, id uuid.UUID) error
}

// StateWriter is the expiring key/value store. *state.Store satisfies it.
type StateWriter interface {
	PersistState(ctx context.Context, key string, value map[string]any, ttl time.Duration) error
	DeleteState(ctx context.Context, key string) error
}

// Deps are the collaborators of the default handlers. Memory may be nil.
type Deps struct {
	Tickets   TicketWriter
	Incidents IncidentWriter
	State     StateWriter
	Memory    *state.Memory
	Logger    *slog.Logger
}

// DefaultRegistry returns the built-in handler for every action type.
// Notification and escalation handlers only log; they are the place to wire
// paging, email or chat integrations.
func DefaultRegistry(deps Deps) Registry {
	return NewRegistry().
		With(model.ActionAutoReply, autoReply{deps}).
		With(model.ActionEscalateEngineering, HandlerFunc(deps.escalateEngineering)).
		With(model.ActionEscalateSupport, HandlerFunc(deps.escalateSupport)).
		With(model.ActionNotifyMerchant, HandlerFunc(deps.notifyMerchant)).
		With(model.ActionNotifyMerchantsBatch, HandlerFunc(deps.notifyMerchantsBatch)).
		With(model.ActionCreateIncident, createIncident{deps}).
		With(model.ActionConfigFixSuggestion, HandlerFunc(deps.configFixSuggestion)).
		With(model.ActionUpdateDocumentation, HandlerFunc(deps.updateDocumentation)).
		With(model.ActionApplyMitigation, applyMitigation{deps}).
		With(model.ActionRollbackRecommendation, HandlerFunc(deps.rollbackRecommendation))
}

func succeeded(a model.AgentAction, result map[string]any, sideEffects ...string) model.ExecutionResult {
	if sideEffects == nil {
		sideEffects = []string{}
	}
	return model.ExecutionResult{
		ActionID:    a.ID,
		Success:     true,
		Result:      result,
		SideEffects: sideEffects,
	}
}

// merchantsFor prefers the batch context over the merchants stored on the
// action.
func merchantsFor(a model.AgentAction, ec ExecContext) []string {
	if len(ec.MerchantIDs) > 0 {
		return ec.MerchantIDs
	}
	return a.Details.AffectedMerchants
}

type autoReply struct{ Deps }

func (h autoReply) Execute(ctx context.Context, a model.AgentAction, ec ExecContext) (model.ExecutionResult, error) {
	ticketID := ec.TicketID
	if ticketID == nil {
		ticketID = a.TicketID
	}
	if ticketID == nil && a.Details.Reply != nil && a.Details.Reply.TicketID != "" {
		if id, err := uuid.Parse(a.Details.Reply.TicketID); err == nil {
			ticketID = &id
		}
	}
	if ticketID != nil {
		response := a.Description
		if a.Details.Reply != nil && a.Details.Reply.Response != "" {
			response = a.Details.Reply.Response
		}
		if err := h.Tickets.UpdateTicketAgentResponse(ctx, *ticketID, response, a.Confidence); err != nil {
			return model.ExecutionResult{}, err
		}
	}
	return succeeded(a, map[string]any{"message": "Auto-reply sent"}, "Ticket status updated to in_progress"), nil
}

func (d Deps) escalateEngineering(_ context.Context, a model.AgentAction, _ ExecContext) (model.ExecutionResult, error) {
	d.Logger.Warn("engineering escalation", "action_id", a.ID, "description", a.Description)
	return succeeded(a, map[string]any{
		"message": "Escalated to engineering",
		"channel": "engineering-alerts",
	}, "Notification sent to engineering channel"), nil
}

func (d Deps) escalateSupport(_ context.Context, a model.AgentAction, _ ExecContext) (model.ExecutionResult, error) {
	priority := a.Details.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	d.Logger.Info("support escalation", "action_id", a.ID, "priority", priority, "description", a.Description)
	return succeeded(a, map[string]any{
		"message":  "Escalated to support team",
		"priority": priority,
	}, "Added to support queue"), nil
}

func (d Deps) notifyMerchant(_ context.Context, a model.AgentAction, ec ExecContext) (model.ExecutionResult, error) {
	merchants := merchantsFor(a, ec)
	d.Logger.Info("merchant notification", "action_id", a.ID, "merchants", merchants, "description", a.Description)
	return succeeded(a, map[string]any{
		"message":            "Notification sent",
		"merchants_notified": len(merchants),
	}, fmt.Sprintf("Notified %d merchant(s)", len(merchants))), nil
}

func (d Deps) notifyMerchantsBatch(_ context.Context, a model.AgentAction, ec ExecContext) (model.ExecutionResult, error) {
	merchants := merchantsFor(a, ec)
	d.Logger.Info("batch merchant notification", "action_id", a.ID, "merchant_count", len(merchants))
	return succeeded(a, map[string]any{
		"message":            "Batch notification sent",
		"merchants_notified": len(merchants),
	}, fmt.Sprintf("Batch notified %d merchant(s)", len(merchants))), nil
}

func (d Deps) configFixSuggestion(_ context.Context, a model.AgentAction, ec ExecContext) (model.ExecutionResult, error) {
	merchants := merchantsFor(a, ec)
	d.Logger.Info("config fix suggestion", "action_id", a.ID, "description", a.Description)
	return succeeded(a, map[string]any{
		"message":    "Configuration fix suggestion sent",
		"suggestion": a.Description,
	}, fmt.Sprintf("Sent fix suggestion to %d merchant(s)", len(merchants))), nil
}

func (d Deps) updateDocumentation(_ context.Context, a model.AgentAction, _ ExecContext) (model.ExecutionResult, error) {
	d.Logger.Info("documentation update requested", "action_id", a.ID, "description", a.Description)
	return succeeded(a, map[string]any{"message": "Documentation update task created"}, "Documentation task added to backlog"), nil
}

func (d Deps) rollbackRecommendation(_ context.Context, a model.AgentAction, _ ExecContext) (model.ExecutionResult, error) {
	d.Logger.Warn("rollback recommended", "action_id", a.ID, "description", a.Description)
	return succeeded(a, map[string]any{"message": "Rollback recommendation created"}, "Rollback recommendation sent to engineering"), nil
}

type createIncident struct{ Deps }

func incidentSeverity(r model.RiskLevel) model.IncidentSeverity {
	switch r {
	case model.RiskCritical:
		return model.IncidentSeverityCritical
	case model.RiskHigh:
		return model.IncidentSeverityHigh
	default:
		return model.IncidentSeverityMedium
	}
}

func (h createIncident) Execute(ctx context.Context, a model.AgentAction, _ ExecContext) (model.ExecutionResult, error) {
	typ := a.Details.Classification
	if typ == "" {
		typ = model.IncidentConfigError
	}
	confidence := a.Confidence
	inc := model.Incident{
		Title:               a.Description,
		Type:                typ,
		Severity:            incidentSeverity(a.RiskLevel),
		AffectedMerchants:   a.Details.AffectedMerchants,
		RootCauseConfidence: &confidence,
		Status:              model.IncidentDetected,
	}
	if a.Details.RootCause != "" {
		rc := a.Details.RootCause
		inc.RootCause = &rc
	}
	created, err := h.Incidents.CreateIncident(ctx, inc)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	if h.Memory != nil {
		h.Memory.TrackIncident(created)
	}
	res := succeeded(a, map[string]any{
		"message":     "Incident created",
		"incident_id": created.ID.String(),
	}, "New incident created for tracking")
	res.RollbackAvailable = true
	return res, nil
}

func (h createIncident) Rollback(ctx context.Context, _ model.AgentAction, result model.ExecutionResult) error {
	raw, _ := result.Result["incident_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return errors.New("actor: rollback create_incident: no incident id in result")
	}
	if err := h.Incidents.DeleteIncident(ctx, id); err != nil {
		return err
	}
	if h.Memory != nil {
		h.Memory.ForgetIncident(id)
	}
	return nil
}

type applyMitigation struct{ Deps }

func (h applyMitigation) Execute(ctx context.Context, a model.AgentAction, ec ExecContext) (model.ExecutionResult, error) {
	kind := "temporary"
	if a.Details.Mitigation != nil && a.Details.Mitigation.Kind != "" {
		kind = a.Details.Mitigation.Kind
	}
	err := h.State.PersistState(ctx, MitigationKeyPrefix+a.ID.String(), map[string]any{
		"action_id":       a.ID.String(),
		"description":     a.Description,
		"mitigation_type": kind,
		"merchants":       merchantsFor(a, ec),
	}, 0)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	h.Logger.Warn("mitigation applied", "action_id", a.ID, "description", a.Description)
	res := succeeded(a, map[string]any{
		"message":         "Mitigation applied",
		"mitigation_type": kind,
	}, "Temporary mitigation in place")
	res.RollbackAvailable = true
	return res, nil
}

func (h applyMitigation) Rollback(ctx context.Context, a model.AgentAction, _ model.ExecutionResult) error {
	if err := h.State.DeleteState(ctx, MitigationKeyPrefix+a.ID.String()); err != nil {
		return err
	}
	h.Logger.Info("mitigation rolled back", "action_id", a.ID)
	return nil
}
