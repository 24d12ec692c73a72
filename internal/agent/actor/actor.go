// Package actor implements the act phase: it persists recommended actions,
// queues the ones that need a human, dispatches the rest to registered
// handlers and drives the approve, reject and rollback flows.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/storage"
	"github.com/ashita-ai/mamori/internal/telemetry"
)

var (
	// ErrActionNotFound is returned when an action id does not exist.
	ErrActionNotFound = errors.New("actor: action not found")

	// ErrActionRejected is returned when approving a rejected action.
	ErrActionRejected = errors.New("actor: action already rejected")

	// ErrRollbackUnavailable is returned when an action cannot be rolled back.
	ErrRollbackUnavailable = errors.New("actor: rollback not available")
)

// Store persists action records. *storage.DB satisfies it.
type Store interface {
	CreateAction(ctx context.Context, a model.AgentAction) (model.AgentAction, error)
	GetAction(ctx context.Context, id uuid.UUID) (model.AgentAction, error)
	ApproveAction(ctx context.Context, id uuid.UUID, approvedBy string) (model.AgentAction, error)
	RejectAction(ctx context.Context, id uuid.UUID, rejectedBy, reason string) error
	RecordExecution(ctx context.Context, id uuid.UUID, result model.ExecutionResult) error
	UpdateExecutionResult(ctx context.Context, id uuid.UUID, result model.ExecutionResult) error
	LinkActionsToIncident(ctx context.Context, incidentID uuid.UUID, ids []uuid.UUID) error
}

// Actor executes decisions.
type Actor struct {
	store  Store
	memory *state.Memory
	logger *slog.Logger

	mu       sync.RWMutex
	registry Registry

	executions metric.Int64Counter
}

// New creates an Actor dispatching through registry. memory may be nil.
func New(store Store, registry Registry, memory *state.Memory, logger *slog.Logger) *Actor {
	meter := telemetry.Meter("mamori/actor")
	executions, _ := meter.Int64Counter("mamori.actor.executions",
		metric.WithDescription("Action handler executions"),
	)
	return &Actor{
		store:      store,
		memory:     memory,
		logger:     logger,
		registry:   registry,
		executions: executions,
	}
}

// RegisterHandler installs h for t, overriding any existing handler.
func (a *Actor) RegisterHandler(t model.ActionType, h Handler) {
	a.mu.Lock()
	a.registry = a.registry.With(t, h)
	a.mu.Unlock()
}

func (a *Actor) handler(t model.ActionType) (Handler, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry.Lookup(t)
}

// Execute persists every recommended action of d and runs the ones that do
// not need approval. Queued actions yield a pending_approval result. A
// persistence failure stops the batch and is returned with the results so far.
// Once a create_incident action succeeds, every action of the batch is linked
// to the new incident.
func (a *Actor) Execute(ctx context.Context, d model.Decision, ec ExecContext) ([]model.ExecutionResult, error) {
	results := make([]model.ExecutionResult, 0, len(d.RecommendedActions))
	batch := make([]uuid.UUID, 0, len(d.RecommendedActions))
	for _, ra := range d.RecommendedActions {
		status := model.ApprovalAutoApproved
		if ra.RequiresApproval {
			status = model.ApprovalPending
		}
		rec := model.AgentAction{
			IncidentID:       ec.IncidentID,
			TicketID:         ticketFor(ra, ec),
			ActionType:       ra.ActionType,
			Description:      ra.Description,
			Details:          ra.Details,
			Confidence:       ra.Confidence,
			RiskLevel:        ra.RiskLevel,
			RequiresApproval: ra.RequiresApproval,
			ApprovalStatus:   status,
		}
		created, err := a.store.CreateAction(ctx, rec)
		if err != nil {
			return results, fmt.Errorf("actor: create %s action: %w", ra.ActionType, err)
		}
		batch = append(batch, created.ID)

		if ra.RequiresApproval {
			if a.memory != nil {
				a.memory.AddPendingAction(created)
			}
			a.logger.Info("action queued for approval",
				"action_id", created.ID, "action_type", created.ActionType, "risk_level", created.RiskLevel)
			results = append(results, model.ExecutionResult{
				ActionID:    created.ID,
				Success:     true,
				Result:      map[string]any{"status": model.ResultStatusPendingApproval},
				SideEffects: []string{},
			})
			continue
		}
		res := a.run(ctx, created, ec)
		results = append(results, res)
		if ec.IncidentID == nil {
			ec.IncidentID = a.linkIncident(ctx, created, res, batch)
		}
	}
	return results, nil
}

// linkIncident links ids to the incident a successful create_incident run
// opened and returns that incident, or nil when act opened none.
func (a *Actor) linkIncident(ctx context.Context, act model.AgentAction, res model.ExecutionResult, ids []uuid.UUID) *uuid.UUID {
	if act.ActionType != model.ActionCreateIncident || act.IncidentID != nil {
		return nil
	}
	id := incidentIn(res)
	if id == nil {
		return nil
	}
	if err := a.store.LinkActionsToIncident(ctx, *id, ids); err != nil {
		a.logger.Warn("actor: link actions to incident failed", "incident_id", *id, "error", err)
	}
	return id
}

// CreatedIncident returns the incident opened by a successful create_incident
// result in results, or nil.
func CreatedIncident(results []model.ExecutionResult) *uuid.UUID {
	for _, r := range results {
		if id := incidentIn(r); id != nil {
			return id
		}
	}
	return nil
}

func incidentIn(r model.ExecutionResult) *uuid.UUID {
	if !r.Success {
		return nil
	}
	raw, _ := r.Result["incident_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

// ticketFor picks the ticket an action is about: the batch context first,
// then the ticket referenced by a reply.
func ticketFor(ra model.RecommendedAction, ec ExecContext) *uuid.UUID {
	if ec.TicketID != nil {
		return ec.TicketID
	}
	if ra.Details.Reply != nil {
		if id, err := uuid.Parse(ra.Details.Reply.TicketID); err == nil {
			return &id
		}
	}
	return nil
}

// run dispatches a persisted action and records the outcome. The record is
// marked executed whether the handler succeeded or not.
func (a *Actor) run(ctx context.Context, act model.AgentAction, ec ExecContext) model.ExecutionResult {
	if act.RequiresApproval && act.ApprovalStatus != model.ApprovalApproved {
		return model.FailedResult(act.ID, "Action requires approval")
	}

	var res model.ExecutionResult
	h, found := a.handler(act.ActionType)
	if !found {
		res = model.FailedResult(act.ID, "No handler registered for action type: "+string(act.ActionType))
	} else {
		res = a.dispatch(ctx, h, act, ec)
	}
	res.ActionID = act.ID
	if res.SideEffects == nil {
		res.SideEffects = []string{}
	}

	a.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", string(act.ActionType)),
		attribute.Bool("success", res.Success),
	))

	if err := a.store.RecordExecution(ctx, act.ID, res); err != nil {
		if errors.Is(err, storage.ErrStateConflict) {
			// Another caller executed it first; its result is authoritative.
			if stored, gerr := a.store.GetAction(ctx, act.ID); gerr == nil && stored.ExecutionResult != nil {
				a.logger.Warn("actor: action already executed", "action_id", act.ID)
				return *stored.ExecutionResult
			}
		}
		a.logger.Error("actor: record execution failed", "action_id", act.ID, "error", err)
	}
	if a.memory != nil {
		a.memory.CompleteAction(act.ID)
	}

	if res.Success {
		a.logger.Info("action executed", "action_id", act.ID, "action_type", act.ActionType)
	} else {
		a.logger.Warn("action failed", "action_id", act.ID, "action_type", act.ActionType, "error", deref(res.Error))
	}
	return res
}

// dispatch calls the handler and converts errors and panics into a failed
// result.
func (a *Actor) dispatch(ctx context.Context, h Handler, act model.AgentAction, ec ExecContext) (res model.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("actor: handler panic", "action_id", act.ID, "action_type", act.ActionType, "panic", r)
			res = model.FailedResult(act.ID, fmt.Sprintf("handler panic: %v", r))
		}
	}()
	res, err := h.Execute(ctx, act, ec)
	if err != nil {
		return model.FailedResult(act.ID, err.Error())
	}
	return res
}

// ApproveAction approves a pending action and executes it. Approving an
// action that already executed returns its stored result without running it
// again; an auto-approved action that never executed is driven now.
func (a *Actor) ApproveAction(ctx context.Context, id uuid.UUID, approvedBy string) (model.ExecutionResult, error) {
	act, err := a.store.ApproveAction(ctx, id, approvedBy)
	if err == nil {
		a.logger.Info("action approved", "action_id", id, "approved_by", approvedBy)
		res := a.run(ctx, act, execContextFor(act))
		a.linkIncident(ctx, act, res, []uuid.UUID{act.ID})
		return res, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return model.FailedResult(id, "Action not found"), ErrActionNotFound
	}
	if !errors.Is(err, storage.ErrStateConflict) {
		return model.FailedResult(id, "Approval failed"), fmt.Errorf("actor: approve action: %w", err)
	}

	cur, err := a.store.GetAction(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.FailedResult(id, "Action not found"), ErrActionNotFound
		}
		return model.FailedResult(id, "Approval failed"), fmt.Errorf("actor: approve action: %w", err)
	}
	switch {
	case cur.Executed && cur.ExecutionResult != nil:
		return *cur.ExecutionResult, nil
	case cur.ApprovalStatus == model.ApprovalRejected:
		return model.FailedResult(id, "Action already rejected"), ErrActionRejected
	default:
		// Approved or auto-approved but never executed, e.g. after a crash.
		a.logger.Warn("actor: re-driving unexecuted action", "action_id", id, "approval_status", cur.ApprovalStatus)
		return a.run(ctx, cur, execContextFor(cur)), nil
	}
}

func execContextFor(act model.AgentAction) ExecContext {
	return ExecContext{TicketID: act.TicketID, IncidentID: act.IncidentID}
}

// RejectAction rejects an unexecuted action. Rejecting an executed action
// changes nothing and is not an error.
func (a *Actor) RejectAction(ctx context.Context, id uuid.UUID, rejectedBy, reason string) error {
	err := a.store.RejectAction(ctx, id, rejectedBy, reason)
	switch {
	case err == nil:
		a.logger.Info("action rejected", "action_id", id, "rejected_by", rejectedBy)
	case errors.Is(err, storage.ErrNotFound):
		return ErrActionNotFound
	case errors.Is(err, storage.ErrStateConflict):
		a.logger.Info("actor: reject ignored, action already executed", "action_id", id)
	default:
		return fmt.Errorf("actor: reject action: %w", err)
	}
	if a.memory != nil {
		a.memory.CompleteAction(id)
	}
	return nil
}

// Rollback undoes an executed action whose handler supports it and marks
// the stored result rolled back. Rolling back twice returns the stored result.
func (a *Actor) Rollback(ctx context.Context, id uuid.UUID) (model.ExecutionResult, error) {
	act, err := a.store.GetAction(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ExecutionResult{}, ErrActionNotFound
		}
		return model.ExecutionResult{}, fmt.Errorf("actor: rollback: %w", err)
	}
	if !act.Executed || act.ExecutionResult == nil || !act.ExecutionResult.RollbackAvailable {
		return model.ExecutionResult{}, ErrRollbackUnavailable
	}
	prev := *act.ExecutionResult
	if prev.RolledBack {
		return prev, nil
	}

	h, found := a.handler(act.ActionType)
	rb, canRollback := h.(Rollbacker)
	if !found || !canRollback {
		return model.ExecutionResult{}, ErrRollbackUnavailable
	}
	if err := rb.Rollback(ctx, act, prev); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("actor: rollback %s: %w", act.ActionType, err)
	}

	prev.RolledBack = true
	prev.SideEffects = append(append([]string{}, prev.SideEffects...), "Rolled back")
	if err := a.store.UpdateExecutionResult(ctx, id, prev); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("actor: record rollback: %w", err)
	}
	a.logger.Info("action rolled back", "action_id", id, "action_type", act.ActionType)
	return prev, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
