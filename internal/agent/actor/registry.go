package actor

import (
	"context"
	"maps"

	"github.com/google/uuid"

	"github.com/ashita-ai/mamori/internal/model"
)

// ExecContext is the per-batch context handed to handlers.
type ExecContext struct {
	MerchantIDs []string
	TicketID    *uuid.UUID
	IncidentID  *uuid.UUID
}

// Handler performs one action type.
type Handler interface {
	Execute(ctx context.Context, a model.AgentAction, ec ExecContext) (model.ExecutionResult, error)
}

// Rollbacker is implemented by handlers whose effect can be undone.
type Rollbacker interface {
	Rollback(ctx context.Context, a model.AgentAction, result model.ExecutionResult) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, a model.AgentAction, ec ExecContext) (model.ExecutionResult, error)

func (f HandlerFunc) Execute(ctx context.Context, a model.AgentAction, ec ExecContext) (model.ExecutionResult, error) {
	return f(ctx, a, ec)
}

// Registry maps action types to handlers. It is immutable; With returns an
// extended copy.
type Registry struct {
	handlers map[model.ActionType]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return Registry{handlers: map[model.ActionType]Handler{}}
}

// With returns a copy of r with h registered for t, replacing any existing
// handler.
func (r Registry) With(t model.ActionType, h Handler) Registry {
	next := maps.Clone(r.handlers)
	if next == nil {
		next = map[model.ActionType]Handler{}
	}
	next[t] = h
	return Registry{handlers: next}
}

// Lookup returns the handler for t.
func (r Registry) Lookup(t model.ActionType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Len returns the number of registered handlers.
func (r Registry) Len() int { return len(r.handlers) }
