// Package ctxutil provides shared context key accessors.
//
// server and mcp both read the operator claims that server's auth
// middleware populates. Both import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/mamori/internal/auth"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keyRequestID contextKey = "request_id"
)

// DefaultOperator is recorded on approvals when no operator is known.
const DefaultOperator = "admin"

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// Operator returns the authenticated operator's name, or DefaultOperator
// when the request carries no claims.
func Operator(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil && c.Subject != "" {
		return c.Subject
	}
	return DefaultOperator
}

// RoleFromContext returns the caller's role. Requests without claims
// (auth disabled) are treated as admin.
func RoleFromContext(ctx context.Context) auth.Role {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.Role
	}
	return auth.RoleAdmin
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID extracts the request ID from the context.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
