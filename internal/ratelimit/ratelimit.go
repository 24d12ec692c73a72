// Package ratelimit throttles the operator API per client key.
//
// MemoryLimiter keeps one token bucket per key in process. Locking across
// processes is out of scope, so a multi-instance deployment gets one budget
// per instance.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the request may proceed. Keys are opaque to the
	// limiter; Middleware builds them with a KeyFunc such as IPKeyFunc.
	// An error means the limiter itself failed and Middleware lets the
	// request through.
	Allow(ctx context.Context, key string) (bool, error)

	// Close stops background eviction.
	Close() error
}

// NoopLimiter permits every request. serve uses it when MAMORI_RATE_LIMIT_RPS <= 0.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
