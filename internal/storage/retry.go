package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Retry defaults for the action state transitions.
const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 25 * time.Millisecond
)

// Transient Postgres conditions. Two approvals racing on one action row can
// hit any of these.
var retriableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && retriableCodes[pgErr.Code]
}

// WithRetry runs fn and retries it up to maxRetries times while it fails
// with a transient conflict, backing off exponentially from baseDelay with jitter.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}

// retry runs fn under WithRetry with the package defaults.
func (db *DB) retry(ctx context.Context, fn func() error) error {
	return WithRetry(ctx, defaultMaxRetries, defaultBaseDelay, fn)
}
