package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mamori/internal/model"
)

// UpsertState writes value under key. A nil expiresAt stores a non-expiring entry.
func (db *DB) UpsertState(ctx context.Context, key string, value map[string]any, expiresAt *time.Time) error {
	if value == nil {
		value = map[string]any{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_state (key, value, expires_at, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("storage: upsert state %q: %w", key, err)
	}
	return nil
}

// GetState returns the entry stored under key, expired or not.
func (db *DB) GetState(ctx context.Context, key string) (model.StateEntry, error) {
	var e model.StateEntry
	err := db.pool.QueryRow(ctx,
		`SELECT key, value, expires_at, updated_at FROM agent_state WHERE key = $1`, key,
	).Scan(&e.Key, &e.Value, &e.ExpiresAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StateEntry{}, fmt.Errorf("storage: state %q: %w", key, ErrNotFound)
		}
		return model.StateEntry{}, fmt.Errorf("storage: get state: %w", err)
	}
	return e, nil
}

// DeleteState removes key. Deleting a missing key is not an error.
func (db *DB) DeleteState(ctx context.Context, key string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM agent_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("storage: delete state %q: %w", key, err)
	}
	return nil
}
