package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mamori/internal/model"
)

// InsertPattern adds a row to pattern memory with occurrences = 1.
func (db *DB) InsertPattern(ctx context.Context, p model.StoredPattern) (model.StoredPattern, error) {
	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Occurrences = 1
	p.Active = true
	p.LastSeenAt = now
	p.CreatedAt = now
	if p.Signature == nil {
		p.Signature = map[string]any{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_patterns (id, pattern_type, pattern_signature, signature_key, description, occurrences,
		                             last_seen_at, associated_root_cause, confidence, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.PatternType, p.Signature, p.SignatureKey, p.Description, p.Occurrences,
		p.LastSeenAt, p.AssociatedRootCause, p.Confidence, p.Active, p.CreatedAt,
	)
	if err != nil {
		return model.StoredPattern{}, fmt.Errorf("storage: insert pattern: %w", err)
	}
	return p, nil
}

const patternColumns = `id, pattern_type, pattern_signature, signature_key, COALESCE(description, ''), occurrences,
	last_seen_at, associated_root_cause, confidence, active, created_at`

func scanPattern(row pgx.Row) (model.StoredPattern, error) {
	var p model.StoredPattern
	err := row.Scan(
		&p.ID, &p.PatternType, &p.Signature, &p.SignatureKey, &p.Description, &p.Occurrences,
		&p.LastSeenAt, &p.AssociatedRootCause, &p.Confidence, &p.Active, &p.CreatedAt,
	)
	return p, err
}

// FindPatterns returns active patterns of patternType, most frequent first.
func (db *DB) FindPatterns(ctx context.Context, patternType string, limit int) ([]model.StoredPattern, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+patternColumns+`
		 FROM agent_patterns
		 WHERE pattern_type = $1 AND active
		 ORDER BY occurrences DESC, last_seen_at DESC
		 LIMIT $2`, patternType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find patterns: %w", err)
	}
	defer rows.Close()

	var out []model.StoredPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindPatternByKey returns the most frequent active pattern of patternType
// stored under signature key. Returns ErrNotFound when there is none.
func (db *DB) FindPatternByKey(ctx context.Context, patternType, key string) (model.StoredPattern, error) {
	p, err := scanPattern(db.pool.QueryRow(ctx,
		`SELECT `+patternColumns+`
		 FROM agent_patterns
		 WHERE pattern_type = $1 AND signature_key = $2 AND active
		 ORDER BY occurrences DESC, last_seen_at DESC
		 LIMIT 1`, patternType, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StoredPattern{}, fmt.Errorf("storage: pattern %s/%s: %w", patternType, key, ErrNotFound)
		}
		return model.StoredPattern{}, fmt.Errorf("storage: find pattern by key: %w", err)
	}
	return p, nil
}

// IncrementPattern bumps occurrences by one in a single statement, so
// concurrent increments never lose a count.
func (db *DB) IncrementPattern(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_patterns SET occurrences = occurrences + 1, last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: increment pattern: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: pattern %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeactivatePattern soft-deletes a pattern from memory.
func (db *DB) DeactivatePattern(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `UPDATE agent_patterns SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: deactivate pattern: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: pattern %s: %w", id, ErrNotFound)
	}
	return nil
}
