package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/storage"
)

// Backend is the persistence the Store needs. *storage.DB satisfies it.
type Backend interface {
	UpsertState(ctx context.Context, key string, value map[string]any, expiresAt *time.Time) error
	GetState(ctx context.Context, key string) (model.StateEntry, error)
	DeleteState(ctx context.Context, key string) error
	InsertPattern(ctx context.Context, p model.StoredPattern) (model.StoredPattern, error)
	FindPatterns(ctx context.Context, patternType string, limit int) ([]model.StoredPattern, error)
	FindPatternByKey(ctx context.Context, patternType, key string) (model.StoredPattern, error)
	IncrementPattern(ctx context.Context, id uuid.UUID) error
	UpdateIncidentStatus(ctx context.Context, id uuid.UUID, status model.IncidentStatus) error
}

// DefaultSimilarLimit caps FindSimilarPatterns when no limit is given.
const DefaultSimilarLimit = 10

// Store is the persisted side of agent state: an expiring key/value store,
// pattern memory, and incident resolution.
type Store struct {
	backend Backend
	memory  *Memory
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a Store over backend. memory may be nil when incident
// tracking is not needed.
func NewStore(backend Backend, memory *Memory, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		memory:  memory,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PersistState writes value under key. A ttl of zero never expires.
func (s *Store) PersistState(ctx context.Context, key string, value map[string]any, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := s.now().Add(ttl)
		expiresAt = &t
	}
	if err := s.backend.UpsertState(ctx, key, value, expiresAt); err != nil {
		return fmt.Errorf("state: persist %q: %w", key, err)
	}
	return nil
}

// LoadState returns the value under key. Missing and expired entries report
// ok=false; expired entries are deleted on the way out.
func (s *Store) LoadState(ctx context.Context, key string) (map[string]any, bool, error) {
	e, err := s.backend.GetState(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("state: load %q: %w", key, err)
	}
	if e.Expired(s.now()) {
		if err := s.backend.DeleteState(ctx, key); err != nil {
			return nil, false, fmt.Errorf("state: delete expired %q: %w", key, err)
		}
		return nil, false, nil
	}
	return e.Value, true, nil
}

// DeleteState removes key.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	if err := s.backend.DeleteState(ctx, key); err != nil {
		return fmt.Errorf("state: delete %q: %w", key, err)
	}
	return nil
}

// StorePattern adds a detected pattern to pattern memory and returns its ID.
func (s *Store) StorePattern(ctx context.Context, p model.Pattern) (uuid.UUID, error) {
	row := model.StoredPattern{
		PatternType:  p.PatternType,
		Signature:    p.Signature,
		SignatureKey: SignatureKey(p.Signature),
		Description:  p.Description,
		Confidence:   p.Confidence,
	}
	if p.AssociatedRootCause != nil {
		rc := string(*p.AssociatedRootCause)
		row.AssociatedRootCause = &rc
	}
	stored, err := s.backend.InsertPattern(ctx, row)
	if err != nil {
		return uuid.Nil, fmt.Errorf("state: store pattern: %w", err)
	}
	return stored.ID, nil
}

// FindSimilarPatterns returns active patterns of patternType, most frequent first.
func (s *Store) FindSimilarPatterns(ctx context.Context, patternType string, limit int) ([]model.StoredPattern, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	out, err := s.backend.FindPatterns(ctx, patternType, limit)
	if err != nil {
		return nil, fmt.Errorf("state: find patterns: %w", err)
	}
	return out, nil
}

// IncrementPattern records one more occurrence of a stored pattern.
func (s *Store) IncrementPattern(ctx context.Context, id uuid.UUID) error {
	if err := s.backend.IncrementPattern(ctx, id); err != nil {
		return fmt.Errorf("state: increment pattern: %w", err)
	}
	return nil
}

// Remember files a detected pattern into memory: the first sighting is
// stored, a recurrence increments the matching row. It reports whether the
// pattern was already known.
func (s *Store) Remember(ctx context.Context, p model.Pattern) (bool, error) {
	known, err := s.backend.FindPatternByKey(ctx, p.PatternType, SignatureKey(p.Signature))
	switch {
	case err == nil:
		return true, s.IncrementPattern(ctx, known.ID)
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("state: remember pattern: %w", err)
	}
	_, err = s.StorePattern(ctx, p)
	return false, err
}

// SignatureKey is the field that identifies a pattern across cycles: the
// merchant or endpoint it is about, or nothing for batch-wide patterns.
func SignatureKey(sig map[string]any) string {
	for _, field := range []string{"merchant_id", "endpoint"} {
		if v, ok := sig[field].(string); ok && v != "" {
			return field + "=" + v
		}
	}
	return ""
}

// ResolveIncident stops tracking an incident and persists it as resolved.
func (s *Store) ResolveIncident(ctx context.Context, id uuid.UUID) error {
	if s.memory != nil {
		s.memory.ForgetIncident(id)
	}
	if err := s.backend.UpdateIncidentStatus(ctx, id, model.IncidentResolved); err != nil {
		return fmt.Errorf("state: resolve incident: %w", err)
	}
	s.logger.Info("incident resolved", "incident_id", id)
	return nil
}
