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

// CreateIncident inserts an incident. ID and timestamps are assigned when zero.
func (db *DB) CreateIncident(ctx context.Context, inc model.Incident) (model.Incident, error) {
	now := time.Now().UTC()
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	inc.UpdatedAt = now
	if inc.Status == "" {
		inc.Status = model.IncidentDetected
	}
	if inc.AffectedMerchants == nil {
		inc.AffectedMerchants = []string{}
	}
	if inc.Evidence == nil {
		inc.Evidence = []model.Evidence{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO incidents (id, title, description, type, severity, affected_merchants, root_cause,
		                        root_cause_confidence, evidence, status, impact_assessment, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inc.ID, inc.Title, inc.Description, string(inc.Type), string(inc.Severity), inc.AffectedMerchants,
		inc.RootCause, inc.RootCauseConfidence, inc.Evidence, string(inc.Status), inc.ImpactAssessment,
		inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		return model.Incident{}, fmt.Errorf("storage: create incident: %w", err)
	}
	return inc, nil
}

// GetIncident retrieves an incident by ID.
func (db *DB) GetIncident(ctx context.Context, id uuid.UUID) (model.Incident, error) {
	var inc model.Incident
	err := db.pool.QueryRow(ctx,
		`SELECT id, title, description, type, severity, affected_merchants, root_cause, root_cause_confidence,
		        evidence, status, impact_assessment, created_at, updated_at, resolved_at
		 FROM incidents WHERE id = $1`, id,
	).Scan(
		&inc.ID, &inc.Title, &inc.Description, &inc.Type, &inc.Severity, &inc.AffectedMerchants, &inc.RootCause,
		&inc.RootCauseConfidence, &inc.Evidence, &inc.Status, &inc.ImpactAssessment,
		&inc.CreatedAt, &inc.UpdatedAt, &inc.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Incident{}, fmt.Errorf("storage: incident %s: %w", id, ErrNotFound)
		}
		return model.Incident{}, fmt.Errorf("storage: get incident: %w", err)
	}
	return inc, nil
}

// UpdateIncidentStatus moves an incident to status, stamping resolved_at
// when the new status is resolved.
func (db *DB) UpdateIncidentStatus(ctx context.Context, id uuid.UUID, status model.IncidentStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE incidents
		 SET status = $2, updated_at = now(),
		     resolved_at = CASE WHEN $2 = 'resolved' THEN now() ELSE resolved_at END
		 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("storage: update incident status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: incident %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteIncident removes an incident. Actions referencing it keep their row
// with incident_id cleared.
func (db *DB) DeleteIncident(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: incident %s: %w", id, ErrNotFound)
	}
	return nil
}
