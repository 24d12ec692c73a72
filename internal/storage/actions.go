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

const actionColumns = `id, incident_id, ticket_id, action_type, description, details, confidence, risk_level,
	requires_approval, approval_status, approved_by, approved_at, rejection_reason,
	executed, executed_at, execution_result, created_at`

func scanAction(row pgx.Row) (model.AgentAction, error) {
	var a model.AgentAction
	err := row.Scan(
		&a.ID, &a.IncidentID, &a.TicketID, &a.ActionType, &a.Description, &a.Details, &a.Confidence, &a.RiskLevel,
		&a.RequiresApproval, &a.ApprovalStatus, &a.ApprovedBy, &a.ApprovedAt, &a.RejectionReason,
		&a.Executed, &a.ExecutedAt, &a.ExecutionResult, &a.CreatedAt,
	)
	return a, err
}

// CreateAction inserts a new action record. ID and CreatedAt are assigned
// when zero.
func (db *DB) CreateAction(ctx context.Context, a model.AgentAction) (model.AgentAction, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_actions (id, incident_id, ticket_id, action_type, description, details, confidence,
		                            risk_level, requires_approval, approval_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.IncidentID, a.TicketID, string(a.ActionType), a.Description, a.Details, a.Confidence,
		string(a.RiskLevel), a.RequiresApproval, string(a.ApprovalStatus), a.CreatedAt,
	)
	if err != nil {
		return model.AgentAction{}, fmt.Errorf("storage: create action: %w", err)
	}
	return a, nil
}

// GetAction retrieves an action by ID.
func (db *DB) GetAction(ctx context.Context, id uuid.UUID) (model.AgentAction, error) {
	a, err := scanAction(db.pool.QueryRow(ctx,
		`SELECT `+actionColumns+` FROM agent_actions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AgentAction{}, fmt.Errorf("storage: action %s: %w", id, ErrNotFound)
		}
		return model.AgentAction{}, fmt.Errorf("storage: get action: %w", err)
	}
	return a, nil
}

// ApproveAction flips a pending, unexecuted action to approved and returns
// the updated row. Any other starting state yields ErrStateConflict.
func (db *DB) ApproveAction(ctx context.Context, id uuid.UUID, approvedBy string) (model.AgentAction, error) {
	var a model.AgentAction
	err := db.retry(ctx, func() error {
		var err error
		a, err = scanAction(db.pool.QueryRow(ctx,
			`UPDATE agent_actions
			 SET approval_status = 'approved', approved_by = $2, approved_at = now()
			 WHERE id = $1 AND approval_status = 'pending' AND NOT executed
			 RETURNING `+actionColumns, id, approvedBy))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AgentAction{}, db.transitionMiss(ctx, id)
		}
		return model.AgentAction{}, fmt.Errorf("storage: approve action: %w", err)
	}
	return a, nil
}

// RejectAction marks an unexecuted action rejected. The rejecter is stored
// in approved_by alongside the reason. Executed actions yield ErrStateConflict.
func (db *DB) RejectAction(ctx context.Context, id uuid.UUID, rejectedBy, reason string) error {
	err := db.retry(ctx, func() error {
		tag, err := db.pool.Exec(ctx,
			`UPDATE agent_actions
			 SET approval_status = 'rejected', approved_by = $2, approved_at = now(), rejection_reason = $3
			 WHERE id = $1 AND NOT executed`, id, rejectedBy, reason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.transitionMiss(ctx, id)
		}
		return fmt.Errorf("storage: reject action: %w", err)
	}
	return nil
}

// RecordExecution stores the handler outcome and sets executed. An action
// that is already executed yields ErrStateConflict and keeps its first result.
func (db *DB) RecordExecution(ctx context.Context, id uuid.UUID, result model.ExecutionResult) error {
	err := db.retry(ctx, func() error {
		tag, err := db.pool.Exec(ctx,
			`UPDATE agent_actions
			 SET executed = true, executed_at = now(), execution_result = $2
			 WHERE id = $1 AND NOT executed`, id, result)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.transitionMiss(ctx, id)
		}
		return fmt.Errorf("storage: record execution: %w", err)
	}
	return nil
}

// UpdateExecutionResult replaces the stored result of an executed action.
// Used to record a rollback.
func (db *DB) UpdateExecutionResult(ctx context.Context, id uuid.UUID, result model.ExecutionResult) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_actions SET execution_result = $2 WHERE id = $1 AND executed`, id, result)
	if err != nil {
		return fmt.Errorf("storage: update execution result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.transitionMiss(ctx, id)
	}
	return nil
}

// LinkActionsToIncident points the given actions at incidentID. Actions
// already linked to an incident keep their link.
func (db *DB) LinkActionsToIncident(ctx context.Context, incidentID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.pool.Exec(ctx,
		`UPDATE agent_actions SET incident_id = $1 WHERE id = ANY($2::uuid[]) AND incident_id IS NULL`, incidentID, ids)
	if err != nil {
		return fmt.Errorf("storage: link actions to incident: %w", err)
	}
	return nil
}

// transitionMiss distinguishes a missing row from one in the wrong state.
func (db *DB) transitionMiss(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agent_actions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("storage: check action: %w", err)
	}
	if !exists {
		return fmt.Errorf("storage: action %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("storage: action %s: %w", id, ErrStateConflict)
}

// ListActions returns actions in the given approval status joined with
// their incident, newest first.
func (db *DB) ListActions(ctx context.Context, status model.ApprovalStatus, limit int) ([]model.ActionListItem, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT a.id, a.incident_id, a.ticket_id, a.action_type, a.description, a.details, a.confidence,
		        a.risk_level, a.requires_approval, a.approval_status, a.approved_by, a.approved_at,
		        a.rejection_reason, a.executed, a.executed_at, a.execution_result, a.created_at,
		        i.title, i.severity, i.type
		 FROM agent_actions a
		 LEFT JOIN incidents i ON i.id = a.incident_id
		 WHERE a.approval_status = $1
		 ORDER BY a.created_at DESC
		 LIMIT $2`, string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list actions: %w", err)
	}
	defer rows.Close()

	var out []model.ActionListItem
	for rows.Next() {
		var (
			it             model.ActionListItem
			severity, kind *string
		)
		a := &it.AgentAction
		if err := rows.Scan(
			&a.ID, &a.IncidentID, &a.TicketID, &a.ActionType, &a.Description, &a.Details, &a.Confidence,
			&a.RiskLevel, &a.RequiresApproval, &a.ApprovalStatus, &a.ApprovedBy, &a.ApprovedAt,
			&a.RejectionReason, &a.Executed, &a.ExecutedAt, &a.ExecutionResult, &a.CreatedAt,
			&it.IncidentTitle, &severity, &kind,
		); err != nil {
			return nil, fmt.Errorf("storage: scan action: %w", err)
		}
		if severity != nil {
			s := model.IncidentSeverity(*severity)
			it.IncidentSeverity = &s
		}
		if kind != nil {
			t := model.IncidentType(*kind)
			it.IncidentType = &t
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
