package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mamori/internal/model"
)

// InsertReasoningLogs writes a batch of reasoning steps in one transaction.
func (db *DB) InsertReasoningLogs(ctx context.Context, logs []model.ReasoningLog) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range logs {
		id := l.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(
			`INSERT INTO reasoning_logs (id, incident_id, ticket_id, action_id, step_number, phase, thought,
			                             evidence, conclusion, confidence, tokens_used, model_used, duration_ms, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			id, l.IncidentID, l.TicketID, l.ActionID, l.StepNumber, string(l.Phase), l.Thought,
			l.Evidence, l.Conclusion, l.Confidence, l.TokensUsed, l.ModelUsed, l.DurationMS, l.CreatedAt,
		)
	}

	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("storage: insert reasoning logs: %w", err)
	}
	return nil
}

// CountReasoningLogs returns the number of stored reasoning steps.
func (db *DB) CountReasoningLogs(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reasoning_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count reasoning logs: %w", err)
	}
	return n, nil
}
