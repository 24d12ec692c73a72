package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// UpdateTicketAgentResponse writes an agent-authored reply onto a ticket and
// moves it to in_progress.
func (db *DB) UpdateTicketAgentResponse(ctx context.Context, id uuid.UUID, response string, confidence float64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE support_tickets
		 SET agent_response = $2, agent_confidence = $3, status = 'in_progress', updated_at = now()
		 WHERE id = $1`, id, response, confidence)
	if err != nil {
		return fmt.Errorf("storage: update ticket response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: ticket %s: %w", id, ErrNotFound)
	}
	return nil
}
