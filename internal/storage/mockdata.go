package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mamori/internal/model"
)

// InsertMerchant adds a merchant and returns its ID.
func (db *DB) InsertMerchant(ctx context.Context, m model.Merchant) (uuid.UUID, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO merchants (id, store_name, store_slug, email, status, migration_status, migration_stage,
		                        api_key_configured, webhook_configured, stripe_connected)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.StoreName, m.StoreSlug, m.Email, m.Status, m.MigrationStatus, m.MigrationStage,
		m.APIKeyConfigured, m.WebhookConfigured, m.StripeConnected,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: insert merchant: %w", err)
	}
	return m.ID, nil
}

// ListMerchantIDs returns up to limit merchant IDs, oldest first.
func (db *DB) ListMerchantIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, `SELECT id FROM merchants ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list merchants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("storage: scan merchants: %w", err)
	}
	return ids, nil
}

// InsertTicket adds a support ticket.
func (db *DB) InsertTicket(ctx context.Context, t model.SupportTicket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO support_tickets (id, merchant_id, subject, body, category, priority, status, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.MerchantID, t.Subject, t.Body, t.Category, t.Priority, t.Status, t.Source, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert ticket: %w", err)
	}
	return nil
}

// InsertAPILog adds a merchant API log row.
func (db *DB) InsertAPILog(ctx context.Context, l model.APILog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO merchant_api_logs (id, merchant_id, endpoint, method, status_code, error_message, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.MerchantID, l.Endpoint, l.Method, l.StatusCode, l.ErrorMessage, l.DurationMS, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert api log: %w", err)
	}
	return nil
}

// InsertWebhookLog adds a webhook delivery row.
func (db *DB) InsertWebhookLog(ctx context.Context, w model.WebhookLog) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO webhook_logs (id, merchant_id, event_type, payload, delivery_status, retry_count, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.MerchantID, w.EventType, w.Payload, w.DeliveryStatus, w.RetryCount, w.LastError, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert webhook log: %w", err)
	}
	return nil
}

// InsertCheckoutSession adds a checkout session row.
func (db *DB) InsertCheckoutSession(ctx context.Context, c model.CheckoutSession) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO checkout_sessions (id, merchant_id, customer_email, cart_total, status, failure_reason, error_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.MerchantID, c.CustomerEmail, c.CartTotal, c.Status, c.FailureReason, c.ErrorCode, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert checkout session: %w", err)
	}
	return nil
}

// clearOrder lists tables child-first so foreign keys never block a delete.
var clearOrder = []string{
	"reasoning_logs",
	"agent_actions",
	"incidents",
	"support_tickets",
	"checkout_sessions",
	"webhook_logs",
	"merchant_api_logs",
	"merchants",
}

// ClearAll deletes every source and agent record in one transaction.
// Pattern memory and the state store are kept.
func (db *DB) ClearAll(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		for _, table := range clearOrder {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: clear: %w", err)
	}
	return nil
}
