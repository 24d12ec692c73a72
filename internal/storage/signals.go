package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/mamori/internal/model"
)

// RecentTickets returns support tickets created at or after since, newest first.
func (db *DB) RecentTickets(ctx context.Context, since time.Time, limit int) ([]model.SupportTicket, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, merchant_id, subject, body, category, priority, status, source,
		        agent_response, agent_confidence, created_at
		 FROM support_tickets
		 WHERE created_at >= $1
		 ORDER BY created_at DESC
		 LIMIT $2`, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query tickets: %w", err)
	}
	defer rows.Close()

	var out []model.SupportTicket
	for rows.Next() {
		var t model.SupportTicket
		if err := rows.Scan(
			&t.ID, &t.MerchantID, &t.Subject, &t.Body, &t.Category, &t.Priority, &t.Status, &t.Source,
			&t.AgentResponse, &t.AgentConfidence, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentAPIErrors returns API calls with status_code >= 400 created at or after since.
func (db *DB) RecentAPIErrors(ctx context.Context, since time.Time, limit int) ([]model.APILog, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, merchant_id, endpoint, method, status_code, error_message, duration_ms, created_at
		 FROM merchant_api_logs
		 WHERE created_at >= $1 AND status_code >= 400
		 ORDER BY created_at DESC
		 LIMIT $2`, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query api errors: %w", err)
	}
	defer rows.Close()

	var out []model.APILog
	for rows.Next() {
		var l model.APILog
		if err := rows.Scan(
			&l.ID, &l.MerchantID, &l.Endpoint, &l.Method, &l.StatusCode, &l.ErrorMessage, &l.DurationMS, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan api log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RecentWebhookFailures returns failed webhook deliveries created at or after since.
func (db *DB) RecentWebhookFailures(ctx context.Context, since time.Time, limit int) ([]model.WebhookLog, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, merchant_id, event_type, payload, delivery_status, retry_count, last_error, created_at
		 FROM webhook_logs
		 WHERE created_at >= $1 AND delivery_status = 'failed'
		 ORDER BY created_at DESC
		 LIMIT $2`, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query webhook failures: %w", err)
	}
	defer rows.Close()

	var out []model.WebhookLog
	for rows.Next() {
		var w model.WebhookLog
		if err := rows.Scan(
			&w.ID, &w.MerchantID, &w.EventType, &w.Payload, &w.DeliveryStatus, &w.RetryCount, &w.LastError, &w.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan webhook log: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecentCheckoutFailures returns failed checkout sessions created at or after since.
func (db *DB) RecentCheckoutFailures(ctx context.Context, since time.Time, limit int) ([]model.CheckoutSession, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, merchant_id, customer_email, cart_total::float8, status, failure_reason, error_code, created_at
		 FROM checkout_sessions
		 WHERE created_at >= $1 AND status = 'failed'
		 ORDER BY created_at DESC
		 LIMIT $2`, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query checkout failures: %w", err)
	}
	defer rows.Close()

	var out []model.CheckoutSession
	for rows.Next() {
		var c model.CheckoutSession
		if err := rows.Scan(
			&c.ID, &c.MerchantID, &c.CustomerEmail, &c.CartTotal, &c.Status, &c.FailureReason, &c.ErrorCode, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan checkout session: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
