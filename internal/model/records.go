package model

import (
	"time"

	"github.com/google/uuid"
)

// Merchant is a storefront tenant.
type Merchant struct {
	ID                uuid.UUID `json:"id"`
	StoreName         string    `json:"store_name"`
	StoreSlug         string    `json:"store_slug"`
	Email             string    `json:"email"`
	Status            string    `json:"status"`
	MigrationStatus   string    `json:"migration_status"`
	MigrationStage    int       `json:"migration_stage"`
	APIKeyConfigured  bool      `json:"api_key_configured"`
	WebhookConfigured bool      `json:"webhook_configured"`
	StripeConnected   bool      `json:"stripe_connected"`
	CreatedAt         time.Time `json:"created_at"`
}

// Ticket priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Ticket statuses written by the agent.
const (
	TicketOpen       = "open"
	TicketInProgress = "in_progress"
)

// SupportTicket is a merchant support request.
type SupportTicket struct {
	ID              uuid.UUID  `json:"id"`
	MerchantID      *uuid.UUID `json:"merchant_id"`
	Subject         string     `json:"subject"`
	Body            string     `json:"body"`
	Category        *string    `json:"category"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	Source          string     `json:"source"`
	AgentResponse   *string    `json:"agent_response"`
	AgentConfidence *float64   `json:"agent_confidence"`
	CreatedAt       time.Time  `json:"created_at"`
}

// APILog is one merchant API call.
type APILog struct {
	ID           uuid.UUID `json:"id"`
	MerchantID   uuid.UUID `json:"merchant_id"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	StatusCode   *int      `json:"status_code"`
	ErrorMessage *string   `json:"error_message"`
	DurationMS   *int      `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Webhook delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryRetrying  = "retrying"
)

// WebhookLog is one webhook delivery attempt.
type WebhookLog struct {
	ID             uuid.UUID      `json:"id"`
	MerchantID     uuid.UUID      `json:"merchant_id"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	DeliveryStatus string         `json:"delivery_status"`
	RetryCount     int            `json:"retry_count"`
	LastError      *string        `json:"last_error"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Checkout statuses.
const (
	CheckoutCompleted = "completed"
	CheckoutFailed    = "failed"
)

// CheckoutSession is one customer checkout attempt.
type CheckoutSession struct {
	ID            uuid.UUID `json:"id"`
	MerchantID    uuid.UUID `json:"merchant_id"`
	CustomerEmail *string   `json:"customer_email"`
	CartTotal     float64   `json:"cart_total"`
	Status        string    `json:"status"`
	FailureReason *string   `json:"failure_reason"`
	ErrorCode     *string   `json:"error_code"`
	CreatedAt     time.Time `json:"created_at"`
}

// StoredPattern is a row of long-lived pattern memory.
type StoredPattern struct {
	ID                  uuid.UUID      `json:"id"`
	PatternType         string         `json:"pattern_type"`
	Signature           map[string]any `json:"pattern_signature"`
	SignatureKey        string         `json:"signature_key"`
	Description         string         `json:"description"`
	Occurrences         int            `json:"occurrences"`
	LastSeenAt          time.Time      `json:"last_seen_at"`
	AssociatedRootCause *string        `json:"associated_root_cause"`
	Confidence          *float64       `json:"confidence"`
	Active              bool           `json:"active"`
	CreatedAt           time.Time      `json:"created_at"`
}

// StateEntry is one row of the agent key/value store.
type StateEntry struct {
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	ExpiresAt *time.Time     `json:"expires_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e StateEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}
