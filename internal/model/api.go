package model

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// requestValidate validates every request type in this package.
var requestValidate = validator.New()

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// Decisions accepted by POST /agent/actions.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ActionDecisionRequest is the body for POST /agent/actions.
type ActionDecisionRequest struct {
	ActionID        string `json:"action_id" validate:"required,uuid"`
	Decision        string `json:"decision" validate:"required,oneof=approve reject"`
	ApprovedBy      string `json:"approved_by,omitempty" validate:"omitempty,max=200"`
	RejectedBy      string `json:"rejected_by,omitempty" validate:"omitempty,max=200"`
	RejectionReason string `json:"rejection_reason,omitempty" validate:"omitempty,max=2000"`
}

// Validate checks field presence and bounds.
func (r ActionDecisionRequest) Validate() error {
	return requestValidate.Struct(r)
}

// Mock data operations accepted by POST /agent/mock-data.
const (
	MockGenerate = "generate"
	MockClear    = "clear"
	MockCrisis   = "crisis"
)

// MockDataRequest is the body for POST /agent/mock-data. Zero counts fall
// back to the generator defaults.
type MockDataRequest struct {
	Action           string `json:"action,omitempty" validate:"omitempty,oneof=generate clear crisis"`
	Merchants        int    `json:"merchants,omitempty" validate:"gte=0,lte=8"`
	Tickets          int    `json:"tickets,omitempty" validate:"gte=0,lte=1000"`
	APIErrors        int    `json:"api_errors,omitempty" validate:"gte=0,lte=1000"`
	WebhookFailures  int    `json:"webhook_failures,omitempty" validate:"gte=0,lte=1000"`
	CheckoutFailures int    `json:"checkout_failures,omitempty" validate:"gte=0,lte=1000"`
}

// Validate checks field presence and bounds.
func (r MockDataRequest) Validate() error {
	return requestValidate.Struct(r)
}

// RunSummary is the response body for POST /agent/run.
type RunSummary struct {
	SignalsObserved    int               `json:"signals_observed"`
	PatternsDetected   int               `json:"patterns_detected"`
	AnomaliesFound     int               `json:"anomalies_found"`
	IssuesAnalyzed     int               `json:"issues_analyzed"`
	ActionsRecommended int               `json:"actions_recommended"`
	ActionsExecuted    int               `json:"actions_executed"`
	ActionsPending     int               `json:"actions_pending"`
	DurationMS         int64             `json:"duration_ms"`
	Timestamp          time.Time         `json:"timestamp"`
	Observation        Observation       `json:"observation"`
	Reasoning          []ReasoningResult `json:"reasoning"`
	Decisions          []Decision        `json:"decisions"`
	Executions         []ExecutionResult `json:"executions"`
}

// AgentStats is the read-only projection of agent memory.
type AgentStats struct {
	ActiveIncidents int        `json:"active_incidents"`
	PendingActions  int        `json:"pending_actions"`
	BufferedSignals int        `json:"buffered_signals"`
	IsProcessing    bool       `json:"is_processing"`
	LastProcessedAt *time.Time `json:"last_processed_at"`
}

// AgentStatus is the response body for GET /agent/run.
type AgentStatus struct {
	IsRunning bool `json:"is_running"`
	AgentStats
}

// MockDataResult reports what a mock-data operation did.
type MockDataResult struct {
	Message           string   `json:"message"`
	Merchants         []string `json:"merchants,omitempty"`
	Tickets           int      `json:"tickets"`
	APIErrors         int      `json:"api_errors"`
	WebhookFailures   int      `json:"webhook_failures"`
	CheckoutFailures  int      `json:"checkout_failures"`
	AffectedMerchants int      `json:"affected_merchants,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

// ActionListResponse is the response body for GET /agent/actions.
type ActionListResponse struct {
	Actions []ActionListItem `json:"actions"`
}

// ActionDecisionResponse is the response body for POST /agent/actions and
// the rollback endpoint.
type ActionDecisionResponse struct {
	Message string           `json:"message"`
	Result  *ExecutionResult `json:"result,omitempty"`
}

// AuthTokenRequest is the body for POST /auth/token.
type AuthTokenRequest struct {
	Operator string `json:"operator" validate:"required,max=200"`
	Key      string `json:"key" validate:"required"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=viewer operator admin"`
}

// Validate checks field presence and bounds.
func (r AuthTokenRequest) Validate() error {
	return requestValidate.Struct(r)
}

// AuthTokenResponse is the response body for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
