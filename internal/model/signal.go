// Package model defines the domain types for the mamori support agent.
//
// Types mirror the database tables and the JSON payloads exchanged between
// the agent phases. Enumerations are string types so they serialize as-is.
package model

import "time"

// SignalType identifies which operational stream a signal came from.
type SignalType string

const (
	SignalTicket          SignalType = "ticket"
	SignalAPIError        SignalType = "api_error"
	SignalWebhookFailure  SignalType = "webhook_failure"
	SignalCheckoutFailure SignalType = "checkout_failure"
	SignalMetricAnomaly   SignalType = "metric_anomaly"
)

// Severity is the normalized urgency of a signal.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// IsErrorOrWorse reports whether s is error or critical.
func (s Severity) IsErrorOrWorse() bool {
	return s == SeverityError || s == SeverityCritical
}

// Signal is one normalized event derived from a source record. Signals are
// rebuilt every observation cycle and never stored verbatim.
type Signal struct {
	ID         string         `json:"id"`
	Type       SignalType     `json:"type"`
	Source     string         `json:"source"`
	MerchantID *string        `json:"merchant_id"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Merchant returns the merchant id or "" when the signal is unscoped.
func (s Signal) Merchant() string {
	if s.MerchantID == nil {
		return ""
	}
	return *s.MerchantID
}

// DataString returns Data[key] when it holds a non-empty string.
func (s Signal) DataString(key string) string {
	v, _ := s.Data[key].(string)
	return v
}

// Pattern is a recurring structure detected across the signals of one cycle.
type Pattern struct {
	ID                  string         `json:"id"`
	PatternType         string         `json:"pattern_type"`
	Signature           map[string]any `json:"pattern_signature"`
	Description         string         `json:"description"`
	Occurrences         int            `json:"occurrences"`
	LastSeenAt          time.Time      `json:"last_seen_at"`
	AssociatedRootCause *IncidentType  `json:"associated_root_cause,omitempty"`
	Confidence          *float64       `json:"confidence,omitempty"`
	Active              bool           `json:"active"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Pattern types emitted by the observer.
const (
	PatternRepeatedMerchantErrors    = "repeated_merchant_errors"
	PatternEndpointWidespreadFailure = "endpoint_widespread_failure"
	PatternCheckoutFailureSpike      = "checkout_failure_spike"
)

// Anomaly is a threshold-triggered flag over the current signal batch.
type Anomaly struct {
	Type              string           `json:"type"`
	Description       string           `json:"description"`
	AffectedMerchants []string         `json:"affected_merchants"`
	Severity          IncidentSeverity `json:"severity"`
}

// Anomaly types emitted by the observer.
const (
	AnomalyCriticalErrors   = "critical_errors"
	AnomalyErrorVolumeSpike = "error_volume_spike"
	AnomalyWidespreadImpact = "widespread_impact"
)

// Observation is the immutable snapshot produced by one observe phase.
type Observation struct {
	Signals          []Signal  `json:"signals"`
	PatternsDetected []Pattern `json:"patterns_detected"`
	Anomalies        []Anomaly `json:"anomalies"`
	Summary          string    `json:"summary"`
	DegradedSources  []string  `json:"degraded_sources,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Empty reports whether the observation carries nothing worth reasoning about.
func (o Observation) Empty() bool {
	return len(o.Signals) == 0 && len(o.Anomalies) == 0
}
