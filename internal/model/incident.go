package model

import (
	"time"

	"github.com/google/uuid"
)

// IncidentType is the incident taxonomy used by classification.
type IncidentType string

const (
	IncidentMigrationMisstep   IncidentType = "migration_misstep"
	IncidentPlatformRegression IncidentType = "platform_regression"
	IncidentDocumentationGap   IncidentType = "documentation_gap"
	IncidentConfigError        IncidentType = "config_error"
	IncidentPaymentIssue       IncidentType = "payment_issue"
	IncidentAPIOutage          IncidentType = "api_outage"
)

// IncidentTypes lists every classification in taxonomy order.
var IncidentTypes = []IncidentType{
	IncidentMigrationMisstep,
	IncidentPlatformRegression,
	IncidentDocumentationGap,
	IncidentConfigError,
	IncidentPaymentIssue,
	IncidentAPIOutage,
}

// Valid reports whether t is part of the taxonomy.
func (t IncidentType) Valid() bool {
	for _, v := range IncidentTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IncidentSeverity grades incidents and anomalies.
type IncidentSeverity string

const (
	IncidentSeverityLow      IncidentSeverity = "low"
	IncidentSeverityMedium   IncidentSeverity = "medium"
	IncidentSeverityHigh     IncidentSeverity = "high"
	IncidentSeverityCritical IncidentSeverity = "critical"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentDetected      IncidentStatus = "detected"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentConfirmed     IncidentStatus = "confirmed"
	IncidentMitigating    IncidentStatus = "mitigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentFalsePositive IncidentStatus = "false_positive"
)

// Incident is a persisted record of an ongoing operational issue.
type Incident struct {
	ID                  uuid.UUID        `json:"id"`
	Title               string           `json:"title"`
	Description         *string          `json:"description,omitempty"`
	Type                IncidentType     `json:"type"`
	Severity            IncidentSeverity `json:"severity"`
	AffectedMerchants   []string         `json:"affected_merchants"`
	RootCause           *string          `json:"root_cause,omitempty"`
	RootCauseConfidence *float64         `json:"root_cause_confidence,omitempty"`
	Evidence            []Evidence       `json:"evidence"`
	Status              IncidentStatus   `json:"status"`
	ImpactAssessment    *string          `json:"impact_assessment,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	ResolvedAt          *time.Time       `json:"resolved_at,omitempty"`
}

// AffectedMerchantCount is derived from AffectedMerchants.
func (i Incident) AffectedMerchantCount() int {
	return len(i.AffectedMerchants)
}
