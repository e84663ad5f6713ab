package domain

import "time"

// Severity orders alerts from informational to critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from lowest to highest.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}

func (s Severity) String() string { return string(s) }

func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// AlertType identifies the condition an alert reports.
type AlertType string

const (
	AlertQueueBacklog        AlertType = "queue_backlog"
	AlertHighFailureRate     AlertType = "high_failure_rate"
	AlertCredentialUnhealthy AlertType = "credential_unhealthy"
	AlertReauthRequired      AlertType = "credential_reauth_required"
	AlertNoUsableCredentials AlertType = "no_usable_credentials"
	AlertRetryExhausted      AlertType = "retry_exhausted"
)

func (t AlertType) String() string { return string(t) }

// Alert is a threshold crossing observed for a site.
type Alert struct {
	ID           string
	SiteID       string
	Type         AlertType
	Severity     Severity
	Message      string
	CredentialID *string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

func (a *Alert) IsActive() bool {
	return a != nil && a.ResolvedAt == nil
}

// AlertEvaluation records the last time a site's alerts were computed.
type AlertEvaluation struct {
	SiteID      string
	EvaluatedAt time.Time
	Operational bool
}
