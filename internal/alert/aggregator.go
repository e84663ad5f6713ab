// Package alert turns a site's aggregate indexing state into alerts.
package alert

import (
	"fmt"
	"sort"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
)

const (
	DefaultBacklogThreshold   = 500
	DefaultFailureRatePercent = 30
	DefaultFailureWindow      = 2 * time.Hour
)

type Thresholds struct {
	// BacklogThreshold is exceeded when waiting work is strictly greater.
	BacklogThreshold int
	// FailureRatePercent fires when failed/total in the window is at least
	// this share.
	FailureRatePercent int
	FailureWindow      time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BacklogThreshold:   DefaultBacklogThreshold,
		FailureRatePercent: DefaultFailureRatePercent,
		FailureWindow:      DefaultFailureWindow,
	}
}

func (t Thresholds) normalized() Thresholds {
	if t.BacklogThreshold <= 0 {
		t.BacklogThreshold = DefaultBacklogThreshold
	}
	if t.FailureRatePercent <= 0 || t.FailureRatePercent > 100 {
		t.FailureRatePercent = DefaultFailureRatePercent
	}
	if t.FailureWindow <= 0 {
		t.FailureWindow = DefaultFailureWindow
	}
	return t
}

// Snapshot is the aggregate state of one site at evaluation time. Window
// counters cover requests submitted inside Thresholds.FailureWindow.
type Snapshot struct {
	SiteID          string
	PendingRequests int
	QueuedURLs      int
	WindowTotal     int
	WindowFailed    int
	WindowExhausted int
	Credentials     []domain.Credential
}

// Backlog is the work waiting to be submitted: pending requests plus URLs
// still queued for quota.
func (s Snapshot) Backlog() int {
	return s.PendingRequests + s.QueuedURLs
}

// Evaluation is the result of one pass. Operational is true exactly when no
// alert fired.
type Evaluation struct {
	SiteID      string
	EvaluatedAt time.Time
	Alerts      []domain.Alert
	Operational bool
}

type Aggregator struct {
	thresholds Thresholds
}

func NewAggregator(thresholds Thresholds) *Aggregator {
	return &Aggregator{thresholds: thresholds.normalized()}
}

func (a *Aggregator) Thresholds() Thresholds {
	return a.thresholds
}

func (a *Aggregator) Evaluate(snapshot Snapshot, now time.Time) Evaluation {
	now = now.UTC()
	var alerts []domain.Alert

	add := func(alertType domain.AlertType, severity domain.Severity, message string, credentialID *string) {
		alerts = append(alerts, domain.Alert{
			SiteID:       snapshot.SiteID,
			Type:         alertType,
			Severity:     severity,
			Message:      message,
			CredentialID: credentialID,
			CreatedAt:    now,
		})
	}

	if backlog := snapshot.Backlog(); backlog > a.thresholds.BacklogThreshold {
		add(domain.AlertQueueBacklog, domain.SeverityWarning,
			fmt.Sprintf("%d URLs waiting for submission: %d pending requests, %d queued URLs (threshold %d)",
				backlog, snapshot.PendingRequests, snapshot.QueuedURLs, a.thresholds.BacklogThreshold), nil)
	}

	if a.failureRateExceeded(snapshot.WindowFailed, snapshot.WindowTotal) {
		add(domain.AlertHighFailureRate, domain.SeverityError,
			fmt.Sprintf("%d of %d requests failed in the last %s", snapshot.WindowFailed, snapshot.WindowTotal, a.thresholds.FailureWindow), nil)
	}

	if snapshot.WindowExhausted > 0 {
		add(domain.AlertRetryExhausted, domain.SeverityWarning,
			fmt.Sprintf("%d requests exhausted their retries in the last %s", snapshot.WindowExhausted, a.thresholds.FailureWindow), nil)
	}

	credentials := append([]domain.Credential(nil), snapshot.Credentials...)
	sort.Slice(credentials, func(i, j int) bool { return credentials[i].ID < credentials[j].ID })

	unhealthy := 0
	for i := range credentials {
		c := credentials[i]
		id := c.ID
		if c.NeedsReauth() {
			add(domain.AlertReauthRequired, domain.SeverityCritical,
				fmt.Sprintf("credential %s was rejected by the indexing API and must be reconnected", credentialLabel(c)), &id)
		}
		if c.IsHealthy() {
			continue
		}
		unhealthy++
		add(domain.AlertCredentialUnhealthy, domain.SeverityWarning,
			fmt.Sprintf("credential %s is unhealthy until %s", credentialLabel(c), cooldownLabel(c.CooldownUntil)), &id)
	}

	if len(credentials) > 0 && unhealthy == len(credentials) {
		add(domain.AlertNoUsableCredentials, domain.SeverityCritical,
			"every credential of the site is unhealthy; submissions are paused", nil)
	}

	return Evaluation{
		SiteID:      snapshot.SiteID,
		EvaluatedAt: now,
		Alerts:      alerts,
		Operational: len(alerts) == 0,
	}
}

func (a *Aggregator) failureRateExceeded(failed int, total int) bool {
	if total <= 0 || failed <= 0 {
		return false
	}
	return failed*100 >= a.thresholds.FailureRatePercent*total
}

// CountBySeverity buckets alerts, always reporting every severity.
func CountBySeverity(alerts []domain.Alert) map[domain.Severity]int {
	counts := make(map[domain.Severity]int, len(domain.Severities))
	for _, s := range domain.Severities {
		counts[s] = 0
	}
	for _, a := range alerts {
		counts[a.Severity]++
	}
	return counts
}

func credentialLabel(c domain.Credential) string {
	if c.Name != "" {
		return fmt.Sprintf("%q (%s)", c.Name, c.ID)
	}
	return c.ID
}

func cooldownLabel(until *time.Time) string {
	if until == nil {
		return "the next health sweep"
	}
	return until.UTC().Format(time.RFC3339)
}
