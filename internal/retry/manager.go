// Package retry classifies submission failures and schedules bounded retries.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/provider"
	"github.com/kursadbilgin/indexing-engine/internal/schedule"
)

// Classify maps a submission error to a stable reason code. Unknown errors
// map to unspecified.
func Classify(err error) domain.RetryReason {
	if err == nil {
		return domain.RetryReasonUnspecified
	}

	var submitErr *provider.SubmitError
	if errors.As(err, &submitErr) && submitErr.StatusCode > 0 {
		return classifyStatus(submitErr.StatusCode, submitErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.RetryReasonNetworkError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.RetryReasonNetworkError
	}

	if submitErr.Temporary() {
		return domain.RetryReasonNetworkError
	}

	return domain.RetryReasonUnspecified
}

func classifyStatus(statusCode int, message string) domain.RetryReason {
	switch {
	case statusCode == http.StatusTooManyRequests:
		if mentionsQuota(message) {
			return domain.RetryReasonQuotaExceeded
		}
		return domain.RetryReasonRateLimit
	case statusCode == http.StatusForbidden:
		if mentionsQuota(message) {
			return domain.RetryReasonQuotaExceeded
		}
		return domain.RetryReasonAuthError
	case statusCode == http.StatusUnauthorized:
		return domain.RetryReasonAuthError
	case statusCode == http.StatusRequestTimeout:
		return domain.RetryReasonTemporaryError
	case statusCode >= http.StatusInternalServerError && statusCode <= 599:
		return domain.RetryReasonTemporaryError
	}
	return domain.RetryReasonUnspecified
}

func mentionsQuota(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "dailylimitexceeded")
}

// Policy holds the fixed per-reason delays. quota_exceeded is not in the
// table: it always waits for the next 00:00 UTC reset.
type Policy struct {
	Delays map[domain.RetryReason]time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Delays: map[domain.RetryReason]time.Duration{
			domain.RetryReasonRateLimit:      15 * time.Minute,
			domain.RetryReasonAuthError:      time.Hour,
			domain.RetryReasonTemporaryError: 5 * time.Minute,
			domain.RetryReasonNetworkError:   2 * time.Minute,
			domain.RetryReasonUnspecified:    5 * time.Minute,
		},
	}
}

const fallbackDelay = 5 * time.Minute

// NextAttempt returns when a retry for reason may run, ignoring credential
// health.
func (p Policy) NextAttempt(reason domain.RetryReason, now time.Time) time.Time {
	now = now.UTC()
	if reason == domain.RetryReasonQuotaExceeded {
		return schedule.NextDayStart(now)
	}
	delay, ok := p.Delays[reason]
	if !ok || delay <= 0 {
		delay = fallbackDelay
	}
	return now.Add(delay)
}

// Outcome is what ScheduleRetry decided for a failed request.
type Outcome string

const (
	OutcomeScheduled Outcome = "scheduled"
	OutcomeExhausted Outcome = "exhausted"
)

// ScheduleRetry folds a failure into req. retryCount is incremented up to
// domain.MaxRetries; the failure that reaches it leaves the request terminal
// failed with no nextRetryAt. Otherwise nextRetryAt comes from the delay
// table, and when credential is unhealthy and the reason is not a network
// error the retry is held until at least the end of its cooldown. A request
// that already used every retry is returned unchanged.
func (p Policy) ScheduleRetry(
	req domain.IndexingRequest,
	reason domain.RetryReason,
	message string,
	credential *domain.Credential,
	now time.Time,
) (domain.IndexingRequest, Outcome) {
	if req.RetryCount >= domain.MaxRetries {
		return req, OutcomeExhausted
	}

	now = now.UTC()
	if !reason.IsValid() {
		reason = domain.RetryReasonUnspecified
	}

	r := reason
	req.RetryReason = &r
	if msg := strings.TrimSpace(message); msg != "" {
		req.LastError = &msg
	}
	req.UpdatedAt = now

	req.RetryCount++
	if req.RetryCount >= domain.MaxRetries {
		req.Status = domain.RequestFailed
		req.NextRetryAt = nil
		completedAt := now
		req.CompletedAt = &completedAt
		return req, OutcomeExhausted
	}

	req.Status = domain.RequestPending
	next := HoldForCooldown(p.NextAttempt(reason, now), reason, credential)
	req.NextRetryAt = &next
	return req, OutcomeScheduled
}

// HoldForCooldown pushes at to the end of an unhealthy credential's cooldown.
// Network errors are exempt.
func HoldForCooldown(at time.Time, reason domain.RetryReason, credential *domain.Credential) time.Time {
	if reason == domain.RetryReasonNetworkError || credential == nil || credential.IsHealthy() {
		return at
	}
	if credential.CooldownUntil != nil && credential.CooldownUntil.After(at) {
		return credential.CooldownUntil.UTC()
	}
	return at
}

// Badge is the operator-facing retry state, derived from retryCount.
type Badge string

const (
	BadgeNone           Badge = "none"
	BadgeRetryPending   Badge = "retry_pending"
	BadgeRetryExhausted Badge = "retry_exhausted"
)

func StatusOf(req domain.IndexingRequest) Badge {
	switch {
	case req.RetryCount >= domain.MaxRetries:
		return BadgeRetryExhausted
	case req.RetryCount >= 1:
		return BadgeRetryPending
	}
	return BadgeNone
}
