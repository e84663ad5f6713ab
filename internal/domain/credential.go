package domain

import (
	"fmt"
	"strings"
	"time"
)

// HealthStatus is the circuit breaker state of a credential.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

func (s HealthStatus) String() string { return string(s) }

func (s HealthStatus) IsValid() bool {
	switch s {
	case HealthHealthy, HealthUnhealthy:
		return true
	}
	return false
}

// Credential is one connected indexing account of a site. Each credential has
// its own daily quota and health.
type Credential struct {
	ID                  string
	SiteID              string
	Name                string
	HealthStatus        HealthStatus
	ConsecutiveFailures int
	CooldownUntil       *time.Time
	LastError           *string
	LastErrorReason     *RetryReason
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (c *Credential) IsHealthy() bool {
	return c != nil && c.HealthStatus == HealthHealthy
}

// NeedsReauth reports whether the last recorded failure requires an operator
// to reconnect the account.
func (c *Credential) NeedsReauth() bool {
	return c != nil && c.LastErrorReason != nil && *c.LastErrorReason == RetryReasonAuthError
}

func (c *Credential) Validate() error {
	if strings.TrimSpace(c.SiteID) == "" {
		return fmt.Errorf("%w: siteId is required", ErrValidation)
	}
	if !c.HealthStatus.IsValid() {
		return fmt.Errorf("%w: invalid health status %q", ErrValidation, c.HealthStatus)
	}
	if c.HealthStatus == HealthUnhealthy && c.CooldownUntil == nil {
		return fmt.Errorf("%w: unhealthy credential requires cooldownUntil", ErrValidation)
	}
	if c.ConsecutiveFailures < 0 {
		return fmt.Errorf("%w: consecutiveFailures must be >= 0", ErrValidation)
	}
	return nil
}
