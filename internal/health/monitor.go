// Package health implements the per-credential circuit breaker.
//
// A credential trips to unhealthy on quota exhaustion or once its consecutive
// failure count reaches the configured threshold. It stays unhealthy until a
// sweep observes now > cooldownUntil; Sweep is the only code path that moves a
// credential back to healthy, so recovery latency is cooldownUntil plus up to
// one sweep interval.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/lock"
	"github.com/kursadbilgin/indexing-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	DefaultFailureThreshold = 1
	DefaultCooldown         = time.Hour
)

// Policy configures when a credential trips and for how long.
type Policy struct {
	FailureThreshold int
	Cooldown         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{FailureThreshold: DefaultFailureThreshold, Cooldown: DefaultCooldown}
}

func (p Policy) normalized() Policy {
	if p.FailureThreshold < 1 {
		p.FailureThreshold = DefaultFailureThreshold
	}
	if p.Cooldown <= 0 {
		p.Cooldown = DefaultCooldown
	}
	return p
}

// ApplyFailure folds one failure into c. It reports whether the credential
// tripped from healthy to unhealthy. A credential that is already unhealthy
// keeps its state; a fresh trip-worthy failure can only extend its cooldown.
func ApplyFailure(c domain.Credential, reason domain.RetryReason, message string, now time.Time, policy Policy) (domain.Credential, bool) {
	policy = policy.normalized()
	now = now.UTC()

	c.ConsecutiveFailures++
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = reason.String()
	}
	c.LastError = &msg
	r := reason
	c.LastErrorReason = &r
	c.UpdatedAt = now

	trip := reason == domain.RetryReasonQuotaExceeded || c.ConsecutiveFailures >= policy.FailureThreshold
	if !trip {
		return c, false
	}

	until := now.Add(policy.Cooldown)
	if c.CooldownUntil == nil || until.After(*c.CooldownUntil) {
		c.CooldownUntil = &until
	}

	if c.HealthStatus == domain.HealthUnhealthy {
		return c, false
	}
	c.HealthStatus = domain.HealthUnhealthy
	return c, true
}

// Recover moves an unhealthy credential back to healthy when its cooldown has
// strictly elapsed. The failure counter is reset here and nowhere else.
func Recover(c domain.Credential, now time.Time) (domain.Credential, bool) {
	if c.HealthStatus != domain.HealthUnhealthy {
		return c, false
	}
	if c.CooldownUntil != nil && !now.After(*c.CooldownUntil) {
		return c, false
	}

	c.HealthStatus = domain.HealthHealthy
	c.ConsecutiveFailures = 0
	c.CooldownUntil = nil
	c.LastError = nil
	c.LastErrorReason = nil
	c.UpdatedAt = now.UTC()
	return c, true
}

// Usable reports whether the scheduler and distributor may use c. An
// unhealthy credential stays unusable until swept, even past its cooldown.
func Usable(c domain.Credential) bool {
	return c.HealthStatus == domain.HealthHealthy
}

// CredentialStore is the persistence the monitor needs.
type CredentialStore interface {
	GetCredential(ctx context.Context, id string) (*domain.Credential, error)
	UpdateCredentialHealth(ctx context.Context, credential *domain.Credential) error
	ListCooledDownCredentials(ctx context.Context, now time.Time, limit int) ([]domain.Credential, error)
}

const sweepBatchSize = 100

type Monitor struct {
	store   CredentialStore
	locker  lock.Locker
	policy  Policy
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewMonitor(
	store CredentialStore,
	locker lock.Locker,
	policy Policy,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Monitor {
	return newMonitor(store, locker, policy, logger, metrics, time.Now)
}

func newMonitor(
	store CredentialStore,
	locker lock.Locker,
	policy Policy,
	logger *zap.Logger,
	metrics *observability.Metrics,
	nowFn func() time.Time,
) *Monitor {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Monitor{
		store:   store,
		locker:  locker,
		policy:  policy.normalized(),
		logger:  logger,
		metrics: metrics,
		now:     nowFn,
	}
}

func (m *Monitor) Policy() Policy {
	return m.policy
}

// RecordFailure applies a classified submission failure to the credential
// under its lock and persists the result.
func (m *Monitor) RecordFailure(
	ctx context.Context,
	credentialID string,
	reason domain.RetryReason,
	message string,
) (*domain.Credential, error) {
	if !reason.IsValid() {
		reason = domain.RetryReasonUnspecified
	}

	var updated *domain.Credential
	err := lock.WithLock(ctx, m.locker, lock.CredentialKey(credentialID), func(ctx context.Context) error {
		credential, err := m.store.GetCredential(ctx, credentialID)
		if err != nil {
			return fmt.Errorf("failed to load credential %s: %w", credentialID, err)
		}

		next, tripped := ApplyFailure(*credential, reason, message, m.now(), m.policy)
		if err := m.store.UpdateCredentialHealth(ctx, &next); err != nil {
			return fmt.Errorf("failed to update credential %s: %w", credentialID, err)
		}

		if tripped {
			m.metrics.IncHealthTransition(domain.HealthUnhealthy.String())
			m.logger.Warn("credential marked unhealthy",
				zap.String("credentialId", credentialID),
				zap.String("reason", reason.String()),
				zap.Int("consecutiveFailures", next.ConsecutiveFailures),
				zap.Timep("cooldownUntil", next.CooldownUntil),
			)
		}

		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// RecordQuotaExhausted trips a credential that was observed with no quota
// left for today.
func (m *Monitor) RecordQuotaExhausted(ctx context.Context, credentialID string) (*domain.Credential, error) {
	return m.RecordFailure(ctx, credentialID, domain.RetryReasonQuotaExceeded, "daily quota exhausted")
}

// Sweep recovers every unhealthy credential whose cooldown has elapsed and
// returns how many were recovered. A failure on one credential does not stop
// the sweep.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	if m == nil || m.store == nil {
		return 0, fmt.Errorf("health monitor is not initialized")
	}

	now := m.now().UTC()
	candidates, err := m.store.ListCooledDownCredentials(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list cooled down credentials: %w", err)
	}

	recovered := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}

		ok, err := m.recover(ctx, candidate.ID)
		if err != nil {
			m.logger.Error("failed to recover credential",
				zap.String("credentialId", candidate.ID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			recovered++
		}
	}

	return recovered, nil
}

func (m *Monitor) recover(ctx context.Context, credentialID string) (bool, error) {
	recovered := false
	err := lock.WithLock(ctx, m.locker, lock.CredentialKey(credentialID), func(ctx context.Context) error {
		credential, err := m.store.GetCredential(ctx, credentialID)
		if err != nil {
			return err
		}

		next, ok := Recover(*credential, m.now())
		if !ok {
			return nil
		}
		if err := m.store.UpdateCredentialHealth(ctx, &next); err != nil {
			return err
		}

		recovered = true
		m.metrics.IncHealthTransition(domain.HealthHealthy.String())
		m.logger.Info("credential recovered", zap.String("credentialId", credentialID))
		return nil
	})
	return recovered, err
}
