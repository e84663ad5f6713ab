package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeCredentialStore struct {
	mu          sync.Mutex
	credentials map[string]domain.Credential
	updateErr   error
	updates     int
}

func newFakeCredentialStore(credentials ...domain.Credential) *fakeCredentialStore {
	store := &fakeCredentialStore{credentials: make(map[string]domain.Credential)}
	for _, c := range credentials {
		store.credentials[c.ID] = c
	}
	return store
}

func (f *fakeCredentialStore) GetCredential(_ context.Context, id string) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.credentials[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (f *fakeCredentialStore) UpdateCredentialHealth(_ context.Context, c *domain.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return f.updateErr
	}
	f.credentials[c.ID] = *c
	f.updates++
	return nil
}

func (f *fakeCredentialStore) ListCooledDownCredentials(_ context.Context, now time.Time, limit int) ([]domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Credential
	for _, c := range f.credentials {
		if c.HealthStatus == domain.HealthUnhealthy && c.CooldownUntil != nil && c.CooldownUntil.Before(now) {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCredentialStore) get(id string) domain.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credentials[id]
}

func healthyCredential(id string) domain.Credential {
	return domain.Credential{ID: id, SiteID: "site-1", HealthStatus: domain.HealthHealthy}
}

func TestApplyFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		policy       Policy
		start        domain.Credential
		reason       domain.RetryReason
		wantTripped  bool
		wantStatus   domain.HealthStatus
		wantFailures int
	}{
		{
			name:         "quota exhaustion trips immediately",
			policy:       Policy{FailureThreshold: 5, Cooldown: time.Hour},
			start:        healthyCredential("c1"),
			reason:       domain.RetryReasonQuotaExceeded,
			wantTripped:  true,
			wantStatus:   domain.HealthUnhealthy,
			wantFailures: 1,
		},
		{
			name:         "default threshold trips on first failure",
			policy:       DefaultPolicy(),
			start:        healthyCredential("c1"),
			reason:       domain.RetryReasonTemporaryError,
			wantTripped:  true,
			wantStatus:   domain.HealthUnhealthy,
			wantFailures: 1,
		},
		{
			name:         "below threshold stays healthy",
			policy:       Policy{FailureThreshold: 3, Cooldown: time.Hour},
			start:        domain.Credential{ID: "c1", HealthStatus: domain.HealthHealthy, ConsecutiveFailures: 1},
			reason:       domain.RetryReasonNetworkError,
			wantTripped:  false,
			wantStatus:   domain.HealthHealthy,
			wantFailures: 2,
		},
		{
			name:         "reaching threshold trips",
			policy:       Policy{FailureThreshold: 3, Cooldown: time.Hour},
			start:        domain.Credential{ID: "c1", HealthStatus: domain.HealthHealthy, ConsecutiveFailures: 2},
			reason:       domain.RetryReasonAuthError,
			wantTripped:  true,
			wantStatus:   domain.HealthUnhealthy,
			wantFailures: 3,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, tripped := ApplyFailure(tt.start, tt.reason, "boom", now, tt.policy)
			if tripped != tt.wantTripped {
				t.Fatalf("tripped = %v, want %v", tripped, tt.wantTripped)
			}
			if got.HealthStatus != tt.wantStatus {
				t.Fatalf("HealthStatus = %s, want %s", got.HealthStatus, tt.wantStatus)
			}
			if got.ConsecutiveFailures != tt.wantFailures {
				t.Fatalf("ConsecutiveFailures = %d, want %d", got.ConsecutiveFailures, tt.wantFailures)
			}
			if got.LastError == nil || *got.LastError != "boom" {
				t.Fatalf("LastError = %v, want boom", got.LastError)
			}
			if tt.wantStatus == domain.HealthUnhealthy {
				if got.CooldownUntil == nil || !got.CooldownUntil.Equal(now.Add(tt.policy.Cooldown)) {
					t.Fatalf("CooldownUntil = %v, want %s", got.CooldownUntil, now.Add(tt.policy.Cooldown))
				}
			}
		})
	}
}

func TestApplyFailureOnUnhealthyOnlyExtendsCooldown(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(3 * time.Hour)
	start := domain.Credential{
		ID:                  "c1",
		HealthStatus:        domain.HealthUnhealthy,
		ConsecutiveFailures: 1,
		CooldownUntil:       &later,
	}

	got, tripped := ApplyFailure(start, domain.RetryReasonRateLimit, "", now, DefaultPolicy())
	if tripped {
		t.Fatal("already unhealthy credential should not report a new trip")
	}
	if !got.CooldownUntil.Equal(later) {
		t.Fatalf("CooldownUntil = %s, want unchanged %s", got.CooldownUntil, later)
	}
	if got.LastError == nil || *got.LastError != "rate_limit" {
		t.Fatalf("LastError = %v, want reason fallback", got.LastError)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	cooldown := time.Date(2025, time.January, 1, 13, 0, 0, 0, time.UTC)
	msg := "boom"
	reason := domain.RetryReasonAuthError
	unhealthy := domain.Credential{
		ID:                  "c1",
		HealthStatus:        domain.HealthUnhealthy,
		ConsecutiveFailures: 4,
		CooldownUntil:       &cooldown,
		LastError:           &msg,
		LastErrorReason:     &reason,
	}

	if _, ok := Recover(unhealthy, cooldown.Add(-time.Minute)); ok {
		t.Fatal("recovered before cooldown")
	}
	if _, ok := Recover(unhealthy, cooldown); ok {
		t.Fatal("recovered at exactly cooldownUntil, want strictly after")
	}

	got, ok := Recover(unhealthy, cooldown.Add(time.Second))
	if !ok {
		t.Fatal("expected recovery after cooldown")
	}
	if got.HealthStatus != domain.HealthHealthy || got.ConsecutiveFailures != 0 {
		t.Fatalf("got status %s failures %d, want healthy and 0", got.HealthStatus, got.ConsecutiveFailures)
	}
	if got.CooldownUntil != nil || got.LastError != nil || got.LastErrorReason != nil {
		t.Fatal("recovery should clear cooldown and last error")
	}

	if _, ok := Recover(healthyCredential("c2"), cooldown); ok {
		t.Fatal("healthy credential should not transition")
	}
}

func TestMonitorRecordFailureLogsTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeCredentialStore(healthyCredential("c1"))
	core, recorded := observer.New(zapcore.InfoLevel)

	monitor := newMonitor(store, nil, DefaultPolicy(), zap.New(core), nil, func() time.Time { return now })

	updated, err := monitor.RecordFailure(context.Background(), "c1", domain.RetryReasonTemporaryError, "503")
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if updated.HealthStatus != domain.HealthUnhealthy {
		t.Fatalf("HealthStatus = %s, want unhealthy", updated.HealthStatus)
	}
	if stored := store.get("c1"); stored.HealthStatus != domain.HealthUnhealthy {
		t.Fatalf("stored HealthStatus = %s, want unhealthy", stored.HealthStatus)
	}
	if recorded.FilterMessage("credential marked unhealthy").Len() != 1 {
		t.Fatal("expected trip to be logged once")
	}
}

func TestMonitorRecordFailureUnknownCredential(t *testing.T) {
	t.Parallel()

	monitor := NewMonitor(newFakeCredentialStore(), nil, DefaultPolicy(), nil, nil)

	_, err := monitor.RecordFailure(context.Background(), "missing", domain.RetryReasonRateLimit, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RecordFailure() error = %v, want %v", err, domain.ErrNotFound)
	}
}

func TestMonitorRecordQuotaExhausted(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeCredentialStore(healthyCredential("c1"))
	monitor := newMonitor(store, nil, Policy{FailureThreshold: 10, Cooldown: 30 * time.Minute}, nil, nil, func() time.Time { return now })

	updated, err := monitor.RecordQuotaExhausted(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RecordQuotaExhausted() error = %v", err)
	}
	if updated.HealthStatus != domain.HealthUnhealthy {
		t.Fatalf("HealthStatus = %s, want unhealthy", updated.HealthStatus)
	}
	if updated.LastErrorReason == nil || *updated.LastErrorReason != domain.RetryReasonQuotaExceeded {
		t.Fatalf("LastErrorReason = %v, want quota_exceeded", updated.LastErrorReason)
	}
	if !updated.CooldownUntil.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("CooldownUntil = %s, want %s", updated.CooldownUntil, now.Add(30*time.Minute))
	}
}

func TestMonitorSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	store := newFakeCredentialStore(
		domain.Credential{ID: "cooled", HealthStatus: domain.HealthUnhealthy, ConsecutiveFailures: 2, CooldownUntil: &past},
		domain.Credential{ID: "cooling", HealthStatus: domain.HealthUnhealthy, ConsecutiveFailures: 1, CooldownUntil: &future},
		healthyCredential("fine"),
	)

	monitor := newMonitor(store, nil, DefaultPolicy(), nil, nil, func() time.Time { return now })

	recovered, err := monitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}
	if got := store.get("cooled"); got.HealthStatus != domain.HealthHealthy || got.ConsecutiveFailures != 0 {
		t.Fatalf("cooled = %+v, want healthy with reset counter", got)
	}
	if got := store.get("cooling"); got.HealthStatus != domain.HealthUnhealthy {
		t.Fatalf("cooling status = %s, want unhealthy", got.HealthStatus)
	}

	recovered, err = monitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if recovered != 0 {
		t.Fatalf("second sweep recovered = %d, want 0", recovered)
	}
}

func TestMonitorSweepContinuesAfterUpdateError(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	store := newFakeCredentialStore(
		domain.Credential{ID: "a", HealthStatus: domain.HealthUnhealthy, CooldownUntil: &past},
		domain.Credential{ID: "b", HealthStatus: domain.HealthUnhealthy, CooldownUntil: &past},
	)
	store.updateErr = errors.New("db down")

	monitor := newMonitor(store, nil, DefaultPolicy(), nil, nil, func() time.Time { return now })

	recovered, err := monitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if recovered != 0 {
		t.Fatalf("recovered = %d, want 0", recovered)
	}
}

func TestUsable(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Hour)
	if !Usable(healthyCredential("c1")) {
		t.Fatal("healthy credential should be usable")
	}
	if Usable(domain.Credential{HealthStatus: domain.HealthUnhealthy, CooldownUntil: &past}) {
		t.Fatal("unhealthy credential should stay unusable until swept")
	}
}
