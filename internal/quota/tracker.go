// Package quota derives per-credential daily usage from submitted requests.
//
// Usage is never stored. It is the number of indexing requests whose
// submittedAt falls on the current UTC day, so the cap survives restarts.
// Reserve takes the credential lock around the count and the insert, which
// keeps used <= limit under concurrent runs.
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/lock"
	"github.com/kursadbilgin/indexing-engine/internal/schedule"
	"go.uber.org/zap"
)

const DefaultDailyLimit = 200

// UsageCounter counts requests submitted by a credential at or after since.
type UsageCounter interface {
	CountSubmittedSince(ctx context.Context, credentialID string, since time.Time) (int, error)
}

// Usage is the quota projection of one credential for the current UTC day.
type Usage struct {
	CredentialID string
	Used         int
	Limit        int
	Remaining    int
	ResetsAt     time.Time
}

// Percentage is Used as a share of Limit, 0..100.
func (u Usage) Percentage() float64 {
	if u.Limit <= 0 {
		return 100
	}
	pct := float64(u.Used) * 100 / float64(u.Limit)
	if pct > 100 {
		return 100
	}
	return pct
}

type Tracker struct {
	counter UsageCounter
	locker  lock.Locker
	limit   int
	logger  *zap.Logger
	now     func() time.Time
}

func NewTracker(counter UsageCounter, locker lock.Locker, limit int, logger *zap.Logger) *Tracker {
	return newTracker(counter, locker, limit, logger, time.Now)
}

func newTracker(
	counter UsageCounter,
	locker lock.Locker,
	limit int,
	logger *zap.Logger,
	nowFn func() time.Time,
) *Tracker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Tracker{
		counter: counter,
		locker:  locker,
		limit:   limit,
		logger:  logger,
		now:     nowFn,
	}
}

func (t *Tracker) Limit() int {
	return t.limit
}

// Remaining returns the credential's usage for today.
func (t *Tracker) Remaining(ctx context.Context, credentialID string) (Usage, error) {
	if t == nil || t.counter == nil {
		return Usage{}, fmt.Errorf("quota tracker is not initialized")
	}

	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return Usage{}, fmt.Errorf("%w: credentialId is required", domain.ErrValidation)
	}

	now := t.now().UTC()
	used, err := t.counter.CountSubmittedSince(ctx, credentialID, schedule.DayStart(now))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to count usage for credential %s: %w", credentialID, err)
	}

	remaining := t.limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Usage{
		CredentialID: credentialID,
		Used:         used,
		Limit:        t.limit,
		Remaining:    remaining,
		ResetsAt:     schedule.NextDayStart(now),
	}, nil
}

func (t *Tracker) HasQuota(ctx context.Context, credentialID string) (bool, error) {
	usage, err := t.Remaining(ctx, credentialID)
	if err != nil {
		return false, err
	}
	return usage.Used < usage.Limit, nil
}

// Reserve re-reads usage under the credential lock and calls insert with
// min(want, remaining). insert must create the request rows dated today
// before it returns; the lock is released afterwards. It returns the number
// granted, which is 0 when the credential has no quota left.
func (t *Tracker) Reserve(
	ctx context.Context,
	credentialID string,
	want int,
	insert func(ctx context.Context, granted int) error,
) (int, error) {
	if want <= 0 {
		return 0, nil
	}
	if insert == nil {
		return 0, fmt.Errorf("insert callback is required")
	}

	granted := 0
	err := lock.WithLock(ctx, t.locker, lock.CredentialKey(credentialID), func(ctx context.Context) error {
		usage, err := t.Remaining(ctx, credentialID)
		if err != nil {
			return err
		}

		n := want
		if usage.Remaining < n {
			n = usage.Remaining
		}
		if n == 0 {
			return nil
		}

		if err := insert(ctx, n); err != nil {
			return fmt.Errorf("failed to record %d submissions: %w", n, err)
		}
		granted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	if granted < want {
		t.logger.Info("quota reservation trimmed",
			zap.String("credentialId", credentialID),
			zap.Int("requested", want),
			zap.Int("granted", granted),
		)
	}

	return granted, nil
}
