package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/health"
	"github.com/kursadbilgin/indexing-engine/internal/lock"
	"github.com/kursadbilgin/indexing-engine/internal/queue"
	"github.com/kursadbilgin/indexing-engine/internal/quota"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"github.com/kursadbilgin/indexing-engine/internal/schedule"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 30 * time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner periodically re-publishes requests whose nextRetryAt has
// passed, re-checking credential health and today's quota first.
type RetryScanner struct {
	requests    repository.IndexingRequestRepository
	credentials repository.CredentialRepository
	quota       *quota.Tracker
	locker      lock.Locker
	publisher   queue.Publisher
	logger      *zap.Logger
	interval    time.Duration
	limit       int
	now         func() time.Time
}

func NewRetryScanner(
	requests repository.IndexingRequestRepository,
	credentials repository.CredentialRepository,
	tracker *quota.Tracker,
	locker lock.Locker,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if requests == nil || credentials == nil {
		return nil, fmt.Errorf("retry scanner repositories are required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("quota tracker is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		requests:    requests,
		credentials: credentials,
		quota:       tracker,
		locker:      locker,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		limit:       limit,
		now:         time.Now,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	due, err := s.requests.GetDueForRetry(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range due {
		req := due[i]
		if err := s.dispatch(ctx, &req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to dispatch retry",
				zap.String("requestId", req.ID),
				zap.String("credentialId", req.CredentialID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// dispatch runs under the credential lock so that moving a retry into a new
// day's quota cannot race a run reserving the same credential.
func (s *RetryScanner) dispatch(ctx context.Context, req *domain.IndexingRequest) error {
	return lock.WithLock(ctx, s.locker, lock.CredentialKey(req.CredentialID), func(ctx context.Context) error {
		now := s.now().UTC()

		credential, err := s.credentials.GetCredential(ctx, req.CredentialID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return s.abandon(ctx, req, now)
			}
			return fmt.Errorf("failed to load credential: %w", err)
		}

		if !health.Usable(*credential) {
			if credential.CooldownUntil == nil || !credential.CooldownUntil.After(now) {
				// Cooled down but not swept yet; the next scan picks it up.
				return nil
			}
			return s.hold(ctx, req, credential.CooldownUntil.UTC(), now, "credential cooling down")
		}

		if req.SubmittedAt.Before(schedule.DayStart(now)) {
			usage, err := s.quota.Remaining(ctx, credential.ID)
			if err != nil {
				return err
			}
			if usage.Remaining == 0 {
				return s.hold(ctx, req, usage.ResetsAt, now, "credential quota exhausted")
			}
			req.SubmittedAt = now
		}

		previous := req.NextRetryAt
		req.NextRetryAt = nil
		req.UpdatedAt = now
		if err := s.requests.Save(ctx, req); err != nil {
			return fmt.Errorf("failed to clear next retry timestamp: %w", err)
		}

		msg := queue.NewIndexingMessage(*req, domain.TriggerRetry, "")
		if err := s.publisher.Publish(ctx, queue.SubmitQueue, msg); err != nil {
			req.NextRetryAt = previous
			if saveErr := s.requests.Save(ctx, req); saveErr != nil {
				s.logger.Error("failed to restore next retry timestamp",
					zap.String("requestId", req.ID),
					zap.Error(saveErr),
				)
			}
			return fmt.Errorf("failed to enqueue retry: %w", err)
		}

		s.logger.Debug("retry enqueued",
			zap.String("requestId", req.ID),
			zap.Int("retryCount", req.RetryCount),
		)
		return nil
	})
}

func (s *RetryScanner) hold(ctx context.Context, req *domain.IndexingRequest, until time.Time, now time.Time, why string) error {
	req.NextRetryAt = &until
	req.UpdatedAt = now
	if err := s.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("failed to hold retry: %w", err)
	}

	s.logger.Info("retry held",
		zap.String("requestId", req.ID),
		zap.String("credentialId", req.CredentialID),
		zap.String("cause", why),
		zap.Time("nextRetryAt", until),
	)
	return nil
}

func (s *RetryScanner) abandon(ctx context.Context, req *domain.IndexingRequest, now time.Time) error {
	message := "credential not found"
	req.Status = domain.RequestFailed
	req.NextRetryAt = nil
	req.CompletedAt = &now
	req.LastError = &message
	req.UpdatedAt = now

	if err := s.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("failed to abandon retry: %w", err)
	}
	return nil
}
