package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/health"
	"github.com/kursadbilgin/indexing-engine/internal/observability"
	"github.com/kursadbilgin/indexing-engine/internal/provider"
	"github.com/kursadbilgin/indexing-engine/internal/queue"
	"github.com/kursadbilgin/indexing-engine/internal/ratelimit"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"github.com/kursadbilgin/indexing-engine/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	defaultSubmitTimeout = 30 * time.Second
)

// WorkerService consumes the submit queue and performs the actual API call for
// each pending request.
type WorkerService struct {
	requests      repository.IndexingRequestRepository
	credentials   repository.CredentialRepository
	consumer      queue.Consumer
	indexer       provider.Indexer
	rateLimiter   ratelimit.RateLimiter
	monitor       *health.Monitor
	policy        retry.Policy
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	submitTimeout time.Duration
	now           func() time.Time
}

func NewWorkerService(
	requests repository.IndexingRequestRepository,
	credentials repository.CredentialRepository,
	consumer queue.Consumer,
	indexer provider.Indexer,
	rateLimiter ratelimit.RateLimiter,
	monitor *health.Monitor,
	concurrency int,
	submitTimeout time.Duration,
	logger *zap.Logger,
) (*WorkerService, error) {
	if requests == nil || credentials == nil {
		return nil, fmt.Errorf("worker repositories are required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if indexer == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if monitor == nil {
		return nil, fmt.Errorf("health monitor is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if submitTimeout <= 0 {
		submitTimeout = defaultSubmitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		requests:      requests,
		credentials:   credentials,
		consumer:      consumer,
		indexer:       indexer,
		rateLimiter:   rateLimiter,
		monitor:       monitor,
		policy:        retry.DefaultPolicy(),
		logger:        logger,
		concurrency:   concurrency,
		submitTimeout: submitTimeout,
		now:           time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs the configured number of consumers on the submit queue until ctx
// is cancelled.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID))

			if err := s.consumer.Consume(groupCtx, queue.SubmitQueue, s.processMessage); err != nil {
				s.logger.Error("worker stopped with error", zap.Int("workerId", workerID), zap.Error(err))
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error only when the message should be redelivered.
// Every outcome of the API call itself is recorded on the request and acked.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.IndexingMessage) error {
	ctx = observability.WithRunContext(ctx, msg.SiteID, msg.RunID)
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("requestId", msg.RequestID),
		zap.String("credentialId", msg.CredentialID),
	)

	req, err := s.requests.GetByID(ctx, msg.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("request not found, skipping")
			return nil
		}
		return fmt.Errorf("failed to load request: %w", err)
	}

	// Duplicate deliveries and requests parked for a later retry are dropped.
	if req.IsTerminal() || req.NextRetryAt != nil {
		logger.Debug("request not ready for submission, skipping",
			zap.String("status", req.Status.String()),
			zap.Timep("nextRetryAt", req.NextRetryAt),
		)
		return nil
	}

	credential, err := s.credentials.GetCredential(ctx, req.CredentialID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.fail(ctx, logger, req, "credential not found")
		}
		return fmt.Errorf("failed to load credential: %w", err)
	}

	if !health.Usable(*credential) {
		return s.holdUntilCooldown(ctx, logger, req, credential)
	}

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	if err := s.rateLimiter.Wait(ctx, ratelimit.CredentialKey(credential.ID)); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	start := s.now()
	result, submitErr := s.indexer.Submit(submitCtx, *credential, req.URL)
	cancel()
	s.metrics.ObserveSubmitDuration(s.now().Sub(start))

	if submitErr == nil {
		return s.succeed(ctx, logger, req, result)
	}
	return s.recordFailure(ctx, logger, req, credential, submitErr)
}

func (s *WorkerService) succeed(
	ctx context.Context,
	logger *zap.Logger,
	req *domain.IndexingRequest,
	result *provider.SubmitResult,
) error {
	now := s.now().UTC()
	req.Status = domain.RequestSuccess
	req.CompletedAt = &now
	req.NextRetryAt = nil
	req.UpdatedAt = now

	if err := s.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("failed to mark request as succeeded: %w", err)
	}

	s.metrics.IncSubmission("success")
	fields := []zap.Field{zap.Int("retryCount", req.RetryCount)}
	if result != nil && result.RequestID != "" {
		fields = append(fields, zap.String("providerRequestId", result.RequestID))
	}
	logger.Info("url submitted", fields...)
	return nil
}

func (s *WorkerService) recordFailure(
	ctx context.Context,
	logger *zap.Logger,
	req *domain.IndexingRequest,
	credential *domain.Credential,
	submitErr error,
) error {
	reason := retry.Classify(submitErr)
	message := submitErr.Error()
	s.metrics.IncSubmissionFailed(reason.String())

	if updated, err := s.monitor.RecordFailure(ctx, credential.ID, reason, message); err != nil {
		logger.Error("failed to record credential failure", zap.Error(err))
	} else {
		credential = updated
	}

	next, outcome := s.policy.ScheduleRetry(*req, reason, message, credential, s.now())
	if err := s.requests.Save(ctx, &next); err != nil {
		return fmt.Errorf("failed to record submission failure: %w", err)
	}

	switch outcome {
	case retry.OutcomeExhausted:
		s.metrics.IncRetryExhausted()
		s.metrics.IncSubmission("failed")
		logger.Warn("submission failed, retries exhausted",
			zap.String("reason", reason.String()),
			zap.Int("retryCount", next.RetryCount),
			zap.Error(submitErr),
		)
	default:
		s.metrics.IncRetryScheduled(reason.String())
		s.metrics.IncSubmission("retry")
		logger.Info("submission failed, retry scheduled",
			zap.String("reason", reason.String()),
			zap.Int("retryCount", next.RetryCount),
			zap.Timep("nextRetryAt", next.NextRetryAt),
			zap.Error(submitErr),
		)
	}

	return nil
}

// holdUntilCooldown parks a request whose credential tripped after it was
// queued. No retry is consumed since no call was made.
func (s *WorkerService) holdUntilCooldown(
	ctx context.Context,
	logger *zap.Logger,
	req *domain.IndexingRequest,
	credential *domain.Credential,
) error {
	now := s.now().UTC()
	until := now.Add(s.monitor.Policy().Cooldown)
	if credential.CooldownUntil != nil && credential.CooldownUntil.After(now) {
		until = credential.CooldownUntil.UTC()
	}

	req.NextRetryAt = &until
	req.UpdatedAt = now
	if err := s.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("failed to hold request for cooldown: %w", err)
	}

	logger.Info("credential unhealthy, request held", zap.Time("nextRetryAt", until))
	return nil
}

func (s *WorkerService) fail(ctx context.Context, logger *zap.Logger, req *domain.IndexingRequest, message string) error {
	now := s.now().UTC()
	req.Status = domain.RequestFailed
	req.CompletedAt = &now
	req.NextRetryAt = nil
	req.LastError = &message
	req.UpdatedAt = now

	if err := s.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("failed to mark request as failed: %w", err)
	}

	s.metrics.IncSubmission("failed")
	logger.Warn("request failed without submission", zap.String("error", message))
	return nil
}
