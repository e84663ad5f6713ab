package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/indexing-engine/internal/distributor"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/health"
	"github.com/kursadbilgin/indexing-engine/internal/observability"
	"github.com/kursadbilgin/indexing-engine/internal/queue"
	"github.com/kursadbilgin/indexing-engine/internal/quota"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"github.com/kursadbilgin/indexing-engine/internal/schedule"
	"go.uber.org/zap"
)

// RunOutcome summarizes what a run did.
type RunOutcome string

const (
	RunCompleted RunOutcome = "completed"
	RunSkipped   RunOutcome = "skipped"
)

const (
	skipNoUsableCredentials = "no_usable_credentials"
	skipQuotaExhausted      = "quota_exhausted"
	skipEmptyBacklog        = "empty_backlog"
)

// RunResult is the report of one evaluated run for a site.
type RunResult struct {
	RunID       string
	SiteID      string
	Trigger     domain.RunTrigger
	Outcome     RunOutcome
	SkipReason  string
	Budget      int
	Submitted   int
	Deferred    int
	Assignments []RunAssignment
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RunAssignment is how many URLs one credential took in a run.
type RunAssignment struct {
	CredentialID string
	Submitted    int
}

// RunService executes one run: it picks usable credentials, spreads the
// site's backlog over their remaining quota and hands the new requests to
// the submit queue.
type RunService struct {
	schedules   repository.ScheduleRepository
	credentials repository.CredentialRepository
	queued      repository.QueuedURLRepository
	requests    repository.IndexingRequestRepository
	quota       *quota.Tracker
	monitor     *health.Monitor
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewRunService(
	schedules repository.ScheduleRepository,
	credentials repository.CredentialRepository,
	queued repository.QueuedURLRepository,
	requests repository.IndexingRequestRepository,
	tracker *quota.Tracker,
	monitor *health.Monitor,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*RunService, error) {
	if schedules == nil || credentials == nil || queued == nil || requests == nil {
		return nil, fmt.Errorf("run service repositories are required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("quota tracker is required")
	}
	if monitor == nil {
		return nil, fmt.Errorf("health monitor is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RunService{
		schedules:   schedules,
		credentials: credentials,
		queued:      queued,
		requests:    requests,
		quota:       tracker,
		monitor:     monitor,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *RunService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Run performs one run for siteID. Scheduled runs have already advanced
// nextRunAt through the scheduler's claim; manual runs only record lastRunAt.
// Per-credential failures are logged and leave their URLs queued.
func (s *RunService) Run(ctx context.Context, siteID string, trigger domain.RunTrigger) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, fmt.Errorf("%w: siteId is required", domain.ErrValidation)
	}
	if !trigger.IsValid() || trigger == domain.TriggerRetry {
		return nil, fmt.Errorf("%w: invalid run trigger %q", domain.ErrValidation, trigger)
	}

	result := &RunResult{
		RunID:     uuid.NewString(),
		SiteID:    siteID,
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
	ctx = observability.WithRunContext(ctx, siteID, result.RunID)
	logger := observability.WithContextLogger(s.logger, ctx)

	cfg, err := s.schedules.Get(ctx, siteID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load schedule for site %s: %w", siteID, err)
	}
	if cfg == nil && trigger == domain.TriggerSchedule {
		return nil, fmt.Errorf("%w: site %s has no schedule", domain.ErrNotFound, siteID)
	}

	if err := s.execute(ctx, logger, cfg, result); err != nil {
		return nil, err
	}

	result.FinishedAt = s.now().UTC()
	if trigger == domain.TriggerManual && cfg != nil {
		if err := s.schedules.MarkRun(ctx, siteID, result.FinishedAt); err != nil {
			logger.Error("failed to record manual run", zap.Error(err))
		}
	}

	s.metrics.IncRun(trigger.String(), string(result.Outcome))
	if result.Outcome == RunCompleted {
		s.metrics.AddURLsDeferred(result.Deferred)
	}

	logger.Info("run finished",
		zap.String("trigger", trigger.String()),
		zap.String("outcome", string(result.Outcome)),
		zap.String("skipReason", result.SkipReason),
		zap.Int("budget", result.Budget),
		zap.Int("submitted", result.Submitted),
		zap.Int("deferred", result.Deferred),
	)

	return result, nil
}

func (s *RunService) execute(ctx context.Context, logger *zap.Logger, cfg *domain.ScheduleConfig, result *RunResult) error {
	backlog, err := s.queued.Count(ctx, result.SiteID)
	if err != nil {
		return fmt.Errorf("failed to count backlog for site %s: %w", result.SiteID, err)
	}

	candidates, hasCredentials, err := s.candidates(ctx, logger, result.SiteID)
	if err != nil {
		return err
	}

	remaining := 0
	for _, c := range candidates {
		remaining += c.Remaining
	}

	if backlog == 0 {
		result.skip(skipEmptyBacklog)
		return nil
	}
	if remaining == 0 {
		result.Deferred = backlog
		switch {
		case cfg != nil && cfg.PauseOnQuotaExceeded:
			result.skip(skipQuotaExhausted)
		case !hasCredentials:
			result.skip(skipNoUsableCredentials)
		default:
			result.Outcome = RunCompleted
		}
		return nil
	}

	budget := remaining
	if cfg != nil {
		budget = schedule.RunBudget(*cfg, result.StartedAt, remaining)
	}
	result.Budget = budget
	if budget <= 0 {
		result.Deferred = backlog
		result.Outcome = RunCompleted
		return nil
	}

	urls, err := s.queued.Peek(ctx, result.SiteID, budget)
	if err != nil {
		return fmt.Errorf("failed to read backlog for site %s: %w", result.SiteID, err)
	}

	plan := distributor.Distribute(urlsOf(urls), candidates, budget)
	byURL := make(map[string]domain.QueuedURL, len(urls))
	for _, u := range urls {
		byURL[u.URL] = u
	}

	for _, assignment := range plan.Assignments {
		queuedURLs := make([]domain.QueuedURL, 0, len(assignment.URLs))
		for _, u := range assignment.URLs {
			queuedURLs = append(queuedURLs, byURL[u])
		}

		submitted, err := s.submit(ctx, result, assignment.CredentialID, queuedURLs)
		switch {
		case errors.Is(err, domain.ErrConflict):
			logger.Info("backlog claimed by a concurrent run",
				zap.String("credentialId", assignment.CredentialID),
				zap.Int("urls", len(queuedURLs)),
			)
		case err != nil:
			logger.Error("failed to submit credential batch",
				zap.String("credentialId", assignment.CredentialID),
				zap.Int("urls", len(queuedURLs)),
				zap.Error(err),
			)
		}
		if submitted > 0 {
			result.Assignments = append(result.Assignments, RunAssignment{
				CredentialID: assignment.CredentialID,
				Submitted:    submitted,
			})
			result.Submitted += submitted
		}
	}

	result.Deferred = backlog - result.Submitted
	result.Outcome = RunCompleted
	return nil
}

// candidates returns the site's usable credentials with quota left, and
// whether the site has any usable credential at all. A healthy credential
// observed with nothing left is tripped so it sits out until the sweep after
// its cooldown.
func (s *RunService) candidates(
	ctx context.Context,
	logger *zap.Logger,
	siteID string,
) ([]distributor.Candidate, bool, error) {
	credentials, err := s.credentials.ListBySite(ctx, siteID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list credentials for site %s: %w", siteID, err)
	}

	usable := false
	candidates := make([]distributor.Candidate, 0, len(credentials))
	for _, c := range credentials {
		if !health.Usable(c) {
			continue
		}
		usable = true

		usage, err := s.quota.Remaining(ctx, c.ID)
		if err != nil {
			logger.Error("failed to read quota", zap.String("credentialId", c.ID), zap.Error(err))
			continue
		}
		if usage.Remaining == 0 {
			if _, err := s.monitor.RecordQuotaExhausted(ctx, c.ID); err != nil {
				logger.Error("failed to mark exhausted credential", zap.String("credentialId", c.ID), zap.Error(err))
			}
			continue
		}

		candidates = append(candidates, distributor.Candidate{Credential: c, Remaining: usage.Remaining})
	}

	return candidates, usable, nil
}

// submit reserves quota for urls on one credential, persists the requests
// and publishes them. It returns how many requests were created.
func (s *RunService) submit(
	ctx context.Context,
	result *RunResult,
	credentialID string,
	urls []domain.QueuedURL,
) (int, error) {
	var created []*domain.IndexingRequest

	granted, err := s.quota.Reserve(ctx, credentialID, len(urls), func(ctx context.Context, granted int) error {
		now := s.now().UTC()
		batch := make([]*domain.IndexingRequest, 0, granted)
		queuedIDs := make([]string, 0, granted)
		for _, u := range urls[:granted] {
			batch = append(batch, &domain.IndexingRequest{
				ID:           uuid.NewString(),
				CredentialID: credentialID,
				SiteID:       result.SiteID,
				URL:          u.URL,
				Status:       domain.RequestPending,
				SubmittedAt:  now,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			queuedIDs = append(queuedIDs, u.ID)
		}

		if err := s.requests.RecordSubmissions(ctx, batch, queuedIDs); err != nil {
			return err
		}
		created = batch
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, req := range created {
		msg := queue.NewIndexingMessage(*req, result.Trigger, result.RunID)
		if err := s.publisher.Publish(ctx, queue.SubmitQueue, msg); err != nil {
			s.handOffToRetryScanner(ctx, req, err)
		}
	}

	return granted, nil
}

// handOffToRetryScanner marks an unpublished request as due now so the retry
// scanner publishes it on its next pass. retryCount is not touched.
func (s *RunService) handOffToRetryScanner(ctx context.Context, req *domain.IndexingRequest, publishErr error) {
	logger := observability.WithContextLogger(s.logger, ctx)
	logger.Warn("failed to publish submission, handing off to retry scanner",
		zap.String("requestId", req.ID),
		zap.Error(publishErr),
	)

	due := s.now().UTC()
	req.NextRetryAt = &due
	if err := s.requests.Save(ctx, req); err != nil {
		logger.Error("failed to mark unpublished submission for retry",
			zap.String("requestId", req.ID),
			zap.Error(err),
		)
	}
}

func (r *RunResult) skip(reason string) {
	r.Outcome = RunSkipped
	r.SkipReason = reason
}

func urlsOf(queued []domain.QueuedURL) []string {
	urls := make([]string, 0, len(queued))
	for _, q := range queued {
		urls = append(urls, q.URL)
	}
	return urls
}
