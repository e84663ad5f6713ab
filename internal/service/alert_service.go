package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/indexing-engine/internal/alert"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/observability"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultAlertEvalInterval = 5 * time.Minute

// SiteStatus is the operator-facing summary of a site's alerts.
type SiteStatus string

const (
	StatusOperational  SiteStatus = "operational"
	StatusDegraded     SiteStatus = "degraded"
	StatusNotEvaluated SiteStatus = "not_evaluated"
)

// SiteAlerts is the projection served for a site.
type SiteAlerts struct {
	SiteID      string
	Status      SiteStatus
	EvaluatedAt *time.Time
	Counts      map[domain.Severity]int
	Alerts      []domain.Alert
}

// AlertService evaluates every site on an interval and keeps the active alert
// set in the store.
type AlertService struct {
	alerts      repository.AlertRepository
	requests    repository.IndexingRequestRepository
	credentials repository.CredentialRepository
	queued      repository.QueuedURLRepository
	aggregator  *alert.Aggregator
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	now         func() time.Time
}

func NewAlertService(
	alerts repository.AlertRepository,
	requests repository.IndexingRequestRepository,
	credentials repository.CredentialRepository,
	queued repository.QueuedURLRepository,
	aggregator *alert.Aggregator,
	interval time.Duration,
	logger *zap.Logger,
) (*AlertService, error) {
	if alerts == nil || requests == nil || credentials == nil || queued == nil {
		return nil, fmt.Errorf("alert service repositories are required")
	}
	if aggregator == nil {
		aggregator = alert.NewAggregator(alert.DefaultThresholds())
	}
	if interval <= 0 {
		interval = defaultAlertEvalInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlertService{
		alerts:      alerts,
		requests:    requests,
		credentials: credentials,
		queued:      queued,
		aggregator:  aggregator,
		logger:      logger,
		interval:    interval,
		now:         time.Now,
	}, nil
}

func (s *AlertService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *AlertService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.EvaluateAll(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial alert evaluation failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.EvaluateAll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("alert evaluation failed", zap.Error(err))
			}
		}
	}
}

// EvaluateAll evaluates every site that has a credential. A failing site is
// logged and does not stop the pass.
func (s *AlertService) EvaluateAll(ctx context.Context) error {
	siteIDs, err := s.credentials.ListSiteIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sites: %w", err)
	}

	for _, siteID := range siteIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.EvaluateSite(ctx, siteID); err != nil {
			s.logger.Error("failed to evaluate site alerts", zap.String("siteId", siteID), zap.Error(err))
		}
	}
	return nil
}

// EvaluateSite recomputes a site's alerts and replaces its active set.
func (s *AlertService) EvaluateSite(ctx context.Context, siteID string) (*alert.Evaluation, error) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, fmt.Errorf("%w: siteId is required", domain.ErrValidation)
	}

	now := s.now().UTC()
	snapshot, err := s.snapshot(ctx, siteID, now)
	if err != nil {
		return nil, err
	}

	evaluation := s.aggregator.Evaluate(snapshot, now)
	records := make([]*domain.Alert, 0, len(evaluation.Alerts))
	for i := range evaluation.Alerts {
		evaluation.Alerts[i].ID = uuid.NewString()
		records = append(records, &evaluation.Alerts[i])
	}

	marker := domain.AlertEvaluation{
		SiteID:      siteID,
		EvaluatedAt: evaluation.EvaluatedAt,
		Operational: evaluation.Operational,
	}
	if err := s.alerts.ReplaceActive(ctx, marker, records); err != nil {
		return nil, fmt.Errorf("failed to store alerts for site %s: %w", siteID, err)
	}

	for _, a := range evaluation.Alerts {
		s.metrics.IncAlertRaised(a.Type.String(), a.Severity.String())
	}
	if !evaluation.Operational {
		s.logger.Info("site alerts raised",
			zap.String("siteId", siteID),
			zap.Int("alerts", len(evaluation.Alerts)),
		)
	}

	return &evaluation, nil
}

func (s *AlertService) snapshot(ctx context.Context, siteID string, now time.Time) (alert.Snapshot, error) {
	stats, err := s.requests.SiteStats(ctx, siteID, now.Add(-s.aggregator.Thresholds().FailureWindow))
	if err != nil {
		return alert.Snapshot{}, fmt.Errorf("failed to read request stats for site %s: %w", siteID, err)
	}

	queued, err := s.queued.Count(ctx, siteID)
	if err != nil {
		return alert.Snapshot{}, fmt.Errorf("failed to count backlog for site %s: %w", siteID, err)
	}

	credentials, err := s.credentials.ListBySite(ctx, siteID)
	if err != nil {
		return alert.Snapshot{}, fmt.Errorf("failed to list credentials for site %s: %w", siteID, err)
	}

	return alert.Snapshot{
		SiteID:          siteID,
		PendingRequests: stats.Pending,
		QueuedURLs:      queued,
		WindowTotal:     stats.WindowTotal,
		WindowFailed:    stats.WindowFailed,
		WindowExhausted: stats.WindowExhausted,
		Credentials:     credentials,
	}, nil
}

// Get returns the stored alert projection for a site. A site that was never
// evaluated reports not_evaluated rather than operational.
func (s *AlertService) Get(ctx context.Context, siteID string) (*SiteAlerts, error) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, fmt.Errorf("%w: siteId is required", domain.ErrValidation)
	}

	active, err := s.alerts.ListActive(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for site %s: %w", siteID, err)
	}

	result := &SiteAlerts{
		SiteID: siteID,
		Status: StatusNotEvaluated,
		Counts: alert.CountBySeverity(active),
		Alerts: active,
	}

	evaluation, err := s.alerts.GetEvaluation(ctx, siteID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read evaluation for site %s: %w", siteID, err)
	}

	evaluatedAt := evaluation.EvaluatedAt
	result.EvaluatedAt = &evaluatedAt
	result.Status = StatusOperational
	if len(active) > 0 {
		result.Status = StatusDegraded
	}
	return result, nil
}

// Resolve closes an active alert. It stays closed until a later evaluation
// raises the condition again.
func (s *AlertService) Resolve(ctx context.Context, siteID string, alertID string) (*domain.Alert, error) {
	siteID = strings.TrimSpace(siteID)
	alertID = strings.TrimSpace(alertID)
	if siteID == "" || alertID == "" {
		return nil, fmt.Errorf("%w: siteId and alertId are required", domain.ErrValidation)
	}

	resolved, err := s.alerts.Resolve(ctx, siteID, alertID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert %s: %w", alertID, err)
	}
	return resolved, nil
}
