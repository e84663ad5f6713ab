package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/provider"
	"github.com/kursadbilgin/indexing-engine/internal/queue"
	"github.com/kursadbilgin/indexing-engine/internal/ratelimit"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
)

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func nowAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type fakeCredentialRepo struct {
	createFn         func(ctx context.Context, c *domain.Credential) error
	getFn            func(ctx context.Context, id string) (*domain.Credential, error)
	listBySiteFn     func(ctx context.Context, siteID string) ([]domain.Credential, error)
	listSiteIDsFn    func(ctx context.Context) ([]string, error)
	updateHealthFn   func(ctx context.Context, c *domain.Credential) error
	listCooledDownFn func(ctx context.Context, now time.Time, limit int) ([]domain.Credential, error)
}

func (f *fakeCredentialRepo) Create(ctx context.Context, c *domain.Credential) error {
	if f.createFn != nil {
		return f.createFn(ctx, c)
	}
	return nil
}

func (f *fakeCredentialRepo) GetCredential(ctx context.Context, id string) (*domain.Credential, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCredentialRepo) ListBySite(ctx context.Context, siteID string) ([]domain.Credential, error) {
	if f.listBySiteFn != nil {
		return f.listBySiteFn(ctx, siteID)
	}
	return nil, nil
}

func (f *fakeCredentialRepo) ListSiteIDs(ctx context.Context) ([]string, error) {
	if f.listSiteIDsFn != nil {
		return f.listSiteIDsFn(ctx)
	}
	return nil, nil
}

func (f *fakeCredentialRepo) UpdateCredentialHealth(ctx context.Context, c *domain.Credential) error {
	if f.updateHealthFn != nil {
		return f.updateHealthFn(ctx, c)
	}
	return nil
}

func (f *fakeCredentialRepo) ListCooledDownCredentials(ctx context.Context, now time.Time, limit int) ([]domain.Credential, error) {
	if f.listCooledDownFn != nil {
		return f.listCooledDownFn(ctx, now, limit)
	}
	return nil, nil
}

type fakeRequestRepo struct {
	recordSubmissionsFn func(ctx context.Context, requests []*domain.IndexingRequest, queuedIDs []string) error
	getByIDFn           func(ctx context.Context, id string) (*domain.IndexingRequest, error)
	countSinceFn        func(ctx context.Context, credentialID string, since time.Time) (int, error)
	saveFn              func(ctx context.Context, r *domain.IndexingRequest) error
	getDueForRetryFn    func(ctx context.Context, now time.Time, limit int) ([]domain.IndexingRequest, error)
	siteStatsFn         func(ctx context.Context, siteID string, since time.Time) (repository.SiteRequestStats, error)
}

func (f *fakeRequestRepo) RecordSubmissions(ctx context.Context, requests []*domain.IndexingRequest, queuedIDs []string) error {
	if f.recordSubmissionsFn != nil {
		return f.recordSubmissionsFn(ctx, requests, queuedIDs)
	}
	return nil
}

func (f *fakeRequestRepo) GetByID(ctx context.Context, id string) (*domain.IndexingRequest, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRequestRepo) CountSubmittedSince(ctx context.Context, credentialID string, since time.Time) (int, error) {
	if f.countSinceFn != nil {
		return f.countSinceFn(ctx, credentialID, since)
	}
	return 0, nil
}

func (f *fakeRequestRepo) Save(ctx context.Context, r *domain.IndexingRequest) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, r)
	}
	return nil
}

func (f *fakeRequestRepo) GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.IndexingRequest, error) {
	if f.getDueForRetryFn != nil {
		return f.getDueForRetryFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeRequestRepo) SiteStats(ctx context.Context, siteID string, since time.Time) (repository.SiteRequestStats, error) {
	if f.siteStatsFn != nil {
		return f.siteStatsFn(ctx, siteID, since)
	}
	return repository.SiteRequestStats{}, nil
}

type fakeScheduleRepo struct {
	upsertFn      func(ctx context.Context, c *domain.ScheduleConfig) error
	getFn         func(ctx context.Context, siteID string) (*domain.ScheduleConfig, error)
	listEnabledFn func(ctx context.Context) ([]domain.ScheduleConfig, error)
	claimRunFn    func(ctx context.Context, siteID string, expected time.Time, next time.Time, lastRunAt time.Time) (bool, error)
	markRunFn     func(ctx context.Context, siteID string, lastRunAt time.Time) error
}

func (f *fakeScheduleRepo) Upsert(ctx context.Context, c *domain.ScheduleConfig) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, c)
	}
	return nil
}

func (f *fakeScheduleRepo) Get(ctx context.Context, siteID string) (*domain.ScheduleConfig, error) {
	if f.getFn != nil {
		return f.getFn(ctx, siteID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeScheduleRepo) ListEnabled(ctx context.Context) ([]domain.ScheduleConfig, error) {
	if f.listEnabledFn != nil {
		return f.listEnabledFn(ctx)
	}
	return nil, nil
}

func (f *fakeScheduleRepo) ClaimRun(ctx context.Context, siteID string, expected time.Time, next time.Time, lastRunAt time.Time) (bool, error) {
	if f.claimRunFn != nil {
		return f.claimRunFn(ctx, siteID, expected, next, lastRunAt)
	}
	return true, nil
}

func (f *fakeScheduleRepo) MarkRun(ctx context.Context, siteID string, lastRunAt time.Time) error {
	if f.markRunFn != nil {
		return f.markRunFn(ctx, siteID, lastRunAt)
	}
	return nil
}

type fakeQueuedURLRepo struct {
	enqueueFn func(ctx context.Context, siteID string, urls []string) (int, error)
	peekFn    func(ctx context.Context, siteID string, limit int) ([]domain.QueuedURL, error)
	countFn   func(ctx context.Context, siteID string) (int, error)
}

func (f *fakeQueuedURLRepo) Enqueue(ctx context.Context, siteID string, urls []string) (int, error) {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, siteID, urls)
	}
	return len(urls), nil
}

func (f *fakeQueuedURLRepo) Peek(ctx context.Context, siteID string, limit int) ([]domain.QueuedURL, error) {
	if f.peekFn != nil {
		return f.peekFn(ctx, siteID, limit)
	}
	return nil, nil
}

func (f *fakeQueuedURLRepo) Count(ctx context.Context, siteID string) (int, error) {
	if f.countFn != nil {
		return f.countFn(ctx, siteID)
	}
	return 0, nil
}

type fakeAlertRepo struct {
	replaceActiveFn func(ctx context.Context, evaluation domain.AlertEvaluation, alerts []*domain.Alert) error
	listActiveFn    func(ctx context.Context, siteID string) ([]domain.Alert, error)
	resolveFn       func(ctx context.Context, siteID string, alertID string, at time.Time) (*domain.Alert, error)
	getEvaluationFn func(ctx context.Context, siteID string) (*domain.AlertEvaluation, error)
}

func (f *fakeAlertRepo) ReplaceActive(ctx context.Context, evaluation domain.AlertEvaluation, alerts []*domain.Alert) error {
	if f.replaceActiveFn != nil {
		return f.replaceActiveFn(ctx, evaluation, alerts)
	}
	return nil
}

func (f *fakeAlertRepo) ListActive(ctx context.Context, siteID string) ([]domain.Alert, error) {
	if f.listActiveFn != nil {
		return f.listActiveFn(ctx, siteID)
	}
	return nil, nil
}

func (f *fakeAlertRepo) Resolve(ctx context.Context, siteID string, alertID string, at time.Time) (*domain.Alert, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, siteID, alertID, at)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAlertRepo) GetEvaluation(ctx context.Context, siteID string) (*domain.AlertEvaluation, error) {
	if f.getEvaluationFn != nil {
		return f.getEvaluationFn(ctx, siteID)
	}
	return nil, domain.ErrNotFound
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.IndexingMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.IndexingMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeIndexer struct {
	submitFn func(ctx context.Context, credential domain.Credential, url string) (*provider.SubmitResult, error)
}

func (f *fakeIndexer) Submit(ctx context.Context, credential domain.Credential, url string) (*provider.SubmitResult, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, credential, url)
	}
	return &provider.SubmitResult{StatusCode: 200}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var (
	_ repository.CredentialRepository      = (*fakeCredentialRepo)(nil)
	_ repository.IndexingRequestRepository = (*fakeRequestRepo)(nil)
	_ repository.ScheduleRepository        = (*fakeScheduleRepo)(nil)
	_ repository.QueuedURLRepository       = (*fakeQueuedURLRepo)(nil)
	_ repository.AlertRepository           = (*fakeAlertRepo)(nil)
	_ queue.Publisher                      = (*fakePublisher)(nil)
	_ queue.Consumer                       = (*fakeConsumer)(nil)
	_ provider.Indexer                     = (*fakeIndexer)(nil)
	_ ratelimit.RateLimiter                = (*fakeRateLimiter)(nil)
)
