package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/quota"
	"github.com/kursadbilgin/indexing-engine/internal/service"
	"github.com/kursadbilgin/indexing-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stubServices struct {
	schedules   *stubScheduleService
	runs        *stubRunService
	urls        *stubURLService
	credentials *stubCredentialService
	alerts      *stubAlertService
	requests    *stubRequestService
}

func newStubServices() *stubServices {
	return &stubServices{
		schedules:   &stubScheduleService{},
		runs:        &stubRunService{},
		urls:        &stubURLService{},
		credentials: &stubCredentialService{},
		alerts:      &stubAlertService{},
		requests:    &stubRequestService{},
	}
}

func (s *stubServices) services() Services {
	return Services{
		Schedules:   s.schedules,
		Runs:        s.runs,
		URLs:        s.urls,
		Credentials: s.credentials,
		Alerts:      s.alerts,
		Requests:    s.requests,
	}
}

type stubScheduleService struct {
	upsertFn func(ctx context.Context, cfg domain.ScheduleConfig) (*domain.ScheduleConfig, error)
	getFn    func(ctx context.Context, siteID string) (*domain.ScheduleConfig, error)
}

func (s *stubScheduleService) Upsert(ctx context.Context, cfg domain.ScheduleConfig) (*domain.ScheduleConfig, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cfg)
	}
	return nil, errors.New("not implemented")
}

func (s *stubScheduleService) Get(ctx context.Context, siteID string) (*domain.ScheduleConfig, error) {
	if s.getFn != nil {
		return s.getFn(ctx, siteID)
	}
	return nil, domain.ErrNotFound
}

type stubRunService struct {
	runFn func(ctx context.Context, siteID string, trigger domain.RunTrigger) (*service.RunResult, error)
}

func (s *stubRunService) Run(ctx context.Context, siteID string, trigger domain.RunTrigger) (*service.RunResult, error) {
	if s.runFn != nil {
		return s.runFn(ctx, siteID, trigger)
	}
	return nil, domain.ErrNotFound
}

type stubURLService struct {
	enqueueFn func(ctx context.Context, siteID string, urls []string) (*service.EnqueueResult, error)
}

func (s *stubURLService) Enqueue(ctx context.Context, siteID string, urls []string) (*service.EnqueueResult, error) {
	if s.enqueueFn != nil {
		return s.enqueueFn(ctx, siteID, urls)
	}
	return &service.EnqueueResult{Accepted: len(urls)}, nil
}

type stubCredentialService struct {
	createFn func(ctx context.Context, siteID string, name string) (*domain.Credential, error)
	listFn   func(ctx context.Context, siteID string) ([]service.CredentialView, error)
	quotaFn  func(ctx context.Context, credentialID string) (*quota.Usage, error)
}

func (s *stubCredentialService) Create(ctx context.Context, siteID string, name string) (*domain.Credential, error) {
	if s.createFn != nil {
		return s.createFn(ctx, siteID, name)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCredentialService) ListWithQuota(ctx context.Context, siteID string) ([]service.CredentialView, error) {
	if s.listFn != nil {
		return s.listFn(ctx, siteID)
	}
	return nil, nil
}

func (s *stubCredentialService) Quota(ctx context.Context, credentialID string) (*quota.Usage, error) {
	if s.quotaFn != nil {
		return s.quotaFn(ctx, credentialID)
	}
	return nil, domain.ErrNotFound
}

type stubAlertService struct {
	getFn     func(ctx context.Context, siteID string) (*service.SiteAlerts, error)
	resolveFn func(ctx context.Context, siteID string, alertID string) (*domain.Alert, error)
}

func (s *stubAlertService) Get(ctx context.Context, siteID string) (*service.SiteAlerts, error) {
	if s.getFn != nil {
		return s.getFn(ctx, siteID)
	}
	return &service.SiteAlerts{SiteID: siteID, Status: service.StatusNotEvaluated}, nil
}

func (s *stubAlertService) Resolve(ctx context.Context, siteID string, alertID string) (*domain.Alert, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, siteID, alertID)
	}
	return nil, domain.ErrNotFound
}

type stubRequestService struct {
	getFn func(ctx context.Context, id string) (*service.RequestView, error)
}

func (s *stubRequestService) Get(ctx context.Context, id string) (*service.RequestView, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func newIndexingTestApp(t *testing.T, svc *stubServices) *fiber.App {
	t.Helper()

	app := transport.NewApp(zap.NewNop())
	if err := RegisterIndexingRoutes(app, svc.services()); err != nil {
		t.Fatalf("RegisterIndexingRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}

type stubBroker struct {
	pingErr error
}

func (b stubBroker) Ping(context.Context) error { return b.pingErr }
