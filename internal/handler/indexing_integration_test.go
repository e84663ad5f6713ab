package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/quota"
	"github.com/kursadbilgin/indexing-engine/internal/retry"
	"github.com/kursadbilgin/indexing-engine/internal/service"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func TestIndexingIntegration_UpsertSchedule(t *testing.T) {
	t.Parallel()

	var got domain.ScheduleConfig
	svc := newStubServices()
	svc.schedules.upsertFn = func(ctx context.Context, cfg domain.ScheduleConfig) (*domain.ScheduleConfig, error) {
		got = cfg
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		cfg.NextRunAt = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
		cfg.CreatedAt = testNow
		cfg.UpdatedAt = testNow
		return &cfg, nil
	}
	app := newIndexingTestApp(t, svc)

	body := `{"frequency":"weekly","specificDays":[3,1,3],"specificTime":"09:00","maxUrlsPerRun":50}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/sites/site-1/schedule", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	if got.SiteID != "site-1" || !got.Enabled {
		t.Fatalf("service got siteId=%q enabled=%v, want site-1 and enabled by default", got.SiteID, got.Enabled)
	}

	var decoded struct {
		Config struct {
			SiteID       string `json:"siteId"`
			Frequency    string `json:"frequency"`
			SpecificDays []int  `json:"specificDays"`
		} `json:"config"`
		NextRunAt time.Time `json:"nextRunAt"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if decoded.Config.Frequency != "weekly" {
		t.Fatalf("frequency = %q, want weekly", decoded.Config.Frequency)
	}
	if len(decoded.Config.SpecificDays) != 2 || decoded.Config.SpecificDays[0] != 1 {
		t.Fatalf("specificDays = %v, want [1 3]", decoded.Config.SpecificDays)
	}
	if want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC); !decoded.NextRunAt.Equal(want) {
		t.Fatalf("nextRunAt = %v, want %v", decoded.NextRunAt, want)
	}
}

func TestIndexingIntegration_UpsertScheduleRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc := newStubServices()
	svc.schedules.upsertFn = func(ctx context.Context, cfg domain.ScheduleConfig) (*domain.ScheduleConfig, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	app := newIndexingTestApp(t, svc)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"frequency":`},
		{name: "unknown frequency", body: `{"frequency":"monthly","maxUrlsPerRun":10}`},
		{name: "missing max urls", body: `{"frequency":"hourly"}`},
		{name: "day out of range", body: `{"frequency":"weekly","specificDays":[7],"maxUrlsPerRun":10}`},
		{name: "custom without interval", body: `{"frequency":"custom","maxUrlsPerRun":10}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, raw := performRequest(t, app, http.MethodPost, "/v1/sites/site-1/schedule", tt.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(raw))
			}
		})
	}
}

func TestIndexingIntegration_GetScheduleNotFound(t *testing.T) {
	t.Parallel()

	app := newIndexingTestApp(t, newStubServices())

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/sites/missing/schedule", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIndexingIntegration_TriggerRunUsesManualTrigger(t *testing.T) {
	t.Parallel()

	svc := newStubServices()
	svc.runs.runFn = func(ctx context.Context, siteID string, trigger domain.RunTrigger) (*service.RunResult, error) {
		if trigger != domain.TriggerManual {
			t.Errorf("trigger = %s, want manual", trigger)
		}
		return &service.RunResult{
			RunID:     "run-1",
			SiteID:    siteID,
			Trigger:   trigger,
			Outcome:   service.RunCompleted,
			Budget:    3,
			Submitted: 3,
			Deferred:  2,
			Assignments: []service.RunAssignment{
				{CredentialID: "cred-a", Submitted: 2},
				{CredentialID: "cred-b", Submitted: 1},
			},
			StartedAt:  testNow,
			FinishedAt: testNow,
		}, nil
	}
	app := newIndexingTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodPost, "/v1/sites/site-1/run", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if decoded["outcome"] != "completed" {
		t.Fatalf("outcome = %v, want completed", decoded["outcome"])
	}
	if decoded["deferred"] != float64(2) {
		t.Fatalf("deferred = %v, want 2", decoded["deferred"])
	}
	if assignments, _ := decoded["assignments"].([]any); len(assignments) != 2 {
		t.Fatalf("assignments = %v, want 2 entries", decoded["assignments"])
	}
}

func TestIndexingIntegration_EnqueueURLs(t *testing.T) {
	t.Parallel()

	svc := newStubServices()
	svc.urls.enqueueFn = func(ctx context.Context, siteID string, urls []string) (*service.EnqueueResult, error) {
		return &service.EnqueueResult{Accepted: len(urls) - 1, Duplicates: 1}, nil
	}
	app := newIndexingTestApp(t, svc)

	body := `{"urls":["https://example.com/a","https://example.com/b","https://example.com/a"]}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/sites/site-1/urls", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(raw))
	}

	var decoded enqueueURLsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if decoded.Accepted != 2 || decoded.Duplicates != 1 {
		t.Fatalf("result = %+v, want accepted=2 duplicates=1", decoded)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/sites/site-1/urls", `{"urls":[]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty urls", resp.StatusCode)
	}
}

func TestIndexingIntegration_Credentials(t *testing.T) {
	t.Parallel()

	svc := newStubServices()
	svc.credentials.createFn = func(ctx context.Context, siteID string, name string) (*domain.Credential, error) {
		return &domain.Credential{
			ID:           "cred-1",
			SiteID:       siteID,
			Name:         name,
			HealthStatus: domain.HealthHealthy,
			CreatedAt:    testNow,
			UpdatedAt:    testNow,
		}, nil
	}
	svc.credentials.listFn = func(ctx context.Context, siteID string) ([]service.CredentialView, error) {
		until := testNow.Add(time.Hour)
		return []service.CredentialView{
			{
				Credential: domain.Credential{ID: "cred-1", SiteID: siteID, HealthStatus: domain.HealthHealthy},
				Usage:      quota.Usage{CredentialID: "cred-1", Used: 50, Limit: 200, Remaining: 150},
			},
			{
				Credential: domain.Credential{ID: "cred-2", SiteID: siteID, HealthStatus: domain.HealthUnhealthy, CooldownUntil: &until},
				Usage:      quota.Usage{CredentialID: "cred-2", Used: 200, Limit: 200},
			},
		}, nil
	}
	app := newIndexingTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodPost, "/v1/sites/site-1/credentials", `{"name":"primary"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(raw))
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/sites/site-1/credentials", `{"name":""}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing name", resp.StatusCode)
	}

	resp, raw = performRequest(t, app, http.MethodGet, "/v1/sites/site-1/credentials", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var listed struct {
		Data []credentialResponse `json:"data"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(listed.Data) != 2 {
		t.Fatalf("credentials = %d, want 2", len(listed.Data))
	}
	if listed.Data[1].Quota == nil || listed.Data[1].Quota.Percentage != 100 {
		t.Fatalf("cred-2 quota = %+v, want 100%%", listed.Data[1].Quota)
	}
	if listed.Data[1].HealthStatus != domain.HealthUnhealthy.String() {
		t.Fatalf("cred-2 health = %q, want unhealthy", listed.Data[1].HealthStatus)
	}
}

func TestIndexingIntegration_CredentialQuota(t *testing.T) {
	t.Parallel()

	svc := newStubServices()
	svc.credentials.quotaFn = func(ctx context.Context, credentialID string) (*quota.Usage, error) {
		if credentialID != "cred-1" {
			return nil, domain.ErrNotFound
		}
		return &quota.Usage{CredentialID: credentialID, Used: 150, Limit: 200, Remaining: 50}, nil
	}
	app := newIndexingTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/credentials/cred-1/quota", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}

	var decoded quotaResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if decoded.Used != 150 || decoded.Limit != 200 || decoded.Remaining != 50 {
		t.Fatalf("quota = %+v, want used=150 limit=200 remaining=50", decoded)
	}
	if decoded.Percentage != 75 {
		t.Fatalf("percentage = %v, want 75", decoded.Percentage)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/credentials/unknown/quota", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIndexingIntegration_SiteAlerts(t *testing.T) {
	t.Parallel()

	t.Run("not evaluated reports null evaluatedAt and zero counts", func(t *testing.T) {
		t.Parallel()

		svc := newStubServices()
		svc.alerts.getFn = func(ctx context.Context, siteID string) (*service.SiteAlerts, error) {
			return &service.SiteAlerts{SiteID: siteID, Status: service.StatusNotEvaluated}, nil
		}
		app := newIndexingTestApp(t, svc)

		resp, raw := performRequest(t, app, http.MethodGet, "/v1/sites/site-1/alerts", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
		}

		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if decoded["status"] != "not_evaluated" {
			t.Fatalf("status = %v, want not_evaluated", decoded["status"])
		}
		if decoded["evaluatedAt"] != nil {
			t.Fatalf("evaluatedAt = %v, want null", decoded["evaluatedAt"])
		}
		counts, _ := decoded["counts"].(map[string]any)
		for _, sev := range domain.Severities {
			if counts[sev.String()] != float64(0) {
				t.Fatalf("counts[%s] = %v, want 0", sev, counts[sev.String()])
			}
		}
	})

	t.Run("degraded lists alerts with counts", func(t *testing.T) {
		t.Parallel()

		evaluatedAt := testNow
		credentialID := "cred-2"
		svc := newStubServices()
		svc.alerts.getFn = func(ctx context.Context, siteID string) (*service.SiteAlerts, error) {
			return &service.SiteAlerts{
				SiteID:      siteID,
				Status:      service.StatusDegraded,
				EvaluatedAt: &evaluatedAt,
				Counts:      map[domain.Severity]int{domain.SeverityWarning: 1, domain.SeverityCritical: 1},
				Alerts: []domain.Alert{
					{ID: "a-1", SiteID: siteID, Type: domain.AlertQueueBacklog, Severity: domain.SeverityWarning, CreatedAt: testNow},
					{ID: "a-2", SiteID: siteID, Type: domain.AlertReauthRequired, Severity: domain.SeverityCritical, CredentialID: &credentialID, CreatedAt: testNow},
				},
			}, nil
		}
		app := newIndexingTestApp(t, svc)

		resp, raw := performRequest(t, app, http.MethodGet, "/v1/sites/site-1/alerts", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
		}

		var decoded siteAlertsResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if decoded.Status != "degraded" || len(decoded.Alerts) != 2 {
			t.Fatalf("projection = %+v, want degraded with 2 alerts", decoded)
		}
		if decoded.Counts["critical"] != 1 || decoded.Counts["info"] != 0 {
			t.Fatalf("counts = %v, want critical=1 info=0", decoded.Counts)
		}
		if decoded.Alerts[1].CredentialID == nil || *decoded.Alerts[1].CredentialID != "cred-2" {
			t.Fatalf("alert credentialId = %v, want cred-2", decoded.Alerts[1].CredentialID)
		}
	})
}

func TestIndexingIntegration_ResolveAlert(t *testing.T) {
	t.Parallel()

	svc := newStubServices()
	svc.alerts.resolveFn = func(ctx context.Context, siteID string, alertID string) (*domain.Alert, error) {
		if alertID != "a-1" {
			return nil, fmt.Errorf("failed to resolve alert %s: %w", alertID, domain.ErrNotFound)
		}
		resolvedAt := testNow
		return &domain.Alert{ID: alertID, SiteID: siteID, Type: domain.AlertQueueBacklog, Severity: domain.SeverityWarning, ResolvedAt: &resolvedAt}, nil
	}
	app := newIndexingTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodPost, "/v1/sites/site-1/alerts/a-1/resolve", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var decoded alertResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if decoded.ResolvedAt == nil {
		t.Fatal("resolvedAt = nil, want timestamp")
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/sites/site-1/alerts/a-9/resolve", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIndexingIntegration_GetRequestIncludesBadge(t *testing.T) {
	t.Parallel()

	reason := domain.RetryReasonRateLimit
	next := testNow.Add(time.Minute)
	svc := newStubServices()
	svc.requests.getFn = func(ctx context.Context, id string) (*service.RequestView, error) {
		if id != "req-1" {
			return nil, domain.ErrNotFound
		}
		return &service.RequestView{
			Request: domain.IndexingRequest{
				ID:          id,
				URL:         "https://example.com/a",
				Status:      domain.RequestPending,
				RetryCount:  1,
				RetryReason: &reason,
				NextRetryAt: &next,
			},
			Badge: retry.BadgeRetryPending,
		}, nil
	}
	app := newIndexingTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/requests/req-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var decoded indexingRequestResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if decoded.Badge != string(retry.BadgeRetryPending) {
		t.Fatalf("badge = %q, want %q", decoded.Badge, retry.BadgeRetryPending)
	}
	if decoded.RetryReason == nil || *decoded.RetryReason != reason.String() {
		t.Fatalf("retryReason = %v, want %s", decoded.RetryReason, reason)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/requests/req-404", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIndexingIntegration_UnexpectedErrorIs500(t *testing.T) {
	t.Parallel()

	svc := newStubServices()
	svc.runs.runFn = func(ctx context.Context, siteID string, trigger domain.RunTrigger) (*service.RunResult, error) {
		return nil, errors.New("database unavailable")
	}
	app := newIndexingTestApp(t, svc)

	resp, raw := performRequest(t, app, http.MethodPost, "/v1/sites/site-1/run", "")
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body=%s", resp.StatusCode, string(raw))
	}
}

func TestRegisterIndexingRoutesRequiresServices(t *testing.T) {
	t.Parallel()

	svc := newStubServices()
	services := svc.services()
	services.Alerts = nil

	if err := RegisterIndexingRoutes(fiber.New(), services); err == nil {
		t.Fatal("RegisterIndexingRoutes() error = nil, want error for missing alert service")
	}
}
