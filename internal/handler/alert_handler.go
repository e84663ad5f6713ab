package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/service"
)

type AlertService interface {
	Get(ctx context.Context, siteID string) (*service.SiteAlerts, error)
	Resolve(ctx context.Context, siteID string, alertID string) (*domain.Alert, error)
}

type AlertHandler struct {
	service AlertService
}

func NewAlertHandler(service AlertService) (*AlertHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("alert service is required")
	}
	return &AlertHandler{service: service}, nil
}

type siteAlertsResponse struct {
	SiteID      string          `json:"siteId"`
	Status      string          `json:"status"`
	EvaluatedAt *time.Time      `json:"evaluatedAt"`
	Counts      map[string]int  `json:"counts"`
	Alerts      []alertResponse `json:"alerts"`
}

type alertResponse struct {
	ID           string     `json:"id"`
	SiteID       string     `json:"siteId"`
	Type         string     `json:"type"`
	Severity     string     `json:"severity"`
	Message      string     `json:"message"`
	CredentialID *string    `json:"credentialId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

func (h *AlertHandler) GetSiteAlerts(c *fiber.Ctx) error {
	projection, err := h.service.Get(c.Context(), c.Params("siteId"))
	if err != nil {
		return toHTTPError(err)
	}

	// Every severity is always present so clients need no defaults.
	counts := make(map[string]int, len(domain.Severities))
	for _, sev := range domain.Severities {
		counts[sev.String()] = projection.Counts[sev]
	}

	alerts := make([]alertResponse, 0, len(projection.Alerts))
	for i := range projection.Alerts {
		alerts = append(alerts, toAlertResponse(&projection.Alerts[i]))
	}

	return c.Status(fiber.StatusOK).JSON(siteAlertsResponse{
		SiteID:      projection.SiteID,
		Status:      string(projection.Status),
		EvaluatedAt: projection.EvaluatedAt,
		Counts:      counts,
		Alerts:      alerts,
	})
}

func (h *AlertHandler) ResolveAlert(c *fiber.Ctx) error {
	resolved, err := h.service.Resolve(c.Context(), c.Params("siteId"), c.Params("alertId"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toAlertResponse(resolved))
}

func toAlertResponse(a *domain.Alert) alertResponse {
	return alertResponse{
		ID:           a.ID,
		SiteID:       a.SiteID,
		Type:         a.Type.String(),
		Severity:     a.Severity.String(),
		Message:      a.Message,
		CredentialID: a.CredentialID,
		CreatedAt:    a.CreatedAt,
		ResolvedAt:   a.ResolvedAt,
	}
}
