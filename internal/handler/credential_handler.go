package handler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/quota"
	"github.com/kursadbilgin/indexing-engine/internal/service"
)

type CredentialService interface {
	Create(ctx context.Context, siteID string, name string) (*domain.Credential, error)
	ListWithQuota(ctx context.Context, siteID string) ([]service.CredentialView, error)
	Quota(ctx context.Context, credentialID string) (*quota.Usage, error)
}

type CredentialHandler struct {
	service CredentialService
}

func NewCredentialHandler(service CredentialService) (*CredentialHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("credential service is required")
	}
	return &CredentialHandler{service: service}, nil
}

type createCredentialRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type credentialResponse struct {
	ID                  string         `json:"id"`
	SiteID              string         `json:"siteId"`
	Name                string         `json:"name"`
	HealthStatus        string         `json:"healthStatus"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	CooldownUntil       *time.Time     `json:"cooldownUntil,omitempty"`
	LastError           *string        `json:"lastError,omitempty"`
	LastErrorReason     *string        `json:"lastErrorReason,omitempty"`
	Quota               *quotaResponse `json:"quota,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

type quotaResponse struct {
	Used       int       `json:"used"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	Percentage float64   `json:"percentage"`
	ResetsAt   time.Time `json:"resetsAt"`
}

func (h *CredentialHandler) CreateCredential(c *fiber.Ctx) error {
	var req createCredentialRequest
	if err := parseBody(c, &req); err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.Context(), c.Params("siteId"), req.Name)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toCredentialResponse(created, nil))
}

func (h *CredentialHandler) ListCredentials(c *fiber.Ctx) error {
	views, err := h.service.ListWithQuota(c.Context(), c.Params("siteId"))
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]credentialResponse, 0, len(views))
	for i := range views {
		usage := views[i].Usage
		out = append(out, toCredentialResponse(&views[i].Credential, &usage))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": out})
}

func (h *CredentialHandler) GetQuota(c *fiber.Ctx) error {
	usage, err := h.service.Quota(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toQuotaResponse(*usage))
}

func toCredentialResponse(cred *domain.Credential, usage *quota.Usage) credentialResponse {
	resp := credentialResponse{
		ID:                  cred.ID,
		SiteID:              cred.SiteID,
		Name:                cred.Name,
		HealthStatus:        cred.HealthStatus.String(),
		ConsecutiveFailures: cred.ConsecutiveFailures,
		CooldownUntil:       cred.CooldownUntil,
		LastError:           cred.LastError,
		CreatedAt:           cred.CreatedAt,
		UpdatedAt:           cred.UpdatedAt,
	}
	if cred.LastErrorReason != nil {
		reason := cred.LastErrorReason.String()
		resp.LastErrorReason = &reason
	}
	if usage != nil {
		q := toQuotaResponse(*usage)
		resp.Quota = &q
	}
	return resp
}

func toQuotaResponse(usage quota.Usage) quotaResponse {
	return quotaResponse{
		Used:       usage.Used,
		Limit:      usage.Limit,
		Remaining:  usage.Remaining,
		Percentage: math.Round(usage.Percentage()*100) / 100,
		ResetsAt:   usage.ResetsAt,
	}
}
