package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/indexing-engine/internal/service"
)

type RequestService interface {
	Get(ctx context.Context, id string) (*service.RequestView, error)
}

type RequestHandler struct {
	service RequestService
}

func NewRequestHandler(service RequestService) (*RequestHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("request service is required")
	}
	return &RequestHandler{service: service}, nil
}

type indexingRequestResponse struct {
	ID           string     `json:"id"`
	CredentialID string     `json:"credentialId"`
	SiteID       string     `json:"siteId"`
	URL          string     `json:"url"`
	Status       string     `json:"status"`
	Badge        string     `json:"badge"`
	RetryCount   int        `json:"retryCount"`
	RetryReason  *string    `json:"retryReason,omitempty"`
	NextRetryAt  *time.Time `json:"nextRetryAt,omitempty"`
	LastError    *string    `json:"lastError,omitempty"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (h *RequestHandler) GetRequest(c *fiber.Ctx) error {
	view, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toIndexingRequestResponse(view))
}

func toIndexingRequestResponse(view *service.RequestView) indexingRequestResponse {
	req := view.Request
	resp := indexingRequestResponse{
		ID:           req.ID,
		CredentialID: req.CredentialID,
		SiteID:       req.SiteID,
		URL:          req.URL,
		Status:       req.Status.String(),
		Badge:        string(view.Badge),
		RetryCount:   req.RetryCount,
		NextRetryAt:  req.NextRetryAt,
		LastError:    req.LastError,
		SubmittedAt:  req.SubmittedAt,
		CompletedAt:  req.CompletedAt,
		CreatedAt:    req.CreatedAt,
		UpdatedAt:    req.UpdatedAt,
	}
	if req.RetryReason != nil {
		reason := req.RetryReason.String()
		resp.RetryReason = &reason
	}
	return resp
}
