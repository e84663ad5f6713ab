package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
)

const (
	defaultSubmitTimeout = 30 * time.Second
	notificationType     = "URL_UPDATED"
	credentialHeader     = "X-Credential-ID"
)

type submitRequest struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

var _ Indexer = (*HTTPIndexer)(nil)

// HTTPIndexer posts URL notifications to a JSON endpoint.
type HTTPIndexer struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPIndexer(endpoint string, timeout time.Duration) (*HTTPIndexer, error) {
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewHTTPIndexerWithClient(endpoint, client)
}

func NewHTTPIndexerWithClient(endpoint string, client *resty.Client) (*HTTPIndexer, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("indexing endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid indexing endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSubmitTimeout)
	}
	// Retries are owned by the retry policy, never by the HTTP client.
	client.SetRetryCount(0)

	return &HTTPIndexer{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *HTTPIndexer) Submit(ctx context.Context, credential domain.Credential, target string) (*SubmitResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("indexer is not initialized")
	}
	if strings.TrimSpace(credential.ID) == "" {
		return nil, fmt.Errorf("%w: credential id is required", domain.ErrValidation)
	}
	if err := domain.ValidateURL(target); err != nil {
		return nil, err
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(credentialHeader, credential.ID).
		SetBody(submitRequest{URL: strings.TrimSpace(target), Type: notificationType}).
		Post(p.endpoint)
	if err != nil {
		return nil, &SubmitError{
			Message:   "indexing request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &SubmitError{
			Message:   "indexing endpoint returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SubmitResult{
			StatusCode: statusCode,
			Body:       responseBody,
			RequestID:  responseRequestID(response),
		}, nil
	}

	return nil, statusError(statusCode, responseBody)
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func responseRequestID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
