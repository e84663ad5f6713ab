package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MaxRetries is the number of retries a request may consume before it becomes
// terminal.
const MaxRetries = 3

// RequestStatus is the lifecycle state of an indexing request.
type RequestStatus string

const (
	RequestPending RequestStatus = "pending"
	RequestSuccess RequestStatus = "success"
	RequestFailed  RequestStatus = "failed"
)

func (s RequestStatus) String() string { return string(s) }

func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestPending, RequestSuccess, RequestFailed:
		return true
	}
	return false
}

func ParseRequestStatusFromString(s string) (RequestStatus, error) {
	st := RequestStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid request status %q", ErrValidation, s)
	}
	return st, nil
}

// RetryReason classifies why a submission failed.
type RetryReason string

const (
	RetryReasonQuotaExceeded  RetryReason = "quota_exceeded"
	RetryReasonRateLimit      RetryReason = "rate_limit"
	RetryReasonAuthError      RetryReason = "auth_error"
	RetryReasonTemporaryError RetryReason = "temporary_error"
	RetryReasonNetworkError   RetryReason = "network_error"
	RetryReasonUnspecified    RetryReason = "unspecified"
)

// RetryReasons lists every reason code in a stable order.
var RetryReasons = []RetryReason{
	RetryReasonQuotaExceeded,
	RetryReasonRateLimit,
	RetryReasonAuthError,
	RetryReasonTemporaryError,
	RetryReasonNetworkError,
	RetryReasonUnspecified,
}

func (r RetryReason) String() string { return string(r) }

func (r RetryReason) IsValid() bool {
	switch r {
	case RetryReasonQuotaExceeded, RetryReasonRateLimit, RetryReasonAuthError,
		RetryReasonTemporaryError, RetryReasonNetworkError, RetryReasonUnspecified:
		return true
	}
	return false
}

// IndexingRequest is a single URL submission lineage. Retries update the same
// record in place.
type IndexingRequest struct {
	ID           string
	CredentialID string
	SiteID       string
	URL          string
	Status       RequestStatus
	SubmittedAt  time.Time
	CompletedAt  *time.Time
	RetryCount   int
	NextRetryAt  *time.Time
	RetryReason  *RetryReason
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r *IndexingRequest) IsTerminal() bool {
	return r != nil && r.Status != RequestPending
}

// RetriesExhausted reports whether no retry budget is left.
func (r *IndexingRequest) RetriesExhausted() bool {
	return r != nil && r.RetryCount >= MaxRetries
}

func (r *IndexingRequest) Validate() error {
	if strings.TrimSpace(r.CredentialID) == "" {
		return fmt.Errorf("%w: credentialId is required", ErrValidation)
	}
	if err := ValidateURL(r.URL); err != nil {
		return err
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, r.Status)
	}
	if r.RetryCount < 0 || r.RetryCount > MaxRetries {
		return fmt.Errorf("%w: retryCount must be between 0 and %d", ErrValidation, MaxRetries)
	}
	if r.RetryCount >= MaxRetries && r.NextRetryAt != nil {
		return fmt.Errorf("%w: exhausted request cannot have nextRetryAt", ErrValidation)
	}
	if r.RetryReason != nil && !r.RetryReason.IsValid() {
		return fmt.Errorf("%w: invalid retry reason %q", ErrValidation, *r.RetryReason)
	}
	return nil
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%w: invalid url %q", ErrValidation, raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url %q must use http or https", ErrValidation, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: url %q has no host", ErrValidation, raw)
	}
	return nil
}

// QueuedURL is a URL waiting in a site's backlog for quota.
type QueuedURL struct {
	ID        string
	SiteID    string
	URL       string
	CreatedAt time.Time
}
