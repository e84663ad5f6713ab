package provider

import (
	"context"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
)

// Indexer submits one URL to the external indexing API on behalf of a
// credential. The call is opaque: it either succeeds or returns an error that
// the retry policy classifies.
type Indexer interface {
	Submit(ctx context.Context, credential domain.Credential, url string) (*SubmitResult, error)
}

// SubmitResult stores call metadata for logs and the request record.
type SubmitResult struct {
	StatusCode int
	Body       string
	RequestID  string
}
