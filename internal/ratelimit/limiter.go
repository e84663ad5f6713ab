package ratelimit

import "context"

// RateLimiter caps provider calls per credential.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// CredentialKey scopes a limiter bucket to one credential.
func CredentialKey(credentialID string) string {
	return "credential:" + credentialID
}
