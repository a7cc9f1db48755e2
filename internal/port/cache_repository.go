package port

import "context"

type CacheRepository interface {
	// SetIdempotency claims key for token, returns false if already claimed
	SetIdempotency(ctx context.Context, key, token string) (bool, error)

	// ReleaseIdempotency drops the claim if token still owns it
	ReleaseIdempotency(ctx context.Context, key, token string) error
}
