package cache

import (
	"context"
	"fmt"
	"time"
)

// denylistPrefix is the Redis key prefix for revoked token IDs.
const denylistPrefix = "auth:denylist:"

// TokenDenylist records revoked token IDs until the token would expire anyway.
type TokenDenylist struct {
	cache *Cache
}

// NewTokenDenylist creates a TokenDenylist.
func NewTokenDenylist(cache *Cache) *TokenDenylist {
	return &TokenDenylist{cache: cache}
}

// Revoke marks a token ID as revoked until expiresAt.
// Tokens that have already expired need no entry.
func (d *TokenDenylist) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := d.cache.client.Set(ctx, denylistPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	return nil
}

// IsRevoked reports whether a token ID has been revoked.
// Errors are returned so the caller can fail closed.
func (d *TokenDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}

	n, err := d.cache.client.Exists(ctx, denylistPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check denylist: %w", err)
	}

	return n > 0, nil
}
