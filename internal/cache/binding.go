package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/folio-cms/folio/internal/model"
)

// Cache key prefixes and TTLs.
const (
	ownerKeyPrefix    = "owner:domain:"
	negCacheKeySuffix = ":neg"

	// DefaultOwnerTTL is the TTL for cached domain-to-owner bindings.
	DefaultOwnerTTL = 5 * time.Minute

	// NegativeCacheTTL is the TTL for domains known to have no binding.
	NegativeCacheTTL = time.Minute
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// OwnerCache caches domain-to-owner bindings for owner resolution.
type OwnerCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewOwnerCache creates an OwnerCache. A non-positive ttl uses DefaultOwnerTTL.
func NewOwnerCache(cache *Cache, ttl time.Duration) *OwnerCache {
	if ttl <= 0 {
		ttl = DefaultOwnerTTL
	}
	return &OwnerCache{cache: cache, ttl: ttl}
}

// GetOwner returns the cached owner for a domain.
// Returns ErrCacheMiss if not found.
func (c *OwnerCache) GetOwner(ctx context.Context, domain string) (model.Identity, error) {
	data, err := c.cache.client.Get(ctx, ownerKeyPrefix+domain).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Identity{}, ErrCacheMiss
		}
		return model.Identity{}, fmt.Errorf("redis get failed: %w", err)
	}

	var id model.Identity
	if err := json.Unmarshal(data, &id); err != nil || id.ID == "" {
		// Corrupted cache entry - treat as miss
		return model.Identity{}, ErrCacheMiss
	}

	return id, nil
}

// SetOwner caches the owner bound to a domain and clears any negative entry.
func (c *OwnerCache) SetOwner(ctx context.Context, domain string, owner model.Identity) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("marshal owner: %w", err)
	}

	key := ownerKeyPrefix + domain

	pipe := c.cache.client.Pipeline()
	pipe.Set(ctx, key, data, c.ttl)
	pipe.Del(ctx, key+negCacheKeySuffix)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache owner: %w", err)
	}

	return nil
}

// DeleteOwner removes positive and negative entries for the domains.
// Used when a binding or its owner is deleted or a binding is created.
func (c *OwnerCache) DeleteOwner(ctx context.Context, domains ...string) error {
	if len(domains) == 0 {
		return nil
	}

	keys := make([]string, 0, len(domains)*2)
	for _, d := range domains {
		keys = append(keys, ownerKeyPrefix+d, ownerKeyPrefix+d+negCacheKeySuffix)
	}

	if err := c.cache.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete owner from cache: %w", err)
	}

	return nil
}

// AllNegative reports whether every domain is marked as unbound.
func (c *OwnerCache) AllNegative(ctx context.Context, domains []string) (bool, error) {
	if len(domains) == 0 {
		return false, nil
	}

	keys := make([]string, len(domains))
	for i, d := range domains {
		keys[i] = ownerKeyPrefix + d + negCacheKeySuffix
	}

	n, err := c.cache.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check negative cache: %w", err)
	}

	return n == int64(len(domains)), nil
}

// SetNegative marks the domains as having no binding.
func (c *OwnerCache) SetNegative(ctx context.Context, domains []string) error {
	if len(domains) == 0 {
		return nil
	}

	pipe := c.cache.client.Pipeline()
	for _, d := range domains {
		pipe.SetEx(ctx, ownerKeyPrefix+d+negCacheKeySuffix, "", NegativeCacheTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set negative cache: %w", err)
	}

	return nil
}
