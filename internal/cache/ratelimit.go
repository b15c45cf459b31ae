package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// loginBucketPrefix keys per-IP buckets for the credential endpoints.
const loginBucketPrefix = "ratelimit:login:"

// RateLimitResult is the outcome of taking one token from a bucket.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// takeToken refills a bucket by elapsed milliseconds and takes one token.
// The bucket state lives in a hash so refill and take are one atomic step.
//
// KEYS[1] bucket key
// ARGV    refill per ms, capacity, now in ms, ttl in ms
// Returns {allowed, remaining, ms until the next token}.
var takeToken = redis.NewScript(`
local refill   = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now      = tonumber(ARGV[3])
local ttl      = tonumber(ARGV[4])

local state  = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts     = tonumber(state[2])
if tokens == nil or ts == nil then
	tokens = capacity
	ts = now
end
if now > ts then
	tokens = math.min(capacity, tokens + (now - ts) * refill)
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

local wait = 0
if tokens < 1 then
	wait = math.ceil((1 - tokens) / refill)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, math.floor(tokens), wait}
`)

// CheckLoginRateLimit takes a token from the login bucket of a client IP.
// The IP is hashed before it becomes part of a key. Redis failures allow the
// request.
func (c *Cache) CheckLoginRateLimit(ctx context.Context, ip string, ratePerMinute, burst int) (*RateLimitResult, error) {
	if ratePerMinute <= 0 || burst <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d/min burst %d", ratePerMinute, burst)
	}
	return c.take(ctx, loginBucketPrefix+HashIP(ip), float64(ratePerMinute)/float64(time.Minute.Milliseconds()), burst)
}

func (c *Cache) take(ctx context.Context, key string, refillPerMs float64, capacity int) (*RateLimitResult, error) {
	now := time.Now()
	// An idle bucket is full again after capacity/refill; keep it no longer.
	ttl := int64(math.Ceil(float64(capacity)/refillPerMs)) + time.Second.Milliseconds()

	res, err := takeToken.Run(ctx, c.client, []string{key},
		refillPerMs, capacity, now.UnixMilli(), ttl,
	).Int64Slice()
	if err != nil || len(res) != 3 {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int64(capacity),
			ResetAt:   now,
		}, nil
	}

	wait := time.Duration(res[2]) * time.Millisecond
	result := &RateLimitResult{
		Allowed:   res[0] == 1,
		Remaining: res[1],
		ResetAt:   now.Add(wait),
	}
	if !result.Allowed {
		result.RetryAfter = wait
	}
	return result, nil
}

// HashIP returns the first 16 hex chars of the SHA-256 of an IP. Logs and
// keys carry this instead of the address.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
