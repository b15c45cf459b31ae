// Package audit records login attempts through a Redis stream that a
// background worker drains into PostgreSQL.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/folio-cms/folio/internal/metrics"
	"github.com/folio-cms/folio/internal/model"
)

const (
	// StreamKey is the Redis stream for login attempts.
	StreamKey = "stream:login_attempts"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:login_attempts:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 200 * time.Millisecond

	maxUserAgentLength = 500
)

// AttemptPayload is the compact event format stored in the stream.
type AttemptPayload struct {
	Email       string `json:"e"`
	UserID      string `json:"uid,omitempty"`
	Success     bool   `json:"ok"`
	Reason      string `json:"r"`
	IPHash      string `json:"ih"`
	UserAgent   string `json:"ua,omitempty"`
	AttemptedAt int64  `json:"t"` // Unix milliseconds
}

// NewAttempt builds a payload for an attempt made now. The client IP is
// hashed before it leaves the process.
func NewAttempt(email, userID string, success bool, reason, ip, userAgent string) AttemptPayload {
	now := time.Now().UTC()
	return AttemptPayload{
		Email:       model.NormalizeEmail(email),
		UserID:      userID,
		Success:     success,
		Reason:      reason,
		IPHash:      HashClientIP(ip, now),
		UserAgent:   TruncateUserAgent(userAgent),
		AttemptedAt: now.UnixMilli(),
	}
}

// Publisher enqueues login attempts to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
	wg      sync.WaitGroup
}

// NewPublisher creates a new audit event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "audit.publisher"),
		metrics: recorder,
	}
}

// Publish adds an attempt to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, attempt AttemptPayload) (string, error) {
	data, err := json.Marshal(attempt)
	if err != nil {
		return "", fmt.Errorf("marshal attempt: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return id, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged and counted, never returned.
func (p *Publisher) PublishAsync(attempt AttemptPayload) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, attempt)
		if err != nil {
			p.logger.Warn("failed to publish login attempt",
				"reason", attempt.Reason,
				"error", err,
			)
			p.metrics.IncAuditEventPublished("dropped")
			return
		}

		p.logger.Debug("login attempt published",
			"reason", attempt.Reason,
			"stream_id", streamID,
		)
		p.metrics.IncAuditEventPublished("success")
	}()
}

// Flush waits for in-flight asynchronous publishes.
// It implements server.ShutdownFunc.
func (p *Publisher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HashClientIP creates a privacy-safe client identifier.
// Uses SHA256(IP + daily_salt) truncated to 16 hex chars, so attempts from
// one address correlate within a day but not across days.
func HashClientIP(ip string, at time.Time) string {
	dailySalt := "folio:login:" + at.UTC().Format("2006-01-02")
	hash := sha256.Sum256([]byte(ip + dailySalt))
	return hex.EncodeToString(hash[:])[:16]
}

// TruncateUserAgent truncates the user agent to maxUserAgentLength bytes.
func TruncateUserAgent(ua string) string {
	if len(ua) > maxUserAgentLength {
		return ua[:maxUserAgentLength]
	}
	return ua
}
