package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/folio-cms/folio/internal/metrics"
	"github.com/folio-cms/folio/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

type fakeRepo struct {
	mu       sync.Mutex
	err      error
	calls    int
	attempts []*model.LoginAttempt
}

func (f *fakeRepo) BulkInsert(_ context.Context, attempts []*model.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.attempts = append(f.attempts, attempts...)
	return nil
}

func (f *fakeRepo) stored() []*model.LoginAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.LoginAttempt(nil), f.attempts...)
}

func newTestWorker(t *testing.T, client *redis.Client, repo Repository, recorder metrics.Recorder) *Worker {
	t.Helper()

	w := NewWorker(client, repo, discardLogger(), "test-consumer", recorder)
	w.SetBlockTimeout(20 * time.Millisecond)
	w.SetRetryPolicy(2, time.Millisecond)
	w.SetClaimPolicy(0, 0)
	w.SetMetricsInterval(0)
	if err := w.ensureConsumerGroup(context.Background()); err != nil {
		t.Fatalf("ensureConsumerGroup: %v", err)
	}
	return w
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()

	pending, err := client.XPending(context.Background(), StreamKey, ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("XPending: %v", err)
	}
	return pending.Count
}

func TestHashClientIP(t *testing.T) {
	t.Parallel()

	morning := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	nextDay := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)

	hash := HashClientIP("203.0.113.7", morning)
	if len(hash) != 16 || !isHex(hash) {
		t.Fatalf("hash = %q, want 16 hex chars", hash)
	}
	if HashClientIP("203.0.113.7", evening) != hash {
		t.Error("same day should produce the same hash")
	}
	if HashClientIP("203.0.113.7", nextDay) == hash {
		t.Error("different days should produce different hashes")
	}
	if HashClientIP("203.0.113.8", morning) == hash {
		t.Error("different addresses should produce different hashes")
	}
	if strings.Contains(hash, "203") {
		t.Error("hash must not leak the address")
	}
}

func TestTruncateUserAgent(t *testing.T) {
	t.Parallel()

	if got := TruncateUserAgent("curl/8.0"); got != "curl/8.0" {
		t.Errorf("short user agent changed: %q", got)
	}
	if got := TruncateUserAgent(strings.Repeat("a", 600)); len(got) != maxUserAgentLength {
		t.Errorf("len = %d, want %d", len(got), maxUserAgentLength)
	}
}

func TestNewAttempt(t *testing.T) {
	t.Parallel()

	a := NewAttempt("  Owner@Example.COM ", "u1", true, model.LoginReasonSuccess, "198.51.100.1", "Mozilla/5.0")
	if a.Email != "owner@example.com" {
		t.Errorf("Email = %q", a.Email)
	}
	if a.AttemptedAt <= 0 {
		t.Error("AttemptedAt should be set")
	}
	if err := ValidateAttemptPayload(a); err != nil {
		t.Errorf("NewAttempt produced an invalid payload: %v", err)
	}
}

func TestValidateAttemptPayload(t *testing.T) {
	t.Parallel()

	valid := AttemptPayload{
		Email:       "a@example.com",
		UserID:      "u1",
		Success:     true,
		Reason:      model.LoginReasonSuccess,
		IPHash:      "0123456789abcdef",
		AttemptedAt: 1,
	}

	tests := []struct {
		name    string
		mutate  func(p *AttemptPayload)
		wantErr bool
	}{
		{"valid", func(p *AttemptPayload) {}, false},
		{"failure without user", func(p *AttemptPayload) {
			p.Success, p.Reason, p.UserID = false, model.LoginReasonUnknownEmail, ""
		}, false},
		{"missing email", func(p *AttemptPayload) { p.Email = "" }, true},
		{"unknown reason", func(p *AttemptPayload) { p.Reason = "guessed" }, true},
		{"success mismatch", func(p *AttemptPayload) { p.Reason = model.LoginReasonWrongPassword }, true},
		{"success without user", func(p *AttemptPayload) { p.UserID = "" }, true},
		{"short ip hash", func(p *AttemptPayload) { p.IPHash = "abc" }, true},
		{"non-hex ip hash", func(p *AttemptPayload) { p.IPHash = "zzzzzzzzzzzzzzzz" }, true},
		{"missing timestamp", func(p *AttemptPayload) { p.AttemptedAt = 0 }, true},
		{"long user agent", func(p *AttemptPayload) { p.UserAgent = strings.Repeat("a", 501) }, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := valid
			tt.mutate(&p)
			err := ValidateAttemptPayload(p)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublisher_Publish(t *testing.T) {
	t.Parallel()

	client, mr := newTestRedis(t)
	p := NewPublisher(client, discardLogger(), nil)

	id, err := p.Publish(context.Background(), NewAttempt("a@example.com", "", false, model.LoginReasonUnknownEmail, "10.0.0.1", ""))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("Publish returned an empty stream ID")
	}

	entries, err := mr.Stream(StreamKey)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("entries = %+v", entries)
	}
	if !strings.Contains(strings.Join(entries[0].Values, " "), `"r":"unknown_email"`) {
		t.Errorf("payload = %v", entries[0].Values)
	}
}

func TestPublisher_PublishAsyncAndFlush(t *testing.T) {
	t.Parallel()

	client, mr := newTestRedis(t)
	recorder := metrics.NewInMemory()
	p := NewPublisher(client, discardLogger(), recorder)

	for i := 0; i < 5; i++ {
		p.PublishAsync(NewAttempt("a@example.com", "", false, model.LoginReasonWrongPassword, "10.0.0.1", ""))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries, _ := mr.Stream(StreamKey)
	if len(entries) != 5 {
		t.Errorf("stream length = %d, want 5", len(entries))
	}
	if got := recorder.Snapshot().AuditPublished["success"]; got != 5 {
		t.Errorf("published success = %d, want 5", got)
	}
}

func TestPublisher_PublishAsyncDropsWhenRedisDown(t *testing.T) {
	t.Parallel()

	client, mr := newTestRedis(t)
	mr.Close()

	recorder := metrics.NewInMemory()
	p := NewPublisher(client, discardLogger(), recorder)
	p.PublishAsync(NewAttempt("a@example.com", "", false, model.LoginReasonWrongPassword, "10.0.0.1", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := recorder.Snapshot().AuditPublished["dropped"]; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestWorker_ProcessOnceStoresAndAcks(t *testing.T) {
	t.Parallel()

	client, _ := newTestRedis(t)
	repo := &fakeRepo{}
	recorder := metrics.NewInMemory()
	w := newTestWorker(t, client, repo, recorder)
	p := NewPublisher(client, discardLogger(), nil)

	ctx := context.Background()
	success := NewAttempt("owner@example.com", "u1", true, model.LoginReasonSuccess, "10.0.0.1", "curl/8.0")
	failure := NewAttempt("nobody@example.com", "", false, model.LoginReasonUnknownEmail, "10.0.0.2", "")
	successID, _ := p.Publish(ctx, success)
	if _, err := p.Publish(ctx, failure); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if err := w.processOnce(ctx); err != nil {
		t.Fatalf("processOnce: %v", err)
	}

	stored := repo.stored()
	if len(stored) != 2 {
		t.Fatalf("stored %d attempts, want 2", len(stored))
	}
	first := stored[0]
	if first.EventID != successID || first.Email != "owner@example.com" || !first.Success {
		t.Errorf("first attempt = %+v", first)
	}
	if first.UserID == nil || *first.UserID != "u1" {
		t.Errorf("UserID = %v, want u1", first.UserID)
	}
	if first.ID == "" || first.ID == stored[1].ID {
		t.Error("attempts need distinct IDs")
	}
	if stored[1].UserID != nil {
		t.Errorf("failed attempt UserID = %v, want nil", *stored[1].UserID)
	}
	if got := pendingCount(t, client); got != 0 {
		t.Errorf("pending = %d, want 0 after ack", got)
	}
	if got := recorder.Snapshot().AuditProcessed["success"]; got != 2 {
		t.Errorf("processed success = %d, want 2", got)
	}
}

func TestWorker_ProcessOnceEmptyStream(t *testing.T) {
	t.Parallel()

	client, _ := newTestRedis(t)
	repo := &fakeRepo{}
	w := newTestWorker(t, client, repo, nil)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}
	if repo.calls != 0 {
		t.Errorf("repo called %d times on empty stream", repo.calls)
	}
}

func TestWorker_DeadLettersPoisonMessages(t *testing.T) {
	t.Parallel()

	client, mr := newTestRedis(t)
	repo := &fakeRepo{}
	recorder := metrics.NewInMemory()
	w := newTestWorker(t, client, repo, recorder)

	ctx := context.Background()
	for _, values := range []map[string]interface{}{
		{"payload": "{not json"},
		{"other": "field"},
		{"payload": `{"e":"a@example.com","ok":true,"r":"success","ih":"0123456789abcdef","t":1}`},
	} {
		if err := client.XAdd(ctx, &redis.XAddArgs{Stream: StreamKey, Values: values}).Err(); err != nil {
			t.Fatalf("XAdd: %v", err)
		}
	}

	if err := w.processOnce(ctx); err != nil {
		t.Fatalf("processOnce: %v", err)
	}

	if repo.calls != 0 {
		t.Errorf("repo called %d times, want 0", repo.calls)
	}
	dlq, err := mr.Stream(DeadLetterStreamKey)
	if err != nil {
		t.Fatalf("read dlq: %v", err)
	}
	if len(dlq) != 3 {
		t.Errorf("dlq length = %d, want 3", len(dlq))
	}
	if got := pendingCount(t, client); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
	if got := recorder.Snapshot().AuditProcessed["dead_lettered"]; got != 3 {
		t.Errorf("dead_lettered = %d, want 3", got)
	}
}

func TestWorker_FailedBatchStaysPending(t *testing.T) {
	t.Parallel()

	client, _ := newTestRedis(t)
	repo := &fakeRepo{err: errors.New("connection reset")}
	recorder := metrics.NewInMemory()
	w := newTestWorker(t, client, repo, recorder)
	p := NewPublisher(client, discardLogger(), nil)

	ctx := context.Background()
	if _, err := p.Publish(ctx, NewAttempt("a@example.com", "", false, model.LoginReasonWrongPassword, "10.0.0.1", "")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if err := w.processOnce(ctx); err == nil {
		t.Fatal("processOnce should fail when the store keeps failing")
	}
	if repo.calls != 2 {
		t.Errorf("insert attempts = %d, want 2", repo.calls)
	}
	if got := pendingCount(t, client); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
	if got := recorder.Snapshot().AuditProcessed["failed"]; got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}

func TestWorker_RunAndShutdown(t *testing.T) {
	t.Parallel()

	client, _ := newTestRedis(t)
	repo := &fakeRepo{}
	w := NewWorker(client, repo, discardLogger(), NewConsumerID(), nil)
	w.SetBlockTimeout(20 * time.Millisecond)
	w.SetClaimPolicy(0, 0)
	w.SetMetricsInterval(0)

	p := NewPublisher(client, discardLogger(), nil)
	if _, err := p.Publish(context.Background(), NewAttempt("a@example.com", "", false, model.LoginReasonWrongPassword, "10.0.0.1", "")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(repo.stored()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker did not store the attempt in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}
