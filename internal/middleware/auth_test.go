package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/cache"
	"github.com/folio-cms/folio/internal/metrics"
	"github.com/folio-cms/folio/internal/model"
)

const unauthenticatedBody = `{"success":false,"error":"Unauthenticated"}`

var (
	testSecret   = []byte("0123456789abcdef0123456789abcdef")
	otherSecret  = []byte("fedcba9876543210fedcba9876543210")
	testIdentity = model.Identity{ID: "01HZX0000000000000000000AA", Email: "owner@example.com"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func issueToken(t *testing.T, codec *auth.TokenCodec) string {
	t.Helper()
	token, err := codec.Issue(testIdentity)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	return token
}

type fakeRevocations struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[jti], nil
}

// countingHandler records how many times it ran and the identity it saw.
type countingHandler struct {
	calls    atomic.Int32
	identity model.Identity
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls.Add(1)
	h.identity, _ = auth.IdentityFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func TestAuth_ValidToken(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec(testSecret, time.Hour)
	recorder := metrics.NewInMemory()
	next := &countingHandler{}

	handler := Auth(AuthConfig{Logger: discardLogger(), Codec: codec, Metrics: recorder})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, codec))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := next.calls.Load(); got != 1 {
		t.Fatalf("handler invoked %d times, want 1", got)
	}
	if next.identity != testIdentity {
		t.Errorf("identity = %+v, want %+v", next.identity, testIdentity)
	}
	if got := recorder.Snapshot().AuthResults[metrics.AuthSuccess]; got != 1 {
		t.Errorf("success count = %d, want 1", got)
	}
}

func TestAuth_LowercaseScheme(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec(testSecret, time.Hour)
	next := &countingHandler{}
	handler := Auth(AuthConfig{Logger: discardLogger(), Codec: codec})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+issueToken(t, codec))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// Every rejection produces the same status and body, and never reaches the
// downstream handler. Only the metric reason differs.
func TestAuth_RejectionsAreUniform(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	codec := auth.NewTokenCodec(testSecret, 24*time.Hour, auth.WithClock(clock.Now))
	valid := issueToken(t, codec)

	forged := issueToken(t, auth.NewTokenCodec(otherSecret, 24*time.Hour, auth.WithClock(clock.Now)))

	expiredCodec := auth.NewTokenCodec(testSecret, 24*time.Hour,
		auth.WithClock(func() time.Time { return clock.Now().Add(-25 * time.Hour) }))
	expired := issueToken(t, expiredCodec)

	tests := []struct {
		name       string
		header     string
		wantReason string
	}{
		{"no header", "", metrics.AuthMissingToken},
		{"basic scheme", "Basic dXNlcjpwYXNz", metrics.AuthMissingToken},
		{"bearer without token", "Bearer ", metrics.AuthMissingToken},
		{"token without scheme", valid, metrics.AuthMissingToken},
		{"garbage token", "Bearer not-a-token", metrics.AuthMalformed},
		{"two segments", "Bearer aaa.bbb", metrics.AuthMalformed},
		{"wrong secret", "Bearer " + forged, metrics.AuthBadSignature},
		{"expired", "Bearer " + expired, metrics.AuthExpired},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder := metrics.NewInMemory()
			next := &countingHandler{}
			handler := Auth(AuthConfig{Logger: discardLogger(), Codec: codec, Metrics: recorder})(next)

			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if body := strings.TrimSpace(rec.Body.String()); body != unauthenticatedBody {
				t.Errorf("body = %s, want %s", body, unauthenticatedBody)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if got := next.calls.Load(); got != 0 {
				t.Errorf("handler invoked %d times on rejection", got)
			}
			if got := recorder.Snapshot().AuthResults[tt.wantReason]; got != 1 {
				t.Errorf("reason %q count = %d, want 1", tt.wantReason, got)
			}
		})
	}
}

func TestAuth_LogsReasonWithoutToken(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	codec := auth.NewTokenCodec(testSecret, time.Hour)
	forged := issueToken(t, auth.NewTokenCodec(otherSecret, time.Hour))

	handler := Auth(AuthConfig{Logger: logger, Codec: codec})(&countingHandler{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	req.RemoteAddr = "198.51.100.23:5555"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"reason":"bad_signature"`) {
		t.Errorf("log should carry the reason, got %s", out)
	}
	if !strings.Contains(out, `"ip_hash":"`+cache.HashIP("198.51.100.23")+`"`) {
		t.Errorf("log should carry the client ip hash, got %s", out)
	}
	if strings.Contains(out, "198.51.100.23") {
		t.Error("log must not contain the raw client IP")
	}
	if strings.Contains(out, forged) {
		t.Error("log must not contain the token")
	}
}

func TestAuth_Revocation(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec(testSecret, time.Hour)
	token := issueToken(t, codec)
	claims, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	tests := []struct {
		name        string
		revocations *fakeRevocations
		wantStatus  int
	}{
		{"not revoked", &fakeRevocations{revoked: map[string]bool{}}, http.StatusOK},
		{"revoked", &fakeRevocations{revoked: map[string]bool{claims.ID: true}}, http.StatusUnauthorized},
		{"checker error fails closed", &fakeRevocations{err: errors.New("redis down")}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			next := &countingHandler{}
			handler := Auth(AuthConfig{
				Logger:      discardLogger(),
				Codec:       codec,
				Revocations: tt.revocations,
			})(next)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			wantCalls := int32(0)
			if tt.wantStatus == http.StatusOK {
				wantCalls = 1
			}
			if got := next.calls.Load(); got != wantCalls {
				t.Errorf("handler invoked %d times, want %d", got, wantCalls)
			}
		})
	}
}

func TestAuth_InjectsClaims(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec(testSecret, time.Hour)
	var got *auth.Claims
	handler := Auth(AuthConfig{Logger: discardLogger(), Codec: codec})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = auth.ClaimsFromContext(r.Context())
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, codec))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.ID == "" || got.ExpiresAt == nil {
		t.Fatalf("claims not injected: %+v", got)
	}
}

func TestAuth_RequiresCodec(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("Auth without a codec should panic")
		}
	}()
	Auth(AuthConfig{})
}

func TestRequireIdentity(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec(testSecret, time.Hour)
	cfg := AuthConfig{Logger: discardLogger(), Codec: codec}

	var calls int
	var seen model.Identity
	handler := RequireIdentity(cfg, func(w http.ResponseWriter, r *http.Request, identity model.Identity) {
		calls++
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, codec))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent || calls != 1 || seen != testIdentity {
		t.Fatalf("status=%d calls=%d identity=%+v", rec.Code, calls, seen)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized || calls != 1 {
		t.Fatalf("unauthenticated request: status=%d calls=%d", rec.Code, calls)
	}
}

func TestRequireIdentityWithParams(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec(testSecret, time.Hour)
	cfg := AuthConfig{Logger: discardLogger(), Codec: codec}

	var calls int
	var gotParams RouteParams
	var gotIdentity model.Identity

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/projects/{projectID}/images/{imageID}", RequireIdentityWithParams(cfg,
		func(w http.ResponseWriter, r *http.Request, identity model.Identity, params RouteParams) {
			calls++
			gotIdentity = identity
			gotParams = params
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/projects/p-42/images/Img_7", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, codec))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || calls != 1 {
		t.Fatalf("status=%d calls=%d", rec.Code, calls)
	}
	if gotIdentity != testIdentity {
		t.Errorf("identity = %+v", gotIdentity)
	}
	if gotParams["projectID"] != "p-42" || gotParams["imageID"] != "Img_7" {
		t.Errorf("params = %v", gotParams)
	}

	// Rejected requests never reach the handler.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p-42/images/Img_7", nil))
	if rec.Code != http.StatusUnauthorized || calls != 1 {
		t.Fatalf("unauthenticated request: status=%d calls=%d", rec.Code, calls)
	}
}

func TestRequireIdentityWithParams_NoRouter(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec(testSecret, time.Hour)
	var gotParams RouteParams
	handler := RequireIdentityWithParams(AuthConfig{Logger: discardLogger(), Codec: codec},
		func(w http.ResponseWriter, r *http.Request, _ model.Identity, params RouteParams) {
			gotParams = params
		})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, codec))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotParams == nil || len(gotParams) != 0 {
		t.Errorf("params = %v, want empty map", gotParams)
	}
}

func TestWithIdentityParams_BehindAuthChain(t *testing.T) {
	t.Parallel()

	codec := auth.NewTokenCodec(testSecret, time.Hour)

	var gotIdentity model.Identity
	var gotParams RouteParams
	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) {
		r.Use(Auth(AuthConfig{Logger: discardLogger(), Codec: codec}))
		r.Method(http.MethodDelete, "/users/{userID}", WithIdentityParams(
			func(w http.ResponseWriter, r *http.Request, identity model.Identity, params RouteParams) {
				gotIdentity = identity
				gotParams = params
				w.WriteHeader(http.StatusNoContent)
			}))
	})

	req := httptest.NewRequest(http.MethodDelete, "/admin/users/u7", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, codec))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if gotIdentity != testIdentity || gotParams["userID"] != "u7" {
		t.Errorf("identity=%+v params=%v", gotIdentity, gotParams)
	}
}

func TestWithIdentity_WithoutAuth(t *testing.T) {
	t.Parallel()

	called := false
	handler := WithIdentity(func(http.ResponseWriter, *http.Request, model.Identity) { called = true })

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized || called {
		t.Errorf("status=%d called=%v", rec.Code, called)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != unauthenticatedBody {
		t.Errorf("body = %s", body)
	}
}
