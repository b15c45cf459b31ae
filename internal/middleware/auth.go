package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/cache"
	"github.com/folio-cms/folio/internal/metrics"
	"github.com/folio-cms/folio/internal/model"
)

// TokenVerifier verifies bearer tokens. Implemented by *auth.TokenCodec.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// RevocationChecker reports whether a token ID has been revoked.
// Implemented by *cache.TokenDenylist.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger      *slog.Logger
	Codec       TokenVerifier
	Revocations RevocationChecker // optional
	Metrics     metrics.Recorder  // optional
}

func (cfg AuthConfig) withDefaults() AuthConfig {
	if cfg.Codec == nil {
		panic("middleware: AuthConfig.Codec is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return cfg
}

// Auth returns a middleware that authenticates requests with a bearer token.
// It verifies the token, optionally checks revocation, and injects the
// identity into the request context. Every failure gets the same 401 body;
// the specific reason only goes to the log.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := cfg.authenticate(w, r)
			if !ok {
				return
			}

			identity := claims.Identity()
			annotateUserID(r.Context(), identity.ID)

			ctx := auth.ContextWithIdentity(r.Context(), identity)
			ctx = auth.ContextWithClaims(ctx, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate runs the token checks. On failure it has already written the
// response and returns false.
func (cfg AuthConfig) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	token, ok := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		cfg.reject(w, r, metrics.AuthMissingToken, nil)
		return nil, false
	}

	claims, err := cfg.Codec.Verify(token)
	if err != nil {
		cfg.reject(w, r, verifyFailureReason(err), err)
		return nil, false
	}

	if cfg.Revocations != nil {
		revoked, err := cfg.Revocations.IsRevoked(r.Context(), claims.ID)
		if err != nil {
			cfg.Logger.Error("revocation check failed",
				slog.String("error", err.Error()),
				slog.String("request_id", GetRequestID(r.Context())),
			)
			cfg.reject(w, r, metrics.AuthRevoked, err)
			return nil, false
		}
		if revoked {
			cfg.reject(w, r, metrics.AuthRevoked, nil)
			return nil, false
		}
	}

	cfg.Metrics.IncAuthResult(metrics.AuthSuccess)
	cfg.Logger.Debug("authentication successful",
		slog.String("user_id", claims.UserID),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)

	return claims, true
}

// reject logs the failure reason and writes the uniform 401 response.
func (cfg AuthConfig) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	cfg.Metrics.IncAuthResult(reason)

	attrs := []slog.Attr{
		slog.String("reason", reason),
		slog.String("ip_hash", cache.HashIP(ClientIP(r))),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	cfg.Logger.LogAttrs(r.Context(), slog.LevelWarn, "authentication failed", attrs...)

	WriteError(w, http.StatusUnauthorized, msgUnauthenticated)
}

func verifyFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return metrics.AuthExpired
	case errors.Is(err, auth.ErrBadSignature):
		return metrics.AuthBadSignature
	default:
		return metrics.AuthMalformed
	}
}

// IdentityHandlerFunc is a handler that receives the authenticated identity.
type IdentityHandlerFunc func(w http.ResponseWriter, r *http.Request, identity model.Identity)

// RequireIdentity wraps h with Auth and passes it the verified identity.
func RequireIdentity(cfg AuthConfig, h IdentityHandlerFunc) http.Handler {
	return Auth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, auth.MustIdentityFromContext(r.Context()))
	}))
}

// RouteParams are the URL parameters matched by the router.
type RouteParams map[string]string

// IdentityParamsHandlerFunc is a handler that receives the authenticated
// identity and the route parameters.
type IdentityParamsHandlerFunc func(w http.ResponseWriter, r *http.Request, identity model.Identity, params RouteParams)

// RequireIdentityWithParams wraps h with Auth and passes it the verified
// identity along with the chi route parameters, unchanged.
func RequireIdentityWithParams(cfg AuthConfig, h IdentityParamsHandlerFunc) http.Handler {
	return Auth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, auth.MustIdentityFromContext(r.Context()), routeParams(r))
	}))
}

func routeParams(r *http.Request) RouteParams {
	params := RouteParams{}
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}
	for i, key := range rctx.URLParams.Keys {
		if i < len(rctx.URLParams.Values) {
			params[key] = rctx.URLParams.Values[i]
		}
	}
	return params
}

// WithIdentity adapts h for routes where Auth already ran as part of the
// middleware chain. A request without an identity gets the uniform 401.
func WithIdentity(h IdentityHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}
		h(w, r, identity)
	})
}

// WithIdentityParams is WithIdentity for handlers that take route parameters.
func WithIdentityParams(h IdentityParamsHandlerFunc) http.Handler {
	return WithIdentity(func(w http.ResponseWriter, r *http.Request, identity model.Identity) {
		h(w, r, identity, routeParams(r))
	})
}
