package owner

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/folio-cms/folio/internal/middleware"
)

// Messages for failed resolution. Both use status 500: a public route without
// an owner is a deployment problem, not a client error.
const (
	msgNotConfigured = "Portfolio owner not configured"
	msgUnavailable   = "Service temporarily unavailable"
)

type contextKey string

const resultContextKey contextKey = "owner_result"

// ContextWithResult stores a resolved owner in the context.
func ContextWithResult(ctx context.Context, result *Result) context.Context {
	return context.WithValue(ctx, resultContextKey, result)
}

// FromContext returns the owner resolved by Middleware.
func FromContext(ctx context.Context) (*Result, bool) {
	result, ok := ctx.Value(resultContextKey).(*Result)
	return result, ok && result != nil
}

// Middleware resolves the portfolio owner for public routes and injects it
// into the request context. Requests without an owner get a 500 envelope.
func Middleware(resolver *Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := resolver.Resolve(r.Context(), r)
			if err != nil {
				if errors.Is(err, ErrStoreUnavailable) {
					logger.Error("owner resolution failed",
						slog.String("error", err.Error()),
						slog.String("request_id", middleware.GetRequestID(r.Context())),
					)
					middleware.WriteError(w, http.StatusInternalServerError, msgUnavailable)
					return
				}

				logger.Warn("owner not configured",
					slog.String("host", r.Host),
					slog.String("origin", r.Header.Get("Origin")),
					slog.String("request_id", middleware.GetRequestID(r.Context())),
				)
				middleware.WriteError(w, http.StatusInternalServerError, msgNotConfigured)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithResult(r.Context(), result)))
		})
	}
}
