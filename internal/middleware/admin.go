package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/model"
	"github.com/folio-cms/folio/internal/repository"
)

// UserLookup loads a user by ID.
type UserLookup interface {
	UserByID(ctx context.Context, id string) (*model.User, error)
}

// AdminConfig holds configuration for the admin middleware.
type AdminConfig struct {
	Logger *slog.Logger
	Users  UserLookup
}

// RequireAdmin returns middleware that only admits administrators.
// Must be applied after Auth middleware. The admin flag is re-read from the
// store so a demoted user loses access before their token expires.
func RequireAdmin(cfg AdminConfig) func(http.Handler) http.Handler {
	if cfg.Users == nil {
		panic("middleware: AdminConfig.Users is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, msgUnauthenticated)
				return
			}

			user, err := cfg.Users.UserByID(r.Context(), identity.ID)
			switch {
			case errors.Is(err, repository.ErrUserNotFound):
				cfg.Logger.Warn("admin check failed",
					slog.String("reason", "unknown_user"),
					slog.String("user_id", identity.ID),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				WriteError(w, http.StatusUnauthorized, msgUnauthenticated)
				return
			case err != nil:
				cfg.Logger.Error("admin check failed",
					slog.String("error", err.Error()),
					slog.String("user_id", identity.ID),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				WriteError(w, http.StatusInternalServerError, msgInternal)
				return
			}

			if !user.IsAdmin {
				cfg.Logger.Warn("admin check failed",
					slog.String("reason", "not_admin"),
					slog.String("user_id", identity.ID),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				WriteError(w, http.StatusForbidden, msgForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
