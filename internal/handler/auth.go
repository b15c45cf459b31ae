package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/middleware"
	"github.com/folio-cms/folio/internal/model"
	"github.com/folio-cms/folio/internal/service"
)

// AuthService is the account logic behind the auth routes.
type AuthService interface {
	Register(ctx context.Context, input service.CredentialsInput) (*service.AuthResult, error)
	Login(ctx context.Context, input service.CredentialsInput) (*service.AuthResult, error)
	Me(ctx context.Context, identity model.Identity) (*model.User, error)
	ChangePassword(ctx context.Context, identity model.Identity, input service.ChangePasswordInput) error
	Logout(ctx context.Context, claims *auth.Claims) (bool, error)
}

// AuthHandler handles registration, login and account routes.
type AuthHandler struct {
	svc    AuthService
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger.With("component", "handler.auth"),
	}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the body of a password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	User      model.UserResponse `json:"user"`
}

// LogoutResponse reports whether the token was revoked server-side.
type LogoutResponse struct {
	Revoked bool `json:"revoked"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if status, err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, status)
		return
	}

	result, err := h.svc.Register(r.Context(), service.CredentialsInput{
		Email:    req.Email,
		Password: req.Password,
		Client:   clientInfo(r),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("user registered",
		"user_id", result.User.ID,
		"request_id", middleware.GetRequestID(r.Context()),
	)
	writeData(w, http.StatusCreated, toAuthResponse(result))
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if status, err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, status)
		return
	}

	result, err := h.svc.Login(r.Context(), service.CredentialsInput{
		Email:    req.Email,
		Password: req.Password,
		Client:   clientInfo(r),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, toAuthResponse(result))
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request, identity model.Identity) {
	user, err := h.svc.Me(r.Context(), identity)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user.ToResponse())
}

// ChangePassword handles PUT /api/auth/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request, identity model.Identity) {
	var req ChangePasswordRequest
	if status, err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, status)
		return
	}

	err := h.svc.ChangePassword(r.Context(), identity, service.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request, identity model.Identity) {
	revoked, err := h.svc.Logout(r.Context(), auth.ClaimsFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("user logged out", "user_id", identity.ID, "revoked", revoked)
	writeData(w, http.StatusOK, LogoutResponse{Revoked: revoked})
}

func (h *AuthHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		// Same body for unknown email and wrong password.
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, service.ErrUserNotFound):
		// A valid token for a deleted account.
		writeError(w, http.StatusUnauthorized, "Unauthenticated")
	case errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "Invalid email address")
	case errors.Is(err, service.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "Password is too short")
	case errors.Is(err, service.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, "Password is too long")
	case errors.Is(err, service.ErrEmailTaken):
		writeError(w, http.StatusConflict, "Email already registered")
	default:
		h.logger.Error("auth request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func toAuthResponse(result *service.AuthResult) AuthResponse {
	return AuthResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      result.User.ToResponse(),
	}
}

func clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
