package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/folio-cms/folio/internal/middleware"
	"github.com/folio-cms/folio/internal/model"
	"github.com/folio-cms/folio/internal/service"
)

// AdminService is the logic behind the admin routes.
type AdminService interface {
	ListBindings(ctx context.Context) ([]*model.OwnerBinding, error)
	CreateBinding(ctx context.Context, admin model.Identity, req model.OwnerBindingCreateRequest) (*model.OwnerBinding, error)
	DeleteBinding(ctx context.Context, admin model.Identity, id string) (*model.OwnerBinding, error)
	DeleteUser(ctx context.Context, admin model.Identity, id string) error
	LoginAttempts(ctx context.Context, email string) (*service.LoginAttemptStats, error)
}

// AdminHandler provides admin-only endpoints for domains and accounts.
// Every route runs behind middleware.Auth and middleware.RequireAdmin.
type AdminHandler struct {
	svc    AdminService
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(svc AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		svc:    svc,
		logger: logger.With("component", "handler.admin"),
	}
}

// BindingListResponse lists owner bindings.
type BindingListResponse struct {
	Bindings []*model.OwnerBinding `json:"bindings"`
	Total    int                   `json:"total"`
}

// ListDomains handles GET /api/admin/domains.
func (h *AdminHandler) ListDomains(w http.ResponseWriter, r *http.Request, _ model.Identity) {
	bindings, err := h.svc.ListBindings(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if bindings == nil {
		bindings = []*model.OwnerBinding{}
	}
	writeData(w, http.StatusOK, BindingListResponse{Bindings: bindings, Total: len(bindings)})
}

// CreateDomain handles POST /api/admin/domains.
func (h *AdminHandler) CreateDomain(w http.ResponseWriter, r *http.Request, admin model.Identity) {
	var req model.OwnerBindingCreateRequest
	if status, err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, status)
		return
	}

	binding, err := h.svc.CreateBinding(r.Context(), admin, req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, binding)
}

// DeleteDomain handles DELETE /api/admin/domains/{bindingID}.
func (h *AdminHandler) DeleteDomain(w http.ResponseWriter, r *http.Request, admin model.Identity, params middleware.RouteParams) {
	id := params["bindingID"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "Binding ID is required")
		return
	}

	binding, err := h.svc.DeleteBinding(r.Context(), admin, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, binding)
}

// DeleteUser handles DELETE /api/admin/users/{userID}.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request, admin model.Identity, params middleware.RouteParams) {
	id := params["userID"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	if err := h.svc.DeleteUser(r.Context(), admin, id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

// LoginAttempts handles GET /api/admin/login-attempts?email=.
func (h *AdminHandler) LoginAttempts(w http.ResponseWriter, r *http.Request, _ model.Identity) {
	stats, err := h.svc.LoginAttempts(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (h *AdminHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDomain):
		writeError(w, http.StatusBadRequest, "Invalid domain")
	case errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "Invalid email address")
	case errors.Is(err, service.ErrCannotDeleteSelf):
		writeError(w, http.StatusBadRequest, "Cannot delete your own account")
	case errors.Is(err, service.ErrOwnerNotFound):
		writeError(w, http.StatusBadRequest, "Owner not found")
	case errors.Is(err, service.ErrDomainTaken):
		writeError(w, http.StatusConflict, "Domain already bound")
	case errors.Is(err, service.ErrBindingNotFound):
		writeError(w, http.StatusNotFound, "Binding not found")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	default:
		h.logger.Error("admin request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
