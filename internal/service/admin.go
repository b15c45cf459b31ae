package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/folio-cms/folio/internal/model"
	"github.com/folio-cms/folio/internal/owner"
	"github.com/folio-cms/folio/internal/repository"
)

// Admin errors.
var (
	ErrInvalidDomain    = errors.New("invalid domain")
	ErrDomainTaken      = errors.New("domain already bound")
	ErrBindingNotFound  = errors.New("binding not found")
	ErrOwnerNotFound    = errors.New("owner not found")
	ErrCannotDeleteSelf = errors.New("cannot delete your own account")
)

// AdminStore is the subset of the repository admin operations need.
type AdminStore interface {
	UserByID(ctx context.Context, id string) (*model.User, error)
	DeleteUser(ctx context.Context, id string) ([]string, error)
	CreateBinding(ctx context.Context, binding *model.OwnerBinding) error
	ListBindings(ctx context.Context) ([]*model.OwnerBinding, error)
	DeleteBinding(ctx context.Context, id string) (*model.OwnerBinding, error)
}

// AttemptCounter reports login attempt totals for an email.
type AttemptCounter interface {
	CountByEmail(ctx context.Context, email string) (total, failed int64, err error)
}

// CacheInvalidator drops cached owner lookups for domains.
type CacheInvalidator interface {
	DeleteOwner(ctx context.Context, domains ...string) error
}

// AdminConfig wires the admin service. Cache and Attempts are optional.
type AdminConfig struct {
	Store    AdminStore
	Cache    CacheInvalidator
	Attempts AttemptCounter
	Logger   *slog.Logger
}

// AdminService manages owner bindings and accounts.
type AdminService struct {
	store    AdminStore
	cache    CacheInvalidator
	attempts AttemptCounter
	logger   *slog.Logger
}

// NewAdminService creates a new AdminService.
func NewAdminService(cfg AdminConfig) *AdminService {
	if cfg.Store == nil {
		panic("service: AdminConfig.Store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AdminService{
		store:    cfg.Store,
		cache:    cfg.Cache,
		attempts: cfg.Attempts,
		logger:   cfg.Logger.With("component", "service.admin"),
	}
}

// ListBindings returns all owner bindings ordered by domain.
func (s *AdminService) ListBindings(ctx context.Context) ([]*model.OwnerBinding, error) {
	return s.store.ListBindings(ctx)
}

// CreateBinding binds a domain to an owner. The owner defaults to the
// calling admin.
func (s *AdminService) CreateBinding(ctx context.Context, admin model.Identity, req model.OwnerBindingCreateRequest) (*model.OwnerBinding, error) {
	domain, err := owner.NormalizeDomain(req.Domain)
	if err != nil {
		return nil, ErrInvalidDomain
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = admin.ID
	}

	user, err := s.store.UserByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrOwnerNotFound
		}
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}

	binding := &model.OwnerBinding{
		ID:         ulid.Make().String(),
		Domain:     domain,
		OwnerID:    user.ID,
		OwnerEmail: user.Email,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.CreateBinding(ctx, binding); err != nil {
		switch {
		case errors.Is(err, repository.ErrDomainExists):
			return nil, ErrDomainTaken
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, ErrOwnerNotFound
		}
		return nil, fmt.Errorf("failed to create binding: %w", err)
	}

	// Clears a negative entry left by lookups before the binding existed.
	s.invalidate(ctx, domain)

	s.logger.Info("owner binding created",
		"binding_id", binding.ID,
		"domain", domain,
		"owner_id", binding.OwnerID,
		"admin_id", admin.ID,
	)
	return binding, nil
}

// DeleteBinding removes a binding and its cached lookups.
func (s *AdminService) DeleteBinding(ctx context.Context, admin model.Identity, id string) (*model.OwnerBinding, error) {
	binding, err := s.store.DeleteBinding(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBindingNotFound) {
			return nil, ErrBindingNotFound
		}
		return nil, fmt.Errorf("failed to delete binding: %w", err)
	}

	s.invalidate(ctx, binding.Domain)

	s.logger.Info("owner binding deleted",
		"binding_id", binding.ID,
		"domain", binding.Domain,
		"admin_id", admin.ID,
	)
	return binding, nil
}

// DeleteUser removes an account. Its bindings go with it.
func (s *AdminService) DeleteUser(ctx context.Context, admin model.Identity, id string) error {
	if id == admin.ID {
		return ErrCannotDeleteSelf
	}

	domains, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.invalidate(ctx, domains...)

	s.logger.Info("user deleted",
		"user_id", id,
		"bindings_removed", len(domains),
		"admin_id", admin.ID,
	)
	return nil
}

// LoginAttemptStats summarizes recorded login attempts for an email.
type LoginAttemptStats struct {
	Email  string `json:"email"`
	Total  int64  `json:"total"`
	Failed int64  `json:"failed"`
}

// LoginAttempts returns attempt counts for an email.
func (s *AdminService) LoginAttempts(ctx context.Context, email string) (*LoginAttemptStats, error) {
	email = model.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return &LoginAttemptStats{Email: email}, nil
	}

	total, failed, err := s.attempts.CountByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to count login attempts: %w", err)
	}
	return &LoginAttemptStats{Email: email, Total: total, Failed: failed}, nil
}

func (s *AdminService) invalidate(ctx context.Context, domains ...string) {
	if s.cache == nil || len(domains) == 0 {
		return
	}
	if err := s.cache.DeleteOwner(ctx, domains...); err != nil {
		// Entries expire on their own TTL.
		s.logger.Warn("failed to invalidate owner cache", "domains", domains, "error", err)
	}
}
