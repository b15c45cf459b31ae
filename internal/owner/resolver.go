// Package owner resolves which user's portfolio a public request is for.
//
// Resolution tries, in order: the subject of a valid bearer token, the
// configured owner email, and finally a domain binding matched against the
// request's Origin, Referer or Host. The first step that yields an identity
// wins.
package owner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/metrics"
	"github.com/folio-cms/folio/internal/model"
	"github.com/folio-cms/folio/internal/repository"
)

// DefaultTimeout bounds each store call made while resolving.
const DefaultTimeout = 3 * time.Second

// Resolution sources.
const (
	SourceToken      = "token"
	SourceOwnerEmail = "owner_email"
	SourceDomain     = "domain"
)

var (
	// ErrOwnerNotConfigured indicates no step produced an owner.
	ErrOwnerNotConfigured = errors.New("portfolio owner not configured")
	// ErrStoreUnavailable indicates a lookup failed or timed out.
	ErrStoreUnavailable = errors.New("owner store unavailable")
)

// TokenVerifier verifies bearer tokens. Implemented by *auth.TokenCodec.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// UserLookup finds users by email.
type UserLookup interface {
	UserByEmail(ctx context.Context, email string) (*model.User, error)
}

// BindingLookup finds the bindings among a set of candidate domains.
type BindingLookup interface {
	BindingsByDomains(ctx context.Context, domains []string) (map[string]*model.OwnerBinding, error)
}

// BindingCache caches domain resolutions. Implemented by *cache.OwnerCache.
type BindingCache interface {
	GetOwner(ctx context.Context, domain string) (model.Identity, error)
	SetOwner(ctx context.Context, domain string, owner model.Identity) error
	AllNegative(ctx context.Context, domains []string) (bool, error)
	SetNegative(ctx context.Context, domains []string) error
}

// Config configures a Resolver. Only Bindings is required.
type Config struct {
	Codec      TokenVerifier
	OwnerEmail string
	Users      UserLookup
	Bindings   BindingLookup
	Cache      BindingCache
	Logger     *slog.Logger
	Metrics    metrics.Recorder
	Timeout    time.Duration
}

// Result is a resolved owner and the step that produced it.
type Result struct {
	Identity model.Identity
	Source   string
	// Domain is the matched binding key when Source is SourceDomain.
	Domain string
}

// Resolver resolves portfolio owners. It is immutable after construction and
// safe for concurrent use.
type Resolver struct {
	codec      TokenVerifier
	ownerEmail string
	users      UserLookup
	bindings   BindingLookup
	cache      BindingCache
	logger     *slog.Logger
	metrics    metrics.Recorder
	timeout    time.Duration
}

// NewResolver creates a Resolver from cfg.
func NewResolver(cfg Config) *Resolver {
	if cfg.Bindings == nil {
		panic("owner: Config.Bindings is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Resolver{
		codec:      cfg.Codec,
		ownerEmail: model.NormalizeEmail(cfg.OwnerEmail),
		users:      cfg.Users,
		bindings:   cfg.Bindings,
		cache:      cfg.Cache,
		logger:     cfg.Logger.With("component", "owner_resolver"),
		metrics:    cfg.Metrics,
		timeout:    cfg.Timeout,
	}
}

// Resolve determines the owner for r.
// Returns ErrOwnerNotConfigured when no step matches and ErrStoreUnavailable
// when a lookup fails.
func (s *Resolver) Resolve(ctx context.Context, r *http.Request) (*Result, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOwnerResolveDuration(time.Since(start))
	}()

	result, err := s.resolve(ctx, r)
	switch {
	case err == nil:
		s.metrics.IncOwnerResolution(result.Source)
	case errors.Is(err, ErrStoreUnavailable):
		s.metrics.IncOwnerResolution("store_unavailable")
	default:
		s.metrics.IncOwnerResolution("not_configured")
	}
	return result, err
}

func (s *Resolver) resolve(ctx context.Context, r *http.Request) (*Result, error) {
	if identity, ok := s.fromToken(r); ok {
		return &Result{Identity: identity, Source: SourceToken}, nil
	}

	identity, ok, err := s.fromOwnerEmail(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Result{Identity: identity, Source: SourceOwnerEmail}, nil
	}

	return s.fromDomain(ctx, DomainVariants(r))
}

// fromToken uses the bearer token's subject. Token problems are not errors
// here: a public page must still render for a visitor with a stale token.
func (s *Resolver) fromToken(r *http.Request) (model.Identity, bool) {
	if s.codec == nil {
		return model.Identity{}, false
	}
	token, ok := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		return model.Identity{}, false
	}

	claims, err := s.codec.Verify(token)
	if err != nil {
		s.logger.Debug("ignoring bearer token for owner resolution", slog.String("error", err.Error()))
		return model.Identity{}, false
	}
	return claims.Identity(), true
}

func (s *Resolver) fromOwnerEmail(ctx context.Context) (model.Identity, bool, error) {
	if s.ownerEmail == "" || s.users == nil {
		return model.Identity{}, false, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.users.UserByEmail(lookupCtx, s.ownerEmail)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Warn("configured owner email has no account, falling back to domain")
			return model.Identity{}, false, nil
		}
		return model.Identity{}, false, fmt.Errorf("lookup owner email: %w: %w", ErrStoreUnavailable, err)
	}
	return user.Identity(), true, nil
}

func (s *Resolver) fromDomain(ctx context.Context, variants []string) (*Result, error) {
	if len(variants) == 0 {
		return nil, ErrOwnerNotConfigured
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cached, negative := s.fromCache(lookupCtx, variants)
	if cached != nil {
		return cached, nil
	}
	if negative {
		return nil, ErrOwnerNotConfigured
	}

	found, err := s.bindings.BindingsByDomains(lookupCtx, variants)
	if err != nil {
		return nil, fmt.Errorf("lookup domain bindings: %w: %w", ErrStoreUnavailable, err)
	}

	for i, v := range variants {
		binding, ok := found[v]
		if !ok {
			continue
		}
		owner := binding.Owner()
		if s.cache != nil {
			// The unbound higher-precedence variants are cached too, so a
			// later hit on v can prove nothing outranks it.
			if err := s.cache.SetNegative(lookupCtx, variants[:i]); err != nil {
				s.logger.Debug("failed to cache missing owner", slog.String("error", err.Error()))
			} else if err := s.cache.SetOwner(lookupCtx, v, owner); err != nil {
				s.logger.Debug("failed to cache owner", slog.String("domain", v), slog.String("error", err.Error()))
			}
		}
		return &Result{Identity: owner, Source: SourceDomain, Domain: v}, nil
	}

	if s.cache != nil {
		if err := s.cache.SetNegative(lookupCtx, variants); err != nil {
			s.logger.Debug("failed to cache missing owner", slog.String("error", err.Error()))
		}
	}
	return nil, ErrOwnerNotConfigured
}

// fromCache checks cached resolutions in variant order. A cached owner for a
// variant only counts when every variant before it is cached as unbound;
// otherwise a binding with higher precedence may exist and the store decides.
// Cache errors are treated as misses. negative reports that every variant is
// known unbound.
func (s *Resolver) fromCache(ctx context.Context, variants []string) (result *Result, negative bool) {
	if s.cache == nil {
		return nil, false
	}

	for i, v := range variants {
		owner, err := s.cache.GetOwner(ctx, v)
		if err != nil {
			continue
		}
		if i > 0 {
			if unbound, err := s.cache.AllNegative(ctx, variants[:i]); err != nil || !unbound {
				break
			}
		}
		s.metrics.IncOwnerCacheHit()
		return &Result{Identity: owner, Source: SourceDomain, Domain: v}, false
	}
	s.metrics.IncOwnerCacheMiss()

	negative, err := s.cache.AllNegative(ctx, variants)
	return nil, err == nil && negative
}

// OriginBound reports whether a browser Origin belongs to a bound domain.
// Lookup failures report false.
func (s *Resolver) OriginBound(ctx context.Context, origin string) bool {
	o, ok := parseOrigin(origin)
	if !ok {
		return false
	}
	_, err := s.fromDomain(ctx, o.Variants())
	return err == nil
}
