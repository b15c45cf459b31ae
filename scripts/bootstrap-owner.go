package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/model"
	"github.com/folio-cms/folio/internal/owner"
	"github.com/folio-cms/folio/internal/repository"
)

type output struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Created    bool   `json:"created"`
	BindingID  string `json:"binding_id,omitempty"`
	Domain     string `json:"domain,omitempty"`
	TotalUsers int64  `json:"total_users"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		email       = flag.String("email", os.Getenv("OWNER_EMAIL"), "Owner account email")
		password    = flag.String("password", os.Getenv("OWNER_PASSWORD"), "Password for a newly created owner")
		domain      = flag.String("domain", "", "Optional domain to bind to the owner")
		bcryptCost  = flag.Int("bcrypt-cost", auth.DefaultBcryptCost, "bcrypt cost for the password hash")
		migrate     = flag.Bool("migrate", false, "Apply database migrations first")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fail("DATABASE_URL is required")
	}
	normalized := model.NormalizeEmail(*email)
	if normalized == "" {
		fail("an owner email is required (-email or OWNER_EMAIL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fail("connect database:", err)
	}
	defer repo.Close()

	if *migrate {
		if err := repo.RunMigrations(ctx); err != nil {
			fail("run migrations:", err)
		}
	}

	user, created, err := ensureAdmin(ctx, repo, auth.NewPasswordHasher(*bcryptCost), normalized, *password)
	if err != nil {
		fail(err)
	}

	out := output{UserID: user.ID, Email: user.Email, Created: created}

	if *domain != "" {
		binding, err := bindDomain(ctx, repo, user, *domain)
		if err != nil {
			fail(err)
		}
		out.BindingID = binding.ID
		out.Domain = binding.Domain
	}

	if out.TotalUsers, err = repo.CountUsers(ctx); err != nil {
		fail(err)
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.UserID)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fail("invalid format; use plain or json")
	}
}

// ensureAdmin returns the admin account for email, creating it when missing.
// An existing account keeps its password and is promoted to admin.
func ensureAdmin(ctx context.Context, repo *repository.Repository, hasher *auth.PasswordHasher, email, password string) (*model.User, bool, error) {
	existing, err := repo.UserByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.IsAdmin {
			if err := repo.SetAdmin(ctx, existing.ID, true); err != nil {
				return nil, false, fmt.Errorf("promote %s: %w", email, err)
			}
			existing.IsAdmin = true
		}
		return existing, false, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, false, fmt.Errorf("look up %s: %w", email, err)
	}

	if password == "" {
		return nil, false, fmt.Errorf("user %s does not exist; a password is required to create it (-password or OWNER_PASSWORD)", email)
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return user, true, nil
}

func bindDomain(ctx context.Context, repo *repository.Repository, user *model.User, raw string) (*model.OwnerBinding, error) {
	domain, err := owner.NormalizeDomain(raw)
	if err != nil {
		return nil, fmt.Errorf("domain %q: %w", raw, err)
	}

	binding := &model.OwnerBinding{
		ID:         ulid.Make().String(),
		Domain:     domain,
		OwnerID:    user.ID,
		OwnerEmail: user.Email,
		CreatedAt:  time.Now().UTC(),
	}
	if err := repo.CreateBinding(ctx, binding); err != nil {
		if errors.Is(err, repository.ErrDomainExists) {
			return nil, fmt.Errorf("domain %s is already bound", domain)
		}
		return nil, fmt.Errorf("create binding: %w", err)
	}
	return binding, nil
}

func fail(args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(1)
}
