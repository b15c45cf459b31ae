// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/folio-cms/folio/internal/audit"
	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/metrics"
	"github.com/folio-cms/folio/internal/model"
	"github.com/folio-cms/folio/internal/repository"
)

// Service errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrEmailTaken         = errors.New("email already registered")
	ErrPasswordTooShort   = errors.New("password too short")
	ErrPasswordTooLong    = auth.ErrPasswordTooLong
	ErrUserNotFound       = errors.New("user not found")
)

// dummyPassword is hashed once and compared against for unknown emails, so
// the response time does not reveal whether an account exists.
const dummyPassword = "folio-timing-equalizer"

// UserStore is the subset of the repository the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	UserByID(ctx context.Context, id string) (*model.User, error)
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// TokenIssuer issues signed tokens for identities.
type TokenIssuer interface {
	Issue(identity model.Identity) (string, error)
	Lifetime() time.Duration
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Compare(plaintext, hash string) bool
}

// TokenRevoker records revoked token IDs until they expire.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// AttemptRecorder receives login attempt audit events.
type AttemptRecorder interface {
	PublishAsync(attempt audit.AttemptPayload)
}

// AuthConfig wires the auth service. Revoker and Attempts are optional.
type AuthConfig struct {
	Users             UserStore
	Codec             TokenIssuer
	Hasher            PasswordHasher
	Revoker           TokenRevoker
	Attempts          AttemptRecorder
	Metrics           metrics.Recorder
	Logger            *slog.Logger
	MinPasswordLength int
}

// AuthService handles registration, login and password management.
type AuthService struct {
	users       UserStore
	codec       TokenIssuer
	hasher      PasswordHasher
	revoker     TokenRevoker
	attempts    AttemptRecorder
	metrics     metrics.Recorder
	logger      *slog.Logger
	minPassword int

	dummyMu   sync.Mutex
	dummyHash string
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg AuthConfig) *AuthService {
	if cfg.Users == nil || cfg.Codec == nil || cfg.Hasher == nil {
		panic("service: AuthConfig requires Users, Codec and Hasher")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = DefaultMinPasswordLength
	}
	s := &AuthService{
		users:       cfg.Users,
		codec:       cfg.Codec,
		hasher:      cfg.Hasher,
		revoker:     cfg.Revoker,
		attempts:    cfg.Attempts,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "service.auth"),
		minPassword: cfg.MinPasswordLength,
	}
	// Built up front so the first unknown-email login costs the same as the rest.
	s.timingHash()
	return s
}

// ClientInfo describes the caller for audit records.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// CredentialsInput is the body of register and login.
type CredentialsInput struct {
	Email    string
	Password string
	Client   ClientInfo
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Register creates an account and returns a token for it.
func (s *AuthService) Register(ctx context.Context, input CredentialsInput) (*AuthResult, error) {
	email := model.NormalizeEmail(input.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password, s.minPassword); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.IncUserRegistered()
	s.recordAttempt(email, user.ID, true, model.LoginReasonRegistered, input.Client)

	return s.issue(user)
}

// Login checks credentials and returns a token. Unknown emails and wrong
// passwords both yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, input CredentialsInput) (*AuthResult, error) {
	email := model.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		s.metrics.IncLoginAttempt("failure")
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		s.hasher.Compare(input.Password, s.timingHash())
		s.metrics.IncLoginAttempt("failure")
		s.recordAttempt(email, "", false, model.LoginReasonUnknownEmail, input.Client)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Compare(input.Password, user.PasswordHash) {
		s.metrics.IncLoginAttempt("failure")
		s.recordAttempt(email, user.ID, false, model.LoginReasonWrongPassword, input.Client)
		return nil, ErrInvalidCredentials
	}

	s.metrics.IncLoginAttempt("success")
	s.recordAttempt(email, user.ID, true, model.LoginReasonSuccess, input.Client)

	return s.issue(user)
}

// Me re-reads the user behind an identity.
func (s *AuthService) Me(ctx context.Context, identity model.Identity) (*model.User, error) {
	user, err := s.users.UserByID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// ChangePasswordInput is the body of a password change.
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// ChangePassword replaces the password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, identity model.Identity, input ChangePasswordInput) error {
	user, err := s.Me(ctx, identity)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(input.CurrentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := validatePassword(input.NewPassword, s.minPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("password changed", "user_id", user.ID)
	return nil
}

// Logout revokes the token described by claims. Without a revoker it is a
// no-op and reports false.
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims) (bool, error) {
	if s.revoker == nil || claims == nil || claims.ID == "" {
		return false, nil
	}

	expiresAt := time.Now().Add(s.codec.Lifetime())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	if err := s.revoker.Revoke(ctx, claims.ID, expiresAt); err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	return true, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.codec.Issue(user.Identity())
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &AuthResult{
		Token:     token,
		ExpiresAt: time.Now().Add(s.codec.Lifetime()).UTC(),
		User:      user,
	}, nil
}

// timingHash returns a valid hash so unknown-email logins still pay for a
// full comparison.
func (s *AuthService) timingHash() string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()

	if s.dummyHash == "" {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			// Retried on the next call rather than comparing against "".
			s.logger.Error("failed to build timing hash", "error", err)
			return ""
		}
		s.dummyHash = hash
	}
	return s.dummyHash
}

func (s *AuthService) recordAttempt(email, userID string, success bool, reason string, client ClientInfo) {
	if s.attempts == nil {
		return
	}
	s.attempts.PublishAsync(audit.NewAttempt(email, userID, success, reason, client.IP, client.UserAgent))
}
