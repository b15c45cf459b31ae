// Package auth provides token, credential, and identity-context utilities.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/folio-cms/folio/internal/model"
)

// DefaultTokenLifetime is the lifetime of an issued token.
// There is no server-side revocation by default, so this bounds how long a
// leaked token stays usable.
const DefaultTokenLifetime = 24 * time.Hour

// MinSecretLength is the minimum HS256 signing secret length in bytes.
const MinSecretLength = 32

var (
	// ErrMalformed indicates the token does not parse into a signed JWT.
	ErrMalformed = errors.New("token is malformed")
	// ErrBadSignature indicates the signature does not validate against the secret.
	ErrBadSignature = errors.New("token signature is invalid")
	// ErrExpired indicates the token is past its expiry.
	ErrExpired = errors.New("token is expired")
	// ErrUnauthenticated is the external-facing umbrella for all token failures.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidIdentity indicates an identity without id or email was given to Issue.
	ErrInvalidIdentity = errors.New("identity requires id and email")
)

// Claims is the token payload.
// "id" and "sub" both carry the user ID; older clients read "id".
type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Identity returns the minimal identity asserted by the claims.
func (c *Claims) Identity() model.Identity {
	return model.Identity{ID: c.UserID, Email: c.Email}
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// TokenCodec issues and verifies HS256 tokens.
// It is immutable after construction and safe for concurrent use.
type TokenCodec struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// NewTokenCodec creates a codec with the given secret and lifetime.
// A non-positive lifetime falls back to DefaultTokenLifetime.
func NewTokenCodec(secret []byte, lifetime time.Duration, opts ...TokenOption) *TokenCodec {
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}

	c := &TokenCodec{
		secret:   append([]byte(nil), secret...),
		lifetime: lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)

	return c
}

// Lifetime returns the configured token lifetime.
func (c *TokenCodec) Lifetime() time.Duration {
	return c.lifetime
}

// Issue signs a token for the identity, expiring one lifetime from now.
func (c *TokenCodec) Issue(identity model.Identity) (string, error) {
	if identity.ID == "" || identity.Email == "" {
		return "", ErrInvalidIdentity
	}

	now := c.now()
	claims := Claims{
		UserID: identity.ID,
		Email:  identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
			ID:        ulid.Make().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Verify parses and validates a token string.
// Checks run in order: structure (ErrMalformed), signature (ErrBadSignature),
// expiry (ErrExpired). The HMAC comparison is constant-time.
func (c *TokenCodec) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := c.parser.ParseWithClaims(tokenString, claims, c.keyFunc)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" || claims.Email == "" {
		return nil, ErrMalformed
	}

	return claims, nil
}

func (c *TokenCodec) keyFunc(*jwt.Token) (any, error) {
	return c.secret, nil
}

// classifyTokenError maps library errors onto the codec's taxonomy.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

// ExtractBearerToken returns the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func ExtractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}

	return token, true
}
