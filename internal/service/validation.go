package service

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/folio-cms/folio/internal/auth"
)

// Input limits.
const (
	// MaxEmailLength is the longest accepted email address.
	MaxEmailLength = 320

	// DefaultMinPasswordLength is used when no minimum is configured.
	DefaultMinPasswordLength = 6
)

// emailPattern is deliberately loose: one @, no whitespace, a dot in the domain.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// validateEmail checks an already-normalized email address.
func validateEmail(email string) error {
	if email == "" || len(email) > MaxEmailLength {
		return ErrInvalidEmail
	}
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	for _, r := range email {
		if unicode.IsControl(r) {
			return ErrInvalidEmail
		}
	}
	return nil
}

// validatePassword enforces the length policy before hashing.
func validatePassword(password string, minLength int) error {
	if len([]rune(password)) < minLength {
		return ErrPasswordTooShort
	}
	if len(password) > auth.MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	if strings.TrimSpace(password) == "" {
		return ErrPasswordTooShort
	}
	return nil
}
