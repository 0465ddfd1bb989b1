// Package auth authenticates accounts: password hashing, signed access
// tokens, and the login and registration flows.
package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"mycloud/internal/apperrors"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
	maxUsernameLength = 150
	maxEmailLength    = 254
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._@+-]*[a-z0-9])?$`)

// NormalizeUsername returns the canonical lowercase username.
func NormalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(strings.ToLower(raw))
	if username == "" {
		return "", apperrors.Validation(apperrors.CodeInvalidArgument, "username is required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return "", apperrors.Validation(apperrors.CodeInvalidArgument, "username too long")
	}
	if !usernamePattern.MatchString(username) {
		return "", apperrors.Validation(apperrors.CodeInvalidArgument, "invalid username")
	}
	return username, nil
}

// NormalizeEmail validates an optional email address. Empty stays empty.
func NormalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", nil
	}
	if len(email) > maxEmailLength {
		return "", apperrors.Validation(apperrors.CodeInvalidArgument, "email too long")
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email {
		return "", apperrors.Validation(apperrors.CodeInvalidArgument, "invalid email")
	}
	return strings.ToLower(email), nil
}

// ValidatePassword checks minimal password requirements. bcrypt ignores
// bytes past 72, so longer passwords are refused.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.Validation(apperrors.CodeInvalidArgument, "password must be at least 8 characters")
	}
	if len(password) > maxPasswordLength {
		return apperrors.Validation(apperrors.CodeInvalidArgument, "password must be at most 72 bytes")
	}
	if strings.TrimSpace(password) == "" {
		return apperrors.Validation(apperrors.CodeInvalidArgument, "password must not be blank")
	}
	return nil
}

// HashPassword hashes one plaintext password for persistent storage.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword verifies plaintext password against a bcrypt hash.
func VerifyPassword(passwordHash, candidate string) bool {
	if strings.TrimSpace(passwordHash) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(candidate)) == nil
}
