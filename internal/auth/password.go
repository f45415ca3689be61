// Package auth provides credential handling, token issuance and identity
// resolution for the auth service.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 6
	// MaxPasswordLength is the maximum accepted password length.
	MaxPasswordLength = 128
)

// HashPassword hashes a password with bcrypt. Each call salts
// independently, so hashing the same password twice yields different
// hashes.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a password against a bcrypt hash. A malformed
// hash is treated as a mismatch rather than an error, so the caller
// never distinguishes a corrupt credential from a wrong one.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword checks the password policy: length in
// [MinPasswordLength, MaxPasswordLength]. No character-class rules.
func ValidatePassword(password string) bool {
	return len(password) >= MinPasswordLength && len(password) <= MaxPasswordLength
}
