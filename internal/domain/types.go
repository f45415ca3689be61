// Package domain defines the core types for the auth service.
package domain

import (
	"time"
)

// Role is the access level assigned to a user.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// AuthProvider identifies how an account authenticates.
type AuthProvider string

const (
	ProviderLocal AuthProvider = "local"
	ProviderOIDC  AuthProvider = "oidc"
)

// User represents an account in the system.
//
// A locally registered user carries PasswordHash; a user created through
// the OIDC flow has OIDCSub set and no password, and cannot use the
// password-login path.
type User struct {
	ID           string       `json:"user_id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"password_hash,omitempty"`
	Role         Role         `json:"role"`
	Active       bool         `json:"is_active"`
	OIDCSub      string       `json:"oidc_sub,omitempty"`
	AuthProvider AuthProvider `json:"auth_provider"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LastLogin    time.Time    `json:"last_login,omitzero"`
}

// IsLocal reports whether the user can authenticate with a password.
func (u *User) IsLocal() bool {
	return u.PasswordHash != ""
}

// View returns a copy of the user with credential material stripped.
func (u *User) View() *User {
	v := *u
	v.PasswordHash = ""
	return &v
}

// Identity is a resolved caller, as seen by protected endpoints.
// The credential field is always stripped.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Active   bool   `json:"is_active"`
}

// IdentityFromUser builds an Identity from a user record.
func IdentityFromUser(u *User) *Identity {
	return &Identity{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		Active:   u.Active,
	}
}

// TokenPair is the access/refresh pair handed to clients after login,
// registration via OIDC, or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}
