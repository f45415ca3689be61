package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nd-se/auth-service/internal/domain"
)

// TokenType discriminates access tokens from refresh tokens. It is
// checked explicitly on every verification so a refresh token can never
// be replayed as an access token or vice versa.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the JWT claims carried by both token types.
type Claims struct {
	UserID    string      `json:"user_id"`
	Role      domain.Role `json:"role,omitempty"`
	TokenType TokenType   `json:"type"`

	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies HS256-signed access and refresh tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates a TokenIssuer signing with the given symmetric secret.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the configured access token lifetime.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.accessTTL }

// IssueAccess issues a short-lived access token for the user.
func (t *TokenIssuer) IssueAccess(user *domain.User) (string, error) {
	return t.issue(user, TokenTypeAccess, t.accessTTL)
}

// IssueRefresh issues a longer-lived refresh token for the user.
func (t *TokenIssuer) IssueRefresh(user *domain.User) (string, error) {
	return t.issue(user, TokenTypeRefresh, t.refreshTTL)
}

// IssuePair issues an access/refresh pair for the user.
func (t *TokenIssuer) IssuePair(user *domain.User) (*domain.TokenPair, error) {
	access, err := t.IssueAccess(user)
	if err != nil {
		return nil, err
	}
	refresh, err := t.IssueRefresh(user)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	}, nil
}

func (t *TokenIssuer) issue(user *domain.User, typ TokenType, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID:    user.ID,
		Role:      user.Role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify decodes and signature-checks a token, requiring the expected
// type. It fails closed: any problem (bad signature, malformed payload,
// type mismatch, expiry in the past) yields (nil, false) rather than an
// error, so callers decide whether a missing identity is fatal. The
// leeway keeps a token valid through its exact expiry instant.
func (t *TokenIssuer) Verify(tokenString string, expected TokenType) (*Claims, bool) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(time.Second),
	)
	if err != nil || !token.Valid {
		return nil, false
	}

	if claims.TokenType != expected {
		return nil, false
	}

	return claims, true
}
