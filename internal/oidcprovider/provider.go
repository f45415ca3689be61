// Package oidcprovider implements a self-contained OIDC provider for
// local development. It authenticates a fixed directory of test users
// through a picker page and speaks enough of the authorization-code
// protocol for the federation client to run end to end without an
// external provider.
//
// Never expose this outside a development environment: there are no
// passwords and the signing secret defaults to a published value.
package oidcprovider

import (
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	codeTTL         = 10 * time.Minute
	accessTokenTTL  = time.Hour
	idTokenTTL      = time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour

	keyID = "dummy-key-1"
)

// Error is an OAuth 2.0 error response (RFC 6749 §5.2).
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

func invalidRequest(description string) *Error {
	return &Error{Code: "invalid_request", Description: description}
}

func invalidGrant(description string) *Error {
	return &Error{Code: "invalid_grant", Description: description}
}

// Provider implements the dummy OIDC provider's protocol logic.
type Provider struct {
	secret        []byte
	codes         *CodeStore
	accessTokens  *TokenStore
	refreshTokens *TokenStore
	logger        *slog.Logger
}

// ProviderOption configures the Provider.
type ProviderOption func(*Provider)

// WithProviderLogger sets the logger for the provider.
func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// NewProvider creates a dummy provider signing with the given secret.
func NewProvider(secret string, codes *CodeStore, accessTokens, refreshTokens *TokenStore, opts ...ProviderOption) *Provider {
	p := &Provider{
		secret:        []byte(secret),
		codes:         codes,
		accessTokens:  accessTokens,
		refreshTokens: refreshTokens,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Discovery returns the OIDC discovery document for the given issuer.
func (p *Provider) Discovery(issuer string) map[string]any {
	return map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/auth",
		"token_endpoint":                        issuer + "/token",
		"userinfo_endpoint":                     issuer + "/userinfo",
		"jwks_uri":                              issuer + "/jwks",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"HS256"},
		"code_challenge_methods_supported":      []string{"S256"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
	}
}

// JWKS returns the provider's key set. HS256 means a symmetric oct
// key; publishing it is fine for a development-only provider.
func (p *Provider) JWKS() map[string]any {
	return map[string]any{
		"keys": []map[string]any{
			{
				"kty": "oct",
				"kid": keyID,
				"use": "sig",
				"alg": "HS256",
				"k":   base64.RawURLEncoding.EncodeToString(p.secret),
			},
		},
	}
}

// AuthorizeSubmission is the picker form for POST /auth.
type AuthorizeSubmission struct {
	Username            string
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize validates a picker submission, mints a single-use code and
// returns the redirect URL carrying it back to the client.
func (p *Provider) Authorize(req AuthorizeSubmission) (string, error) {
	if req.ResponseType != "code" {
		return "", invalidRequest("response_type must be 'code'")
	}
	if req.ClientID == "" {
		return "", invalidRequest("client_id is required")
	}
	if req.RedirectURI == "" {
		return "", invalidRequest("redirect_uri is required")
	}
	if req.Scope == "" {
		return "", invalidRequest("scope is required")
	}
	user, ok := testUsers[req.Username]
	if !ok {
		return "", invalidRequest("unknown user")
	}

	code := &AuthCode{
		Code:                uuid.New().String(),
		Sub:                 user.Sub,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(codeTTL),
	}
	p.codes.Put(code)

	u, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", invalidRequest("invalid redirect_uri")
	}
	q := u.Query()
	q.Set("code", code.Code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()

	p.logger.Info("dummy provider issued code", "username", req.Username, "client_id", req.ClientID)
	return u.String(), nil
}

// TokenRequest is the parsed token endpoint form.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
	RefreshToken string
}

// TokenResponse is the token endpoint response. Userinfo is inlined so
// the relying party does not need a second round trip.
type TokenResponse struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int            `json:"expires_in"`
	Scope        string         `json:"scope,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	Userinfo     map[string]any `json:"userinfo,omitempty"`
}

// Exchange handles the token endpoint grants.
func (p *Provider) Exchange(req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case "authorization_code":
		return p.exchangeCode(req)
	case "refresh_token":
		return p.exchangeRefresh(req)
	default:
		return nil, &Error{Code: "unsupported_grant_type", Description: "grant_type must be authorization_code or refresh_token"}
	}
}

func (p *Provider) exchangeCode(req TokenRequest) (*TokenResponse, error) {
	code, ok := p.codes.Get(req.Code)
	if !ok {
		return nil, invalidGrant("invalid code")
	}
	if code.Used {
		return nil, invalidGrant("code already used")
	}
	if code.IsExpired() {
		return nil, invalidGrant("code expired")
	}
	if code.ClientID != req.ClientID {
		return nil, invalidGrant("client_id mismatch")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, invalidGrant("redirect_uri mismatch")
	}

	// Permissive PKCE: a client that sends no verifier gets a pass so
	// plain OAuth tooling can still test against the provider. When a
	// verifier does arrive it must match the challenge.
	if req.CodeVerifier != "" && code.CodeChallenge != "" {
		hash := sha256.Sum256([]byte(req.CodeVerifier))
		if base64.RawURLEncoding.EncodeToString(hash[:]) != code.CodeChallenge {
			return nil, invalidGrant("invalid code verifier")
		}
	}

	p.codes.MarkUsed(req.Code)

	user, ok := userBySub(code.Sub)
	if !ok {
		return nil, invalidGrant("unknown subject")
	}

	return p.issueTokens(user, code.ClientID, code.Scope, code.Nonce)
}

func (p *Provider) exchangeRefresh(req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, invalidRequest("refresh_token is required")
	}
	rec, ok := p.refreshTokens.Get(req.RefreshToken)
	if !ok {
		return nil, invalidGrant("invalid refresh token")
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, invalidGrant("refresh token expired")
	}
	user, ok := userBySub(rec.Sub)
	if !ok {
		return nil, invalidGrant("unknown subject")
	}

	// The new access token stays bound to the client and scope the
	// refresh token was issued for; the caller's client_id is ignored.
	accessToken, err := p.mintJWT(user, rec.ClientID, "", accessTokenTTL)
	if err != nil {
		return nil, &Error{Code: "server_error", Description: "failed to sign token"}
	}
	p.accessTokens.Put(accessToken, TokenRecord{Sub: user.Sub, ClientID: rec.ClientID, Scope: rec.Scope, ExpiresAt: time.Now().Add(accessTokenTTL)})

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(accessTokenTTL.Seconds()),
		Scope:       rec.Scope,
		Userinfo:    userinfoClaims(user),
	}, nil
}

func (p *Provider) issueTokens(user TestUser, clientID, scope, nonce string) (*TokenResponse, error) {
	accessToken, err := p.mintJWT(user, clientID, "", accessTokenTTL)
	if err != nil {
		return nil, &Error{Code: "server_error", Description: "failed to sign token"}
	}
	idToken, err := p.mintJWT(user, clientID, nonce, idTokenTTL)
	if err != nil {
		return nil, &Error{Code: "server_error", Description: "failed to sign token"}
	}
	refreshToken := uuid.New().String()

	now := time.Now()
	p.accessTokens.Put(accessToken, TokenRecord{Sub: user.Sub, ClientID: clientID, Scope: scope, ExpiresAt: now.Add(accessTokenTTL)})
	p.refreshTokens.Put(refreshToken, TokenRecord{Sub: user.Sub, ClientID: clientID, Scope: scope, ExpiresAt: now.Add(refreshTokenTTL)})

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessTokenTTL.Seconds()),
		Scope:        scope,
		RefreshToken: refreshToken,
		IDToken:      idToken,
		Userinfo:     userinfoClaims(user),
	}, nil
}

func (p *Provider) mintJWT(user TestUser, clientID, nonce string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":                user.Sub,
		"email":              user.Email,
		"name":               user.Name,
		"preferred_username": user.PreferredUsername,
		"iat":                now.Unix(),
		"exp":                now.Add(ttl).Unix(),
	}
	if clientID != "" {
		claims["aud"] = clientID
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(p.secret)
}

// Userinfo resolves an access token to the subject's claims.
func (p *Provider) Userinfo(accessToken string) (map[string]any, error) {
	rec, ok := p.accessTokens.Get(accessToken)
	if !ok {
		return nil, &Error{Code: "invalid_token", Description: "unknown access token"}
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, &Error{Code: "invalid_token", Description: "access token expired"}
	}
	user, ok := userBySub(rec.Sub)
	if !ok {
		return nil, &Error{Code: "invalid_token", Description: "unknown subject"}
	}
	return userinfoClaims(user), nil
}

func userBySub(sub string) (TestUser, bool) {
	for _, u := range testUsers {
		if u.Sub == sub {
			return u, true
		}
	}
	return TestUser{}, false
}
