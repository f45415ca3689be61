package oidcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nd-se/auth-service/internal/domain"
	autherrors "github.com/nd-se/auth-service/internal/errors"
	"github.com/nd-se/auth-service/internal/metrics"
	"github.com/nd-se/auth-service/internal/store"
)

// outboundTimeout bounds every request to the upstream provider.
const outboundTimeout = 10 * time.Second

// Options configures the federation client from application config.
type Options struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	DiscoveryURL string
	RedirectURI  string
	Scopes       []string
}

// DiscoveryDocument is the subset of the provider's OIDC discovery
// metadata the client needs.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// Status reports whether federation is available.
type Status struct {
	Enabled      bool   `json:"enabled"`
	DiscoveryURL string `json:"discovery_url,omitempty"`
}

// Client drives the authorization-code + PKCE flow against the
// configured upstream provider.
type Client struct {
	opts        Options
	flows       *FlowStore
	users       store.UserRepository
	httpc       *http.Client
	devFallback bool
	logger      *slog.Logger

	mu        sync.Mutex
	discovery *DiscoveryDocument
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient overrides the outbound HTTP client. Used by tests.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithClientDevFallback enables the development-only synthetic user
// fallback used when the user store is unreachable during callback
// processing.
func WithClientDevFallback(enabled bool) ClientOption {
	return func(c *Client) {
		c.devFallback = enabled
	}
}

// NewClient creates a new federation client.
func NewClient(opts Options, flows *FlowStore, users store.UserRepository, copts ...ClientOption) *Client {
	c := &Client{
		opts:   opts,
		flows:  flows,
		users:  users,
		httpc:  &http.Client{Timeout: outboundTimeout},
		logger: slog.Default(),
	}
	for _, opt := range copts {
		opt(c)
	}
	return c
}

// Enabled reports whether federation is configured.
func (c *Client) Enabled() bool {
	return c.opts.Enabled
}

// Status returns the public federation status.
func (c *Client) Status() Status {
	s := Status{Enabled: c.opts.Enabled}
	if c.opts.Enabled {
		s.DiscoveryURL = c.opts.DiscoveryURL
	}
	return s
}

// BeginFlow starts an authorization-code flow and returns the provider
// authorization URL together with the state the caller should track.
func (c *Client) BeginFlow(ctx context.Context) (authorizationURL, state string, err error) {
	if !c.opts.Enabled {
		return "", "", autherrors.NotImplemented("OIDC authentication is not configured")
	}

	doc, err := c.discoverEndpoints(ctx)
	if err != nil {
		return "", "", err
	}

	state, err = GenerateState()
	if err != nil {
		return "", "", autherrors.Internal("failed to generate state", err)
	}
	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		return "", "", autherrors.Internal("failed to generate pkce pair", err)
	}

	c.flows.Put(state, PendingFlow{
		CodeVerifier: verifier,
		CreatedAt:    time.Now().UTC(),
	})

	authURL, err := url.Parse(doc.AuthorizationEndpoint)
	if err != nil {
		return "", "", autherrors.Internal("invalid authorization endpoint", err)
	}
	q := authURL.Query()
	q.Set("client_id", c.opts.ClientID)
	q.Set("redirect_uri", c.opts.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(c.opts.Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	authURL.RawQuery = q.Encode()

	metrics.RecordOIDCFlow("started")
	c.logger.Info("oidc flow started", "pending_flows", c.flows.Len())

	return authURL.String(), state, nil
}

// HandleCallback completes a flow: it consumes the pending state,
// exchanges the code, extracts the provider's userinfo and maps it to
// a local user.
func (c *Client) HandleCallback(ctx context.Context, code, state string) (*domain.User, error) {
	if !c.opts.Enabled {
		return nil, autherrors.NotImplemented("OIDC authentication is not configured")
	}

	flow, ok := c.flows.Take(state)
	if !ok {
		metrics.RecordOIDCFlow("failed")
		return nil, autherrors.InvalidInput("invalid state")
	}

	tokens, err := c.exchangeCode(ctx, code, flow.CodeVerifier)
	if err != nil {
		metrics.RecordOIDCFlow("failed")
		return nil, err
	}

	userinfo := tokens.Userinfo
	if userinfo == nil {
		userinfo = unverifiedIDTokenClaims(tokens.IDToken)
	}
	if userinfo == nil {
		metrics.RecordOIDCFlow("failed")
		return nil, autherrors.Internal("token response carried no user information", nil)
	}

	user, err := c.ProcessUserInfo(ctx, userinfo)
	if err != nil {
		metrics.RecordOIDCFlow("failed")
		return nil, err
	}

	metrics.RecordOIDCFlow("completed")
	c.logger.Info("oidc flow completed", "user_id", user.ID, "username", user.Username)

	return user, nil
}

// tokenResponse is the provider's token endpoint response. Userinfo is
// a non-standard extension some providers inline; absent that, claims
// come from the ID token.
type tokenResponse struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int            `json:"expires_in"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	Userinfo     map[string]any `json:"userinfo,omitempty"`
}

type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *Client) exchangeCode(ctx context.Context, code, verifier string) (*tokenResponse, error) {
	doc, err := c.discoverEndpoints(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.opts.RedirectURI)
	form.Set("client_id", c.opts.ClientID)
	if c.opts.ClientSecret != "" {
		form.Set("client_secret", c.opts.ClientSecret)
	}
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, autherrors.Internal("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, autherrors.Internal("token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, autherrors.Internal("failed to read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oerr oauthError
		if json.Unmarshal(body, &oerr) == nil && oerr.Error != "" {
			msg := oerr.Error
			if oerr.Description != "" {
				msg = fmt.Sprintf("%s: %s", oerr.Error, oerr.Description)
			}
			return nil, autherrors.InvalidInput(msg)
		}
		return nil, autherrors.Internal(fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), nil)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, autherrors.Internal("failed to decode token response", err)
	}
	return &tokens, nil
}

// unverifiedIDTokenClaims extracts claims from an ID token without
// signature verification. Acceptable here because the token arrived
// over the direct TLS channel to the token endpoint, not via the
// user's browser.
func unverifiedIDTokenClaims(idToken string) map[string]any {
	if idToken == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil
	}
	return claims
}

// discoverEndpoints fetches and caches the provider's discovery
// document.
func (c *Client) discoverEndpoints(ctx context.Context) (*DiscoveryDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.discovery != nil {
		return c.discovery, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.DiscoveryURL, nil)
	if err != nil {
		return nil, autherrors.Internal("failed to build discovery request", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, autherrors.Internal("discovery endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, autherrors.Internal(fmt.Sprintf("discovery endpoint returned status %d", resp.StatusCode), nil)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, autherrors.Internal("failed to decode discovery document", err)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, autherrors.Internal("discovery document missing required endpoints", nil)
	}

	c.discovery = &doc
	return c.discovery, nil
}

// ProcessUserInfo maps provider userinfo claims onto a local account:
// a user already linked by subject is refreshed, anyone else gets a
// new OIDC-provisioned account with a collision-free username.
func (c *Client) ProcessUserInfo(ctx context.Context, userinfo map[string]any) (*domain.User, error) {
	sub := stringClaim(userinfo, "sub")
	if sub == "" {
		return nil, autherrors.InvalidInput("missing subject")
	}

	email := stringClaim(userinfo, "email")
	now := time.Now().UTC()

	user, err := c.users.GetByOIDCSub(ctx, sub)
	if err == nil {
		if email != "" {
			user.Email = email
		}
		user.LastLogin = now
		if err := c.users.Update(ctx, user); err != nil {
			c.logger.Warn("failed to refresh oidc user", "user_id", user.ID, "error", err)
		}
		return user, nil
	}
	if !autherrors.IsCode(err, autherrors.CodeNotFound) {
		return c.storeFailure(sub, email, err)
	}

	username, err := c.pickUsername(ctx, userinfo, sub, email)
	if err != nil {
		return c.storeFailure(sub, email, err)
	}

	user = &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		Role:         domain.RoleUser,
		Active:       true,
		OIDCSub:      sub,
		AuthProvider: domain.ProviderOIDC,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastLogin:    now,
	}
	if err := c.users.Create(ctx, user); err != nil {
		return c.storeFailure(sub, email, err)
	}

	c.logger.Info("provisioned oidc user", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// pickUsername derives a username from the provider claims and suffixes
// it until it is free locally.
func (c *Client) pickUsername(ctx context.Context, userinfo map[string]any, sub, email string) (string, error) {
	base := stringClaim(userinfo, "preferred_username")
	if base == "" {
		base = stringClaim(userinfo, "name")
	}
	if base == "" && email != "" {
		base = strings.SplitN(email, "@", 2)[0]
	}
	if base == "" {
		base = sub
	}

	candidate := base
	for i := 1; ; i++ {
		_, err := c.users.GetByUsername(ctx, candidate)
		if autherrors.IsCode(err, autherrors.CodeNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
}

// storeFailure handles an unreachable user store during callback
// processing. With the dev fallback on, a synthetic non-persisted user
// lets the flow complete; otherwise the failure propagates.
func (c *Client) storeFailure(sub, email string, err error) (*domain.User, error) {
	if !c.devFallback {
		return nil, autherrors.Internal("user store unavailable", err)
	}
	c.logger.Warn("user store unreachable, using synthetic oidc user", "sub", sub, "error", err)
	username := "oidc-" + sub
	if email == "" {
		email = username + "@example.com"
	}
	return &domain.User{
		ID:           username,
		Username:     username,
		Email:        email,
		Role:         domain.RoleUser,
		Active:       true,
		OIDCSub:      sub,
		AuthProvider: domain.ProviderOIDC,
	}, nil
}

func stringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
