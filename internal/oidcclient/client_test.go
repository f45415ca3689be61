package oidcclient

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nd-se/auth-service/internal/domain"
	autherrors "github.com/nd-se/auth-service/internal/errors"
	"github.com/nd-se/auth-service/internal/store"
)

// memRepo is a minimal in-memory UserRepository for client tests.
type memRepo struct {
	users   map[string]*domain.User
	failing bool
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]*domain.User)}
}

func (r *memRepo) storeErr() error {
	return autherrors.Internal("store unavailable", errors.New("connection refused"))
}

func (r *memRepo) Create(ctx context.Context, user *domain.User) error {
	if r.failing {
		return r.storeErr()
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if r.failing {
		return nil, r.storeErr()
	}
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, autherrors.NotFound("user", id)
}

func (r *memRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if r.failing {
		return nil, r.storeErr()
	}
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, autherrors.NotFound("user", username)
}

func (r *memRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if r.failing {
		return nil, r.storeErr()
	}
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, autherrors.NotFound("user", email)
}

func (r *memRepo) GetByOIDCSub(ctx context.Context, sub string) (*domain.User, error) {
	if r.failing {
		return nil, r.storeErr()
	}
	for _, u := range r.users {
		if u.OIDCSub != "" && u.OIDCSub == sub {
			cp := *u
			return &cp, nil
		}
	}
	return nil, autherrors.NotFound("user", sub)
}

func (r *memRepo) Update(ctx context.Context, user *domain.User) error {
	if r.failing {
		return r.storeErr()
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memRepo) List(ctx context.Context, filter store.UserFilter) ([]*domain.User, error) {
	return nil, nil
}

func (r *memRepo) Count(ctx context.Context) (int, error) {
	return len(r.users), nil
}

// fakeProvider serves discovery and token endpoints the way an
// upstream OIDC provider would. It records the last token request.
type fakeProvider struct {
	srv       *httptest.Server
	userinfo  map[string]any
	lastForm  url.Values
	tokenFail *oauthError
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		userinfo: map[string]any{
			"sub":                "ext-123",
			"preferred_username": "alice",
			"email":              "alice@provider.example",
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DiscoveryDocument{
			Issuer:                p.srv.URL,
			AuthorizationEndpoint: p.srv.URL + "/auth",
			TokenEndpoint:         p.srv.URL + "/token",
			UserinfoEndpoint:      p.srv.URL + "/userinfo",
			JWKSURI:               p.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		p.lastForm = r.PostForm
		if p.tokenFail != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(p.tokenFail)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "provider-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"userinfo":     p.userinfo,
		})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func testClient(t *testing.T, p *fakeProvider, repo *memRepo, copts ...ClientOption) *Client {
	t.Helper()
	opts := Options{
		Enabled:      true,
		ClientID:     "auth-service",
		ClientSecret: "client-secret",
		DiscoveryURL: p.srv.URL + "/.well-known/openid-configuration",
		RedirectURI:  "http://localhost:8000/api/auth/oidc/callback",
		Scopes:       []string{"openid", "profile", "email"},
	}
	return NewClient(opts, NewFlowStore(), repo, copts...)
}

func TestBeginFlow_Disabled(t *testing.T) {
	c := NewClient(Options{Enabled: false}, NewFlowStore(), newMemRepo())
	if _, _, err := c.BeginFlow(context.Background()); !autherrors.IsCode(err, autherrors.CodeNotImplemented) {
		t.Errorf("Disabled federation must fail not_implemented, got %v", err)
	}
}

func TestBeginFlow_BuildsAuthorizationURL(t *testing.T) {
	p := newFakeProvider(t)
	c := testClient(t, p, newMemRepo())

	authURL, state, err := c.BeginFlow(context.Background())
	if err != nil {
		t.Fatalf("BeginFlow failed: %v", err)
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()

	if q.Get("response_type") != "code" {
		t.Errorf("Expected response_type=code, got %s", q.Get("response_type"))
	}
	if q.Get("client_id") != "auth-service" {
		t.Errorf("Expected client_id auth-service, got %s", q.Get("client_id"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("Expected S256 challenge method, got %s", q.Get("code_challenge_method"))
	}
	if q.Get("state") != state {
		t.Errorf("URL state %q should match returned state %q", q.Get("state"), state)
	}
	if len(state) < 32 {
		t.Errorf("State should encode at least 32 bytes of entropy, got %d chars", len(state))
	}
	if c.flows.Len() != 1 {
		t.Errorf("Expected one pending flow, got %d", c.flows.Len())
	}

	// The stored verifier must hash to the challenge sent upstream.
	flow, ok := c.flows.Take(state)
	if !ok {
		t.Fatal("Pending flow should be stored under the state")
	}
	hash := sha256.Sum256([]byte(flow.CodeVerifier))
	if base64.RawURLEncoding.EncodeToString(hash[:]) != q.Get("code_challenge") {
		t.Error("code_challenge must be the S256 hash of the stored verifier")
	}
}

func startedState(t *testing.T, c *Client) string {
	t.Helper()
	_, state, err := c.BeginFlow(context.Background())
	if err != nil {
		t.Fatalf("BeginFlow failed: %v", err)
	}
	return state
}

func TestHandleCallback_Success(t *testing.T) {
	p := newFakeProvider(t)
	repo := newMemRepo()
	c := testClient(t, p, repo)
	state := startedState(t, c)

	user, err := c.HandleCallback(context.Background(), "provider-code", state)
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Expected username alice, got %s", user.Username)
	}
	if user.OIDCSub != "ext-123" {
		t.Errorf("Expected oidc_sub ext-123, got %s", user.OIDCSub)
	}
	if user.AuthProvider != domain.ProviderOIDC {
		t.Errorf("Expected provider oidc, got %s", user.AuthProvider)
	}
	if user.PasswordHash != "" {
		t.Error("OIDC-provisioned users must not have a password hash")
	}

	if p.lastForm.Get("code") != "provider-code" {
		t.Errorf("Expected code forwarded to token endpoint, got %s", p.lastForm.Get("code"))
	}
	if p.lastForm.Get("code_verifier") == "" {
		t.Error("Token exchange must include the PKCE verifier")
	}
}

func TestHandleCallback_StateSingleUse(t *testing.T) {
	p := newFakeProvider(t)
	c := testClient(t, p, newMemRepo())
	state := startedState(t, c)

	if _, err := c.HandleCallback(context.Background(), "provider-code", state); err != nil {
		t.Fatalf("First callback failed: %v", err)
	}
	if _, err := c.HandleCallback(context.Background(), "provider-code", state); !autherrors.IsCode(err, autherrors.CodeInvalidInput) {
		t.Errorf("Replayed state must fail invalid_input, got %v", err)
	}
}

func TestHandleCallback_UnknownState(t *testing.T) {
	p := newFakeProvider(t)
	c := testClient(t, p, newMemRepo())

	_, err := c.HandleCallback(context.Background(), "provider-code", "never-issued")
	if !autherrors.IsCode(err, autherrors.CodeInvalidInput) {
		t.Errorf("Unknown state must fail invalid_input, got %v", err)
	}
	if autherrors.Detail(err) != "invalid state" {
		t.Errorf("Expected detail %q, got %q", "invalid state", autherrors.Detail(err))
	}
}

func TestHandleCallback_ProviderRejection(t *testing.T) {
	p := newFakeProvider(t)
	p.tokenFail = &oauthError{Error: "invalid_grant", Description: "code verifier mismatch"}
	c := testClient(t, p, newMemRepo())
	state := startedState(t, c)

	_, err := c.HandleCallback(context.Background(), "provider-code", state)
	if !autherrors.IsCode(err, autherrors.CodeInvalidInput) {
		t.Errorf("Provider grant rejection must surface as invalid_input, got %v", err)
	}
	if !strings.Contains(autherrors.Detail(err), "invalid_grant") {
		t.Errorf("Detail should carry the provider error, got %q", autherrors.Detail(err))
	}
}

func TestProcessUserInfo_LinksExistingUser(t *testing.T) {
	p := newFakeProvider(t)
	repo := newMemRepo()
	existing := &domain.User{
		ID:           "u1",
		Username:     "alice",
		Email:        "old@provider.example",
		Role:         domain.RoleModerator,
		Active:       true,
		OIDCSub:      "ext-123",
		AuthProvider: domain.ProviderOIDC,
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	}
	repo.users["u1"] = existing
	c := testClient(t, p, repo)

	user, err := c.ProcessUserInfo(context.Background(), map[string]any{
		"sub":   "ext-123",
		"email": "new@provider.example",
	})
	if err != nil {
		t.Fatalf("ProcessUserInfo failed: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("Expected existing user u1, got %s", user.ID)
	}
	if user.Email != "new@provider.example" {
		t.Errorf("Expected refreshed email, got %s", user.Email)
	}
	if user.Role != domain.RoleModerator {
		t.Errorf("Linking must not change the role, got %s", user.Role)
	}
	if user.LastLogin.IsZero() {
		t.Error("Linking should record last_login")
	}
}

func TestProcessUserInfo_UsernameCollision(t *testing.T) {
	p := newFakeProvider(t)
	repo := newMemRepo()
	repo.users["u1"] = &domain.User{ID: "u1", Username: "alice", Active: true}
	repo.users["u2"] = &domain.User{ID: "u2", Username: "alice_1", Active: true}
	c := testClient(t, p, repo)

	user, err := c.ProcessUserInfo(context.Background(), map[string]any{
		"sub":                "ext-999",
		"preferred_username": "alice",
	})
	if err != nil {
		t.Fatalf("ProcessUserInfo failed: %v", err)
	}
	if user.Username != "alice_2" {
		t.Errorf("Expected suffixed username alice_2, got %s", user.Username)
	}
}

func TestProcessUserInfo_MissingSubject(t *testing.T) {
	p := newFakeProvider(t)
	c := testClient(t, p, newMemRepo())

	_, err := c.ProcessUserInfo(context.Background(), map[string]any{"email": "x@example.com"})
	if !autherrors.IsCode(err, autherrors.CodeInvalidInput) {
		t.Errorf("Missing sub must fail invalid_input, got %v", err)
	}
}

func TestProcessUserInfo_StoreFailure(t *testing.T) {
	p := newFakeProvider(t)
	repo := newMemRepo()
	repo.failing = true

	strict := testClient(t, p, repo)
	if _, err := strict.ProcessUserInfo(context.Background(), map[string]any{"sub": "ext-123"}); !autherrors.IsCode(err, autherrors.CodeInternal) {
		t.Errorf("Store failure without fallback must fail internal, got %v", err)
	}

	fallback := testClient(t, p, repo, WithClientDevFallback(true))
	user, err := fallback.ProcessUserInfo(context.Background(), map[string]any{"sub": "ext-123"})
	if err != nil {
		t.Fatalf("Dev fallback should synthesize a user: %v", err)
	}
	if user.Username != "oidc-ext-123" {
		t.Errorf("Expected synthetic username oidc-ext-123, got %s", user.Username)
	}
}
