package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nd-se/auth-service/internal/domain"
	autherrors "github.com/nd-se/auth-service/internal/errors"
	"github.com/nd-se/auth-service/internal/store"
)

// memRepo is an in-memory UserRepository for tests. failing simulates
// an unreachable store.
type memRepo struct {
	users   map[string]*domain.User
	failing bool
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]*domain.User)}
}

func (r *memRepo) Create(ctx context.Context, user *domain.User) error {
	if r.failing {
		return autherrors.Internal("store unavailable", errors.New("connection refused"))
	}
	for _, u := range r.users {
		if u.Username == user.Username {
			return autherrors.AlreadyExists("username already registered")
		}
		if u.Email == user.Email {
			return autherrors.AlreadyExists("email already registered")
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if r.failing {
		return nil, autherrors.Internal("store unavailable", errors.New("connection refused"))
	}
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, autherrors.NotFound("user", id)
}

func (r *memRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if r.failing {
		return nil, autherrors.Internal("store unavailable", errors.New("connection refused"))
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
		return nil, autherrors.Internal("store unavailable", errors.New("connection refused"))
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
		return nil, autherrors.Internal("store unavailable", errors.New("connection refused"))
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
		return autherrors.Internal("store unavailable", errors.New("connection refused"))
	}
	if _, ok := r.users[user.ID]; !ok {
		return autherrors.NotFound("user", user.ID)
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memRepo) List(ctx context.Context, filter store.UserFilter) ([]*domain.User, error) {
	if r.failing {
		return nil, autherrors.Internal("store unavailable", errors.New("connection refused"))
	}
	var out []*domain.User
	for _, u := range r.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) Count(ctx context.Context) (int, error) {
	if r.failing {
		return 0, autherrors.Internal("store unavailable", errors.New("connection refused"))
	}
	return len(r.users), nil
}

func testService(t *testing.T, repo *memRepo, opts ...ServiceOption) *Service {
	t.Helper()
	return NewService(repo, testIssuer(), opts...)
}

func seedLocalUser(t *testing.T, repo *memRepo, username, password string) *domain.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	user := &domain.User{
		ID:           "id-" + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         domain.RoleUser,
		Active:       true,
		AuthProvider: domain.ProviderLocal,
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestService_LoginSuccess(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo)
	seedLocalUser(t, repo, "alice", "password123")

	pair, err := svc.Login(context.Background(), "alice", "password123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.TokenType != "bearer" {
		t.Errorf("Expected token_type bearer, got %s", pair.TokenType)
	}

	claims, ok := svc.Tokens().Verify(pair.AccessToken, TokenTypeAccess)
	if !ok {
		t.Fatal("Access token should verify")
	}
	if claims.Subject != "alice" {
		t.Errorf("Expected subject alice, got %s", claims.Subject)
	}

	stored, _ := repo.GetByUsername(context.Background(), "alice")
	if stored.LastLogin.IsZero() {
		t.Error("Login should record last_login")
	}
}

func TestService_LoginFailures(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo)
	seedLocalUser(t, repo, "alice", "password123")

	inactive := seedLocalUser(t, repo, "bob", "password123")
	inactive.Active = false
	if err := repo.Update(context.Background(), inactive); err != nil {
		t.Fatalf("update: %v", err)
	}

	oidcUser := &domain.User{
		ID:           "id-carol",
		Username:     "carol",
		Email:        "carol@example.com",
		Role:         domain.RoleUser,
		Active:       true,
		OIDCSub:      "ext-carol",
		AuthProvider: domain.ProviderOIDC,
	}
	if err := repo.Create(context.Background(), oidcUser); err != nil {
		t.Fatalf("seed oidc user: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"unknown user", "nobody", "password123"},
		{"wrong password", "alice", "wrong-password"},
		{"inactive user", "bob", "password123"},
		{"oidc-only account", "carol", "password123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.username, tt.password)
			if !autherrors.IsCode(err, autherrors.CodeUnauthorized) {
				t.Errorf("Expected unauthorized, got %v", err)
			}
			if autherrors.Detail(err) != "incorrect username or password" {
				t.Errorf("All login failures must share one message, got %q", autherrors.Detail(err))
			}
		})
	}
}

func TestService_LoginStoreFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failing = true
	svc := testService(t, repo)

	_, err := svc.Login(context.Background(), "alice", "password123")
	if !autherrors.IsCode(err, autherrors.CodeInternal) {
		t.Errorf("Store failure must not masquerade as bad credentials, got %v", err)
	}
}

func TestService_LoginLockout(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo, WithLockout(NewLockoutService(2, time.Minute)))
	seedLocalUser(t, repo, "alice", "password123")

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(context.Background(), "alice", "wrong"); !autherrors.IsCode(err, autherrors.CodeUnauthorized) {
			t.Fatalf("attempt %d: expected unauthorized, got %v", i, err)
		}
	}

	// Correct password no longer helps while locked.
	_, err := svc.Login(context.Background(), "alice", "password123")
	if !autherrors.IsCode(err, autherrors.CodeRateLimited) {
		t.Errorf("Expected rate_limited while locked, got %v", err)
	}
}

func TestService_Register(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo)

	user, err := svc.Register(context.Background(), "alice", "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.PasswordHash != "" {
		t.Error("Registration response must not expose the password hash")
	}
	if user.Role != domain.RoleUser {
		t.Errorf("Expected default role user, got %s", user.Role)
	}
	if !user.Active {
		t.Error("New users should be active")
	}
	if user.AuthProvider != domain.ProviderLocal {
		t.Errorf("Expected provider local, got %s", user.AuthProvider)
	}

	stored, err := repo.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUsername failed: %v", err)
	}
	if !VerifyPassword("password123", stored.PasswordHash) {
		t.Error("Stored hash should verify the original password")
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo)
	seedLocalUser(t, repo, "alice", "password123")

	tests := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"short username", "ab", "ab@example.com", "password123"},
		{"long username", string(make([]byte, 51)), "x@example.com", "password123"},
		{"empty email", "newuser", "", "password123"},
		{"short password", "newuser", "new@example.com", "12345"},
		{"duplicate username", "alice", "other@example.com", "password123"},
		{"duplicate email", "newuser", "alice@example.com", "password123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.username, tt.email, tt.password)
			if !autherrors.IsCode(err, autherrors.CodeInvalidInput) {
				t.Errorf("Expected invalid_input, got %v", err)
			}
		})
	}
}

func TestService_Refresh(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo)
	user := seedLocalUser(t, repo, "alice", "password123")

	refresh, err := svc.Tokens().IssueRefresh(user)
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	pair, err := svc.Refresh(context.Background(), refresh)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, ok := svc.Tokens().Verify(pair.AccessToken, TokenTypeAccess); !ok {
		t.Error("Refreshed access token should verify")
	}

	// An access token must not pass as a refresh token.
	access, err := svc.Tokens().IssueAccess(user)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), access); !autherrors.IsCode(err, autherrors.CodeUnauthorized) {
		t.Errorf("Access token used as refresh must fail unauthorized, got %v", err)
	}
}

func TestService_RefreshInactiveUser(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo)
	user := seedLocalUser(t, repo, "alice", "password123")

	refresh, err := svc.Tokens().IssueRefresh(user)
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	user.Active = false
	if err := repo.Update(context.Background(), user); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := svc.Refresh(context.Background(), refresh); !autherrors.IsCode(err, autherrors.CodeUnauthorized) {
		t.Errorf("Refresh for deactivated user must fail unauthorized, got %v", err)
	}
}

func TestService_ChangePassword(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo)
	user := seedLocalUser(t, repo, "alice", "password123")
	identity := domain.IdentityFromUser(user)

	if err := svc.ChangePassword(context.Background(), identity, "wrong", "newpassword"); !autherrors.IsCode(err, autherrors.CodeInvalidInput) {
		t.Errorf("Wrong current password must fail invalid_input, got %v", err)
	}

	if err := svc.ChangePassword(context.Background(), identity, "password123", "short"); !autherrors.IsCode(err, autherrors.CodeInvalidInput) {
		t.Errorf("Policy-violating new password must fail invalid_input, got %v", err)
	}

	if err := svc.ChangePassword(context.Background(), identity, "password123", "newpassword"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := svc.Login(context.Background(), "alice", "password123"); err == nil {
		t.Error("Old password should no longer work")
	}
	if _, err := svc.Login(context.Background(), "alice", "newpassword"); err != nil {
		t.Errorf("New password should work: %v", err)
	}
}
