package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nd-se/auth-service/internal/domain"
	autherrors "github.com/nd-se/auth-service/internal/errors"
	"github.com/nd-se/auth-service/internal/metrics"
	"github.com/nd-se/auth-service/internal/store"
)

const (
	// MinUsernameLength is the minimum accepted username length.
	MinUsernameLength = 3
	// MaxUsernameLength is the maximum accepted username length.
	MaxUsernameLength = 50
)

// Service orchestrates login, registration, token refresh and password
// changes. Tokens are stateless; logout is advisory and handled at the
// HTTP layer.
type Service struct {
	users   store.UserRepository
	tokens  *TokenIssuer
	lockout *LockoutService
	logger  *slog.Logger
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithLockout enables account lockout after repeated failed logins.
func WithLockout(lockout *LockoutService) ServiceOption {
	return func(s *Service) {
		s.lockout = lockout
	}
}

// NewService creates a new auth Service.
func NewService(users store.UserRepository, tokens *TokenIssuer, opts ...ServiceOption) *Service {
	s := &Service{
		users:  users,
		tokens: tokens,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Tokens returns the token issuer.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// Login verifies credentials and issues a token pair. Unknown users,
// password mismatches, inactive accounts and OIDC-only accounts all
// fail with the same unauthorized message.
func (s *Service) Login(ctx context.Context, username, password string) (*domain.TokenPair, error) {
	if s.lockout != nil && s.lockout.IsLocked(username) {
		metrics.RecordLogin("locked")
		return nil, autherrors.New(autherrors.CodeRateLimited, "account temporarily locked")
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if autherrors.IsCode(err, autherrors.CodeNotFound) {
			return nil, s.loginFailure(username)
		}
		return nil, autherrors.Internal("user store unavailable", err)
	}

	// OIDC-only accounts have no password and cannot use this path.
	if !user.IsLocal() || !VerifyPassword(password, user.PasswordHash) {
		return nil, s.loginFailure(username)
	}

	if !user.Active {
		return nil, s.loginFailure(username)
	}

	if s.lockout != nil {
		s.lockout.RecordSuccess(username)
	}

	user.LastLogin = time.Now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, autherrors.Internal("failed to issue tokens", err)
	}

	metrics.RecordLogin("success")
	s.logger.Info("user logged in", "user_id", user.ID, "username", user.Username)

	return pair, nil
}

func (s *Service) loginFailure(username string) error {
	metrics.RecordLogin("failure")
	if s.lockout != nil && s.lockout.RecordFailure(username) {
		metrics.RecordLockout()
		s.logger.Warn("account locked after repeated failures", "username", username)
	}
	return autherrors.Unauthorized("incorrect username or password")
}

// Register creates a local account. The response view never carries the
// credential field.
func (s *Service) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return nil, autherrors.InvalidInput(fmt.Sprintf("username must be %d-%d characters", MinUsernameLength, MaxUsernameLength))
	}
	if email == "" {
		return nil, autherrors.InvalidInput("email is required")
	}
	if !ValidatePassword(password) {
		return nil, autherrors.InvalidInput(fmt.Sprintf("password must be %d-%d characters", MinPasswordLength, MaxPasswordLength))
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, autherrors.InvalidInput("username already registered")
	} else if !autherrors.IsCode(err, autherrors.CodeNotFound) {
		return nil, autherrors.Internal("user store unavailable", err)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, autherrors.InvalidInput("email already registered")
	} else if !autherrors.IsCode(err, autherrors.CodeNotFound) {
		return nil, autherrors.Internal("user store unavailable", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, autherrors.Internal("failed to hash password", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		Active:       true,
		AuthProvider: domain.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if autherrors.IsCode(err, autherrors.CodeAlreadyExists) {
			return nil, autherrors.InvalidInput(autherrors.Detail(err))
		}
		return nil, err
	}

	metrics.RecordRegistration()
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)

	return user.View(), nil
}

// Refresh validates a refresh token and issues a fresh access/refresh
// pair. Refresh tokens are not rotated or revocation-tracked; a token
// stays valid until its natural expiry.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, ok := s.tokens.Verify(refreshToken, TokenTypeRefresh)
	if !ok {
		return nil, autherrors.Unauthorized("invalid refresh token")
	}
	if claims.Subject == "" || claims.UserID == "" {
		return nil, autherrors.Unauthorized("invalid token payload")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if autherrors.IsCode(err, autherrors.CodeNotFound) {
			return nil, autherrors.Unauthorized("user not found")
		}
		return nil, autherrors.Internal("user store unavailable", err)
	}
	if !user.Active {
		return nil, autherrors.Unauthorized("user not found")
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, autherrors.Internal("failed to issue tokens", err)
	}

	metrics.RecordTokenRefresh()
	return pair, nil
}

// ChangePassword re-verifies the current password before persisting a
// new hash.
func (s *Service) ChangePassword(ctx context.Context, identity *domain.Identity, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, identity.UserID)
	if err != nil {
		if autherrors.IsCode(err, autherrors.CodeNotFound) {
			return autherrors.Unauthorized("user not found")
		}
		return autherrors.Internal("user store unavailable", err)
	}

	if !user.IsLocal() {
		return autherrors.InvalidInput("password login is not available for this account")
	}

	if !VerifyPassword(currentPassword, user.PasswordHash) {
		return autherrors.InvalidInput("current password is incorrect")
	}

	if !ValidatePassword(newPassword) {
		return autherrors.InvalidInput(fmt.Sprintf("password must be %d-%d characters", MinPasswordLength, MaxPasswordLength))
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return autherrors.Internal("failed to hash password", err)
	}

	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return autherrors.Internal("failed to update password", err)
	}

	s.logger.Info("password changed", "user_id", user.ID)
	return nil
}

// SetRole updates a user's role. Used by startup bootstrap; there is
// no HTTP surface for role changes.
func (s *Service) SetRole(ctx context.Context, userID string, role domain.Role) error {
	if !role.Valid() {
		return autherrors.InvalidInput("unknown role")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	user.Role = role
	if err := s.users.Update(ctx, user); err != nil {
		return autherrors.Internal("failed to update role", err)
	}

	s.logger.Info("role updated", "user_id", userID, "role", role)
	return nil
}

// IssueTokens issues a token pair for an already-resolved user. Used by
// the OIDC federation client so SSO users receive the same local pair
// as password-login users.
func (s *Service) IssueTokens(user *domain.User) (*domain.TokenPair, error) {
	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, autherrors.Internal("failed to issue tokens", err)
	}
	return pair, nil
}
