package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nd-se/auth-service/internal/domain"
	autherrors "github.com/nd-se/auth-service/internal/errors"
	"github.com/nd-se/auth-service/internal/store"
)

// DevFallbackAdminUsername is the sentinel subject that receives the
// admin role when the dev identity fallback synthesizes an identity.
const DevFallbackAdminUsername = "admin"

// Resolver resolves bearer tokens to caller identities.
type Resolver struct {
	users       store.UserRepository
	tokens      *TokenIssuer
	devFallback bool
	logger      *slog.Logger
}

// ResolverOption configures the Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger for the resolver.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithDevFallback enables the development-only synthetic identity
// fallback used when the user store is unreachable. It must never be
// enabled in a deployment with a reachable store.
func WithDevFallback(enabled bool) ResolverOption {
	return func(r *Resolver) {
		r.devFallback = enabled
	}
}

// NewResolver creates a new identity Resolver.
func NewResolver(users store.UserRepository, tokens *TokenIssuer, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		users:  users,
		tokens: tokens,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequireIdentity resolves a bearer token to the caller's identity.
// Missing, invalid or expired tokens, unresolvable claims, and absent or
// inactive users all yield an unauthorized error.
func (r *Resolver) RequireIdentity(ctx context.Context, bearer string) (*domain.Identity, error) {
	if bearer == "" {
		return nil, autherrors.Unauthorized("could not validate credentials")
	}

	claims, ok := r.tokens.Verify(bearer, TokenTypeAccess)
	if !ok {
		return nil, autherrors.Unauthorized("could not validate credentials")
	}

	if claims.Subject == "" || claims.UserID == "" {
		return nil, autherrors.Unauthorized("invalid token payload")
	}

	user, err := r.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if autherrors.IsCode(err, autherrors.CodeNotFound) {
			return nil, autherrors.Unauthorized("user not found")
		}
		if r.devFallback {
			r.logger.Warn("user store unreachable, using dev identity fallback", "sub", claims.Subject)
			return r.syntheticIdentity(claims), nil
		}
		return nil, autherrors.Internal("user store unavailable", err)
	}

	if !user.Active {
		return nil, autherrors.Unauthorized("user not found")
	}

	return domain.IdentityFromUser(user), nil
}

// OptionalIdentity resolves a bearer token like RequireIdentity but
// yields nil instead of an error on any failure. Used by endpoints that
// personalize for logged-in users while also serving anonymous traffic.
func (r *Resolver) OptionalIdentity(ctx context.Context, bearer string) *domain.Identity {
	if bearer == "" {
		return nil
	}
	identity, err := r.RequireIdentity(ctx, bearer)
	if err != nil {
		return nil
	}
	return identity
}

// syntheticIdentity derives a deterministic identity from token claims.
// Development convenience only; see WithDevFallback.
func (r *Resolver) syntheticIdentity(claims *Claims) *domain.Identity {
	role := domain.RoleUser
	if claims.Subject == DevFallbackAdminUsername {
		role = domain.RoleAdmin
	}
	return &domain.Identity{
		UserID:   claims.UserID,
		Username: claims.Subject,
		Email:    fmt.Sprintf("%s@example.com", claims.Subject),
		Role:     role,
		Active:   true,
	}
}

// RequireRole gates an identity on an allowed role set.
func RequireRole(identity *domain.Identity, allowed ...domain.Role) (*domain.Identity, error) {
	for _, role := range allowed {
		if identity.Role == role {
			return identity, nil
		}
	}
	return nil, autherrors.Forbidden("insufficient permissions")
}

// RequireAdmin gates an identity on the admin role.
func RequireAdmin(identity *domain.Identity) (*domain.Identity, error) {
	identity, err := RequireRole(identity, domain.RoleAdmin)
	if err != nil {
		return nil, autherrors.Forbidden("admin access required")
	}
	return identity, nil
}

// RequireModerator gates an identity on moderator-or-above.
func RequireModerator(identity *domain.Identity) (*domain.Identity, error) {
	identity, err := RequireRole(identity, domain.RoleAdmin, domain.RoleModerator)
	if err != nil {
		return nil, autherrors.Forbidden("moderator access required")
	}
	return identity, nil
}
