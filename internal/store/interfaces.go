// Package store defines repository interfaces for persistence.
package store

import (
	"context"

	"github.com/nd-se/auth-service/internal/domain"
)

// UserFilter narrows List results.
type UserFilter struct {
	Active *bool
	Role   domain.Role
	Skip   int
	Limit  int
}

// UserRepository defines operations for user persistence.
//
// Implementations back onto the platform's document store; only point
// lookups by unique field, insert, partial update and filtered listing
// are required. Lookup misses are reported with CodeNotFound; transport
// or storage failures with CodeInternal, so callers can tell an absent
// user from an unreachable store.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByOIDCSub(ctx context.Context, sub string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	List(ctx context.Context, filter UserFilter) ([]*domain.User, error)
	Count(ctx context.Context) (int, error)
}

// Store aggregates all repositories.
type Store interface {
	Users() UserRepository
	Close() error
}
