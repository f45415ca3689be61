// Package file implements file-based storage using JSON files.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nd-se/auth-service/internal/domain"
	autherrors "github.com/nd-se/auth-service/internal/errors"
	"github.com/nd-se/auth-service/internal/store"
)

// Store implements store.Store using JSON files for persistence.
type Store struct {
	dataDir string
	mu      sync.RWMutex

	users *userRepository
}

// NewStore creates a new file-based store.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		dataDir: dataDir,
	}
	s.users = &userRepository{store: s}

	return s, nil
}

func (s *Store) Users() store.UserRepository { return s.users }
func (s *Store) Close() error                { return nil }

// Helper methods for file operations

func (s *Store) filePath(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}

func (s *Store) readFile(name string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filePath(name))
	if os.IsNotExist(err) {
		return nil // Empty collection
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) writeFile(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath(name), data, 0600)
}

// User Repository

type userRepository struct {
	store *Store
}

type usersData struct {
	Users []*domain.User `json:"users"`
}

func (r *userRepository) load() (*usersData, error) {
	var data usersData
	if err := r.store.readFile("users", &data); err != nil {
		return nil, err
	}
	if data.Users == nil {
		data.Users = []*domain.User{}
	}
	return &data, nil
}

func (r *userRepository) save(data *usersData) error {
	return r.store.writeFile("users", data)
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	data, err := r.load()
	if err != nil {
		return autherrors.Internal("failed to load users", err)
	}

	for _, u := range data.Users {
		if u.ID == user.ID {
			return autherrors.AlreadyExists("user id already exists")
		}
		if u.Username == user.Username {
			return autherrors.AlreadyExists("username already registered")
		}
		if u.Email == user.Email {
			return autherrors.AlreadyExists("email already registered")
		}
		if user.OIDCSub != "" && u.OIDCSub == user.OIDCSub {
			return autherrors.AlreadyExists("oidc subject already linked")
		}
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	data.Users = append(data.Users, user)

	return r.save(data)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id }, "user", id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == username }, "user", username)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Email == email }, "user with email", email)
}

func (r *userRepository) GetByOIDCSub(ctx context.Context, sub string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.OIDCSub != "" && u.OIDCSub == sub }, "user with oidc subject", sub)
}

func (r *userRepository) find(match func(*domain.User) bool, resource, id string) (*domain.User, error) {
	data, err := r.load()
	if err != nil {
		return nil, autherrors.Internal("failed to load users", err)
	}

	for _, u := range data.Users {
		if match(u) {
			return u, nil
		}
	}
	return nil, autherrors.NotFound(resource, id)
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	data, err := r.load()
	if err != nil {
		return autherrors.Internal("failed to load users", err)
	}

	for i, u := range data.Users {
		if u.ID == user.ID {
			user.UpdatedAt = time.Now().UTC()
			data.Users[i] = user
			return r.save(data)
		}
	}
	return autherrors.NotFound("user", user.ID)
}

func (r *userRepository) List(ctx context.Context, filter store.UserFilter) ([]*domain.User, error) {
	data, err := r.load()
	if err != nil {
		return nil, autherrors.Internal("failed to load users", err)
	}

	var users []*domain.User
	for _, u := range data.Users {
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		users = append(users, u)
	}

	if filter.Skip > 0 {
		if filter.Skip >= len(users) {
			return nil, nil
		}
		users = users[filter.Skip:]
	}
	if filter.Limit > 0 && filter.Limit < len(users) {
		users = users[:filter.Limit]
	}

	return users, nil
}

func (r *userRepository) Count(ctx context.Context) (int, error) {
	data, err := r.load()
	if err != nil {
		return 0, autherrors.Internal("failed to load users", err)
	}
	return len(data.Users), nil
}
