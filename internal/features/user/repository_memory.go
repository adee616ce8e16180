package user

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go-opsdesk/internal/config"

	"gopkg.in/yaml.v3"
)

// MemoryUserRepository backs the memory store driver and tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryUserRepository(users ...User) *MemoryUserRepository {
	r := &MemoryUserRepository{users: make(map[string]User)}
	for _, u := range users {
		r.Put(u)
	}
	return r
}

// NewMemoryUserRepositoryFromConfig seeds the directory from USERS_FILE when set.
func NewMemoryUserRepositoryFromConfig(cfg *config.Config) (UserRepository, error) {
	if cfg.UsersFile == "" {
		return NewMemoryUserRepository(), nil
	}
	users, err := LoadUsersFile(cfg.UsersFile)
	if err != nil {
		return nil, err
	}
	return NewMemoryUserRepository(users...), nil
}

// LoadUsersFile reads a YAML list of users:
//
//	users:
//	  - id: u1
//	    username: alice
//	    status: active
//	    permissions: [add_approvers]
func LoadUsersFile(path string) ([]User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var doc struct {
		Users []User `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	return doc.Users, nil
}

// Put inserts or replaces a user. Tests use it to change permissions between calls.
func (r *MemoryUserRepository) Put(u User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.Permissions = append([]string(nil), u.Permissions...)
	r.users[u.ID] = u
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) FindByIDs(_ context.Context, ids []string) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := []User{}
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}
