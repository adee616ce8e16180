package approval

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go-opsdesk/internal/features/user"
)

// Actor is the resolved caller. It is passed explicitly into every engine call.
type Actor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	IsActive    bool     `json:"isActive"`
	Permissions []string `json:"permissions"`
}

func (a Actor) Has(permissions ...string) bool {
	for _, p := range permissions {
		if slices.Contains(a.Permissions, p) {
			return true
		}
	}
	return false
}

// Snapshot is the actor as stored alongside audit events.
func (a Actor) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"id":          a.ID,
		"name":        a.Name,
		"isActive":    a.IsActive,
		"permissions": a.Permissions,
	}
}

// Authorizer turns a user id into an Actor. It fails closed: a missing,
// unknown or inactive user is Forbidden.
type Authorizer struct {
	Users user.UserRepository
}

func NewAuthorizer(users user.UserRepository) *Authorizer {
	return &Authorizer{Users: users}
}

func (a *Authorizer) Resolve(ctx context.Context, userID string) (Actor, error) {
	if userID == "" {
		return Actor{}, newError(KindForbidden, "caller identity is missing")
	}

	u, err := a.Users.FindByID(ctx, userID)
	if errors.Is(err, user.ErrNotFound) {
		return Actor{}, newError(KindForbidden, "unknown user %s", userID)
	}
	if err != nil {
		return Actor{}, fmt.Errorf("resolve actor %s: %w", userID, err)
	}
	if !u.IsActive() {
		return Actor{}, newError(KindForbidden, "user %s is not active", userID)
	}

	return Actor{
		ID:          u.ID,
		Name:        u.Username,
		IsActive:    true,
		Permissions: append([]string(nil), u.Permissions...),
	}, nil
}

// Require returns Forbidden unless the actor is active and holds one of permissions.
func (a *Authorizer) Require(actor Actor, permissions ...string) error {
	if !actor.IsActive {
		return newError(KindForbidden, "user %s is not active", actor.ID)
	}
	if !actor.Has(permissions...) {
		return newError(KindForbidden, "user %s lacks permission %v", actor.ID, permissions).
			with("required", permissions)
	}
	return nil
}
