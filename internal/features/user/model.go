package user

import (
	"errors"
	"slices"
)

// ErrNotFound is returned by every UserRepository when the id is unknown.
var ErrNotFound = errors.New("user not found")

const StatusActive = "active"

// User is the directory view of a person that can act in approval workflows.
// Permissions are granted and stored elsewhere; this service only reads them.
type User struct {
	ID          string   `bson:"_id" json:"id" yaml:"id"`
	Username    string   `bson:"username" json:"username" yaml:"username"`
	Email       string   `bson:"email,omitempty" json:"email,omitempty" yaml:"email"`
	Status      string   `bson:"status" json:"status" yaml:"status"` // active, inactive, suspended
	Permissions []string `bson:"permissions" json:"permissions" yaml:"permissions"`
}

func (u *User) IsActive() bool {
	return u != nil && u.Status == StatusActive
}

func (u *User) HasPermission(permission string) bool {
	return slices.Contains(u.Permissions, permission)
}
