package domain

import (
	"slices"

	"classifieds/internal/common/types"
)

// RoleAdmin is the identity service role that bypasses ownership checks.
const RoleAdmin = "ROLE_ADMIN"

// User is the identity service's view of an account.
type User struct {
	ID    types.UserID `json:"id"`
	Name  string       `json:"name"`
	Roles []string     `json:"role"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return slices.Contains(u.Roles, RoleAdmin)
}

// CanModify applies the owner-or-admin rule to a resource owned by owner.
func (u User) CanModify(owner types.UserID) bool {
	return u.ID == owner || u.IsAdmin()
}
