package models

import (
	"slices"
	"strings"
)

// Role is the portal role attached to a user profile
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known portal roles
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

// RoleSet is the allow-list attached to a protected route. An empty set
// means any authenticated role.
type RoleSet []Role

// Contains reports whether role is a member of the set
func (s RoleSet) Contains(role Role) bool {
	return slices.Contains(s, role)
}

// UserProfile is the non-sensitive user snapshot shared with the browser
// and persisted across reloads.
type UserProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// NormalizeIdentifier case-folds and trims a login identifier (email or
// national id) so every component keys state the same way.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
