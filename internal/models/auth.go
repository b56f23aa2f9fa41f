package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types issued by the credential service
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims are the JWT claims issued by the credential service
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// DirectoryUser is a user known to the credential service
type DirectoryUser struct {
	ID           string
	Email        string
	NationalID   string
	Name         string
	Role         Role
	PasswordHash string
	Disabled     bool
}

// Profile returns the browser-safe projection of the user
func (u *DirectoryUser) Profile() *UserProfile {
	return &UserProfile{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
	}
}

// MatchesSecondary reports whether a secondary identifier supplied at login
// names this user. An empty value always matches.
func (u *DirectoryUser) MatchesSecondary(secondary string) bool {
	secondary = NormalizeIdentifier(secondary)
	if secondary == "" {
		return true
	}
	return secondary == u.Email || (u.NationalID != "" && secondary == u.NationalID)
}
