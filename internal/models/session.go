package models

import "time"

// SessionState is a read-only view of one tab's session.
// The access token itself is never exposed through it.
type SessionState struct {
	User              *UserProfile `json:"user,omitempty"`
	IsAuthenticated   bool         `json:"is_authenticated"`
	HasAccessToken    bool         `json:"-"`
	PendingIdentifier string       `json:"pending_identifier,omitempty"`
}

// DurableSnapshot is the single reload-surviving session record.
// It must never carry the access token.
type DurableSnapshot struct {
	User            *UserProfile `json:"user,omitempty"`
	IsAuthenticated bool         `json:"is_authenticated"`
}

// StepOneRequest carries the primary credential for the first login step
type StepOneRequest struct {
	Identifier          string `json:"identifier"`
	SecondaryIdentifier string `json:"secondary_identifier,omitempty"`
	Password            string `json:"password"`
}

// StepTwoResult is returned once the one-time code has been accepted
type StepTwoResult struct {
	User        UserProfile `json:"user"`
	AccessToken string      `json:"access_token"`
}

// CredentialCookie is a cookie set by the Credential Service for one
// browser, kept gateway side so every gateway instance presents it.
// It is stored apart from DurableSnapshot.
type CredentialCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires,omitempty"`
}

// Expired reports whether the cookie has a past expiry
func (c CredentialCookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}
