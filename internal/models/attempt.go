package models

import "time"

// AttemptRecord is the failure history tracked per login identifier.
// Deactivated is one-way; a future LockedUntil blocks regardless of count.
type AttemptRecord struct {
	FailureCount  int        `json:"failure_count" db:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty" db:"last_failure_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	Deactivated   bool       `json:"deactivated" db:"deactivated"`
}

// IsLocked reports whether the record carries a lock that has not expired at now
func (r *AttemptRecord) IsLocked(now time.Time) bool {
	return r.LockedUntil != nil && now.Before(*r.LockedUntil)
}

// AttemptInfo is the status a login screen needs before and after an attempt.
// LockoutSeconds is zero when no lock is active.
type AttemptInfo struct {
	Deactivated    bool `json:"is_deactivated"`
	LockoutSeconds int  `json:"lockout_seconds,omitempty"`
}

// Blocked reports whether a login attempt must be rejected locally
func (i AttemptInfo) Blocked() bool {
	return i.Deactivated || i.LockoutSeconds > 0
}
