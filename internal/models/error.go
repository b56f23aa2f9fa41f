package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login and session errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidCode        = errors.New("invalid one-time code")
	ErrExpired            = errors.New("one-time code expired")
	ErrLocked             = errors.New("identifier is temporarily locked")
	ErrDeactivated        = errors.New("identifier is deactivated")
	ErrServiceUnavailable = errors.New("credential service unavailable")
	ErrRefreshFailed      = errors.New("token refresh failed")
	ErrNoPendingLogin     = errors.New("no pending login for identifier")
)
