// Package login sequences the lockout check, the credential exchange and
// the recording of its outcome so no caller can skip a step.
package login

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BradenHooton/campusgate/internal/attempts"
	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/BradenHooton/campusgate/internal/session"
	pkglogger "github.com/BradenHooton/campusgate/pkg/logger"
)

// Outcome tags a login Result
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeLocked      Outcome = "locked"
	OutcomeDeactivated Outcome = "deactivated"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeInvalidCode Outcome = "invalid_code"
	OutcomeExpired     Outcome = "expired"
	OutcomeNoPending   Outcome = "no_pending"
)

// Result is what the login screen renders. Attempts carries the tracker
// status after the attempt, so a lock caused by this failure is visible
// without a second read.
type Result struct {
	Outcome  Outcome
	Attempts models.AttemptInfo
	Err      error
}

// Credentials is one login form submission
type Credentials struct {
	Identifier          string
	SecondaryIdentifier string
	Password            string
}

// Orchestrator owns the check, attempt and record sequence
type Orchestrator struct {
	tracker *attempts.Tracker
	audit   *pkglogger.AuditLogger
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(tracker *attempts.Tracker, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		tracker: tracker,
		audit:   pkglogger.NewAuditLogger(logger),
		logger:  logger,
	}
}

// AttemptLogin runs step one for store. Locked and deactivated identifiers
// are rejected before any network call.
func (o *Orchestrator) AttemptLogin(ctx context.Context, store *session.Store, creds Credentials) Result {
	identifier := models.NormalizeIdentifier(creds.Identifier)

	info := o.tracker.GetAttemptInfo(identifier)
	if info.Deactivated {
		return Result{Outcome: OutcomeDeactivated, Attempts: info, Err: models.ErrDeactivated}
	}
	if info.LockoutSeconds > 0 {
		return Result{Outcome: OutcomeLocked, Attempts: info, Err: models.ErrLocked}
	}

	err := store.LoginStepOne(ctx, models.StepOneRequest{
		Identifier:          identifier,
		SecondaryIdentifier: creds.SecondaryIdentifier,
		Password:            creds.Password,
	})

	switch {
	case err == nil:
		o.tracker.RecordSuccessAttempt(identifier)
		o.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:  "login_step_one",
			Identifier: identifier,
			Success:    true,
		})
		return Result{Outcome: OutcomeSuccess}

	case errors.Is(err, models.ErrInvalidCredentials):
		info = o.tracker.RecordFailedAttempt(identifier)
		o.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_step_one",
			Identifier:    identifier,
			Success:       false,
			FailureReason: "invalid_credentials",
		})
		if info.Blocked() {
			o.audit.LogLockout(identifier, info.LockoutSeconds, info.Deactivated)
		}
		return Result{Outcome: OutcomeInvalid, Attempts: info, Err: err}

	case errors.Is(err, models.ErrBadRequest):
		return Result{Outcome: OutcomeInvalid, Attempts: info, Err: err}

	default:
		o.logger.Warn("login step one unavailable",
			slog.String("identifier", pkglogger.SanitizedIdentifier(identifier)),
			slog.Any("error", err))
		return Result{Outcome: OutcomeUnavailable, Attempts: info, Err: err}
	}
}

// CompleteLogin runs step two for store. It does not consult or update the
// attempt tracker.
func (o *Orchestrator) CompleteLogin(ctx context.Context, store *session.Store, identifier, code string) Result {
	identifier = models.NormalizeIdentifier(identifier)

	err := store.LoginStepTwo(ctx, identifier, code)
	switch {
	case err == nil:
		return Result{Outcome: OutcomeSuccess}
	case errors.Is(err, models.ErrNoPendingLogin):
		return Result{Outcome: OutcomeNoPending, Err: err}
	case errors.Is(err, models.ErrInvalidCode):
		o.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_step_two",
			Identifier:    identifier,
			Success:       false,
			FailureReason: "invalid_code",
		})
		return Result{Outcome: OutcomeInvalidCode, Err: err}
	case errors.Is(err, models.ErrExpired):
		return Result{Outcome: OutcomeExpired, Err: err}
	default:
		o.logger.Warn("login step two unavailable",
			slog.String("identifier", pkglogger.SanitizedIdentifier(identifier)),
			slog.Any("error", err))
		return Result{Outcome: OutcomeUnavailable, Err: err}
	}
}
