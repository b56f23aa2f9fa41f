package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/campusgate/internal/auth"
	"github.com/BradenHooton/campusgate/internal/models"
	pkgauth "github.com/BradenHooton/campusgate/pkg/auth"
	pkglogger "github.com/BradenHooton/campusgate/pkg/logger"
)

// UserDirectory looks up users known to the credential server
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.DirectoryUser, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.DirectoryUser, error)
}

// TokenRevocationRepository defines the interface for token revocation operations
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// LoginTokens is issued on a completed login or a refresh
type LoginTokens struct {
	User             *models.UserProfile
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// rotationGrace is how long a rotated refresh token may be presented once
// more. The replay receives the tokens its first presentation produced.
const rotationGrace = 5 * time.Second

type rotation struct {
	at     time.Time
	tokens *LoginTokens
	reused bool
}

// CredentialService implements the two-step login, refresh and logout
// operations of the development credential server.
type CredentialService struct {
	directory   UserDirectory
	challenges  *auth.ChallengeManager
	tm          *auth.TokenManager
	revokeRepo  TokenRevocationRepository
	sender      CodeSender
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger

	rotMu     sync.Mutex
	rotations map[string]*rotation
	now       func() time.Time
}

// NewCredentialService creates a new CredentialService
func NewCredentialService(
	directory UserDirectory,
	challenges *auth.ChallengeManager,
	tm *auth.TokenManager,
	revokeRepo TokenRevocationRepository,
	sender CodeSender,
	timing *auth.TimingDelay,
	logger *slog.Logger,
) *CredentialService {
	return &CredentialService{
		directory:   directory,
		challenges:  challenges,
		tm:          tm,
		revokeRepo:  revokeRepo,
		sender:      sender,
		timing:      timing,
		logger:      logger,
		auditLogger: pkglogger.NewAuditLogger(logger),
		rotations:   make(map[string]*rotation),
		now:         time.Now,
	}
}

// StepOne verifies the primary credential and sends a one-time code.
// Unknown identifiers, wrong passwords, mismatched secondary identifiers
// and disabled users all return ErrInvalidCredentials after the same delay.
func (s *CredentialService) StepOne(ctx context.Context, req models.StepOneRequest) error {
	start := time.Now()
	identifier := models.NormalizeIdentifier(req.Identifier)

	user, reason := s.checkPrimary(ctx, identifier, req)
	if reason != "" {
		s.timing.WaitFrom(start, false)
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "step_one_failed",
			Identifier:    identifier,
			FailureReason: reason,
		})
		if reason == "lookup_error" {
			return models.ErrInternalServer
		}
		return models.ErrInvalidCredentials
	}

	code, expiresAt, err := s.challenges.Issue(identifier, user.ID)
	if err != nil {
		s.logger.Error("failed to issue login challenge", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.sender.SendCode(ctx, user, code, expiresAt); err != nil {
		s.logger.Error("failed to deliver login code",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.timing.WaitFrom(start, true)
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:  "step_one_succeeded",
		UserID:     user.ID,
		Identifier: identifier,
		Success:    true,
	})
	return nil
}

// checkPrimary returns the user or a failure reason for the audit log
func (s *CredentialService) checkPrimary(ctx context.Context, identifier string, req models.StepOneRequest) (*models.DirectoryUser, string) {
	if identifier == "" || req.Password == "" {
		return nil, "missing_credentials"
	}

	user, err := s.directory.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, "unknown_identifier"
		}
		s.logger.Error("failed to look up user", slog.Any("error", err))
		return nil, "lookup_error"
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		return nil, "invalid_password"
	}
	if !user.MatchesSecondary(req.SecondaryIdentifier) {
		return nil, "secondary_mismatch"
	}
	if user.Disabled {
		return nil, "account_disabled"
	}
	return user, ""
}

// StepTwo verifies the one-time code and issues tokens
func (s *CredentialService) StepTwo(ctx context.Context, identifier, code string) (*LoginTokens, error) {
	identifier = models.NormalizeIdentifier(identifier)

	userID, err := s.challenges.Verify(identifier, code)
	if err != nil {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "step_two_failed",
			Identifier:    identifier,
			FailureReason: err.Error(),
		})
		return nil, err
	}

	user, err := s.directory.GetByID(ctx, userID)
	if err != nil {
		s.logger.Error("challenge user vanished from directory", slog.String("user_id", userID))
		return nil, models.ErrInternalServer
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:  "login_succeeded",
		UserID:     user.ID,
		Identifier: identifier,
		Success:    true,
	})
	return tokens, nil
}

// Refresh validates a refresh token and rotates it. The presented token is
// revoked so it cannot be replayed.
func (s *CredentialService) Refresh(ctx context.Context, refreshToken string) (*LoginTokens, error) {
	claims, err := s.tm.ValidateToken(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revokeRepo.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("failed to check token revocation", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if revoked {
		if tokens, ok := s.replayRotation(ctx, claims.ID); ok {
			s.logger.Info("rotated refresh token replayed within grace window", slog.String("user_id", claims.UserID))
			return tokens, nil
		}
		s.logger.Warn("revoked refresh token presented", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.directory.GetByID(ctx, claims.UserID)
	if err != nil || user.Disabled {
		return nil, models.ErrUnauthorized
	}

	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time, "rotated"); err != nil {
		s.logger.Error("failed to revoke rotated refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}
	s.rememberRotation(claims.ID, tokens)
	return tokens, nil
}

func (s *CredentialService) rememberRotation(jti string, tokens *LoginTokens) {
	now := s.now()

	s.rotMu.Lock()
	defer s.rotMu.Unlock()

	for id, r := range s.rotations {
		if now.Sub(r.at) > rotationGrace {
			delete(s.rotations, id)
		}
	}
	s.rotations[jti] = &rotation{at: now, tokens: tokens}
}

func (s *CredentialService) forgetRotation(jti string) {
	s.rotMu.Lock()
	delete(s.rotations, jti)
	s.rotMu.Unlock()
}

// replayRotation returns the successor tokens of jti when it was rotated
// within the grace window and has not been replayed yet
func (s *CredentialService) replayRotation(ctx context.Context, jti string) (*LoginTokens, bool) {
	s.rotMu.Lock()
	r, ok := s.rotations[jti]
	if !ok || r.reused || s.now().Sub(r.at) > rotationGrace {
		s.rotMu.Unlock()
		return nil, false
	}
	r.reused = true
	tokens := r.tokens
	s.rotMu.Unlock()

	// the successor may have been logged out since
	claims, err := s.tm.ValidateToken(tokens.RefreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil, false
	}
	revoked, err := s.revokeRepo.IsTokenRevoked(ctx, claims.ID)
	if err != nil || revoked {
		return nil, false
	}
	return tokens, true
}

// Logout revokes the refresh token. Invalid tokens are ignored.
func (s *CredentialService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tm.ValidateToken(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		return nil
	}

	s.forgetRotation(claims.ID)
	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time, "logout"); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	s.auditLogger.LogSessionAction("credential_logout", claims.UserID, nil)
	return nil
}

// Profile returns the profile of an authenticated user
func (s *CredentialService) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	user, err := s.directory.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Profile(), nil
}

func (s *CredentialService) issueTokens(user *models.DirectoryUser) (*LoginTokens, error) {
	accessToken, err := s.tm.GenerateAccessToken(user)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, refreshClaims, err := s.tm.GenerateRefreshToken(user.ID)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &LoginTokens{
		User:             user.Profile(),
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}
