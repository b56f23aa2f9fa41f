package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/campusgate/internal/auth"
	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/BradenHooton/campusgate/internal/services"
	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
)

// CredentialServiceInterface defines the credential server's business logic
type CredentialServiceInterface interface {
	StepOne(ctx context.Context, req models.StepOneRequest) error
	StepTwo(ctx context.Context, identifier, code string) (*services.LoginTokens, error)
	Refresh(ctx context.Context, refreshToken string) (*services.LoginTokens, error)
	Logout(ctx context.Context, refreshToken string) error
	Profile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// CredentialHandler serves the credential server's auth endpoints
type CredentialHandler struct {
	service      CredentialServiceInterface
	cookieConfig auth.CookieConfig
	logger       *slog.Logger
}

// NewCredentialHandler creates a new CredentialHandler
func NewCredentialHandler(service CredentialServiceInterface, cookieConfig auth.CookieConfig, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{
		service:      service,
		cookieConfig: cookieConfig,
		logger:       logger,
	}
}

// StepOneRequest is the body of the first login step
type StepOneRequest struct {
	Identifier          string `json:"identifier" validate:"required,max=254"`
	SecondaryIdentifier string `json:"secondary_identifier" validate:"omitempty,max=254"`
	Password            string `json:"password" validate:"required,max=128"`
}

// StepTwoRequest is the body of the second login step
type StepTwoRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Code       string `json:"code" validate:"required,max=10"`
}

// RefreshResponse carries a fresh access token
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// StepOne verifies the primary credential and sends a one-time code
func (h *CredentialHandler) StepOne(w http.ResponseWriter, r *http.Request) {
	var req StepOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.StepOne(r.Context(), models.StepOneRequest{
		Identifier:          req.Identifier,
		SecondaryIdentifier: req.SecondaryIdentifier,
		Password:            req.Password,
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			pkghttp.WriteUnauthorized(w, "Invalid credentials")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "code_sent"})
}

// StepTwo verifies the one-time code, returns the access token and sets
// the refresh cookie.
func (h *CredentialHandler) StepTwo(w http.ResponseWriter, r *http.Request) {
	var req StepTwoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	tokens, err := h.service.StepTwo(r.Context(), req.Identifier, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCode):
			pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_code", "Invalid code")
		case errors.Is(err, models.ErrExpired):
			pkghttp.WriteGone(w, "Code expired")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.setRefreshCookie(w, tokens)
	pkghttp.WriteJSON(w, http.StatusOK, models.StepTwoResult{
		User:        *tokens.User,
		AccessToken: tokens.AccessToken,
	})
}

// Refresh exchanges the refresh cookie for a new access token and rotates it
func (h *CredentialHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := auth.GetRefreshTokenCookie(r)
	if err != nil || refreshToken == "" {
		pkghttp.WriteUnauthorized(w, "Missing refresh token")
		return
	}

	tokens, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		auth.ClearRefreshTokenCookie(w, h.cookieConfig)
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid refresh token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.setRefreshCookie(w, tokens)
	pkghttp.WriteJSON(w, http.StatusOK, RefreshResponse{AccessToken: tokens.AccessToken})
}

// Logout revokes the refresh cookie, if any, and clears it. It always succeeds.
func (h *CredentialHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if refreshToken, err := auth.GetRefreshTokenCookie(r); err == nil && refreshToken != "" {
		if err := h.service.Logout(r.Context(), refreshToken); err != nil {
			h.logger.Warn("failed to revoke refresh token on logout", slog.Any("error", err))
		}
	}

	auth.ClearRefreshTokenCookie(w, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me returns the profile of the access token's user
func (h *CredentialHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	profile, err := h.service.Profile(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "Unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

func (h *CredentialHandler) setRefreshCookie(w http.ResponseWriter, tokens *services.LoginTokens) {
	auth.SetRefreshTokenCookie(w, tokens.RefreshToken, time.Until(tokens.RefreshExpiresAt), h.cookieConfig)
}
