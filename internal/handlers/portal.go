package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/campusgate/internal/guard"
	"github.com/BradenHooton/campusgate/internal/login"
	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/BradenHooton/campusgate/internal/session"
	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
)

// LoginOrchestrator runs the two login steps against a tab's session
type LoginOrchestrator interface {
	AttemptLogin(ctx context.Context, store *session.Store, creds login.Credentials) login.Result
	CompleteLogin(ctx context.Context, store *session.Store, identifier, code string) login.Result
}

// AttemptReader reports lockout status for the login screen
type AttemptReader interface {
	GetAttemptInfo(identifier string) models.AttemptInfo
}

// StoreSource returns the session store for a tab
type StoreSource interface {
	Get(ctx context.Context, scope session.Scope) (*session.Store, error)
}

// PortalHandler serves the gateway's login and session endpoints
type PortalHandler struct {
	orchestrator LoginOrchestrator
	attempts     AttemptReader
	stores       StoreSource
	cookies      SessionCookies
	logger       *slog.Logger
}

// NewPortalHandler creates a new PortalHandler
func NewPortalHandler(orchestrator LoginOrchestrator, attempts AttemptReader, stores StoreSource, cookies SessionCookies, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{
		orchestrator: orchestrator,
		attempts:     attempts,
		stores:       stores,
		cookies:      cookies,
		logger:       logger,
	}
}

// Request DTOs

// LoginRequest is the first login step
type LoginRequest struct {
	Identifier          string `json:"identifier" validate:"required,max=254"`
	SecondaryIdentifier string `json:"secondary_identifier" validate:"omitempty,max=254"`
	Password            string `json:"password" validate:"required,max=128"`
}

// OTPRequest is the second login step
type OTPRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Code       string `json:"code" validate:"required,numeric,min=4,max=10"`
}

// Response DTOs

// LoginResponse is returned when a one-time code has been sent
type LoginResponse struct {
	Status            string `json:"status"`
	PendingIdentifier string `json:"pending_identifier"`
}

// AttemptErrorResponse is an error that carries the identifier's lockout status
type AttemptErrorResponse struct {
	pkghttp.ErrorResponse
	Attempts models.AttemptInfo `json:"attempts"`
}

// PendingResponse lets a reloaded tab resume code entry
type PendingResponse struct {
	PendingIdentifier string `json:"pending_identifier"`
}

// ViewResponse describes a rendered portal view
type ViewResponse struct {
	View  string              `json:"view"`
	User  *models.UserProfile `json:"user,omitempty"`
	TabID string              `json:"tab_id,omitempty"`
}

// ResolveStore finds the store of the tab that sent r. It never issues
// cookies; a request without them has no session.
func (h *PortalHandler) ResolveStore(r *http.Request) (*session.Store, error) {
	scope, err := h.cookies.Read(r)
	if err != nil {
		return nil, err
	}
	return h.stores.Get(r.Context(), scope)
}

func (h *PortalHandler) store(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	store, err := h.stores.Get(r.Context(), h.cookies.Ensure(w, r))
	if err != nil {
		h.logger.Error("failed to resolve session store", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return nil, false
	}
	return store, true
}

// Attempts reports the lockout status of an identifier. It never mutates it.
func (h *PortalHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	identifier := models.NormalizeIdentifier(r.URL.Query().Get("identifier"))
	if identifier == "" {
		pkghttp.WriteBadRequest(w, "identifier is required")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.attempts.GetAttemptInfo(identifier))
}

// Login runs the first login step
func (h *PortalHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	result := h.orchestrator.AttemptLogin(r.Context(), store, login.Credentials{
		Identifier:          req.Identifier,
		SecondaryIdentifier: req.SecondaryIdentifier,
		Password:            req.Password,
	})

	switch result.Outcome {
	case login.OutcomeSuccess:
		pkghttp.WriteJSON(w, http.StatusAccepted, LoginResponse{
			Status:            "code_sent",
			PendingIdentifier: store.State().PendingIdentifier,
		})
	case login.OutcomeLocked:
		w.Header().Set("Retry-After", strconv.Itoa(result.Attempts.LockoutSeconds))
		writeAttemptError(w, http.StatusTooManyRequests, "locked", "Too many failed attempts. Try again later.", result.Attempts)
	case login.OutcomeDeactivated:
		writeAttemptError(w, http.StatusForbidden, "deactivated", "This account has been deactivated.", result.Attempts)
	case login.OutcomeInvalid:
		if errors.Is(result.Err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "identifier is required")
			return
		}
		writeAttemptError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials", result.Attempts)
	default:
		pkghttp.WriteServiceUnavailable(w, "Sign-in is temporarily unavailable")
	}
}

func writeAttemptError(w http.ResponseWriter, status int, code, message string, info models.AttemptInfo) {
	pkghttp.WriteJSON(w, status, AttemptErrorResponse{
		ErrorResponse: pkghttp.ErrorResponse{Error: code, Message: message},
		Attempts:      info,
	})
}

// Pending returns the identifier awaiting a one-time code in this tab
func (h *PortalHandler) Pending(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, PendingResponse{PendingIdentifier: store.State().PendingIdentifier})
}

// OTP runs the second login step
func (h *PortalHandler) OTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	result := h.orchestrator.CompleteLogin(r.Context(), store, req.Identifier, req.Code)

	switch result.Outcome {
	case login.OutcomeSuccess:
		pkghttp.WriteJSON(w, http.StatusOK, store.State())
	case login.OutcomeInvalidCode:
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_code", "The code is not valid")
	case login.OutcomeExpired:
		pkghttp.WriteGone(w, "The code has expired. Please sign in again.")
	case login.OutcomeNoPending:
		pkghttp.WriteConflict(w, "No sign-in is waiting for a code")
	default:
		pkghttp.WriteServiceUnavailable(w, "Sign-in is temporarily unavailable")
	}
}

// Logout ends the session in every tab of the browser
func (h *PortalHandler) Logout(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	store.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Session returns the tab's session state
func (h *PortalHandler) Session(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, store.State())
}

// PublicView serves an unguarded view, makes sure the browser has its
// cookies and tells the page which tab id to send as X-Portal-Tab
func (h *PortalHandler) PublicView(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.cookies.Ensure(w, r)
		pkghttp.WriteJSON(w, http.StatusOK, ViewResponse{View: name, TabID: h.cookies.PageTab(r)})
	}
}

// GuardedView serves a view admitted by the guard middleware
func (h *PortalHandler) GuardedView(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, ok := guard.StoreFromContext(r.Context())
		if !ok {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, ViewResponse{View: name, User: store.State().User})
	}
}
