package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/campusgate/internal/auth"
	"github.com/BradenHooton/campusgate/internal/handlers"
	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/BradenHooton/campusgate/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokens() *services.LoginTokens {
	return &services.LoginTokens{
		User:             &models.UserProfile{ID: "u-student", Email: "student@campus.edu", Name: "Sam Student", Role: models.RoleStudent},
		AccessToken:      "access_token_123",
		RefreshToken:     "refresh_token_123",
		RefreshExpiresAt: time.Now().Add(time.Hour),
	}
}

func newCredentialHandler(svc *handlers.MockCredentialService) *handlers.CredentialHandler {
	return handlers.NewCredentialHandler(svc, auth.CookieConfig{SameSite: "lax"}, discardLogger())
}

func TestStepOne(t *testing.T) {
	tests := []struct {
		name           string
		body           handlers.StepOneRequest
		err            error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "code sent",
			body:           handlers.StepOneRequest{Identifier: "student@campus.edu", Password: testPassword},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid credentials",
			body:           handlers.StepOneRequest{Identifier: "student@campus.edu", Password: "wrong"},
			err:            models.ErrInvalidCredentials,
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "delivery failure",
			body:           handlers.StepOneRequest{Identifier: "student@campus.edu", Password: testPassword},
			err:            models.ErrInternalServer,
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
		{
			name:           "missing password",
			body:           handlers.StepOneRequest{Identifier: "student@campus.edu"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.StepOneRequest
			svc := &handlers.MockCredentialService{
				StepOneFunc: func(ctx context.Context, req models.StepOneRequest) error {
					got = req
					return tt.err
				},
			}

			w := httptest.NewRecorder()
			newCredentialHandler(svc).StepOne(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/login-step-one", tt.body))

			if tt.expectedError != "" {
				handlers.AssertErrorResponse(t, w, tt.expectedStatus, tt.expectedError)
				return
			}
			var resp map[string]string
			handlers.AssertJSONResponse(t, w, tt.expectedStatus, &resp)
			assert.Equal(t, "code_sent", resp["status"])
			assert.Equal(t, tt.body.Identifier, got.Identifier)
		})
	}
}

func TestStepTwo_SetsRefreshCookie(t *testing.T) {
	svc := &handlers.MockCredentialService{
		StepTwoFunc: func(ctx context.Context, identifier, code string) (*services.LoginTokens, error) {
			return testTokens(), nil
		},
	}

	w := httptest.NewRecorder()
	newCredentialHandler(svc).StepTwo(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/login-step-two", handlers.StepTwoRequest{
		Identifier: "student@campus.edu",
		Code:       testCode,
	}))

	var resp models.StepTwoResult
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, models.RoleStudent, resp.User.Role)
	assert.NotContains(t, w.Body.String(), "refresh_token_123")

	cookie := cookieNamed(w, auth.RefreshTokenCookieName)
	require.NotNil(t, cookie)
	assert.Equal(t, "refresh_token_123", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/auth", cookie.Path)
}

func TestStepTwo_Failures(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{"wrong code", models.ErrInvalidCode, http.StatusUnauthorized, "invalid_code"},
		{"expired", models.ErrExpired, http.StatusGone, "expired"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &handlers.MockCredentialService{
				StepTwoFunc: func(ctx context.Context, identifier, code string) (*services.LoginTokens, error) {
					return nil, tt.err
				},
			}

			w := httptest.NewRecorder()
			newCredentialHandler(svc).StepTwo(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/login-step-two", handlers.StepTwoRequest{
				Identifier: "student@campus.edu",
				Code:       testCode,
			}))

			handlers.AssertErrorResponse(t, w, tt.expectedStatus, tt.expectedError)
			assert.Nil(t, cookieNamed(w, auth.RefreshTokenCookieName))
		})
	}
}

func TestRefresh(t *testing.T) {
	t.Run("missing cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		newCredentialHandler(&handlers.MockCredentialService{}).Refresh(w, httptest.NewRequest(http.MethodPost, "/auth/refresh", nil))
		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("rotates the cookie", func(t *testing.T) {
		var presented string
		svc := &handlers.MockCredentialService{
			RefreshFunc: func(ctx context.Context, refreshToken string) (*services.LoginTokens, error) {
				presented = refreshToken
				tokens := testTokens()
				tokens.AccessToken = "access_token_456"
				tokens.RefreshToken = "refresh_token_456"
				return tokens, nil
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: auth.RefreshTokenCookieName, Value: "refresh_token_123"})
		w := httptest.NewRecorder()
		newCredentialHandler(svc).Refresh(w, req)

		var resp handlers.RefreshResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "access_token_456", resp.AccessToken)
		assert.Equal(t, "refresh_token_123", presented)

		cookie := cookieNamed(w, auth.RefreshTokenCookieName)
		require.NotNil(t, cookie)
		assert.Equal(t, "refresh_token_456", cookie.Value)
	})

	t.Run("revoked token clears the cookie", func(t *testing.T) {
		svc := &handlers.MockCredentialService{
			RefreshFunc: func(ctx context.Context, refreshToken string) (*services.LoginTokens, error) {
				return nil, models.ErrUnauthorized
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: auth.RefreshTokenCookieName, Value: "revoked"})
		w := httptest.NewRecorder()
		newCredentialHandler(svc).Refresh(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
		cookie := cookieNamed(w, auth.RefreshTokenCookieName)
		require.NotNil(t, cookie)
		assert.Empty(t, cookie.Value)
		assert.Negative(t, cookie.MaxAge)
	})
}

func TestCredentialLogout_AlwaysSucceeds(t *testing.T) {
	var revoked string
	svc := &handlers.MockCredentialService{
		LogoutFunc: func(ctx context.Context, refreshToken string) error {
			revoked = refreshToken
			return errors.New("store unavailable")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshTokenCookieName, Value: "refresh_token_123"})
	w := httptest.NewRecorder()
	newCredentialHandler(svc).Logout(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "refresh_token_123", revoked)
	cookie := cookieNamed(w, auth.RefreshTokenCookieName)
	require.NotNil(t, cookie)
	assert.Negative(t, cookie.MaxAge)
}

func TestMe(t *testing.T) {
	tm := auth.NewTokenManager("test-secret-key-at-least-32-chars!", 15*time.Minute, time.Hour)
	token, err := tm.GenerateAccessToken(&models.DirectoryUser{ID: "u-teacher", Email: "teacher@campus.edu", Role: models.RoleTeacher})
	require.NoError(t, err)

	svc := &handlers.MockCredentialService{
		ProfileFunc: func(ctx context.Context, userID string) (*models.UserProfile, error) {
			if userID != "u-teacher" {
				return nil, models.ErrNotFound
			}
			return &models.UserProfile{ID: userID, Email: "teacher@campus.edu", Name: "Tess Teacher", Role: models.RoleTeacher}, nil
		},
	}
	me := auth.AuthMiddleware(tm)(http.HandlerFunc(newCredentialHandler(svc).Me))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	me.ServeHTTP(w, req)

	var profile models.UserProfile
	handlers.AssertJSONResponse(t, w, http.StatusOK, &profile)
	assert.Equal(t, models.RoleTeacher, profile.Role)

	w = httptest.NewRecorder()
	newCredentialHandler(svc).Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}
