package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/campusgate/internal/login"
	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/BradenHooton/campusgate/internal/services"
	"github.com/BradenHooton/campusgate/internal/session"
	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginOrchestrator implements LoginOrchestrator for testing
type MockLoginOrchestrator struct {
	AttemptLoginFunc  func(ctx context.Context, store *session.Store, creds login.Credentials) login.Result
	CompleteLoginFunc func(ctx context.Context, store *session.Store, identifier, code string) login.Result
}

func (m *MockLoginOrchestrator) AttemptLogin(ctx context.Context, store *session.Store, creds login.Credentials) login.Result {
	if m.AttemptLoginFunc == nil {
		return login.Result{Outcome: login.OutcomeUnavailable, Err: models.ErrServiceUnavailable}
	}
	return m.AttemptLoginFunc(ctx, store, creds)
}

func (m *MockLoginOrchestrator) CompleteLogin(ctx context.Context, store *session.Store, identifier, code string) login.Result {
	if m.CompleteLoginFunc == nil {
		return login.Result{Outcome: login.OutcomeUnavailable, Err: models.ErrServiceUnavailable}
	}
	return m.CompleteLoginFunc(ctx, store, identifier, code)
}

// MockAttemptReader implements AttemptReader for testing
type MockAttemptReader struct {
	GetAttemptInfoFunc func(identifier string) models.AttemptInfo
}

func (m *MockAttemptReader) GetAttemptInfo(identifier string) models.AttemptInfo {
	if m.GetAttemptInfoFunc == nil {
		return models.AttemptInfo{}
	}
	return m.GetAttemptInfoFunc(identifier)
}

// MockCredentialService implements CredentialServiceInterface for testing
type MockCredentialService struct {
	StepOneFunc func(ctx context.Context, req models.StepOneRequest) error
	StepTwoFunc func(ctx context.Context, identifier, code string) (*services.LoginTokens, error)
	RefreshFunc func(ctx context.Context, refreshToken string) (*services.LoginTokens, error)
	LogoutFunc  func(ctx context.Context, refreshToken string) error
	ProfileFunc func(ctx context.Context, userID string) (*models.UserProfile, error)
}

func (m *MockCredentialService) StepOne(ctx context.Context, req models.StepOneRequest) error {
	if m.StepOneFunc == nil {
		return models.ErrInvalidCredentials
	}
	return m.StepOneFunc(ctx, req)
}

func (m *MockCredentialService) StepTwo(ctx context.Context, identifier, code string) (*services.LoginTokens, error) {
	if m.StepTwoFunc == nil {
		return nil, models.ErrInvalidCode
	}
	return m.StepTwoFunc(ctx, identifier, code)
}

func (m *MockCredentialService) Refresh(ctx context.Context, refreshToken string) (*services.LoginTokens, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockCredentialService) Logout(ctx context.Context, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, refreshToken)
}

func (m *MockCredentialService) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if m.ProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ProfileFunc(ctx, userID)
}
