package session

import (
	"context"
	"sync/atomic"

	"github.com/BradenHooton/campusgate/internal/models"
)

// MockCredentialService implements CredentialService for testing
type MockCredentialService struct {
	LoginStepOneFunc func(ctx context.Context, req models.StepOneRequest) error
	LoginStepTwoFunc func(ctx context.Context, identifier, code string) (*models.StepTwoResult, error)
	RefreshFunc      func(ctx context.Context) (string, error)
	LogoutFunc       func(ctx context.Context) error

	StepOneCalls atomic.Int32
	StepTwoCalls atomic.Int32
	RefreshCalls atomic.Int32
	LogoutCalls  atomic.Int32
}

func (m *MockCredentialService) LoginStepOne(ctx context.Context, req models.StepOneRequest) error {
	m.StepOneCalls.Add(1)
	if m.LoginStepOneFunc != nil {
		return m.LoginStepOneFunc(ctx, req)
	}
	return nil
}

func (m *MockCredentialService) LoginStepTwo(ctx context.Context, identifier, code string) (*models.StepTwoResult, error) {
	m.StepTwoCalls.Add(1)
	if m.LoginStepTwoFunc != nil {
		return m.LoginStepTwoFunc(ctx, identifier, code)
	}
	return nil, models.ErrInvalidCode
}

func (m *MockCredentialService) Refresh(ctx context.Context) (string, error) {
	m.RefreshCalls.Add(1)
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx)
	}
	return "", models.ErrRefreshFailed
}

func (m *MockCredentialService) Logout(ctx context.Context) error {
	m.LogoutCalls.Add(1)
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx)
	}
	return nil
}

// FixedCodeCredentialService returns a mock accepting password for any
// identifier and code as the one-time code; the user gets role.
func FixedCodeCredentialService(password, code string, role models.Role) *MockCredentialService {
	return &MockCredentialService{
		LoginStepOneFunc: func(ctx context.Context, req models.StepOneRequest) error {
			if req.Password != password {
				return models.ErrInvalidCredentials
			}
			return nil
		},
		LoginStepTwoFunc: func(ctx context.Context, identifier, got string) (*models.StepTwoResult, error) {
			if got != code {
				return nil, models.ErrInvalidCode
			}
			return &models.StepTwoResult{
				User:        models.UserProfile{ID: "user-" + identifier, Email: identifier, Name: "Test User", Role: role},
				AccessToken: "access-" + identifier,
			}, nil
		},
		RefreshFunc: func(ctx context.Context) (string, error) {
			return "refreshed-token", nil
		},
	}
}
