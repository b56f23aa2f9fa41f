package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/campusgate/internal/models"
)

// MockCodeSender records delivered codes for testing
type MockCodeSender struct {
	SendCodeFunc func(ctx context.Context, user *models.DirectoryUser, code string, expiresAt time.Time) error

	mu    sync.Mutex
	codes map[string]string
}

func (m *MockCodeSender) SendCode(ctx context.Context, user *models.DirectoryUser, code string, expiresAt time.Time) error {
	if m.SendCodeFunc != nil {
		if err := m.SendCodeFunc(ctx, user, code, expiresAt); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[user.ID] = code
	return nil
}

// LastCode returns the most recent code sent to userID
func (m *MockCodeSender) LastCode(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[userID]
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	RevokeTokenFunc    func(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error
	IsTokenRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, userID, expiresAt, reason)
	}
	return nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, jti)
	}
	return false, nil
}
