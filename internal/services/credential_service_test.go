package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/campusgate/internal/auth"
	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/BradenHooton/campusgate/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testJWTSecret = "credential-service-test-secret-0123456789"

type credentialFixture struct {
	service *CredentialService
	sender  *MockCodeSender
	revoked *repositories.TokenRevocationRepository
	tm      *auth.TokenManager
}

func newCredentialFixture(t *testing.T) *credentialFixture {
	t.Helper()

	directory, err := ParseDirectory([]byte(testDirectoryYAML), bcrypt.MinCost, testLogger())
	require.NoError(t, err)

	f := &credentialFixture{
		sender:  &MockCodeSender{},
		revoked: repositories.NewTokenRevocationRepository(),
		tm:      auth.NewTokenManager(testJWTSecret, 15*time.Minute, time.Hour),
	}
	f.service = NewCredentialService(
		directory,
		auth.NewChallengeManager(auth.ChallengeConfig{TTL: 5 * time.Minute, MaxTries: 3}, nil),
		f.tm,
		f.revoked,
		f.sender,
		auth.NewTimingDelay(auth.TimingConfig{}),
		testLogger(),
	)
	return f
}

func (f *credentialFixture) login(t *testing.T, identifier string) *LoginTokens {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.service.StepOne(ctx, models.StepOneRequest{Identifier: identifier, Password: "Str0ng!Pass"}))
	user, err := f.service.directory.GetByIdentifier(ctx, identifier)
	require.NoError(t, err)

	tokens, err := f.service.StepTwo(ctx, identifier, f.sender.LastCode(user.ID))
	require.NoError(t, err)
	return tokens
}

func TestCredentialService_StepOne_SendsCode(t *testing.T) {
	f := newCredentialFixture(t)

	err := f.service.StepOne(context.Background(), models.StepOneRequest{
		Identifier: "ADA@campus.edu",
		Password:   "Str0ng!Pass",
	})
	require.NoError(t, err)
	assert.Len(t, f.sender.LastCode("u-student"), 6)
}

func TestCredentialService_StepOne_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  models.StepOneRequest
	}{
		{name: "unknown identifier", req: models.StepOneRequest{Identifier: "nobody@campus.edu", Password: "Str0ng!Pass"}},
		{name: "wrong password", req: models.StepOneRequest{Identifier: "ada@campus.edu", Password: "wrong"}},
		{name: "empty password", req: models.StepOneRequest{Identifier: "ada@campus.edu"}},
		{name: "secondary mismatch", req: models.StepOneRequest{Identifier: "ada@campus.edu", SecondaryIdentifier: "99999999999", Password: "Str0ng!Pass"}},
		{name: "disabled user", req: models.StepOneRequest{Identifier: "gone@campus.edu", Password: "Str0ng!Pass"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCredentialFixture(t)
			err := f.service.StepOne(context.Background(), tt.req)
			assert.ErrorIs(t, err, models.ErrInvalidCredentials)
		})
	}
}

func TestCredentialService_StepOne_SecondaryIdentifierMatches(t *testing.T) {
	f := newCredentialFixture(t)

	err := f.service.StepOne(context.Background(), models.StepOneRequest{
		Identifier:          "ada@campus.edu",
		SecondaryIdentifier: "12345678901",
		Password:            "Str0ng!Pass",
	})
	assert.NoError(t, err)
}

func TestCredentialService_StepOne_DeliveryFailure(t *testing.T) {
	f := newCredentialFixture(t)
	f.sender.SendCodeFunc = func(ctx context.Context, user *models.DirectoryUser, code string, expiresAt time.Time) error {
		return errors.New("smtp down")
	}

	err := f.service.StepOne(context.Background(), models.StepOneRequest{Identifier: "ada@campus.edu", Password: "Str0ng!Pass"})
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestCredentialService_StepTwo_IssuesTokens(t *testing.T) {
	f := newCredentialFixture(t)

	tokens := f.login(t, "grace@campus.edu")

	assert.Equal(t, "u-teacher", tokens.User.ID)
	assert.Equal(t, models.RoleTeacher, tokens.User.Role)

	claims, err := f.tm.ValidateToken(tokens.AccessToken, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, claims.Role)

	_, err = f.tm.ValidateToken(tokens.RefreshToken, models.TokenTypeRefresh)
	assert.NoError(t, err)
}

func TestCredentialService_StepTwo_WrongCode(t *testing.T) {
	f := newCredentialFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.StepOne(ctx, models.StepOneRequest{Identifier: "ada@campus.edu", Password: "Str0ng!Pass"}))

	code := f.sender.LastCode("u-student")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err := f.service.StepTwo(ctx, "ada@campus.edu", wrong)
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	tokens, err := f.service.StepTwo(ctx, "ada@campus.edu", code)
	require.NoError(t, err)
	assert.Equal(t, "u-student", tokens.User.ID)
}

func TestCredentialService_StepTwo_WithoutStepOne(t *testing.T) {
	f := newCredentialFixture(t)

	_, err := f.service.StepTwo(context.Background(), "ada@campus.edu", "123456")
	assert.ErrorIs(t, err, models.ErrExpired)
}

func TestCredentialService_Refresh_Rotates(t *testing.T) {
	f := newCredentialFixture(t)
	ctx := context.Background()
	tokens := f.login(t, "ada@campus.edu")

	rotated, err := f.service.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, "u-student", rotated.User.ID)

	_, err = f.service.Refresh(ctx, rotated.RefreshToken)
	assert.NoError(t, err)
}

func TestCredentialService_Refresh_RotatedTokenReplayedOnceWithinGrace(t *testing.T) {
	f := newCredentialFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return now }
	tokens := f.login(t, "ada@campus.edu")

	rotated, err := f.service.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)

	// a second tab presenting the same cookie gets the same successor
	replayed, err := f.service.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, rotated.RefreshToken, replayed.RefreshToken)
	assert.Equal(t, rotated.AccessToken, replayed.AccessToken)

	_, err = f.service.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized, "only one replay")
}

func TestCredentialService_Refresh_RotatedTokenRejectedAfterGrace(t *testing.T) {
	f := newCredentialFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return now }
	tokens := f.login(t, "ada@campus.edu")

	_, err := f.service.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)

	now = now.Add(rotationGrace + time.Second)
	_, err = f.service.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestCredentialService_Refresh_NoReplayAfterSuccessorLogout(t *testing.T) {
	f := newCredentialFixture(t)
	ctx := context.Background()
	tokens := f.login(t, "ada@campus.edu")

	rotated, err := f.service.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, f.service.Logout(ctx, rotated.RefreshToken))

	_, err = f.service.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestCredentialService_Refresh_RejectsAccessToken(t *testing.T) {
	f := newCredentialFixture(t)
	tokens := f.login(t, "ada@campus.edu")

	_, err := f.service.Refresh(context.Background(), tokens.AccessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestCredentialService_Refresh_RevocationCheckFails(t *testing.T) {
	f := newCredentialFixture(t)
	tokens := f.login(t, "ada@campus.edu")

	f.service.revokeRepo = &MockTokenRevocationRepository{
		IsTokenRevokedFunc: func(ctx context.Context, jti string) (bool, error) {
			return false, errors.New("store unavailable")
		},
	}

	_, err := f.service.Refresh(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestCredentialService_Logout_RevokesRefreshToken(t *testing.T) {
	f := newCredentialFixture(t)
	ctx := context.Background()
	tokens := f.login(t, "ada@campus.edu")

	require.NoError(t, f.service.Logout(ctx, tokens.RefreshToken))

	_, err := f.service.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Garbage tokens are ignored
	assert.NoError(t, f.service.Logout(ctx, "garbage"))
}

func TestCredentialService_Profile(t *testing.T) {
	f := newCredentialFixture(t)

	profile, err := f.service.Profile(context.Background(), "u-teacher")
	require.NoError(t, err)
	assert.Equal(t, "grace@campus.edu", profile.Email)

	_, err = f.service.Profile(context.Background(), "u-none")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
