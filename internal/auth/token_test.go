package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/campusgate/internal/auth"
	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

func testUser() *models.DirectoryUser {
	return &models.DirectoryUser{ID: "u-1", Email: "t@u.edu", Role: models.RoleTeacher}
}

func TestTokenManager_AccessToken_RoundTrip(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, time.Hour)

	token, err := tm.GenerateAccessToken(testUser())
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_RefreshToken_UniqueJTI(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, time.Hour)

	_, first, err := tm.GenerateRefreshToken("u-1")
	require.NoError(t, err)
	_, second, err := tm.GenerateRefreshToken("u-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.TokenTypeRefresh, first.Type)
	assert.WithinDuration(t, time.Now().Add(time.Hour), first.ExpiresAt.Time, 5*time.Second)
}

func TestTokenManager_ValidateToken_WrongType(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, time.Hour)

	refresh, _, err := tm.GenerateRefreshToken("u-1")
	require.NoError(t, err)

	_, err = tm.ValidateToken(refresh, models.TokenTypeAccess)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestTokenManager_ValidateToken_Expired(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, -time.Minute, time.Hour)

	token, err := tm.GenerateAccessToken(testUser())
	require.NoError(t, err)

	_, err = tm.ValidateToken(token, models.TokenTypeAccess)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestTokenManager_ValidateToken_WrongSecret(t *testing.T) {
	issuer := auth.NewTokenManager(testSecret, 15*time.Minute, time.Hour)
	verifier := auth.NewTokenManager("another-secret-that-is-also-32-bytes-long", 15*time.Minute, time.Hour)

	token, err := issuer.GenerateAccessToken(testUser())
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token, models.TokenTypeAccess)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestTokenManager_ValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, time.Hour)

	claims := &models.TokenClaims{
		Type:   models.TokenTypeAccess,
		UserID: "u-1",
		Role:   models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tm.ValidateToken(unsigned, models.TokenTypeAccess)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestTokenManager_ValidateToken_Garbage(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, time.Hour)

	_, err := tm.ValidateToken("not-a-jwt", models.TokenTypeAccess)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}
