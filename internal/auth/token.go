package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		now:                time.Now,
	}
}

// RefreshTokenExpiry is the lifetime of issued refresh tokens
func (tm *TokenManager) RefreshTokenExpiry() time.Duration {
	return tm.refreshTokenExpiry
}

// GenerateAccessToken creates a short-lived access token carrying the user's role
func (tm *TokenManager) GenerateAccessToken(user *models.DirectoryUser) (string, error) {
	token, _, err := tm.sign(models.TokenTypeAccess, user.ID, user.Role, tm.accessTokenExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, nil
}

// GenerateRefreshToken creates a long-lived refresh token with JTI.
// The returned claims let callers track the JTI for revocation.
func (tm *TokenManager) GenerateRefreshToken(userID string) (string, *models.TokenClaims, error) {
	token, claims, err := tm.sign(models.TokenTypeRefresh, userID, "", tm.refreshTokenExpiry)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return token, claims, nil
}

func (tm *TokenManager) sign(tokenType, userID string, role models.Role, ttl time.Duration) (string, *models.TokenClaims, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ValidateToken verifies a token and checks it is of the expected type
func (tm *TokenManager) ValidateToken(tokenString, expectedType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != expectedType {
		return nil, fmt.Errorf("%w: expected %s token", models.ErrUnauthorized, expectedType)
	}

	return claims, nil
}
