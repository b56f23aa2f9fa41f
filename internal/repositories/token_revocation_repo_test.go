package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRevocationRepository_RevokeAndCheck(t *testing.T) {
	repo := NewTokenRevocationRepository()
	ctx := context.Background()

	revoked, err := repo.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, repo.RevokeToken(ctx, "jti-1", "u-1", time.Now().Add(time.Hour), "logout"))

	revoked, err = repo.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestTokenRevocationRepository_Cleanup(t *testing.T) {
	repo := NewTokenRevocationRepository()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.RevokeToken(ctx, "old", "u-1", now.Add(-time.Minute), "rotated"))
	require.NoError(t, repo.RevokeToken(ctx, "live", "u-1", now.Add(time.Minute), "rotated"))

	removed, err := repo.CleanupExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	revoked, _ := repo.IsTokenRevoked(ctx, "live")
	assert.True(t, revoked)
	revoked, _ = repo.IsTokenRevoked(ctx, "old")
	assert.False(t, revoked)
}

func TestTokenRevocationRepository_CancelledContext(t *testing.T) {
	repo := NewTokenRevocationRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, repo.RevokeToken(ctx, "jti", "u-1", time.Now(), "logout"))
}
