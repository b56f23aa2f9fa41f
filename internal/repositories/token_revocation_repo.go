package repositories

import (
	"context"
	"sync"
	"time"
)

type revokedToken struct {
	userID    string
	expiresAt time.Time
	reason    string
}

// TokenRevocationRepository is the credential server's refresh token
// blacklist. Entries are kept until the token would have expired anyway.
type TokenRevocationRepository struct {
	mu      sync.RWMutex
	revoked map[string]revokedToken
	now     func() time.Time
}

func NewTokenRevocationRepository() *TokenRevocationRepository {
	return &TokenRevocationRepository{
		revoked: make(map[string]revokedToken),
		now:     time.Now,
	}
}

// RevokeToken adds a token to the revocation blacklist
func (r *TokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.revoked[jti] = revokedToken{userID: userID, expiresAt: expiresAt, reason: reason}
	r.mu.Unlock()
	return nil
}

// IsTokenRevoked checks if a token is in the revocation blacklist
func (r *TokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	_, ok := r.revoked[jti]
	r.mu.RUnlock()
	return ok, nil
}

// CleanupExpiredTokens removes expired revoked tokens (call periodically)
func (r *TokenRevocationRepository) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for jti, entry := range r.revoked {
		if entry.expiresAt.Before(now) {
			delete(r.revoked, jti)
			removed++
		}
	}
	return removed, nil
}
