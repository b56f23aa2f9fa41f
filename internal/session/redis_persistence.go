package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/redis/go-redis/v9"
)

const defaultPersistencePrefix = "campusgate:session:"

// RedisPersistence stores snapshots, pending identifiers and credential
// cookies in Redis. Cookies share the snapshot TTL.
// Each scope has its own TTL, refreshed on every write; a zero TTL keeps
// keys until they are deleted.
type RedisPersistence struct {
	client      redis.UniversalClient
	prefix      string
	snapshotTTL time.Duration
	pendingTTL  time.Duration
}

// NewRedisPersistence creates a RedisPersistence
func NewRedisPersistence(client redis.UniversalClient, prefix string, snapshotTTL, pendingTTL time.Duration) *RedisPersistence {
	if prefix == "" {
		prefix = defaultPersistencePrefix
	}
	return &RedisPersistence{
		client:      client,
		prefix:      prefix,
		snapshotTTL: snapshotTTL,
		pendingTTL:  pendingTTL,
	}
}

func (p *RedisPersistence) snapshotKey(browser string) string {
	return p.prefix + "snapshot:" + browser
}

func (p *RedisPersistence) pendingKey(scope Scope) string {
	return p.prefix + "pending:" + scope.Browser + ":" + scope.Tab
}

func (p *RedisPersistence) cookiesKey(browser string) string {
	return p.prefix + "cookies:" + browser
}

func (p *RedisPersistence) LoadSnapshot(ctx context.Context, browser string) (*models.DurableSnapshot, error) {
	raw, err := p.client.Get(ctx, p.snapshotKey(browser)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}

	var snap models.DurableSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return &snap, nil
}

func (p *RedisPersistence) SaveSnapshot(ctx context.Context, browser string, snapshot models.DurableSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}
	return p.client.Set(ctx, p.snapshotKey(browser), data, p.snapshotTTL).Err()
}

func (p *RedisPersistence) DeleteSnapshot(ctx context.Context, browser string) error {
	return p.client.Del(ctx, p.snapshotKey(browser)).Err()
}

func (p *RedisPersistence) LoadPending(ctx context.Context, scope Scope) (string, error) {
	identifier, err := p.client.Get(ctx, p.pendingKey(scope)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load pending login: %w", err)
	}
	return identifier, nil
}

func (p *RedisPersistence) SavePending(ctx context.Context, scope Scope, identifier string) error {
	return p.client.Set(ctx, p.pendingKey(scope), identifier, p.pendingTTL).Err()
}

func (p *RedisPersistence) DeletePending(ctx context.Context, scope Scope) error {
	return p.client.Del(ctx, p.pendingKey(scope)).Err()
}

// LoadCredentialCookies returns the credential cookies held for browser
func (p *RedisPersistence) LoadCredentialCookies(ctx context.Context, browser string) ([]models.CredentialCookie, error) {
	fields, err := p.client.HGetAll(ctx, p.cookiesKey(browser)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load credential cookies: %w", err)
	}

	cookies := make([]models.CredentialCookie, 0, len(fields))
	for _, raw := range fields {
		var c models.CredentialCookie
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("failed to decode credential cookie: %w", err)
		}
		cookies = append(cookies, c)
	}
	return cookies, nil
}

func (p *RedisPersistence) SaveCredentialCookie(ctx context.Context, browser string, cookie models.CredentialCookie) error {
	data, err := json.Marshal(cookie)
	if err != nil {
		return fmt.Errorf("failed to encode credential cookie: %w", err)
	}

	key := p.cookiesKey(browser)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, cookieField(cookie.Name, cookie.Path), data)
		if p.snapshotTTL > 0 {
			pipe.Expire(ctx, key, p.snapshotTTL)
		}
		return nil
	})
	return err
}

func (p *RedisPersistence) DeleteCredentialCookie(ctx context.Context, browser, name, path string) error {
	return p.client.HDel(ctx, p.cookiesKey(browser), cookieField(name, path)).Err()
}
