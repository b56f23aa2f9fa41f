package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CredentialsFactory builds the credential client for one browser. Every tab
// of the browser shares it, and with it the refresh cookie.
type CredentialsFactory func(browser string) (CredentialService, error)

// RegistryConfig wires the shared collaborators of every Store
type RegistryConfig struct {
	NewCredentials CredentialsFactory
	Persistence    Persistence
	Broadcaster    Broadcaster
	Logger         *slog.Logger
	Now            func() time.Time
}

// browserCredentials coalesces refreshes across the tabs of one browser.
// They all present the same refresh cookie, which the backend rotates on
// use, so a second concurrent presentation would be rejected.
type browserCredentials struct {
	CredentialService
	refreshGroup singleflight.Group
}

func (b *browserCredentials) Refresh(ctx context.Context) (string, error) {
	token, err, _ := b.refreshGroup.Do("refresh", func() (interface{}, error) {
		return b.CredentialService.Refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

type storeEntry struct {
	store    *Store
	lastUsed time.Time
}

// Registry owns the Store of every live tab
type Registry struct {
	mu          sync.Mutex
	stores      map[Scope]*storeEntry
	credentials map[string]CredentialService

	newCredentials CredentialsFactory
	persistence    Persistence
	broadcaster    Broadcaster
	logger         *slog.Logger
	now            func() time.Time
}

// NewRegistry creates an empty Registry
func NewRegistry(cfg RegistryConfig) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		stores:         make(map[Scope]*storeEntry),
		credentials:    make(map[string]CredentialService),
		newCredentials: cfg.NewCredentials,
		persistence:    cfg.Persistence,
		broadcaster:    cfg.Broadcaster,
		logger:         logger,
		now:            now,
	}
}

// Get returns the Store for scope, creating (and hydrating) it on first use
func (r *Registry) Get(ctx context.Context, scope Scope) (*Store, error) {
	if scope.Browser == "" || scope.Tab == "" {
		return nil, fmt.Errorf("session scope requires browser and tab ids")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.stores[scope]; ok {
		entry.lastUsed = r.now()
		return entry.store, nil
	}

	creds, ok := r.credentials[scope.Browser]
	if !ok {
		client, err := r.newCredentials(scope.Browser)
		if err != nil {
			return nil, fmt.Errorf("failed to create credential client: %w", err)
		}
		creds = &browserCredentials{CredentialService: client}
		r.credentials[scope.Browser] = creds
	}

	store, err := New(ctx, scope, Deps{
		Credentials: creds,
		Persistence: r.persistence,
		Broadcaster: r.broadcaster,
		Logger:      r.logger,
	})
	if err != nil {
		return nil, err
	}

	r.stores[scope] = &storeEntry{store: store, lastUsed: r.now()}
	return store, nil
}

// Sweep evicts stores idle for longer than maxIdle and drops credential
// clients of browsers left without a store. An evicted tab is rebuilt from
// the durable projection on its next request, like a reload.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	evicted := 0
	for scope, entry := range r.stores {
		if entry.lastUsed.After(cutoff) {
			continue
		}
		entry.store.Close()
		delete(r.stores, scope)
		evicted++
	}

	live := make(map[string]struct{}, len(r.stores))
	for scope := range r.stores {
		live[scope.Browser] = struct{}{}
	}
	for browser := range r.credentials {
		if _, ok := live[browser]; !ok {
			delete(r.credentials, browser)
		}
	}

	if evicted > 0 {
		r.logger.Debug("evicted idle session stores", slog.Int("count", evicted))
	}
	return evicted
}

// Len returns the number of live stores
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.stores)
}
