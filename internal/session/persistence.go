package session

import (
	"context"
	"sync"

	"github.com/BradenHooton/campusgate/internal/models"
)

// Scope identifies one tab of one browser
type Scope struct {
	Browser string
	Tab     string
}

// Persistence is the reload-surviving projection of a session.
//
// Snapshots are browser scoped and shared by every tab of the browser.
// The pending login identifier is tab scoped so it only survives a reload
// of the same tab. Neither scope ever holds the access token.
type Persistence interface {
	LoadSnapshot(ctx context.Context, browser string) (*models.DurableSnapshot, error)
	SaveSnapshot(ctx context.Context, browser string, snapshot models.DurableSnapshot) error
	DeleteSnapshot(ctx context.Context, browser string) error

	LoadPending(ctx context.Context, scope Scope) (string, error)
	SavePending(ctx context.Context, scope Scope, identifier string) error
	DeletePending(ctx context.Context, scope Scope) error
}

// MemoryPersistence keeps the durable projection in process memory
type MemoryPersistence struct {
	mu        sync.Mutex
	snapshots map[string]models.DurableSnapshot
	pending   map[Scope]string
	cookies   map[string]map[string]models.CredentialCookie
}

// NewMemoryPersistence creates an empty MemoryPersistence
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		snapshots: make(map[string]models.DurableSnapshot),
		pending:   make(map[Scope]string),
		cookies:   make(map[string]map[string]models.CredentialCookie),
	}
}

// LoadSnapshot returns nil when the browser has no snapshot
func (p *MemoryPersistence) LoadSnapshot(ctx context.Context, browser string) (*models.DurableSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, ok := p.snapshots[browser]
	if !ok {
		return nil, nil
	}
	if snap.User != nil {
		user := *snap.User
		snap.User = &user
	}
	return &snap, nil
}

func (p *MemoryPersistence) SaveSnapshot(ctx context.Context, browser string, snapshot models.DurableSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snapshot.User != nil {
		user := *snapshot.User
		snapshot.User = &user
	}
	p.snapshots[browser] = snapshot
	return nil
}

func (p *MemoryPersistence) DeleteSnapshot(ctx context.Context, browser string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.snapshots, browser)
	return nil
}

func (p *MemoryPersistence) LoadPending(ctx context.Context, scope Scope) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pending[scope], nil
}

func (p *MemoryPersistence) SavePending(ctx context.Context, scope Scope, identifier string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending[scope] = identifier
	return nil
}

func (p *MemoryPersistence) DeletePending(ctx context.Context, scope Scope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.pending, scope)
	return nil
}

func cookieField(name, path string) string {
	return name + ";" + path
}

// LoadCredentialCookies returns the credential cookies held for browser
func (p *MemoryPersistence) LoadCredentialCookies(ctx context.Context, browser string) ([]models.CredentialCookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.CredentialCookie, 0, len(p.cookies[browser]))
	for _, c := range p.cookies[browser] {
		out = append(out, c)
	}
	return out, nil
}

func (p *MemoryPersistence) SaveCredentialCookie(ctx context.Context, browser string, cookie models.CredentialCookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cookies[browser] == nil {
		p.cookies[browser] = make(map[string]models.CredentialCookie)
	}
	p.cookies[browser][cookieField(cookie.Name, cookie.Path)] = cookie
	return nil
}

func (p *MemoryPersistence) DeleteCredentialCookie(ctx context.Context, browser, name, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.cookies[browser], cookieField(name, path))
	if len(p.cookies[browser]) == 0 {
		delete(p.cookies, browser)
	}
	return nil
}
