package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/campusgate/internal/models"
	pkglogger "github.com/BradenHooton/campusgate/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	persistTimeout = 2 * time.Second
	refreshTimeout = 10 * time.Second
)

// CredentialService is the backend that verifies credentials and issues tokens.
// The refresh credential is implicit (an HTTP-only cookie held by the implementation).
type CredentialService interface {
	LoginStepOne(ctx context.Context, req models.StepOneRequest) error
	LoginStepTwo(ctx context.Context, identifier, code string) (*models.StepTwoResult, error)
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// Deps are the collaborators of a Store. Broadcaster is optional.
type Deps struct {
	Credentials CredentialService
	Persistence Persistence
	Broadcaster Broadcaster
	Logger      *slog.Logger
}

// Store holds the session of one browser tab. The access token lives only
// in this struct; creating a new Store for the same scope is a reload.
type Store struct {
	id          string
	scope       Scope
	creds       CredentialService
	persistence Persistence
	broadcaster Broadcaster
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger

	mu            sync.RWMutex
	user          *models.UserProfile
	authenticated bool
	accessToken   string
	pending       string

	refreshGroup singleflight.Group
	unsubscribe  func()
}

// New creates the Store for scope and hydrates it from the durable projection
func New(ctx context.Context, scope Scope, deps Deps) (*Store, error) {
	if deps.Credentials == nil || deps.Persistence == nil {
		return nil, fmt.Errorf("session store requires credentials and persistence")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		id:          uuid.NewString(),
		scope:       scope,
		creds:       deps.Credentials,
		persistence: deps.Persistence,
		broadcaster: deps.Broadcaster,
		logger:      logger,
		audit:       pkglogger.NewAuditLogger(logger),
	}

	s.hydrate(ctx)

	pending, err := s.persistence.LoadPending(ctx, scope)
	if err != nil {
		s.logger.Error("failed to load pending login", slog.Any("error", err))
	}
	s.pending = pending

	if s.broadcaster != nil {
		cancel, err := s.broadcaster.Subscribe(scope.Browser, s.onChange)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to session changes: %w", err)
		}
		s.unsubscribe = cancel
	}

	return s, nil
}

// Scope returns the tab this store belongs to
func (s *Store) Scope() Scope {
	return s.scope
}

// State returns a snapshot of the session
func (s *Store) State() models.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := models.SessionState{
		IsAuthenticated:   s.authenticated,
		HasAccessToken:    s.accessToken != "",
		PendingIdentifier: s.pending,
	}
	if s.user != nil {
		user := *s.user
		state.User = &user
	}
	return state
}

// LoginStepOne verifies the primary credential. On success the identifier
// becomes the pending login; no token is issued.
func (s *Store) LoginStepOne(ctx context.Context, req models.StepOneRequest) error {
	req.Identifier = models.NormalizeIdentifier(req.Identifier)
	if req.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", models.ErrBadRequest)
	}

	if err := s.creds.LoginStepOne(ctx, req); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending = req.Identifier
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error {
		return s.persistence.SavePending(ctx, s.scope, req.Identifier)
	}, "failed to persist pending login")

	return nil
}

// LoginStepTwo verifies the one-time code for the pending identifier and
// authenticates the session. It fails with ErrNoPendingLogin, without
// contacting the backend, when identifier is not the pending login.
func (s *Store) LoginStepTwo(ctx context.Context, identifier, code string) error {
	identifier = models.NormalizeIdentifier(identifier)

	s.mu.RLock()
	pending := s.pending
	s.mu.RUnlock()

	if pending == "" || pending != identifier {
		return models.ErrNoPendingLogin
	}

	result, err := s.creds.LoginStepTwo(ctx, identifier, code)
	if err != nil {
		if errors.Is(err, models.ErrExpired) {
			s.clearPending()
		}
		return err
	}

	user := result.User

	s.mu.Lock()
	s.user = &user
	s.accessToken = result.AccessToken
	s.authenticated = true
	s.pending = ""
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error {
		if err := s.persistence.DeletePending(ctx, s.scope); err != nil {
			return err
		}
		return s.persistence.SaveSnapshot(ctx, s.scope.Browser, models.DurableSnapshot{
			User:            &user,
			IsAuthenticated: true,
		})
	}, "failed to persist session snapshot")

	s.publish(ChangeLoggedIn)
	s.audit.LogSessionAction("login_completed", user.ID, map[string]string{"role": string(user.Role)})
	return nil
}

// RefreshToken exchanges the implicit refresh credential for a new access
// token. Concurrent callers share one backend call, which runs detached from
// any single caller's context. A rejected refresh clears the session locally
// and returns ErrRefreshFailed. An unreachable backend returns
// ErrServiceUnavailable and leaves the session untouched.
func (s *Store) RefreshToken(ctx context.Context) error {
	_, err := s.refresh(ctx)
	return err
}

func (s *Store) refresh(ctx context.Context) (string, error) {
	ch := s.refreshGroup.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		token, err := s.creds.Refresh(rctx)
		switch {
		case err == nil && token != "":
			s.mu.Lock()
			defer s.mu.Unlock()
			// a logout may have landed while the call was in flight
			if !s.authenticated {
				return "", models.ErrUnauthorized
			}
			s.accessToken = token
			return token, nil
		case err == nil || errors.Is(err, models.ErrRefreshFailed):
			s.logger.Info("token refresh rejected, clearing session",
				slog.String("browser", s.scope.Browser),
				slog.Any("error", err))
			s.ClearSession(rctx)
			return "", models.ErrRefreshFailed
		default:
			s.logger.Warn("token refresh unavailable, keeping session",
				slog.String("browser", s.scope.Browser),
				slog.Any("error", err))
			if !errors.Is(err, models.ErrServiceUnavailable) {
				err = fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
			}
			return "", err
		}
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AccessToken returns the in-memory access token, refreshing first when the
// session is authenticated but the token was lost to a reload.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.accessToken
	authenticated := s.authenticated
	s.mu.RUnlock()

	if !authenticated {
		return "", models.ErrUnauthorized
	}
	if token != "" {
		return token, nil
	}
	return s.refresh(ctx)
}

// Logout clears the session locally, then tells the backend. A failed
// backend call is logged and does not undo the local clear.
func (s *Store) Logout(ctx context.Context) {
	s.mu.RLock()
	userID := ""
	if s.user != nil {
		userID = s.user.ID
	}
	s.mu.RUnlock()

	s.ClearSession(ctx)

	if err := s.creds.Logout(ctx); err != nil {
		s.logger.Warn("backend logout failed", slog.Any("error", err))
	}
	s.audit.LogSessionAction("logout", userID, nil)
}

// ClearSession removes every in-memory and persisted session field without
// any backend call.
func (s *Store) ClearSession(ctx context.Context) {
	s.mu.Lock()
	wasAuthenticated := s.authenticated
	s.user = nil
	s.accessToken = ""
	s.authenticated = false
	s.pending = ""
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error {
		return errors.Join(
			s.persistence.DeleteSnapshot(ctx, s.scope.Browser),
			s.persistence.DeletePending(ctx, s.scope),
		)
	}, "failed to clear persisted session")

	if wasAuthenticated {
		s.publish(ChangeLoggedOut)
	}
}

// Close detaches the store from cross-tab notifications
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Store) hydrate(ctx context.Context) {
	snap, err := s.persistence.LoadSnapshot(ctx, s.scope.Browser)
	if err != nil {
		s.logger.Error("failed to load session snapshot", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessToken = ""
	if snap == nil || !snap.IsAuthenticated || snap.User == nil {
		s.user = nil
		s.authenticated = false
		return
	}
	s.user = snap.User
	s.authenticated = true
}

func (s *Store) onChange(change Change) {
	if change.Origin == s.id {
		return
	}

	switch change.Kind {
	case ChangeLoggedOut:
		s.mu.Lock()
		s.user = nil
		s.accessToken = ""
		s.authenticated = false
		s.mu.Unlock()
	case ChangeLoggedIn:
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		s.hydrate(ctx)
	}
}

func (s *Store) clearPending() {
	s.mu.Lock()
	s.pending = ""
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error {
		return s.persistence.DeletePending(ctx, s.scope)
	}, "failed to clear pending login")
}

func (s *Store) publish(kind ChangeKind) {
	if s.broadcaster == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	change := Change{Browser: s.scope.Browser, Kind: kind, Origin: s.id}
	if err := s.broadcaster.Publish(ctx, change); err != nil {
		s.logger.Warn("failed to publish session change",
			slog.String("kind", string(kind)),
			slog.Any("error", err))
	}
}

// persist runs a durable write detached from the caller's context so a
// cancelled request cannot leave the projection half written.
func (s *Store) persist(fn func(ctx context.Context) error, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Error(msg, slog.String("browser", s.scope.Browser), slog.Any("error", err))
	}
}
