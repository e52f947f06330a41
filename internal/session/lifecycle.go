package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/restapi"
	"go.uber.org/zap"
)

// Session event kinds.
const (
	KindLoggedIn   = "session.logged_in"
	KindLoggedOut  = "session.logged_out"
	KindRefreshed  = "session.refreshed"
	KindRestored   = "session.restored"
	KindRestoreErr = "session.restore_failed"
)

// ErrNotAuthenticated is returned by operations that need a signed-in user.
var ErrNotAuthenticated = errors.New("not authenticated")

// Authenticator performs the auth requests.
type Authenticator interface {
	Login(ctx context.Context, creds model.Credentials) (model.Tokens, error)
	Signup(ctx context.Context, creds model.Credentials) (model.Tokens, error)
	Refresh(ctx context.Context, refresh string) (model.Tokens, error)
	Me(ctx context.Context) (model.User, error)
}

// Channels opens and closes the realtime streams.
type Channels interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
}

// Fetcher performs the bulk fetches that fill the cache.
type Fetcher interface {
	FetchChats(ctx context.Context, opts gateway.FetchOptions) error
	FetchFriendList(ctx context.Context, opts gateway.FetchOptions) error
	RefreshStale(ctx context.Context) error
}

// Persistence rehydrates the cache from disk and wipes the disk copy.
type Persistence interface {
	Hydrate() error
	Clear() error
}

// Credentials stores the token pair across restarts.
type Credentials interface {
	Load() (model.Tokens, model.User, error)
	Save(model.Tokens, model.User) error
	Clear() error
}

// Event is the payload of session events.
type Event struct {
	UserID model.ID
	Err    string
}

// Manager orders the steps of signing in and out so that the cache, the
// realtime streams and the persisted copy never mix two users' data.
type Manager struct {
	state    *State
	auth     Authenticator
	channels Channels
	fetcher  Fetcher
	persist  Persistence
	creds    Credentials
	cache    *cache.Cache
	bus      *bus.Bus
	logger   *zap.Logger

	// mu serializes lifecycle transitions.
	mu sync.Mutex
}

// Deps are the collaborators of a Manager.
type Deps struct {
	State       *State
	Auth        Authenticator
	Channels    Channels
	Fetcher     Fetcher
	Persistence Persistence
	Credentials Credentials
	Cache       *cache.Cache
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(d Deps) *Manager {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Manager{
		state:    d.State,
		auth:     d.Auth,
		channels: d.Channels,
		fetcher:  d.Fetcher,
		persist:  d.Persistence,
		creds:    d.Credentials,
		cache:    d.Cache,
		bus:      d.Bus,
		logger:   d.Logger,
	}
}

// State returns the shared credential state.
func (m *Manager) State() *State { return m.state }

// Login authenticates and starts a fresh session.
func (m *Manager) Login(ctx context.Context, creds model.Credentials) (model.User, error) {
	return m.start(ctx, "login", func() (model.Tokens, error) { return m.auth.Login(ctx, creds) })
}

// Signup creates an account and starts a fresh session for it.
func (m *Manager) Signup(ctx context.Context, creds model.Credentials) (model.User, error) {
	return m.start(ctx, "signup", func() (model.Tokens, error) { return m.auth.Signup(ctx, creds) })
}

func (m *Manager) start(ctx context.Context, op string, authenticate func() (model.Tokens, error)) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens, err := authenticate()
	if err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}

	// Tear down whatever the previous user left behind.
	m.channels.Disconnect()
	m.cache.Reset()
	if err := m.persist.Clear(); err != nil {
		m.logger.Warn("failed to clear persisted cache", zap.Error(err))
	}

	m.state.Install(tokens)
	user, err := m.auth.Me(ctx)
	if err != nil {
		if lerr := m.logoutLocked(); lerr != nil {
			m.logger.Warn("logout after failed profile fetch", zap.Error(lerr))
		}
		return model.User{}, fmt.Errorf("%s: fetch profile: %w", op, err)
	}
	m.state.SetUser(user)
	m.cache.SetSelf(user.ID)
	if err := m.creds.Save(tokens, user); err != nil {
		m.logger.Warn("failed to store credentials", zap.Error(err))
	}

	m.connectAndFill(ctx, gateway.FetchOptions{Force: true})
	m.logger.Info("signed in", zap.String("op", op), zap.String("user_id", string(user.ID)))
	m.bus.Emit(KindLoggedIn, Event{UserID: user.ID})
	return user, nil
}

// connectAndFill opens the streams and runs the initial fetch. Failures are
// logged; streams retry on their own and fetch errors land in the cache.
func (m *Manager) connectAndFill(ctx context.Context, chatOpts gateway.FetchOptions) {
	token, _ := m.state.Token()
	if err := m.channels.Connect(ctx, token); err != nil {
		m.logger.Warn("channels not connected", zap.Error(err))
	}
	if err := m.fetcher.FetchChats(ctx, chatOpts); err != nil {
		m.logger.Warn("initial chat fetch failed", zap.Error(err))
	}
	if err := m.fetcher.FetchFriendList(ctx, gateway.FetchOptions{}); err != nil {
		m.logger.Warn("initial friend fetch failed", zap.Error(err))
	}
}

// Logout ends the session and wipes its cached and persisted state.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logoutLocked()
}

func (m *Manager) logoutLocked() error {
	user, _ := m.state.User()
	// Clear credentials first so reconnect timers firing meanwhile find no session.
	m.state.Clear()
	m.channels.Disconnect()
	m.cache.Reset()

	var result *multierror.Error
	if err := m.persist.Clear(); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear persisted cache: %w", err))
	}
	if err := m.creds.Clear(); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear credentials: %w", err))
	}
	m.logger.Info("signed out", zap.String("user_id", string(user.ID)))
	m.bus.Emit(KindLoggedOut, Event{UserID: user.ID})
	return result.ErrorOrNil()
}

// Refresh exchanges the refresh token for a new access token. A failed
// refresh signs the user out.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx, func(error) bool { return true })
}

// KeepFresh refreshes the access token every interval until ctx ends, so
// that reconnecting streams always present a live token. A refresh the
// server rejects signs the user out; one that cannot reach the server is
// retried on the next tick.
func (m *Manager) KeepFresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.mu.Lock()
		var err error
		if m.state.Authenticated() {
			err = m.refreshLocked(ctx, restapi.IsUnauthorized)
		}
		m.mu.Unlock()
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case restapi.IsUnauthorized(err):
			m.logger.Warn("token refresh rejected, signed out", zap.Error(err))
		default:
			m.logger.Warn("token refresh failed, will retry", zap.Error(err))
		}
	}
}

// refreshLocked installs a fresh access token. When the refresh fails and
// signOut(err) holds, the session is ended.
func (m *Manager) refreshLocked(ctx context.Context, signOut func(error) bool) error {
	if !m.state.Authenticated() {
		return ErrNotAuthenticated
	}
	current := m.state.Tokens()
	tokens, err := m.auth.Refresh(ctx, current.Refresh)
	if err != nil {
		if signOut(err) {
			if lerr := m.logoutLocked(); lerr != nil {
				m.logger.Warn("logout after failed refresh", zap.Error(lerr))
			}
		}
		return fmt.Errorf("refresh: %w", err)
	}
	m.state.Install(tokens)
	user, _ := m.state.User()
	if err := m.creds.Save(tokens, user); err != nil {
		m.logger.Warn("failed to store credentials", zap.Error(err))
	}
	m.bus.Emit(KindRefreshed, Event{UserID: user.ID})
	return nil
}

// Restore resumes the stored session: refresh the token, rehydrate the
// cache from disk, open the streams and refetch stale collections. It
// returns ErrNotAuthenticated when nothing is stored. A rejected refresh
// signs out; a refresh that fails to reach the server keeps the stored
// tokens so the cached data stays usable while the streams retry.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens, user, err := m.creds.Load()
	if errors.Is(err, ErrNoCredentials) {
		return ErrNotAuthenticated
	}
	if err != nil {
		return err
	}
	m.state.Install(tokens)
	m.state.SetUser(user)

	if fresh, err := m.auth.Refresh(ctx, tokens.Refresh); err == nil {
		m.state.Install(fresh)
		if err := m.creds.Save(fresh, user); err != nil {
			m.logger.Warn("failed to store credentials", zap.Error(err))
		}
	} else if restapi.IsUnauthorized(err) {
		if lerr := m.logoutLocked(); lerr != nil {
			m.logger.Warn("logout after rejected refresh", zap.Error(lerr))
		}
		m.bus.Emit(KindRestoreErr, Event{UserID: user.ID, Err: err.Error()})
		return fmt.Errorf("restore: %w", err)
	} else {
		m.logger.Warn("token refresh failed, continuing with stored tokens", zap.Error(err))
	}

	if me, err := m.auth.Me(ctx); err == nil {
		user = me
		m.state.SetUser(me)
	} else {
		m.logger.Warn("profile fetch failed, using stored user", zap.Error(err))
	}

	if err := m.persist.Hydrate(); err != nil {
		m.logger.Warn("rehydrate failed", zap.Error(err))
	}
	m.cache.SetSelf(user.ID)

	token, _ := m.state.Token()
	if err := m.channels.Connect(ctx, token); err != nil {
		m.logger.Warn("channels not connected", zap.Error(err))
	}
	if err := m.fetcher.RefreshStale(ctx); err != nil {
		m.logger.Warn("stale refresh failed", zap.Error(err))
	}
	m.logger.Info("session restored", zap.String("user_id", string(user.ID)))
	m.bus.Emit(KindRestored, Event{UserID: user.ID})
	return nil
}

// Shutdown closes the streams and keeps every other piece of state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels.Disconnect()
}

// Self returns the signed-in user or ErrNotAuthenticated.
func (m *Manager) Self() (model.User, error) {
	u, ok := m.state.User()
	if !ok {
		return model.User{}, ErrNotAuthenticated
	}
	return u, nil
}
