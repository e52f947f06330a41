package session

import (
	"sync"

	"github.com/matheus3301/chatsync/internal/model"
)

// State holds the credentials of the signed-in user. It is shared by the
// REST client, the realtime channels and the lifecycle manager.
type State struct {
	mu     sync.RWMutex
	tokens model.Tokens
	user   model.User
	authed bool
}

// NewState returns a signed-out state.
func NewState() *State {
	return &State{}
}

// Install marks the session authenticated with t. A pair without any
// token leaves the state signed out.
func (s *State) Install(t model.Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = t
	s.authed = t.Access != "" || t.Refresh != ""
}

// SetUser records the signed-in user.
func (s *State) SetUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// Clear signs the state out.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = model.Tokens{}
	s.user = model.User{}
	s.authed = false
}

// Token returns the access token and whether a session is authenticated.
func (s *State) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Access, s.authed
}

// AccessToken returns the access token, or "" when signed out.
func (s *State) AccessToken() string {
	tok, _ := s.Token()
	return tok
}

// Tokens returns the current token pair.
func (s *State) Tokens() model.Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// User returns the signed-in user.
func (s *State) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.authed
}

// Authenticated reports whether a session is active.
func (s *State) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authed
}
