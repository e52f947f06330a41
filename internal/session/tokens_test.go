package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.toml")
	s := NewTokenStore(path)

	_, _, err := s.Load()
	require.ErrorIs(t, err, ErrNoCredentials)

	user := model.User{ID: "42", Name: "Ann", Email: "ann@example.com"}
	require.NoError(t, s.Save(model.Tokens{Access: "a", Refresh: "r"}, user))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	tokens, got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, model.Tokens{Access: "a", Refresh: "r"}, tokens)
	assert.Equal(t, user, got)

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear(), "clearing twice is fine")
	_, _, err = s.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestTokenStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0600))

	_, _, err := NewTokenStore(path).Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredentials)
}

func TestStateInstallAndClear(t *testing.T) {
	s := NewState()
	_, ok := s.Token()
	assert.False(t, ok)

	s.Install(model.Tokens{Access: "a"})
	s.SetUser(model.User{ID: "u1"})
	tok, ok := s.Token()
	assert.True(t, ok)
	assert.Equal(t, "a", tok)

	s.Clear()
	assert.False(t, s.Authenticated())
	assert.Empty(t, s.AccessToken())
	_, ok = s.User()
	assert.False(t, ok)
}
