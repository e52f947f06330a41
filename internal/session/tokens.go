package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/chatsync/internal/model"
)

// ErrNoCredentials is returned by Load when nothing was saved.
var ErrNoCredentials = errors.New("no stored credentials")

type credentialsFile struct {
	Tokens  model.Tokens `toml:"tokens"`
	User    storedUser   `toml:"user"`
	SavedAt time.Time    `toml:"saved_at"`
}

type storedUser struct {
	ID     string `toml:"id"`
	Name   string `toml:"name"`
	Phone  string `toml:"phone,omitempty"`
	Email  string `toml:"email,omitempty"`
	Avatar string `toml:"avatar_url,omitempty"`
}

// TokenStore keeps the token pair and user of a session in a TOML file
// readable only by the owner.
type TokenStore struct {
	path string
}

// NewTokenStore returns a store backed by path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Load reads the stored credentials.
func (s *TokenStore) Load() (model.Tokens, model.User, error) {
	var f credentialsFile
	if _, err := toml.DecodeFile(s.path, &f); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Tokens{}, model.User{}, ErrNoCredentials
		}
		return model.Tokens{}, model.User{}, fmt.Errorf("read credentials: %w", err)
	}
	if f.Tokens.Refresh == "" && f.Tokens.Access == "" {
		return model.Tokens{}, model.User{}, ErrNoCredentials
	}
	u := model.User{
		ID:     model.ID(f.User.ID),
		Name:   f.User.Name,
		Phone:  f.User.Phone,
		Email:  f.User.Email,
		Avatar: f.User.Avatar,
	}
	return f.Tokens, u, nil
}

// Save replaces the stored credentials.
func (s *TokenStore) Save(t model.Tokens, u model.User) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(credentialsFile{
		Tokens: t,
		User: storedUser{
			ID:     string(u.ID),
			Name:   u.Name,
			Phone:  u.Phone,
			Email:  u.Email,
			Avatar: u.Avatar,
		},
		SavedAt: time.Now().UTC(),
	})
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write credentials: %w", encErr)
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the stored credentials.
func (s *TokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
