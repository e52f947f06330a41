package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Send policies applied when a chat command is issued while the channel is not open.
const (
	SendPolicyDrop  = "drop"
	SendPolicyQueue = "queue"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	APIURL         string    `toml:"api_url"`
	WSURL          string    `toml:"ws_url"`
	SendPolicy     string    `toml:"send_policy"`
	Timing         Timing    `toml:"timing"`
	Staleness      Staleness `toml:"staleness"`
}

// Timing holds the realtime and persistence timers.
type Timing struct {
	TypingTTL         Duration `toml:"typing_ttl"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	PersistDebounce   Duration `toml:"persist_debounce"`
	RequestTimeout    Duration `toml:"request_timeout"`
	// TokenRefresh is the access token renewal period. Zero disables it.
	TokenRefresh Duration `toml:"token_refresh"`
}

// Staleness holds the max age of each bulk-fetched collection.
type Staleness struct {
	Chats             Duration `toml:"chats"`
	Messages          Duration `toml:"messages"`
	FriendList        Duration `toml:"friend_list"`
	FriendRequests    Duration `toml:"friend_requests"`
	FriendSuggestions Duration `toml:"friend_suggestions"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		APIURL:     "http://localhost:8000/api",
		WSURL:      "ws://localhost:8000",
		SendPolicy: SendPolicyDrop,
		Timing: Timing{
			TypingTTL:         Duration{5 * time.Second},
			ReconnectDelay:    Duration{3 * time.Second},
			HeartbeatInterval: Duration{30 * time.Second},
			PersistDebounce:   Duration{500 * time.Millisecond},
			RequestTimeout:    Duration{15 * time.Second},
			TokenRefresh:      Duration{4 * time.Minute},
		},
		Staleness: Staleness{
			Chats:             Duration{30 * time.Second},
			Messages:          Duration{30 * time.Second},
			FriendList:        Duration{2 * time.Minute},
			FriendRequests:    Duration{time.Minute},
			FriendSuggestions: Duration{2 * time.Minute},
		},
	}
}

// Load reads config from the given path over Default, so unset fields keep
// their defaults. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, but a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks URLs and the send policy.
func (c *Config) Validate() error {
	switch c.SendPolicy {
	case SendPolicyDrop, SendPolicyQueue:
	default:
		return fmt.Errorf("invalid send_policy %q: must be %q or %q", c.SendPolicy, SendPolicyDrop, SendPolicyQueue)
	}
	api, err := url.Parse(c.APIURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") {
		return fmt.Errorf("invalid api_url %q", c.APIURL)
	}
	ws, err := url.Parse(c.WSURL)
	if err != nil || (ws.Scheme != "ws" && ws.Scheme != "wss") {
		return fmt.Errorf("invalid ws_url %q", c.WSURL)
	}
	if c.Timing.ReconnectDelay.Duration <= 0 {
		return fmt.Errorf("timing.reconnect_delay must be positive")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
