package realtime

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	Name  string       `json:"name"`
	State status.State `json:"state"`
	Since time.Time    `json:"since"`
}

// Manager groups the chat, friend and presence streams of a session.
type Manager struct {
	Chats    *ChatChannel
	Friends  *FriendChannel
	Presence *PresenceChannel
	logger   *zap.Logger
}

// NewManager groups the three streams.
func NewManager(chats *ChatChannel, friends *FriendChannel, presence *PresenceChannel, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{Chats: chats, Friends: friends, Presence: presence, logger: logger}
}

func (m *Manager) channels() []*Channel {
	return []*Channel{m.Chats.Channel, m.Friends.Channel, m.Presence.Channel}
}

// Connect opens every stream concurrently. A stream that fails to dial
// keeps retrying in the background; the first dial error is returned.
func (m *Manager) Connect(ctx context.Context, token string) error {
	var g errgroup.Group
	for _, ch := range m.channels() {
		g.Go(func() error { return ch.Connect(ctx, token) })
	}
	err := g.Wait()
	if err != nil {
		m.logger.Warn("channels connected with errors", zap.Error(err))
	}
	return err
}

// Disconnect closes every stream and cancels pending reconnects.
func (m *Manager) Disconnect() {
	for _, ch := range m.channels() {
		ch.Disconnect()
	}
}

// Status reports the state of every stream.
func (m *Manager) Status() []ChannelStatus {
	chans := m.channels()
	out := make([]ChannelStatus, 0, len(chans))
	for _, ch := range chans {
		out = append(out, ChannelStatus{Name: ch.Name(), State: ch.State(), Since: ch.Since()})
	}
	return out
}
