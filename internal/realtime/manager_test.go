package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerConnectsAllStreams(t *testing.T) {
	fs := newFakeServer(t)
	c := cache.New(nil)
	c.SetSelf("u1")
	cfg := Config{URL: fs.url(), ReconnectDelay: 50 * time.Millisecond}
	tokens := newSession("tok").source()
	m := NewManager(
		NewChatChannel(cfg, c, tokens, nil, nil),
		NewFriendChannel(cfg, c, tokens, nil, nil),
		NewPresenceChannel(cfg, c, tokens, nil, nil),
		nil,
	)
	t.Cleanup(m.Disconnect)

	require.NoError(t, m.Connect(context.Background(), "tok"))
	assert.Equal(t, int32(3), fs.accepts.Load())

	fs.mu.Lock()
	paths := append([]string(nil), fs.paths...)
	fs.mu.Unlock()
	assert.ElementsMatch(t, []string{"/ws/chats/", "/ws/friends/", "/ws/presence/"}, paths)

	var names []string
	for _, st := range m.Status() {
		names = append(names, st.Name)
		assert.Equal(t, status.Open, st.State, st.Name)
	}
	assert.Equal(t, []string{"chats", "friends", "presence"}, names)

	m.Disconnect()
	for _, st := range m.Status() {
		assert.Equal(t, status.Disconnected, st.State, st.Name)
	}
}
