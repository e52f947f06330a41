package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	calls    map[string]int
	chats    []model.Chat
	messages map[model.ID][]model.Message
	friends  []model.Friend
	requests []model.FriendRequest
	err      error
	// gate, when set, blocks ListChats until closed.
	gate    chan struct{}
	waiting atomic.Int32
	// responded records RespondFriendRequest actions by request id.
	responded map[model.ID]string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		calls:     map[string]int{},
		messages:  map[model.ID][]model.Message{},
		responded: map[model.ID]string{},
	}
}

func (f *fakeAPI) hit(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.err
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) setChats(chats []model.Chat) {
	f.mu.Lock()
	f.chats = chats
	f.mu.Unlock()
}

func (f *fakeAPI) ListChats(ctx context.Context) ([]model.Chat, error) {
	f.mu.Lock()
	chats := f.chats
	f.mu.Unlock()
	if f.gate != nil {
		f.waiting.Add(1)
		<-f.gate
	}
	if err := f.hit("chats"); err != nil {
		return nil, err
	}
	return chats, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, chatID model.ID) ([]model.Message, error) {
	if err := f.hit("messages"); err != nil {
		return nil, err
	}
	return f.messages[chatID], nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, chatID model.ID) error {
	return f.hit("mark_read")
}

func (f *fakeAPI) ListFriends(ctx context.Context) ([]model.Friend, error) {
	if err := f.hit("friends"); err != nil {
		return nil, err
	}
	return f.friends, nil
}

func (f *fakeAPI) ListFriendRequests(ctx context.Context) ([]model.FriendRequest, error) {
	if err := f.hit("requests"); err != nil {
		return nil, err
	}
	return f.requests, nil
}

func (f *fakeAPI) ListFriendSuggestions(ctx context.Context) ([]model.Profile, error) {
	if err := f.hit("suggestions"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeAPI) SendFriendRequest(ctx context.Context, userID model.ID) error {
	return f.hit("send_request")
}

func (f *fakeAPI) RespondFriendRequest(ctx context.Context, requestID model.ID, action string) error {
	if err := f.hit("respond"); err != nil {
		return err
	}
	f.mu.Lock()
	f.responded[requestID] = action
	f.mu.Unlock()
	return nil
}

func newGateway(t *testing.T, api API) (*Gateway, *cache.Cache, *time.Time) {
	t.Helper()
	c := cache.New(nil)
	c.SetSelf("u1")
	g := New(api, c, Staleness{}, nil)
	now := time.Unix(1700000000, 0)
	g.now = func() time.Time { return now }
	return g, c, &now
}

func TestFetchChatsSkipsFreshData(t *testing.T) {
	api := newFakeAPI()
	api.chats = []model.Chat{{ID: "c1"}}
	g, c, now := newGateway(t, api)
	ctx := context.Background()

	require.NoError(t, g.FetchChats(ctx, FetchOptions{}))
	require.NoError(t, g.FetchChats(ctx, FetchOptions{}))
	assert.Equal(t, 1, api.count("chats"), "second fetch within max age is skipped")
	assert.Len(t, c.Chats(), 1)

	*now = now.Add(DefaultStaleness.Chats)
	require.NoError(t, g.FetchChats(ctx, FetchOptions{}))
	assert.Equal(t, 2, api.count("chats"), "stale data is refetched")

	require.NoError(t, g.FetchChats(ctx, FetchOptions{Force: true}))
	assert.Equal(t, 3, api.count("chats"), "force bypasses the gate")

	at, ok := c.FetchedAt(cache.KeyChats)
	require.True(t, ok)
	assert.Equal(t, *now, at)
}

func TestFetchWithEmptyCacheAlwaysRuns(t *testing.T) {
	api := newFakeAPI()
	g, _, _ := newGateway(t, api)
	ctx := context.Background()

	require.NoError(t, g.FetchChats(ctx, FetchOptions{}))
	require.NoError(t, g.FetchChats(ctx, FetchOptions{}))
	assert.Equal(t, 2, api.count("chats"), "an empty result is never considered fresh")
}

func TestFetchMaxAgeOverride(t *testing.T) {
	api := newFakeAPI()
	api.friends = []model.Friend{{ID: "u2", Name: "Bob"}}
	g, _, now := newGateway(t, api)
	ctx := context.Background()

	require.NoError(t, g.FetchFriendList(ctx, FetchOptions{}))
	*now = now.Add(10 * time.Second)
	require.NoError(t, g.FetchFriendList(ctx, FetchOptions{MaxAge: 5 * time.Second}))
	assert.Equal(t, 2, api.count("friends"))
}

func TestFetchErrorKeepsData(t *testing.T) {
	api := newFakeAPI()
	api.chats = []model.Chat{{ID: "c1"}}
	g, c, _ := newGateway(t, api)
	ctx := context.Background()

	require.NoError(t, g.FetchChats(ctx, FetchOptions{}))
	api.err = errors.New("connection refused")

	err := g.FetchChats(ctx, FetchOptions{Force: true})
	require.Error(t, err)
	assert.Contains(t, c.Err(), "failed to load chats")
	assert.Len(t, c.Chats(), 1, "cached data survives a failed fetch")
	assert.False(t, c.Loading(cache.KeyChats))

	api.err = nil
	require.NoError(t, g.FetchChats(ctx, FetchOptions{Force: true}))
	assert.Empty(t, c.Err(), "a successful fetch clears the error")
}

func TestFetchErrorIsClearedOnlyByItsOwnKey(t *testing.T) {
	api := newFakeAPI()
	g, c, _ := newGateway(t, api)
	ctx := context.Background()

	api.err = errors.New("connection refused")
	require.Error(t, g.FetchChats(ctx, FetchOptions{}))
	api.err = nil

	require.NoError(t, g.FetchFriendList(ctx, FetchOptions{}))
	assert.Contains(t, c.Err(), "failed to load chats", "another collection's fetch keeps the error")

	require.NoError(t, g.FetchChats(ctx, FetchOptions{}))
	assert.Empty(t, c.Err())
}

func TestConcurrentFetchesShareOneRequest(t *testing.T) {
	api := newFakeAPI()
	api.gate = make(chan struct{})
	api.chats = []model.Chat{{ID: "c1"}}
	g, c, _ := newGateway(t, api)

	var wg sync.WaitGroup
	var failed atomic.Int32
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.FetchChats(context.Background(), FetchOptions{Force: true}); err != nil {
				failed.Add(1)
			}
		}()
	}
	require.Eventually(t, func() bool { return c.Loading(cache.KeyChats) }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(api.gate)
	wg.Wait()

	assert.Zero(t, failed.Load())
	assert.Equal(t, 1, api.count("chats"))
}

func TestCancelledCallerDoesNotAbortSharedFetch(t *testing.T) {
	api := newFakeAPI()
	api.gate = make(chan struct{})
	api.chats = []model.Chat{{ID: "c1"}}
	g, c, _ := newGateway(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- g.FetchChats(ctx, FetchOptions{}) }()

	require.Eventually(t, func() bool { return c.Loading(cache.KeyChats) }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	close(api.gate)
	require.Eventually(t, func() bool { return len(c.Chats()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestFetchFromPreviousSessionIsDiscarded(t *testing.T) {
	api := newFakeAPI()
	api.gate = make(chan struct{})
	api.chats = []model.Chat{{ID: "old-user-chat"}}
	g, c, _ := newGateway(t, api)

	errc := make(chan error, 1)
	go func() { errc <- g.FetchChats(context.Background(), FetchOptions{}) }()
	require.Eventually(t, func() bool { return c.Loading(cache.KeyChats) }, time.Second, 5*time.Millisecond)

	// Logout, then a new user logs in while the old fetch is still running.
	c.Reset()
	c.SetSelf("u9")
	api.setChats([]model.Chat{{ID: "new-user-chat"}})
	newc := make(chan error, 1)
	go func() { newc <- g.FetchChats(context.Background(), FetchOptions{Force: true}) }()
	require.Eventually(t, func() bool { return api.waiting.Load() == 2 }, time.Second, 5*time.Millisecond)

	close(api.gate)
	require.ErrorIs(t, <-errc, ErrSessionChanged)
	require.NoError(t, <-newc)

	assert.Equal(t, 2, api.count("chats"), "the new session issues its own request")
	chats := c.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, model.ID("new-user-chat"), chats[0].ID)
	_, ok := c.FetchedAt(cache.KeyChats)
	assert.True(t, ok)
}

func TestFetchMessagesReplacesList(t *testing.T) {
	api := newFakeAPI()
	api.messages["c1"] = []model.Message{
		{ID: "m2", Sender: "u2", Text: "second", CreatedAt: time.Unix(20, 0)},
		{ID: "m1", Sender: "u2", Text: "first", CreatedAt: time.Unix(10, 0)},
	}
	g, c, _ := newGateway(t, api)
	c.UpsertChat(model.Chat{ID: "c1"})
	c.AddMessage("c1", model.Message{ID: "stale", Sender: "u2", Text: "gone", CreatedAt: time.Unix(5, 0)})

	require.NoError(t, g.FetchMessages(context.Background(), "c1", FetchOptions{Force: true}))

	msgs := c.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, model.ID("m1"), msgs[0].ID)
	assert.Equal(t, model.ID("m2"), msgs[1].ID)
	_, ok := c.FetchedAt(cache.MessagesKey("c1"))
	assert.True(t, ok)
}

func TestFetchMessagesSkipsPlaceholders(t *testing.T) {
	api := newFakeAPI()
	g, _, _ := newGateway(t, api)

	require.NoError(t, g.FetchMessages(context.Background(), model.NewPlaceholderChatID(time.Now(), "u2"), FetchOptions{Force: true}))
	assert.Zero(t, api.count("messages"))
}

func TestRespondFriendRequestRefetches(t *testing.T) {
	api := newFakeAPI()
	api.requests = []model.FriendRequest{{ID: "r1", From: model.Profile{ID: "u3"}}}
	g, c, _ := newGateway(t, api)
	ctx := context.Background()
	require.NoError(t, g.FetchFriendRequests(ctx, FetchOptions{}))
	require.Len(t, c.FriendRequests(), 1)

	api.requests = nil
	api.friends = []model.Friend{{ID: "u3"}}
	require.NoError(t, g.RespondFriendRequest(ctx, "r1", "accept"))

	assert.Equal(t, "accept", api.responded["r1"])
	assert.Empty(t, c.FriendRequests())
	assert.Len(t, c.Friends(), 1)
}

func TestRefreshStaleAggregatesErrors(t *testing.T) {
	api := newFakeAPI()
	api.err = errors.New("boom")
	g, c, _ := newGateway(t, api)
	c.SetActiveChat("c1")

	err := g.RefreshStale(context.Background())
	require.Error(t, err)
	for _, name := range []string{"chats", "friends", "requests", "suggestions", "messages"} {
		assert.Equal(t, 1, api.count(name), name)
	}
}
