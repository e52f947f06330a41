package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// API is the bulk request/response surface the gateway reads from.
type API interface {
	ListChats(ctx context.Context) ([]model.Chat, error)
	ListMessages(ctx context.Context, chatID model.ID) ([]model.Message, error)
	MarkRead(ctx context.Context, chatID model.ID) error
	ListFriends(ctx context.Context) ([]model.Friend, error)
	ListFriendRequests(ctx context.Context) ([]model.FriendRequest, error)
	ListFriendSuggestions(ctx context.Context) ([]model.Profile, error)
	SendFriendRequest(ctx context.Context, userID model.ID) error
	RespondFriendRequest(ctx context.Context, requestID model.ID, action string) error
}

// Staleness holds the default max age of each collection.
type Staleness struct {
	Chats             time.Duration
	Messages          time.Duration
	FriendList        time.Duration
	FriendRequests    time.Duration
	FriendSuggestions time.Duration
}

// DefaultStaleness matches the server's expected polling cadence.
var DefaultStaleness = Staleness{
	Chats:             30 * time.Second,
	Messages:          30 * time.Second,
	FriendList:        2 * time.Minute,
	FriendRequests:    time.Minute,
	FriendSuggestions: 2 * time.Minute,
}

// FetchOptions controls the staleness gate of one fetch.
type FetchOptions struct {
	// Force bypasses the gate.
	Force bool
	// MaxAge overrides the collection's default max age when positive.
	MaxAge time.Duration
}

// Gateway performs bulk fetches into the entity cache. A fetch is skipped
// when cached data is present and fresh, and concurrent fetches of the same
// key share one request.
type Gateway struct {
	api       API
	cache     *cache.Cache
	staleness Staleness
	logger    *zap.Logger
	now       func() time.Time
	group     singleflight.Group
}

// New creates a gateway. Zero fields of staleness take DefaultStaleness values.
func New(api API, c *cache.Cache, staleness Staleness, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		api:       api,
		cache:     c,
		staleness: withDefaults(staleness),
		logger:    logger,
		now:       time.Now,
	}
}

func withDefaults(s Staleness) Staleness {
	pick := func(v, def time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return def
	}
	return Staleness{
		Chats:             pick(s.Chats, DefaultStaleness.Chats),
		Messages:          pick(s.Messages, DefaultStaleness.Messages),
		FriendList:        pick(s.FriendList, DefaultStaleness.FriendList),
		FriendRequests:    pick(s.FriendRequests, DefaultStaleness.FriendRequests),
		FriendSuggestions: pick(s.FriendSuggestions, DefaultStaleness.FriendSuggestions),
	}
}

// fresh reports whether a fetch of key can be skipped.
func (g *Gateway) fresh(key string, hasData bool, opts FetchOptions, def time.Duration) bool {
	if opts.Force || !hasData {
		return false
	}
	maxAge := def
	if opts.MaxAge > 0 {
		maxAge = opts.MaxAge
	}
	at, ok := g.cache.FetchedAt(key)
	return ok && g.now().Sub(at) < maxAge
}

// ErrSessionChanged is returned by a fetch whose result was discarded
// because the cache was reset while it was in flight.
var ErrSessionChanged = errors.New("session changed during fetch")

// run executes fn once per key and cache epoch at a time. Callers joining an
// in-flight fetch wait for its result; a caller's cancellation does not
// abort the shared request. fn returns the cache update to apply, which is
// dropped when the cache was reset since the fetch began.
func (g *Gateway) run(ctx context.Context, key, what string, fn func(ctx context.Context) (func(), error)) error {
	epoch := g.cache.Epoch()
	ch := g.group.DoChan(fmt.Sprintf("%d/%s", epoch, key), func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		g.cache.SetLoading(key, true)
		defer g.cache.SetLoading(key, false)

		apply, err := fn(fctx)
		var result error
		current := g.cache.InEpoch(epoch, func() {
			if err != nil {
				g.cache.SetError(key, fmt.Sprintf("failed to load %s: %v", what, err))
				result = fmt.Errorf("fetch %s: %w", what, err)
				return
			}
			apply()
			g.cache.SetError(key, "")
			g.cache.MarkFetched(key, g.now())
		})
		switch {
		case !current:
			g.logger.Debug("discarding fetch from previous session", zap.String("key", key))
			return nil, fmt.Errorf("fetch %s: %w", what, ErrSessionChanged)
		case result != nil:
			g.logger.Warn("fetch failed", zap.String("key", key), zap.Error(err))
		}
		return nil, result
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchChats loads the chat list, merging it by id.
func (g *Gateway) FetchChats(ctx context.Context, opts FetchOptions) error {
	key := cache.KeyChats
	if g.fresh(key, len(g.cache.Chats()) > 0, opts, g.staleness.Chats) {
		return nil
	}
	return g.run(ctx, key, "chats", func(ctx context.Context) (func(), error) {
		chats, err := g.api.ListChats(ctx)
		if err != nil {
			return nil, err
		}
		return func() { g.cache.MergeChats(chats) }, nil
	})
}

// FetchMessages loads the full message list of a chat, replacing the cached one.
func (g *Gateway) FetchMessages(ctx context.Context, chatID model.ID, opts FetchOptions) error {
	if chatID == "" || chatID.IsPlaceholder() {
		return nil
	}
	key := cache.MessagesKey(chatID)
	if g.fresh(key, len(g.cache.Messages(chatID)) > 0, opts, g.staleness.Messages) {
		return nil
	}
	return g.run(ctx, key, "messages", func(ctx context.Context) (func(), error) {
		msgs, err := g.api.ListMessages(ctx, chatID)
		if err != nil {
			return nil, err
		}
		return func() { g.cache.ReplaceMessages(chatID, msgs) }, nil
	})
}

// FetchFriendList loads the friend list, merging it by id.
func (g *Gateway) FetchFriendList(ctx context.Context, opts FetchOptions) error {
	key := cache.KeyFriendList
	if g.fresh(key, len(g.cache.Friends()) > 0, opts, g.staleness.FriendList) {
		return nil
	}
	return g.run(ctx, key, "friends", func(ctx context.Context) (func(), error) {
		friends, err := g.api.ListFriends(ctx)
		if err != nil {
			return nil, err
		}
		return func() { g.cache.MergeFriends(friends) }, nil
	})
}

// FetchFriendRequests loads pending friend requests.
func (g *Gateway) FetchFriendRequests(ctx context.Context, opts FetchOptions) error {
	key := cache.KeyFriendRequests
	if g.fresh(key, len(g.cache.FriendRequests()) > 0, opts, g.staleness.FriendRequests) {
		return nil
	}
	return g.run(ctx, key, "friend requests", func(ctx context.Context) (func(), error) {
		reqs, err := g.api.ListFriendRequests(ctx)
		if err != nil {
			return nil, err
		}
		return func() { g.cache.ReplaceFriendRequests(reqs) }, nil
	})
}

// FetchFriendSuggestions loads friend suggestions.
func (g *Gateway) FetchFriendSuggestions(ctx context.Context, opts FetchOptions) error {
	key := cache.KeyFriendSuggestions
	if g.fresh(key, len(g.cache.FriendSuggestions()) > 0, opts, g.staleness.FriendSuggestions) {
		return nil
	}
	return g.run(ctx, key, "friend suggestions", func(ctx context.Context) (func(), error) {
		profiles, err := g.api.ListFriendSuggestions(ctx)
		if err != nil {
			return nil, err
		}
		return func() { g.cache.ReplaceSuggestions(profiles) }, nil
	})
}
