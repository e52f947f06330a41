package cache

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
)

// DefaultTypingTTL is how long a typing signal stays true without a refresh.
const DefaultTypingTTL = 5 * time.Second

// Fetch keys used for staleness metadata.
const (
	KeyChats             = "chats"
	KeyFriendList        = "friends"
	KeyFriendRequests    = "friend_requests"
	KeyFriendSuggestions = "friend_suggestions"
)

// MessagesKey returns the fetch key for a chat's message list.
func MessagesKey(chatID model.ID) string {
	return "messages:" + string(chatID)
}

// Option configures a Cache.
type Option func(*Cache)

// WithTypingTTL overrides DefaultTypingTTL.
func WithTypingTTL(d time.Duration) Option {
	return func(c *Cache) { c.typingTTL = d }
}

// WithClock overrides the time source used for read receipts.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is the normalized in-memory store of chats, messages, friend
// relations, presence and typing state. Every mutation goes through its
// methods and is followed by a bus event in the "cache." namespace.
// Operations never fail; unknown ids are ignored or create an entry.
type Cache struct {
	mu        sync.RWMutex
	resetMu   sync.RWMutex
	bus       *bus.Bus
	now       func() time.Time
	typingTTL time.Duration

	self   model.ID
	active model.ID

	chats       []model.Chat
	messages    map[model.ID][]model.Message
	friends     []model.Friend
	requests    []model.FriendRequest
	suggestions []model.Profile
	presence    map[model.ID]model.Presence
	typing      map[model.ID]map[model.ID]*typingEntry

	fetchedAt map[string]time.Time
	loading   map[string]bool
	errs      map[string]string
	lastErr   string // key of the most recent failure
	epoch     uint64
}

// New creates an empty cache publishing to b. b may be nil.
func New(b *bus.Bus, opts ...Option) *Cache {
	c := &Cache{
		bus:       b,
		now:       time.Now,
		typingTTL: DefaultTypingTTL,
		messages:  make(map[model.ID][]model.Message),
		presence:  make(map[model.ID]model.Presence),
		typing:    make(map[model.ID]map[model.ID]*typingEntry),
		fetchedAt: make(map[string]time.Time),
		loading:   make(map[string]bool),
		errs:      make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) notify(kind string, ch Change) {
	c.bus.Emit(kind, ch)
}

// SetSelf records the local user's id, used for unread accounting.
func (c *Cache) SetSelf(id model.ID) {
	c.mu.Lock()
	c.self = id
	c.mu.Unlock()
}

// Self returns the local user's id.
func (c *Cache) Self() model.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// SetActiveChat marks chatID as the chat currently open. An empty id clears it.
// Opening a chat does not touch its unread count; callers mark it read.
func (c *Cache) SetActiveChat(chatID model.ID) {
	c.mu.Lock()
	if c.active == chatID {
		c.mu.Unlock()
		return
	}
	c.active = chatID
	c.mu.Unlock()
	c.notify(KindActiveChanged, Change{ChatID: chatID})
}

// ActiveChat returns the active chat id, or "" when none is open.
func (c *Cache) ActiveChat() model.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// MarkFetched stamps the last successful fetch of key.
func (c *Cache) MarkFetched(key string, at time.Time) {
	c.mu.Lock()
	c.fetchedAt[key] = at
	c.mu.Unlock()
	c.notify(KindFetchChanged, Change{Key: key})
}

// FetchedAt returns the last successful fetch time of key.
func (c *Cache) FetchedAt(key string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.fetchedAt[key]
	return t, ok
}

// SetLoading flags key as being fetched.
func (c *Cache) SetLoading(key string, loading bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loading {
		c.loading[key] = true
	} else {
		delete(c.loading, key)
	}
}

// Loading reports whether a fetch of key is in flight.
func (c *Cache) Loading(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading[key]
}

// SetError records the fetch error of key. An empty msg clears it, leaving
// the errors of other keys in place.
func (c *Cache) SetError(key, msg string) {
	c.mu.Lock()
	if msg == "" {
		delete(c.errs, key)
	} else {
		c.errs[key] = msg
		c.lastErr = key
	}
	c.mu.Unlock()
	c.notify(KindFetchChanged, Change{Key: key})
}

// FetchError returns the recorded error of key.
func (c *Cache) FetchError(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errs[key]
}

// Err returns the most recent fetch error still outstanding, or "".
func (c *Cache) Err() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if msg, ok := c.errs[c.lastErr]; ok {
		return msg
	}
	keys := slices.Sorted(maps.Keys(c.errs))
	if len(keys) == 0 {
		return ""
	}
	return c.errs[keys[0]]
}

// Epoch identifies the current session's contents. Reset advances it, so a
// fetch that started before a reset can tell its result is stale.
func (c *Cache) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// InEpoch runs fn unless the cache was reset since epoch was read, and
// reports whether it ran. A Reset waits for a running fn to return.
func (c *Cache) InEpoch(epoch uint64, fn func()) bool {
	c.resetMu.RLock()
	defer c.resetMu.RUnlock()
	if c.Epoch() != epoch {
		return false
	}
	fn()
	return true
}

// Reset clears all state and cancels pending typing timers.
func (c *Cache) Reset() {
	c.resetMu.Lock()
	defer c.resetMu.Unlock()
	c.mu.Lock()
	c.stopTypingTimersLocked()
	c.self = ""
	c.active = ""
	c.chats = nil
	c.messages = make(map[model.ID][]model.Message)
	c.friends = nil
	c.requests = nil
	c.suggestions = nil
	c.presence = make(map[model.ID]model.Presence)
	c.typing = make(map[model.ID]map[model.ID]*typingEntry)
	c.fetchedAt = make(map[string]time.Time)
	c.loading = make(map[string]bool)
	c.errs = make(map[string]string)
	c.lastErr = ""
	c.epoch++
	c.mu.Unlock()
	c.notify(KindReset, Change{})
}

// Snapshot returns a deep copy of the persistable state.
func (c *Cache) Snapshot() *model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := &model.Snapshot{
		Chats:             make([]model.Chat, 0, len(c.chats)),
		Messages:          make(map[model.ID][]model.Message, len(c.messages)),
		Friends:           append([]model.Friend(nil), c.friends...),
		FriendRequests:    append([]model.FriendRequest(nil), c.requests...),
		FriendSuggestions: append([]model.Profile(nil), c.suggestions...),
		FetchedAt:         maps.Clone(c.fetchedAt),
	}
	for _, ch := range c.chats {
		s.Chats = append(s.Chats, cloneChat(ch))
	}
	for id, list := range c.messages {
		s.Messages[id] = cloneMessages(list)
	}
	return s
}

// Restore replaces the persistable state with s, leaving session-scoped
// state (self, active chat, typing, presence) untouched.
func (c *Cache) Restore(s *model.Snapshot) {
	if s == nil {
		return
	}
	c.mu.Lock()
	c.chats = c.chats[:0]
	for _, ch := range s.Chats {
		c.chats = append(c.chats, cloneChat(ch))
	}
	c.messages = make(map[model.ID][]model.Message, len(s.Messages))
	for id, list := range s.Messages {
		c.messages[id] = cloneMessages(list)
	}
	c.friends = append([]model.Friend(nil), s.Friends...)
	c.requests = append([]model.FriendRequest(nil), s.FriendRequests...)
	c.suggestions = append([]model.Profile(nil), s.FriendSuggestions...)
	c.fetchedAt = maps.Clone(s.FetchedAt)
	if c.fetchedAt == nil {
		c.fetchedAt = make(map[string]time.Time)
	}
	c.mu.Unlock()
	c.notify(KindRestored, Change{})
}

func cloneChat(ch model.Chat) model.Chat {
	out := ch
	out.Participants = append([]model.Participant(nil), ch.Participants...)
	if ch.LastMessage != nil {
		m := cloneMessage(*ch.LastMessage)
		out.LastMessage = &m
	}
	return out
}

func cloneMessage(m model.Message) model.Message {
	if m.ReadAt != nil {
		t := *m.ReadAt
		m.ReadAt = &t
	}
	return m
}

func cloneMessages(list []model.Message) []model.Message {
	out := make([]model.Message, len(list))
	for i, m := range list {
		out[i] = cloneMessage(m)
	}
	return out
}
