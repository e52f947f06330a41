package cache

import (
	"maps"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// typingEntry tracks the expiry timer of one (chat, user) pair. gen is
// bumped on every signal so a timer armed for an older signal is ignored.
type typingEntry struct {
	typing bool
	gen    uint64
	timer  *time.Timer
}

// SetTyping records whether userID is typing in chatID. A true signal
// expires after the typing TTL unless refreshed; each new signal replaces
// the previous timer.
func (c *Cache) SetTyping(chatID, userID model.ID, isTyping bool) {
	if chatID == "" || userID == "" {
		return
	}
	c.mu.Lock()
	users := c.typing[chatID]
	if users == nil {
		users = make(map[model.ID]*typingEntry)
		c.typing[chatID] = users
	}
	e := users[userID]
	if e == nil {
		e = &typingEntry{}
		users[userID] = e
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	e.typing = isTyping
	if isTyping {
		gen := e.gen
		e.timer = time.AfterFunc(c.typingTTL, func() { c.expireTyping(chatID, userID, gen) })
	}
	c.mu.Unlock()
	c.notify(KindTypingChanged, Change{ChatID: chatID, UserID: userID, Typing: isTyping})
}

func (c *Cache) expireTyping(chatID, userID model.ID, gen uint64) {
	c.mu.Lock()
	e := c.typing[chatID][userID]
	if e == nil || e.gen != gen || !e.typing {
		c.mu.Unlock()
		return
	}
	e.typing = false
	e.timer = nil
	c.mu.Unlock()
	c.notify(KindTypingChanged, Change{ChatID: chatID, UserID: userID, Typing: false})
}

// IsTyping reports whether userID is currently typing in chatID.
func (c *Cache) IsTyping(chatID, userID model.ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.typing[chatID][userID]
	return e != nil && e.typing
}

// Typing returns the users currently typing in chatID.
func (c *Cache) Typing(chatID model.ID) []model.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.ID
	for uid, e := range c.typing[chatID] {
		if e.typing {
			out = append(out, uid)
		}
	}
	return out
}

func (c *Cache) stopTypingTimersLocked() {
	for _, users := range c.typing {
		for _, e := range users {
			if e.timer != nil {
				e.timer.Stop()
			}
		}
	}
}

// SetPresence records the presence of userID. The latest call wins.
func (c *Cache) SetPresence(userID model.ID, status model.PresenceStatus, lastSeen time.Time) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	c.presence[userID] = model.Presence{Status: status, LastSeen: lastSeen}
	c.mu.Unlock()
	c.notify(KindPresenceChanged, Change{UserID: userID})
}

// Presence returns the last known presence of userID.
func (c *Cache) Presence(userID model.ID) (model.Presence, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.presence[userID]
	return p, ok
}

// PresenceAll returns a copy of every known presence.
func (c *Cache) PresenceAll() map[model.ID]model.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.presence)
}
