package cache

import (
	"slices"
	"sort"

	"github.com/matheus3301/chatsync/internal/model"
)

// Chats returns all chats in stored order. New chats are stored first.
func (c *Cache) Chats() []model.Chat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Chat, 0, len(c.chats))
	for _, ch := range c.chats {
		out = append(out, cloneChat(ch))
	}
	return out
}

// SortedChats returns chats in presentation order: pinned first, then by
// most recent activity.
func (c *Cache) SortedChats() []model.Chat {
	out := c.Chats()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].Activity().After(out[j].Activity())
	})
	return out
}

// Chat returns the chat with the given id.
func (c *Cache) Chat(id model.ID) (model.Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.indexOfChat(id)
	if i < 0 {
		return model.Chat{}, false
	}
	return cloneChat(c.chats[i]), true
}

// HasChat reports whether id is a known chat.
func (c *Cache) HasChat(id model.ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexOfChat(id) >= 0
}

// ChatIDs returns the ids of all server-confirmed chats.
func (c *Cache) ChatIDs() []model.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]model.ID, 0, len(c.chats))
	for _, ch := range c.chats {
		if !ch.ID.IsPlaceholder() {
			ids = append(ids, ch.ID)
		}
	}
	return ids
}

// UpsertChat merges chat into the cache by id. Participants, last message
// and created_at only overwrite when present; unread count and pinned always
// take the incoming value. A newer last message is never replaced by an
// older one. The active chat always ends with zero unread.
func (c *Cache) UpsertChat(chat model.Chat) {
	if chat.ID == "" {
		return
	}
	c.mu.Lock()
	c.upsertChatLocked(chat)
	c.mu.Unlock()
	c.notify(KindChatUpserted, Change{ChatID: chat.ID})
}

// MergeChats upserts every chat of a bulk fetch. Chats missing from the
// list, placeholders included, are kept.
func (c *Cache) MergeChats(chats []model.Chat) {
	c.mu.Lock()
	// Reverse so the first listed chat ends up first when prepended.
	for i := len(chats) - 1; i >= 0; i-- {
		if chats[i].ID != "" {
			c.upsertChatLocked(chats[i])
		}
	}
	c.mu.Unlock()
	c.notify(KindChatsMerged, Change{})
}

// RemoveChat drops a chat and its messages.
func (c *Cache) RemoveChat(id model.ID) {
	c.mu.Lock()
	i := c.indexOfChat(id)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.chats = slices.Delete(c.chats, i, i+1)
	delete(c.messages, id)
	c.mu.Unlock()
	c.notify(KindChatRemoved, Change{ChatID: id})
}

// StartChatLocal promotes a placeholder chat to the server-confirmed chat:
// messages move from placeholderID to real.ID (deduplicated by id, ordered
// by created_at), the placeholder entry is dropped and real is merged in.
// A temp message whose server copy already reached real.ID is discarded.
// If the placeholder was active, the real chat becomes active.
func (c *Cache) StartChatLocal(placeholderID model.ID, real model.Chat) {
	if real.ID == "" {
		return
	}
	c.mu.Lock()
	moved := c.messages[placeholderID]
	if placeholderID != real.ID {
		delete(c.messages, placeholderID)
		if i := c.indexOfChat(placeholderID); i >= 0 {
			c.chats = slices.Delete(c.chats, i, i+1)
		}
	}
	merged := cloneMessages(c.messages[real.ID])
	for _, m := range moved {
		switch {
		case m.ID.IsTemp() && indexOfEcho(merged, m) >= 0:
			continue
		case !m.ID.IsTemp():
			if i := indexOfTemp(merged, m); i >= 0 {
				merged = slices.Delete(merged, i, i+1)
			}
		}
		merged, _ = insertMessage(merged, m)
	}
	if len(merged) > 0 {
		c.messages[real.ID] = merged
		if real.LastMessage == nil {
			last := merged[len(merged)-1]
			real.LastMessage = &last
		}
	}
	if c.active == placeholderID {
		c.active = real.ID
	}
	c.upsertChatLocked(real)
	c.mu.Unlock()
	c.notify(KindChatPromoted, Change{ChatID: real.ID, FromID: placeholderID})
}

func (c *Cache) upsertChatLocked(chat model.Chat) {
	in := cloneChat(chat)
	if in.UnreadCount < 0 || in.ID == c.active {
		in.UnreadCount = 0
	}
	i := c.indexOfChat(in.ID)
	if i < 0 {
		c.chats = slices.Insert(c.chats, 0, in)
		return
	}
	cur := &c.chats[i]
	if len(in.Participants) > 0 {
		cur.Participants = in.Participants
	}
	if in.LastMessage != nil && (cur.LastMessage == nil || !in.LastMessage.CreatedAt.Before(cur.LastMessage.CreatedAt)) {
		cur.LastMessage = in.LastMessage
	}
	if !in.CreatedAt.IsZero() {
		cur.CreatedAt = in.CreatedAt
	}
	cur.UnreadCount = in.UnreadCount
	cur.Pinned = in.Pinned
}

func (c *Cache) indexOfChat(id model.ID) int {
	for i := range c.chats {
		if c.chats[i].ID == id {
			return i
		}
	}
	return -1
}
