package cache

import (
	"slices"
	"sort"

	"github.com/matheus3301/chatsync/internal/model"
)

// Messages returns the messages of a chat ordered by created_at.
func (c *Cache) Messages(chatID model.ID) []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneMessages(c.messages[chatID])
}

// AddMessage records a message in chatID.
//
// Messages are deduplicated by id: a second delivery replaces the first.
// A server copy of a message the local user sent replaces the matching
// temp message. The chat's last message follows the newest message, and
// its unread count grows by one for a new message unless the local user
// sent it or the chat is active. Unknown chats get a minimal entry.
func (c *Cache) AddMessage(chatID model.ID, msg model.Message) {
	if chatID == "" || msg.ID == "" {
		return
	}
	c.mu.Lock()
	list := c.messages[chatID]
	own := msg.Sender == c.self

	var promoted model.ID
	if own && !msg.ID.IsTemp() {
		if i := indexOfTemp(list, msg); i >= 0 {
			promoted = list[i].ID
			list = slices.Delete(list, i, i+1)
		}
	}
	list, replaced := insertMessage(list, cloneMessage(msg))
	c.messages[chatID] = list

	i := c.indexOfChat(chatID)
	if i < 0 {
		c.chats = slices.Insert(c.chats, 0, model.Chat{ID: chatID, CreatedAt: msg.CreatedAt})
		i = 0
	}
	ch := &c.chats[i]
	if last := ch.LastMessage; last == nil || last.ID == msg.ID || last.ID == promoted || !msg.CreatedAt.Before(last.CreatedAt) {
		m := cloneMessage(msg)
		ch.LastMessage = &m
	}
	if !replaced && promoted == "" && !own && chatID != c.active {
		ch.UnreadCount++
	}
	c.mu.Unlock()
	c.notify(KindMessageAdded, Change{ChatID: chatID, MessageID: msg.ID, UserID: msg.Sender})
}

// UpsertMessage replaces a message by id or inserts it, without touching
// unread accounting.
func (c *Cache) UpsertMessage(chatID model.ID, msg model.Message) {
	if chatID == "" || msg.ID == "" {
		return
	}
	c.mu.Lock()
	c.messages[chatID], _ = insertMessage(c.messages[chatID], cloneMessage(msg))
	if i := c.indexOfChat(chatID); i >= 0 {
		if last := c.chats[i].LastMessage; last != nil && last.ID == msg.ID {
			m := cloneMessage(msg)
			c.chats[i].LastMessage = &m
		}
	}
	c.mu.Unlock()
	c.notify(KindMessageAdded, Change{ChatID: chatID, MessageID: msg.ID, UserID: msg.Sender})
}

// ReplaceMessages sets the full message list of a chat, as returned by a
// bulk fetch.
func (c *Cache) ReplaceMessages(chatID model.ID, msgs []model.Message) {
	if chatID == "" {
		return
	}
	list := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		list, _ = insertMessage(list, cloneMessage(m))
	}
	c.mu.Lock()
	c.messages[chatID] = list
	if i := c.indexOfChat(chatID); i >= 0 && len(list) > 0 {
		newest := list[len(list)-1]
		if last := c.chats[i].LastMessage; last == nil || !newest.CreatedAt.Before(last.CreatedAt) {
			c.chats[i].LastMessage = &newest
		}
	}
	c.mu.Unlock()
	c.notify(KindMessagesReplaced, Change{ChatID: chatID})
}

// MarkMessagesAsRead stamps read_at on every unread message in chatID not
// sent by readerID and zeroes the chat's unread count. Calling it again
// changes nothing.
func (c *Cache) MarkMessagesAsRead(chatID, readerID model.ID) {
	c.mu.Lock()
	now := c.now()
	changed := false
	list := c.messages[chatID]
	for i := range list {
		if list[i].Sender != readerID && list[i].ReadAt == nil {
			t := now
			list[i].ReadAt = &t
			changed = true
		}
	}
	if i := c.indexOfChat(chatID); i >= 0 {
		ch := &c.chats[i]
		if ch.UnreadCount != 0 {
			ch.UnreadCount = 0
			changed = true
		}
		if last := ch.LastMessage; last != nil && last.Sender != readerID && last.ReadAt == nil {
			t := now
			last.ReadAt = &t
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.notify(KindMessagesRead, Change{ChatID: chatID, UserID: readerID})
	}
}

// insertMessage replaces the message with the same id or inserts msg after
// every message not newer than it. It reports whether a message was replaced.
func insertMessage(list []model.Message, msg model.Message) ([]model.Message, bool) {
	for i := range list {
		if list[i].ID == msg.ID {
			list[i] = msg
			return list, true
		}
	}
	pos := len(list)
	if !msg.CreatedAt.IsZero() {
		pos = sort.Search(len(list), func(i int) bool {
			return list[i].CreatedAt.After(msg.CreatedAt)
		})
	}
	return slices.Insert(list, pos, msg), false
}

func indexOfTemp(list []model.Message, msg model.Message) int {
	for i, m := range list {
		if m.ID.IsTemp() && m.Sender == msg.Sender && m.Text == msg.Text {
			return i
		}
	}
	return -1
}

// indexOfEcho finds the server copy of the temp message tmp.
func indexOfEcho(list []model.Message, tmp model.Message) int {
	for i, m := range list {
		if !m.ID.IsTemp() && m.Sender == tmp.Sender && m.Text == tmp.Text {
			return i
		}
	}
	return -1
}
