package cache

import "github.com/matheus3301/chatsync/internal/model"

// Event kinds published on the bus after each mutation.
const (
	KindChatUpserted       = "cache.chat_upserted"
	KindChatsMerged        = "cache.chats_merged"
	KindChatRemoved        = "cache.chat_removed"
	KindChatPromoted       = "cache.chat_promoted"
	KindMessageAdded       = "cache.message_added"
	KindMessagesReplaced   = "cache.messages_replaced"
	KindMessagesRead       = "cache.messages_read"
	KindFriendsChanged     = "cache.friends_changed"
	KindRequestsChanged    = "cache.friend_requests_changed"
	KindSuggestionsChanged = "cache.friend_suggestions_changed"
	KindTypingChanged      = "cache.typing_changed"
	KindPresenceChanged    = "cache.presence_changed"
	KindActiveChanged      = "cache.active_chat_changed"
	KindFetchChanged       = "cache.fetch_changed"
	KindReset              = "cache.reset"
	KindRestored           = "cache.restored"
)

// Change is the payload of every cache event. Only the fields relevant to
// the kind are set.
type Change struct {
	ChatID    model.ID
	MessageID model.ID
	UserID    model.ID
	// FromID is the placeholder id on KindChatPromoted.
	FromID model.ID
	Typing bool
	// Key is the fetch key on KindFetchChanged.
	Key string
}

// Persistent reports whether events of kind change state that is written to disk.
func Persistent(kind string) bool {
	switch kind {
	case KindTypingChanged, KindPresenceChanged, KindActiveChanged, KindRestored:
		return false
	}
	return true
}
