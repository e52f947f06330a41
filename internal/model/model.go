package model

import "time"

// Participant is a chat member as embedded in chat records.
type Participant struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar_url,omitempty"`
}

// Chat is a conversation. The ID is either a server id or a placeholder id
// (see NewPlaceholderChatID) until the server confirms creation.
type Chat struct {
	ID           ID            `json:"id"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message"`
	UnreadCount  int           `json:"unread_count"`
	Pinned       bool          `json:"pinned"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Other returns the first participant that is not self.
func (c Chat) Other(self ID) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != self {
			return p, true
		}
	}
	return Participant{}, false
}

// Activity returns the time used to order chats: the last message time,
// falling back to the chat creation time.
func (c Chat) Activity() time.Time {
	if c.LastMessage != nil && !c.LastMessage.CreatedAt.IsZero() {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

// Message is a chat message. Locally created messages carry a temp id until
// the server echoes them back.
type Message struct {
	ID        ID         `json:"id"`
	Sender    ID         `json:"sender"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Profile is the public view of a user, used for suggestions and request senders.
type Profile struct {
	ID        ID        `json:"id"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Friend is an accepted friend relation.
type Friend Profile

// FriendRequest is a pending inbound request.
type FriendRequest struct {
	ID        ID        `json:"id"`
	From      Profile   `json:"from_user"`
	CreatedAt time.Time `json:"created_at"`
}

// PresenceStatus is the online state of a user.
type PresenceStatus string

const (
	Online  PresenceStatus = "online"
	Offline PresenceStatus = "offline"
)

// Presence is the last known presence of a user.
type Presence struct {
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

// User is the authenticated local user.
type User struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar_url,omitempty"`
}

// Credentials are submitted to login and signup.
type Credentials struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Tokens is a bearer token pair.
type Tokens struct {
	Access  string `json:"access" toml:"access"`
	Refresh string `json:"refresh" toml:"refresh"`
}

// Snapshot is the persistable portion of the entity cache.
type Snapshot struct {
	Chats             []Chat
	Messages          map[ID][]Message
	Friends           []Friend
	FriendRequests    []FriendRequest
	FriendSuggestions []Profile
	FetchedAt         map[string]time.Time
}
