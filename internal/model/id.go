package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	placeholderPrefix = "placeholder_"
	tempPrefix        = "temp_"
)

// NewChatSentinel is accepted in place of a chat id to start a new conversation.
const NewChatSentinel ID = "new"

// ID is an entity identifier. The server sends ids as numbers or strings;
// both are normalized to their string form on decode.
type ID string

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: expected string or number, got %s", b)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// IsPlaceholder reports whether id names a locally created chat awaiting confirmation.
func (id ID) IsPlaceholder() bool { return strings.HasPrefix(string(id), placeholderPrefix) }

// IsTemp reports whether id names a locally created message awaiting its server id.
func (id ID) IsTemp() bool { return strings.HasPrefix(string(id), tempPrefix) }

// NewPlaceholderChatID returns the id of a chat created locally with otherUserID.
// The server echoes it back in new_chat so the placeholder can be promoted.
func NewPlaceholderChatID(now time.Time, otherUserID ID) ID {
	return ID(fmt.Sprintf("%s%d_%s", placeholderPrefix, now.UnixMilli(), otherUserID))
}

// NewTempMessageID returns a fresh temp message id.
func NewTempMessageID() ID {
	return ID(tempPrefix + uuid.NewString())
}
