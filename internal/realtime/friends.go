package realtime

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// Friend stream frame types.
const (
	FrameFriendRequestSend    = "friend_request:send"
	FrameFriendRequestReceive = "friend_request:receive"
	FrameFriendRequestAccept  = "friend_request:accept"
	FrameFriendRequestReject  = "friend_request:reject"
)

// Actions accepted by the friend commands.
const (
	SuggestionAdd    = "add"
	SuggestionRemove = "remove"
	RequestAccept    = "accept"
	RequestReject    = "reject"
)

type friendSendPayload struct {
	ToUserID model.ID `json:"to_user_id"`
}

type requestPayload struct {
	RequestID model.ID `json:"request_id"`
}

type acceptPayload struct {
	RequestID model.ID `json:"request_id"`
	model.Profile
}

// FriendChannel is the friend stream: request lifecycle frames and the
// outbound request commands.
type FriendChannel struct {
	*Channel
	cache *cache.Cache
}

// NewFriendChannel creates the friend stream bound to c.
func NewFriendChannel(cfg Config, c *cache.Cache, tokens TokenSource, b *bus.Bus, logger *zap.Logger) *FriendChannel {
	if cfg.Name == "" {
		cfg.Name = "friends"
	}
	ch := &FriendChannel{cache: c}
	ch.Channel = NewChannel(cfg, ch, tokens, b, logger)
	return ch
}

// OnOpen has nothing to resubscribe; the server scopes the stream to the user.
func (ch *FriendChannel) OnOpen(context.Context) {}

// HandleFrame applies one friend stream frame to the cache. Frames arriving
// without a local user are ignored.
func (ch *FriendChannel) HandleFrame(_ context.Context, env Envelope) error {
	if ch.cache.Self() == "" {
		return nil
	}
	switch env.Type {
	case FrameFriendRequestSend:
		p, err := decode[friendSendPayload](env)
		if err != nil {
			return err
		}
		if p.ToUserID == "" {
			return missing(env.Type, "to_user_id")
		}
		ch.cache.RemoveSuggestion(p.ToUserID)
	case FrameFriendRequestReceive:
		p, err := decode[model.FriendRequest](env)
		if err != nil {
			return err
		}
		if p.ID == "" {
			return missing(env.Type, "id")
		}
		ch.cache.AddFriendRequest(p)
	case FrameFriendRequestAccept:
		p, err := decode[acceptPayload](env)
		if err != nil {
			return err
		}
		if p.RequestID != "" {
			ch.cache.RemoveFriendRequest(p.RequestID)
		}
		if p.ID != "" {
			ch.cache.AddFriend(model.Friend(p.Profile))
		}
	case FrameFriendRequestReject:
		p, err := decode[requestPayload](env)
		if err != nil {
			return err
		}
		if p.RequestID == "" {
			return missing(env.Type, "request_id")
		}
		ch.cache.RemoveFriendRequest(p.RequestID)
	default:
		return ErrUnknownFrame
	}
	return nil
}

// ActOnFriendSuggestion sends a friend request to a suggested user (add) or
// dismisses the suggestion locally (remove).
func (ch *FriendChannel) ActOnFriendSuggestion(ctx context.Context, userID model.ID, action string) error {
	switch action {
	case SuggestionRemove:
		ch.cache.RemoveSuggestion(userID)
		return nil
	case SuggestionAdd:
		return ch.deliver(ctx, FrameFriendRequestSend, friendSendPayload{ToUserID: userID})
	default:
		return fmt.Errorf("invalid suggestion action %q", action)
	}
}

// RespondFriendRequest accepts or rejects a pending request. The cache is
// updated when the server echoes the outcome.
func (ch *FriendChannel) RespondFriendRequest(ctx context.Context, requestID model.ID, action string) error {
	if action != RequestAccept && action != RequestReject {
		return fmt.Errorf("invalid request action %q", action)
	}
	return ch.deliver(ctx, "friend_request:"+action, requestPayload{RequestID: requestID})
}
