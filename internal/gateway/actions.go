package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/matheus3301/chatsync/internal/model"
)

// MarkChatRead marks a chat read on the server. The cache is not touched;
// the realtime read receipt or the next fetch reflects it.
func (g *Gateway) MarkChatRead(ctx context.Context, chatID model.ID) error {
	if chatID.IsPlaceholder() {
		return nil
	}
	if err := g.api.MarkRead(ctx, chatID); err != nil {
		return fmt.Errorf("mark chat %s read: %w", chatID, err)
	}
	return nil
}

// SendFriendRequest sends a friend request over the bulk API.
func (g *Gateway) SendFriendRequest(ctx context.Context, userID model.ID) error {
	if userID == "" {
		return errors.New("send friend request: empty user id")
	}
	if err := g.api.SendFriendRequest(ctx, userID); err != nil {
		return fmt.Errorf("send friend request to %s: %w", userID, err)
	}
	return nil
}

// RespondFriendRequest accepts or rejects a request, then refetches the
// request list and, on accept, the friend list.
func (g *Gateway) RespondFriendRequest(ctx context.Context, requestID model.ID, action string) error {
	if err := g.api.RespondFriendRequest(ctx, requestID, action); err != nil {
		return fmt.Errorf("respond to friend request %s: %w", requestID, err)
	}
	err := g.FetchFriendRequests(ctx, FetchOptions{Force: true})
	if action == "accept" {
		if ferr := g.FetchFriendList(ctx, FetchOptions{Force: true}); ferr != nil {
			err = multierror.Append(err, ferr)
		}
	}
	return err
}

// RefreshStale refetches every collection whose cached copy is stale. It is
// run after rehydrating the cache from disk.
func (g *Gateway) RefreshStale(ctx context.Context) error {
	var result *multierror.Error
	steps := []func(context.Context, FetchOptions) error{
		g.FetchChats,
		g.FetchFriendList,
		g.FetchFriendRequests,
		g.FetchFriendSuggestions,
	}
	for _, fetch := range steps {
		if err := fetch(ctx, FetchOptions{}); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if active := g.cache.ActiveChat(); active != "" {
		if err := g.FetchMessages(ctx, active, FetchOptions{}); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
