package restapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/matheus3301/chatsync/internal/model"
)

// Friend request responses accepted by RespondFriendRequest.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (model.Tokens, error) {
	var toks model.Tokens
	err := c.do(ctx, http.MethodPost, "accounts/login/", map[string]string{
		"phone":    creds.Phone,
		"password": creds.Password,
	}, &toks)
	return toks, err
}

// Signup registers a new account, then logs in with the same credentials.
func (c *Client) Signup(ctx context.Context, creds model.Credentials) (model.Tokens, error) {
	if err := c.do(ctx, http.MethodPost, "accounts/signup/", creds, nil); err != nil {
		return model.Tokens{}, err
	}
	return c.Login(ctx, creds)
}

// Refresh exchanges a refresh token for a new access token. The returned
// pair carries the refresh token it was given when the server omits one.
func (c *Client) Refresh(ctx context.Context, refresh string) (model.Tokens, error) {
	var toks model.Tokens
	if err := c.do(ctx, http.MethodPost, "accounts/refresh/", map[string]string{"refresh": refresh}, &toks); err != nil {
		return model.Tokens{}, err
	}
	if toks.Refresh == "" {
		toks.Refresh = refresh
	}
	return toks, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	return get[model.User](ctx, c, "accounts/me/")
}

// ListChats returns the user's chats.
func (c *Client) ListChats(ctx context.Context) ([]model.Chat, error) {
	return get[[]model.Chat](ctx, c, "chats/")
}

// ListMessages returns the messages of a chat.
func (c *Client) ListMessages(ctx context.Context, chatID model.ID) ([]model.Message, error) {
	return get[[]model.Message](ctx, c, fmt.Sprintf("chats/%s/messages/", url.PathEscape(string(chatID))))
}

// MarkRead marks every message of a chat read on the server.
func (c *Client) MarkRead(ctx context.Context, chatID model.ID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("chats/%s/mark-read/", url.PathEscape(string(chatID))), nil, nil)
}

// ListFriends returns the friend list.
func (c *Client) ListFriends(ctx context.Context) ([]model.Friend, error) {
	return get[[]model.Friend](ctx, c, "friends/")
}

// ListFriendRequests returns pending inbound friend requests.
func (c *Client) ListFriendRequests(ctx context.Context) ([]model.FriendRequest, error) {
	return get[[]model.FriendRequest](ctx, c, "friends/requests/")
}

// ListFriendSuggestions returns suggested profiles.
func (c *Client) ListFriendSuggestions(ctx context.Context) ([]model.Profile, error) {
	return get[[]model.Profile](ctx, c, "friends/suggestions/")
}

// SendFriendRequest sends a friend request to userID.
func (c *Client) SendFriendRequest(ctx context.Context, userID model.ID) error {
	return c.do(ctx, http.MethodPost, "friends/requests/create/", map[string]model.ID{"to_user": userID}, nil)
}

// RespondFriendRequest accepts or rejects a pending request.
func (c *Client) RespondFriendRequest(ctx context.Context, requestID model.ID, action string) error {
	if action != ActionAccept && action != ActionReject {
		return fmt.Errorf("invalid friend request action %q", action)
	}
	path := fmt.Sprintf("friends/requests/%s/respond/", url.PathEscape(string(requestID)))
	return c.do(ctx, http.MethodPost, path, map[string]string{"action": action}, nil)
}
