package restapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/", WithTokenSource(func() string { return "tok" }))
}

func TestListChatsNormalizesIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chats/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"id": 42, "participants": [{"id": 1, "name": "Ann"}],
			"last_message": {"id": 7, "sender": 1, "text": "yo", "created_at": "2024-05-01T10:00:00Z"},
			"unread_count": 2, "pinned": true, "created_at": "2024-04-01T00:00:00Z"}]`)
	})
	c := newServer(t, mux)

	chats, err := c.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, model.ID("42"), chats[0].ID)
	assert.Equal(t, model.ID("1"), chats[0].Participants[0].ID)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, model.ID("7"), chats[0].LastMessage.ID)
	assert.Equal(t, 2, chats[0].UnreadCount)
	assert.True(t, chats[0].Pinned)
}

func TestListMessagesPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chats/c1/messages/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id": "m1", "sender": "u2", "text": "hi", "created_at": "2024-05-01T10:00:00Z"}]`)
	})
	c := newServer(t, mux)

	msgs, err := c.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/friends/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "token expired"}`, http.StatusUnauthorized)
	})
	c := newServer(t, mux)

	_, err := c.ListFriends(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "friends/", se.Path)
	assert.Contains(t, se.Body, "token expired")
}

func TestSignupThenLogin(t *testing.T) {
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/accounts/signup/", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "signup")
		var body model.Credentials
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Ann", body.Name)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/accounts/login/", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "login")
		_, _ = io.WriteString(w, `{"access": "a1", "refresh": "r1"}`)
	})
	c := newServer(t, mux)

	toks, err := c.Signup(context.Background(), model.Credentials{Phone: "555", Password: "pw", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, model.Tokens{Access: "a1", Refresh: "r1"}, toks)
	assert.Equal(t, []string{"signup", "login"}, calls)
}

func TestRefreshKeepsRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/accounts/refresh/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["refresh"])
		_, _ = io.WriteString(w, `{"access": "a2"}`)
	})
	c := newServer(t, mux)

	toks, err := c.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.Tokens{Access: "a2", Refresh: "r1"}, toks)
}

func TestFriendRequestCommands(t *testing.T) {
	got := map[string]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/friends/requests/create/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got["create"] = body["to_user"]
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/friends/requests/r9/respond/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got["respond"] = body["action"]
	})
	c := newServer(t, mux)
	ctx := context.Background()

	require.NoError(t, c.SendFriendRequest(ctx, "u3"))
	require.NoError(t, c.RespondFriendRequest(ctx, "r9", ActionAccept))
	require.Error(t, c.RespondFriendRequest(ctx, "r9", "maybe"))
	assert.Equal(t, map[string]string{"create": "u3", "respond": "accept"}, got)
}

func TestNoTokenNoHeader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts/me/", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"id": 5, "name": "Ann"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	me, err := New(srv.URL + "/api").Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ID("5"), me.ID)
}
