package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/realtime"
	"github.com/matheus3301/chatsync/internal/restapi"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Flusher writes pending cache changes to disk.
type Flusher interface {
	Flush() error
}

// Control implements the daemon's control service. Every method takes and
// returns a structpb.Struct so that the CLI needs no generated code.
type Control struct {
	sessionName string
	startedAt   time.Time
	session     *session.Manager
	cache       *cache.Cache
	gateway     *gateway.Gateway
	channels    *realtime.Manager
	db          *store.DB
	flusher     Flusher
	bus         *bus.Bus
	logger      *zap.Logger
}

// Deps are the collaborators of a Control.
type Deps struct {
	SessionName string
	Session     *session.Manager
	Cache       *cache.Cache
	Gateway     *gateway.Gateway
	Channels    *realtime.Manager
	DB          *store.DB
	Flusher     Flusher
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// NewControl creates the control service.
func NewControl(d Deps) *Control {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Control{
		sessionName: d.SessionName,
		startedAt:   time.Now(),
		session:     d.Session,
		cache:       d.Cache,
		gateway:     d.Gateway,
		channels:    d.Channels,
		db:          d.DB,
		flusher:     d.Flusher,
		bus:         d.Bus,
		logger:      d.Logger,
	}
}

func (c *Control) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"session":       c.sessionName,
		"uptime_ms":     time.Since(c.startedAt).Milliseconds(),
		"authenticated": c.session.State().Authenticated(),
		"active_chat":   c.cache.ActiveChat(),
		"error":         c.cache.Err(),
		"bus_dropped":   c.bus.Dropped(),
	}
	if u, ok := c.session.State().User(); ok {
		resp["user"] = u
	}
	if c.channels != nil {
		resp["channels"] = c.channels.Status()
	}
	if c.db != nil {
		if n, err := c.db.ChatCount(); err == nil {
			resp["chat_count"] = n
		}
		if n, err := c.db.MessageCount(); err == nil {
			resp["message_count"] = n
		}
		if at, err := c.db.Checkpoint(chatsync.CheckpointLastFlush); err == nil {
			resp["last_persisted"] = at
		}
	}
	return toStruct(resp)
}

func (c *Control) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	phone, err := required(req, "phone")
	if err != nil {
		return nil, err
	}
	password, err := required(req, "password")
	if err != nil {
		return nil, err
	}
	creds := model.Credentials{
		Phone:    phone,
		Password: password,
		Name:     str(req, "name"),
		Email:    str(req, "email"),
	}

	var user model.User
	if boolean(req, "signup") {
		user, err = c.session.Signup(ctx, creds)
	} else {
		user, err = c.session.Login(ctx, creds)
	}
	if err != nil {
		return nil, toStatus("login", err)
	}
	return toStruct(map[string]any{"user": user})
}

func (c *Control) Logout(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := c.session.Logout(); err != nil {
		return nil, toStatus("logout", err)
	}
	return toStruct(map[string]any{"logged_out": true})
}

func (c *Control) ListChats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	fetchErr := c.gateway.FetchChats(ctx, gateway.FetchOptions{Force: boolean(req, "refresh")})
	if fetchErr != nil {
		c.logger.Warn("list chats: serving cached copy", zap.Error(fetchErr))
	}
	return toStruct(map[string]any{
		"chats":       c.cache.SortedChats(),
		"active_chat": c.cache.ActiveChat(),
		"error":       errString(fetchErr),
	})
}

func (c *Control) ListMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	chatID, err := required(req, "chat_id")
	if err != nil {
		return nil, err
	}
	id := model.ID(chatID)
	fetchErr := c.gateway.FetchMessages(ctx, id, gateway.FetchOptions{Force: boolean(req, "refresh")})
	if fetchErr != nil {
		c.logger.Warn("list messages: serving cached copy", zap.String("chat_id", chatID), zap.Error(fetchErr))
	}
	return toStruct(map[string]any{
		"chat_id":  id,
		"messages": c.cache.Messages(id),
		"typing":   c.cache.Typing(id),
		"error":    errString(fetchErr),
	})
}

func (c *Control) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	text, err := required(req, "text")
	if err != nil {
		return nil, err
	}
	chatID, err := c.channels.Chats.SendMessage(ctx, model.ID(str(req, "chat_id")), text, model.ID(str(req, "other_user_id")))
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return toStruct(map[string]any{"chat_id": chatID})
}

// ReadChat sends a read receipt over the chat stream, falling back to the
// bulk API when the stream is not open.
func (c *Control) ReadChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	chatID, err := required(req, "chat_id")
	if err != nil {
		return nil, err
	}
	if err := c.readChat(ctx, model.ID(chatID)); err != nil {
		return nil, toStatus("read chat", err)
	}
	return toStruct(map[string]any{"chat_id": chatID})
}

func (c *Control) readChat(ctx context.Context, id model.ID) error {
	if err := c.channels.Chats.ReadChat(ctx, id); err != nil {
		return err
	}
	if c.channels.Chats.IsOpen() {
		return nil
	}
	return c.gateway.MarkChatRead(ctx, id)
}

// SetActiveChat selects the chat on screen. An empty chat_id clears it.
func (c *Control) SetActiveChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	id := model.ID(str(req, "chat_id"))
	c.cache.SetActiveChat(id)
	if id != "" {
		if err := c.readChat(ctx, id); err != nil {
			c.logger.Warn("read on select failed", zap.String("chat_id", string(id)), zap.Error(err))
		}
	}
	return toStruct(map[string]any{"active_chat": id})
}

func (c *Control) SendTyping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	chatID, err := required(req, "chat_id")
	if err != nil {
		return nil, err
	}
	typing := true
	if v, ok := req.GetFields()["typing"]; ok {
		typing = v.GetBoolValue()
	}
	if err := c.channels.Chats.SendTyping(ctx, model.ID(chatID), typing); err != nil {
		return nil, toStatus("send typing", err)
	}
	return toStruct(map[string]any{"chat_id": chatID, "typing": typing})
}

func (c *Control) ListFriends(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	opts := gateway.FetchOptions{Force: boolean(req, "refresh")}
	var errs []string
	for _, fetch := range []func(context.Context, gateway.FetchOptions) error{
		c.gateway.FetchFriendList,
		c.gateway.FetchFriendRequests,
		c.gateway.FetchFriendSuggestions,
	} {
		if err := fetch(ctx, opts); err != nil {
			errs = append(errs, err.Error())
		}
	}
	presence := map[string]model.Presence{}
	for id, p := range c.cache.PresenceAll() {
		presence[string(id)] = p
	}
	return toStruct(map[string]any{
		"friends":     c.cache.Friends(),
		"requests":    c.cache.FriendRequests(),
		"suggestions": c.cache.FriendSuggestions(),
		"presence":    presence,
		"errors":      errs,
	})
}

func (c *Control) SendFriendRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	userID, err := required(req, "user_id")
	if err != nil {
		return nil, err
	}
	if c.channels.Friends.IsOpen() {
		err = c.channels.Friends.ActOnFriendSuggestion(ctx, model.ID(userID), realtime.SuggestionAdd)
	} else {
		err = c.gateway.SendFriendRequest(ctx, model.ID(userID))
	}
	if err != nil {
		return nil, toStatus("send friend request", err)
	}
	return toStruct(map[string]any{"user_id": userID})
}

func (c *Control) DismissSuggestion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	userID, err := required(req, "user_id")
	if err != nil {
		return nil, err
	}
	if err := c.channels.Friends.ActOnFriendSuggestion(ctx, model.ID(userID), realtime.SuggestionRemove); err != nil {
		return nil, toStatus("dismiss suggestion", err)
	}
	return toStruct(map[string]any{"user_id": userID})
}

func (c *Control) RespondFriendRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	requestID, err := required(req, "request_id")
	if err != nil {
		return nil, err
	}
	action, err := required(req, "action")
	if err != nil {
		return nil, err
	}
	if action != realtime.RequestAccept && action != realtime.RequestReject {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "action must be %q or %q", realtime.RequestAccept, realtime.RequestReject)
	}
	if c.channels.Friends.IsOpen() {
		err = c.channels.Friends.RespondFriendRequest(ctx, model.ID(requestID), action)
	} else {
		err = c.gateway.RespondFriendRequest(ctx, model.ID(requestID), action)
	}
	if err != nil {
		return nil, toStatus("respond to friend request", err)
	}
	return toStruct(map[string]any{"request_id": requestID, "action": action})
}

// SearchMessages searches the on-disk copy after flushing pending changes.
func (c *Control) SearchMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query, err := required(req, "query")
	if err != nil {
		return nil, err
	}
	if c.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "store not initialized")
	}
	if c.flusher != nil {
		if err := c.flusher.Flush(); err != nil {
			c.logger.Warn("flush before search failed", zap.Error(err))
		}
	}
	results, err := c.db.SearchMessages(query, model.ID(str(req, "chat_id")), int(number(req, "limit")))
	if err != nil {
		return nil, toStatus("search messages", err)
	}
	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]any{
			"chat_id": r.ChatID,
			"message": r.Message,
			"snippet": r.Snippet,
		})
	}
	return toStruct(map[string]any{"results": items})
}

// Refresh refetches every collection regardless of staleness.
func (c *Control) Refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	force := gateway.FetchOptions{Force: true}
	var errs []string
	for _, fetch := range []func(context.Context, gateway.FetchOptions) error{
		c.gateway.FetchChats,
		c.gateway.FetchFriendList,
		c.gateway.FetchFriendRequests,
		c.gateway.FetchFriendSuggestions,
	} {
		if err := fetch(ctx, force); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if active := c.cache.ActiveChat(); active != "" {
		if err := c.gateway.FetchMessages(ctx, active, force); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return toStruct(map[string]any{"errors": errs})
}

// Watch streams bus events whose kind starts with the requested namespace
// until the client goes away.
func (c *Control) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := c.bus.Subscribe(str(req, "namespace"), 256)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := toStruct(map[string]any{
				"event_id":            uuid.NewString(),
				"session":             c.sessionName,
				"kind":                evt.Kind,
				"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
				"payload":             evt.Payload,
			})
			if err != nil {
				c.logger.Warn("watch: encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (c *Control) requireAuth() error {
	if !c.session.State().Authenticated() {
		return grpcstatus.Error(codes.Unauthenticated, session.ErrNotAuthenticated.Error())
	}
	return nil
}

// toStatus maps a domain error onto a gRPC status.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, realtime.ErrNotConnected):
		code = codes.Unavailable
	case errors.Is(err, session.ErrNotAuthenticated), restapi.IsUnauthorized(err):
		code = codes.Unauthenticated
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// toStruct converts v to a Struct through its JSON form, so model types keep
// their wire field names.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func str(req *structpb.Struct, key string) string {
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	}
	return ""
}

func boolean(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

func number(req *structpb.Struct, key string) float64 {
	return req.GetFields()[key].GetNumberValue()
}

func required(req *structpb.Struct, key string) (string, error) {
	v := str(req, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}
