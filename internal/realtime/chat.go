package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// Chat stream frame types.
const (
	FrameSubscribe    = "subscribe"
	FrameNewMessage   = "new_message"
	FrameTyping       = "typing"
	FrameRead         = "read"
	FrameChatUpdate   = "chat_update"
	FrameNewChat      = "new_chat"
	FrameChatNew      = "chat:new"
	FrameChatExisting = "chat:existing"
)

type subscribePayload struct {
	Chats []model.ID `json:"chats"`
}

type newMessagePayload struct {
	ChatID model.ID `json:"chat_id"`
	model.Message
}

type typingPayload struct {
	ChatID   model.ID `json:"chat_id"`
	Sender   model.ID `json:"sender,omitempty"`
	IsTyping bool     `json:"is_typing"`
}

type readPayload struct {
	ChatID model.ID `json:"chat_id"`
	User   model.ID `json:"user,omitempty"`
}

// chatPatch is a partial chat; absent fields keep their cached value.
type chatPatch struct {
	ID           model.ID             `json:"id"`
	Participants *[]model.Participant `json:"participants"`
	LastMessage  *model.Message       `json:"last_message"`
	UnreadCount  *int                 `json:"unread_count"`
	Pinned       *bool                `json:"pinned"`
	CreatedAt    *time.Time           `json:"created_at"`
}

type newChatPayload struct {
	ChatID        model.ID            `json:"chat_id"`
	PlaceholderID model.ID            `json:"placeholder_id"`
	Participants  []model.Participant `json:"participants"`
	LastMessage   *model.Message      `json:"last_message"`
	UnreadCount   int                 `json:"unread_count"`
	CreatedAt     time.Time           `json:"created_at"`
}

type chatNewCommand struct {
	Message       string   `json:"message"`
	OtherUserID   model.ID `json:"other_user_id"`
	PlaceholderID model.ID `json:"placeholder_id"`
}

type chatExistingCommand struct {
	Message string   `json:"message"`
	ChatID  model.ID `json:"chat_id"`
}

// ChatChannel is the chat stream: messages, typing, read receipts and chat
// lifecycle frames, plus the outbound chat commands.
type ChatChannel struct {
	*Channel
	cache  *cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewChatChannel creates the chat stream bound to c.
func NewChatChannel(cfg Config, c *cache.Cache, tokens TokenSource, b *bus.Bus, logger *zap.Logger) *ChatChannel {
	if cfg.Name == "" {
		cfg.Name = "chats"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ch := &ChatChannel{cache: c, logger: logger.With(zap.String("channel", cfg.Name)), now: time.Now}
	ch.Channel = NewChannel(cfg, ch, tokens, b, logger)
	return ch
}

// OnOpen subscribes to every known server chat.
func (ch *ChatChannel) OnOpen(ctx context.Context) {
	ids := ch.cache.ChatIDs()
	if ids == nil {
		ids = []model.ID{}
	}
	ch.subscribe(ctx, ids...)
}

func (ch *ChatChannel) subscribe(ctx context.Context, ids ...model.ID) {
	if err := ch.Send(ctx, FrameSubscribe, subscribePayload{Chats: ids}); err != nil {
		ch.logger.Debug("subscribe not sent", zap.Error(err))
	}
}

// HandleFrame applies one chat stream frame to the cache.
func (ch *ChatChannel) HandleFrame(ctx context.Context, env Envelope) error {
	switch env.Type {
	case FrameNewMessage:
		p, err := decode[newMessagePayload](env)
		if err != nil {
			return err
		}
		return ch.onNewMessage(ctx, p)
	case FrameTyping:
		p, err := decode[typingPayload](env)
		if err != nil {
			return err
		}
		if p.ChatID == "" || p.Sender == "" {
			return missing(env.Type, "chat_id or sender")
		}
		ch.cache.SetTyping(p.ChatID, p.Sender, p.IsTyping)
	case FrameRead:
		p, err := decode[readPayload](env)
		if err != nil {
			return err
		}
		if p.ChatID == "" || p.User == "" {
			return missing(env.Type, "chat_id or user")
		}
		ch.cache.MarkMessagesAsRead(p.ChatID, p.User)
	case FrameChatUpdate:
		p, err := decode[chatPatch](env)
		if err != nil {
			return err
		}
		if p.ID == "" {
			return missing(env.Type, "id")
		}
		ch.cache.UpsertChat(ch.applyPatch(p))
	case FrameNewChat:
		p, err := decode[newChatPayload](env)
		if err != nil {
			return err
		}
		if p.ChatID == "" {
			return missing(env.Type, "chat_id")
		}
		ch.onNewChat(ctx, p)
	default:
		return ErrUnknownFrame
	}
	return nil
}

func (ch *ChatChannel) onNewMessage(ctx context.Context, p newMessagePayload) error {
	if p.ChatID == "" || p.ID == "" {
		return missing(FrameNewMessage, "chat_id or id")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = ch.now()
	}
	if !ch.cache.HasChat(p.ChatID) {
		ch.subscribe(ctx, p.ChatID)
	}
	ch.cache.AddMessage(p.ChatID, p.Message)
	if ch.cache.ActiveChat() == p.ChatID {
		return ch.ReadChat(ctx, p.ChatID)
	}
	return nil
}

func (ch *ChatChannel) applyPatch(p chatPatch) model.Chat {
	chat, ok := ch.cache.Chat(p.ID)
	if !ok {
		chat = model.Chat{ID: p.ID}
	}
	if p.Participants != nil {
		chat.Participants = *p.Participants
	}
	if p.LastMessage != nil {
		chat.LastMessage = p.LastMessage
	}
	if p.UnreadCount != nil {
		chat.UnreadCount = *p.UnreadCount
	}
	if p.Pinned != nil {
		chat.Pinned = *p.Pinned
	}
	if p.CreatedAt != nil {
		chat.CreatedAt = *p.CreatedAt
	}
	return chat
}

func (ch *ChatChannel) onNewChat(ctx context.Context, p newChatPayload) {
	real := model.Chat{
		ID:           p.ChatID,
		Participants: p.Participants,
		LastMessage:  p.LastMessage,
		UnreadCount:  p.UnreadCount,
		CreatedAt:    p.CreatedAt,
	}
	if real.CreatedAt.IsZero() {
		real.CreatedAt = ch.now()
	}
	if p.PlaceholderID != "" {
		ch.cache.StartChatLocal(p.PlaceholderID, real)
	} else {
		ch.cache.UpsertChat(real)
	}
	ch.subscribe(ctx, p.ChatID)
}

// SendMessage sends text to chatID. An empty chatID or model.NewChatSentinel
// starts a conversation with otherUserID: a placeholder chat holding the
// optimistic message is created first and its id is returned. When the
// channel is not open and no queue is configured, nothing is written and
// ErrNotConnected is returned.
func (ch *ChatChannel) SendMessage(ctx context.Context, chatID model.ID, text string, otherUserID model.ID) (model.ID, error) {
	if text == "" {
		return "", errors.New("send message: empty text")
	}
	isNew := chatID == "" || chatID == model.NewChatSentinel
	if isNew && otherUserID == "" {
		return "", errors.New("send message: new chat without recipient")
	}
	if !ch.accepts() {
		ch.logger.Warn("message dropped", zap.String("chat_id", string(chatID)), zap.Error(ErrNotConnected))
		return "", ErrNotConnected
	}

	if !isNew {
		if err := ch.deliver(ctx, FrameChatExisting, chatExistingCommand{Message: text, ChatID: chatID}); err != nil {
			return "", fmt.Errorf("send message to %s: %w", chatID, err)
		}
		return chatID, nil
	}

	now := ch.now()
	placeholder := model.NewPlaceholderChatID(now, otherUserID)
	if self := ch.cache.Self(); self != "" {
		ch.cache.UpsertChat(model.Chat{
			ID:           placeholder,
			Participants: []model.Participant{{ID: self}, {ID: otherUserID}},
			CreatedAt:    now,
		})
		ch.cache.AddMessage(placeholder, model.Message{
			ID:        model.NewTempMessageID(),
			Sender:    self,
			Text:      text,
			CreatedAt: now,
		})
	}
	cmd := chatNewCommand{Message: text, OtherUserID: otherUserID, PlaceholderID: placeholder}
	if err := ch.deliver(ctx, FrameChatNew, cmd); err != nil {
		return placeholder, fmt.Errorf("start chat with %s: %w", otherUserID, err)
	}
	return placeholder, nil
}

// ReadChat marks chatID read locally for the local user and sends a read
// receipt when the channel is open.
func (ch *ChatChannel) ReadChat(ctx context.Context, chatID model.ID) error {
	if self := ch.cache.Self(); self != "" {
		ch.cache.MarkMessagesAsRead(chatID, self)
	}
	if chatID.IsPlaceholder() || !ch.IsOpen() {
		return nil
	}
	return ch.Send(ctx, FrameRead, readPayload{ChatID: chatID})
}

// SendTyping reports the local user's typing state in chatID. Typing
// signals are never queued.
func (ch *ChatChannel) SendTyping(ctx context.Context, chatID model.ID, isTyping bool) error {
	if chatID.IsPlaceholder() {
		return nil
	}
	return ch.Send(ctx, FrameTyping, typingPayload{ChatID: chatID, IsTyping: isTyping})
}
