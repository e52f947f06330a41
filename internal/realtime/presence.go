package realtime

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// FramePresence is the only frame of the presence stream.
const FramePresence = "presence"

type presencePayload struct {
	User     model.ID             `json:"user"`
	Status   model.PresenceStatus `json:"status"`
	LastSeen *time.Time           `json:"last_seen"`
}

// PresenceChannel is the inbound-only presence stream.
type PresenceChannel struct {
	*Channel
	cache *cache.Cache
}

// NewPresenceChannel creates the presence stream bound to c.
func NewPresenceChannel(cfg Config, c *cache.Cache, tokens TokenSource, b *bus.Bus, logger *zap.Logger) *PresenceChannel {
	if cfg.Name == "" {
		cfg.Name = "presence"
	}
	ch := &PresenceChannel{cache: c}
	ch.Channel = NewChannel(cfg, ch, tokens, b, logger)
	return ch
}

func (ch *PresenceChannel) OnOpen(context.Context) {}

func (ch *PresenceChannel) HandleFrame(_ context.Context, env Envelope) error {
	if env.Type != FramePresence {
		return ErrUnknownFrame
	}
	if ch.cache.Self() == "" {
		return nil
	}
	p, err := decode[presencePayload](env)
	if err != nil {
		return err
	}
	if p.User == "" || p.Status == "" {
		return missing(env.Type, "user or status")
	}
	var lastSeen time.Time
	if p.LastSeen != nil {
		lastSeen = *p.LastSeen
	}
	ch.cache.SetPresence(p.User, p.Status, lastSeen)
	return nil
}
