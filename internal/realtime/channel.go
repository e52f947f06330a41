package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

// DefaultReconnectDelay is the wait between an unexpected close and the next dial.
const DefaultReconnectDelay = 3 * time.Second

const (
	dialTimeout  = 10 * time.Second
	logoutReason = "user logout"
)

// TokenSource returns the current access token and whether a session is
// authenticated. Channels consult it when a reconnect timer fires.
type TokenSource func() (string, bool)

// Handler consumes the frames of one channel.
type Handler interface {
	// OnOpen runs after every successful dial, before queued frames are flushed.
	OnOpen(ctx context.Context)
	// HandleFrame applies one inbound frame. Errors are logged; the
	// channel stays open.
	HandleFrame(ctx context.Context, env Envelope) error
}

// Config describes one realtime stream.
type Config struct {
	// Name is the stream name, used in the URL path and logs.
	Name string
	// URL is the websocket base URL, e.g. ws://host:8000.
	URL string
	// ReconnectDelay defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration
	// HeartbeatInterval is the period of the heartbeat frame and ping.
	// Zero disables both.
	HeartbeatInterval time.Duration
	// ReadLimit caps inbound frame size in bytes when positive.
	ReadLimit int64
	// Queue, when set, holds commands issued while the channel is not open.
	Queue *outbox.Queue
}

// Channel is one persistent websocket connection with automatic reconnect.
// Disconnect bumps a generation counter so that pending reconnect timers and
// dials started before it never revive the connection.
type Channel struct {
	cfg     Config
	handler Handler
	tokens  TokenSource
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	backoff backoff.BackOff

	mu         sync.Mutex
	conn       *websocket.Conn
	gen        uint64
	life       context.Context
	lifeCancel context.CancelFunc
}

// NewChannel creates a disconnected channel.
func NewChannel(cfg Config, h Handler, tokens TokenSource, b *bus.Bus, logger *zap.Logger) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokens == nil {
		tokens = func() (string, bool) { return "", false }
	}
	return &Channel{
		cfg:     cfg,
		handler: h,
		tokens:  tokens,
		machine: status.NewMachine(cfg.Name, b),
		bus:     b,
		logger:  logger.With(zap.String("channel", cfg.Name)),
		backoff: backoff.NewConstantBackOff(cfg.ReconnectDelay),
	}
}

// Name returns the stream name.
func (c *Channel) Name() string { return c.cfg.Name }

// State returns the current connection state.
func (c *Channel) State() status.State { return c.machine.Current() }

// Since returns when the current state was entered.
func (c *Channel) Since() time.Time { return c.machine.Since() }

// IsOpen reports whether frames can be written now.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.machine.Current() == status.Open
}

func (c *Channel) endpoint(token string) string {
	return strings.TrimRight(c.cfg.URL, "/") + "/ws/" + c.cfg.Name + "/?token=" + url.QueryEscape(token)
}

// Connect dials the stream with token. It is a no-op while connecting or
// open. A failed dial is retried after the reconnect delay.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.lifeCancel == nil {
		c.life, c.lifeCancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	gen := c.gen
	c.mu.Unlock()
	return c.connect(ctx, token, gen)
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Channel) connect(ctx context.Context, token string, gen uint64) error {
	if token == "" {
		return fmt.Errorf("connect %s: empty token", c.cfg.Name)
	}
	if err := c.machine.Transition(status.Connecting); err != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.endpoint(token), nil)
	cancel()
	if err != nil {
		if !c.current(gen) {
			return nil
		}
		c.machine.Settle(status.Errored)
		c.logger.Warn("dial failed", zap.Error(err))
		c.scheduleReconnect(gen)
		return fmt.Errorf("dial %s: %w", c.cfg.Name, err)
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, logoutReason)
		return nil
	}
	c.conn = conn
	connCtx, connCancel := context.WithCancel(c.life)
	c.mu.Unlock()

	if err := c.machine.Transition(status.Open); err != nil {
		c.logger.Debug("open raced with disconnect", zap.Error(err))
	}
	c.backoff.Reset()
	c.logger.Info("connected")

	go c.readLoop(connCtx, connCancel, conn, gen)
	go c.heartbeat(connCtx, conn)

	c.handler.OnOpen(connCtx)
	if c.cfg.Queue != nil {
		if _, err := c.cfg.Queue.Flush(connCtx, func(ctx context.Context, e outbox.Entry) error {
			return c.write(ctx, e.Data)
		}); err != nil {
			c.logger.Warn("outbox flush stopped", zap.Error(err))
		}
	}
	return nil
}

// Disconnect closes the connection with a normal closure, cancels any
// pending reconnect and drops queued commands.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	c.conn = nil
	cancel := c.lifeCancel
	c.life, c.lifeCancel = nil, nil
	c.mu.Unlock()

	c.machine.Settle(status.Closed)
	if c.cfg.Queue != nil {
		c.cfg.Queue.Clear()
	}
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, logoutReason); err != nil {
			c.logger.Debug("close", zap.Error(err))
		}
		c.logger.Info("disconnected")
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Channel) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, gen uint64) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}
		c.dispatch(ctx, data)
	}
}

func (c *Channel) dispatch(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.logger.Warn("malformed frame", zap.Error(err), zap.Int("size", len(data)))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame handler panicked", zap.String("type", env.Type), zap.Any("panic", r))
		}
	}()
	if err := c.handler.HandleFrame(ctx, env); err != nil {
		if errors.Is(err, ErrUnknownFrame) {
			c.logger.Warn("unknown frame", zap.String("type", env.Type))
			return
		}
		c.logger.Warn("frame rejected", zap.String("type", env.Type), zap.Error(err))
	}
}

func (c *Channel) handleClose(conn *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	if code := websocket.CloseStatus(err); code == -1 {
		c.logger.Warn("connection lost", zap.Error(err))
		c.machine.Settle(status.Errored)
	} else {
		c.logger.Info("connection closed", zap.Int("code", int(code)))
		c.machine.Settle(status.Closed)
	}
	c.scheduleReconnect(gen)
}

func (c *Channel) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	life := c.life
	c.mu.Unlock()
	if life == nil {
		return
	}
	delay := c.backoff.NextBackOff()
	c.logger.Info("reconnect scheduled", zap.Duration("delay", delay))

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-life.Done():
			return
		case <-t.C:
		}
		if !c.current(gen) {
			return
		}
		token, ok := c.tokens()
		if !ok || token == "" {
			c.logger.Info("not reconnecting: no session")
			return
		}
		if err := c.connect(life, token, gen); err != nil {
			c.logger.Debug("reconnect failed", zap.Error(err))
		}
	}()
}

// heartbeatFrame refreshes the server's presence and last-seen record. The
// server only sees application frames, so the ping alone does not count.
var heartbeatFrame = []byte(`{"event":"heartbeat"}`)

func (c *Channel) heartbeat(ctx context.Context, conn *websocket.Conn) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(ctx, heartbeatFrame); err != nil && ctx.Err() == nil {
				c.logger.Debug("heartbeat frame not sent", zap.Error(err))
			}
			pctx, cancel := context.WithTimeout(ctx, c.cfg.HeartbeatInterval)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("heartbeat failed", zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// Send writes one frame. It returns ErrNotConnected when the channel is
// not open, regardless of the send policy.
func (c *Channel) Send(ctx context.Context, typ string, payload any) error {
	data, err := encode(typ, payload)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (c *Channel) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.machine.Current() != status.Open {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", c.cfg.Name, err)
	}
	return nil
}

// deliver sends a command, or queues it when the channel is not open and
// a queue is configured.
func (c *Channel) deliver(ctx context.Context, typ string, payload any) error {
	data, err := encode(typ, payload)
	if err != nil {
		return err
	}
	err = c.write(ctx, data)
	if !errors.Is(err, ErrNotConnected) || c.cfg.Queue == nil {
		return err
	}
	if _, qerr := c.cfg.Queue.Enqueue(typ, data); qerr != nil {
		return fmt.Errorf("queue %s: %w", typ, qerr)
	}
	return nil
}

// accepts reports whether a command issued now would be sent or queued.
func (c *Channel) accepts() bool {
	return c.cfg.Queue != nil || c.IsOpen()
}
