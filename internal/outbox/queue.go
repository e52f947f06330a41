package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"go.uber.org/zap"
)

// DefaultMaxSize bounds a queue created with a non-positive size.
const DefaultMaxSize = 256

// Event kinds published by a Queue.
const (
	KindQueued     = "outbox.queued"
	KindFlushed    = "outbox.flushed"
	KindSendFailed = "outbox.send_failed"
)

// ErrFull is returned by Enqueue when the queue holds MaxSize entries.
var ErrFull = errors.New("outbox full")

// Entry is one outbound frame held while its channel is not open.
type Entry struct {
	ID       string
	Kind     string
	Data     []byte
	QueuedAt time.Time
}

// SendFunc delivers one entry. Returning an error stops a flush.
type SendFunc func(ctx context.Context, e Entry) error

// Change is the payload of outbox events.
type Change struct {
	Channel string
	EntryID string
	Kind    string
	Pending int
	Err     string
}

// Queue holds outbound frames for one channel in memory, in send order.
// It is discarded on logout and never survives a restart.
type Queue struct {
	mu      sync.Mutex
	channel string
	max     int
	entries []Entry
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewQueue creates an empty queue for the named channel.
func NewQueue(channel string, maxSize int, b *bus.Bus, logger *zap.Logger) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		channel: channel,
		max:     maxSize,
		bus:     b,
		logger:  logger.With(zap.String("channel", channel)),
	}
}

// Enqueue appends a frame and returns its entry id.
func (q *Queue) Enqueue(kind string, data []byte) (string, error) {
	q.mu.Lock()
	if len(q.entries) >= q.max {
		q.mu.Unlock()
		return "", ErrFull
	}
	e := Entry{
		ID:       uuid.NewString(),
		Kind:     kind,
		Data:     append([]byte(nil), data...),
		QueuedAt: time.Now(),
	}
	q.entries = append(q.entries, e)
	pending := len(q.entries)
	q.mu.Unlock()

	q.logger.Debug("frame queued", zap.String("kind", kind), zap.String("entry_id", e.ID))
	q.bus.Emit(KindQueued, Change{Channel: q.channel, EntryID: e.ID, Kind: kind, Pending: pending})
	return e.ID, nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a copy of the pending entries in send order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Flush sends pending entries oldest first. It stops at the first failed
// send, leaving that entry and the ones after it queued, and returns the
// number of entries sent.
func (q *Queue) Flush(ctx context.Context, send SendFunc) (int, error) {
	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.mu.Unlock()
			break
		}
		e := q.entries[0]
		q.mu.Unlock()

		if err := send(ctx, e); err != nil {
			q.logger.Warn("queued frame not sent", zap.String("entry_id", e.ID), zap.Error(err))
			q.bus.Emit(KindSendFailed, Change{Channel: q.channel, EntryID: e.ID, Kind: e.Kind, Pending: q.Len(), Err: err.Error()})
			return sent, err
		}

		q.mu.Lock()
		// Clear may have run while the entry was in flight.
		if len(q.entries) > 0 && q.entries[0].ID == e.ID {
			q.entries = q.entries[1:]
		}
		q.mu.Unlock()
		sent++
	}
	if sent > 0 {
		q.logger.Info("outbox flushed", zap.Int("sent", sent))
		q.bus.Emit(KindFlushed, Change{Channel: q.channel, Pending: q.Len()})
	}
	return sent, nil
}

// Clear drops every pending entry.
func (q *Queue) Clear() {
	q.mu.Lock()
	n := len(q.entries)
	q.entries = nil
	q.mu.Unlock()
	if n > 0 {
		q.logger.Info("outbox cleared", zap.Int("dropped", n))
	}
}
