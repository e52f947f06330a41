package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// DefaultDebounce is the delay between the first unsaved cache change and
// the flush that writes it.
const DefaultDebounce = 500 * time.Millisecond

// CheckpointLastFlush is the store checkpoint holding the time of the last
// successful flush, in RFC 3339.
const CheckpointLastFlush = "last_flush"

// Engine mirrors the entity cache into the local store. It subscribes to
// "cache." events on the bus and writes a full snapshot once changes settle.
type Engine struct {
	db       *store.DB
	cache    *cache.Cache
	bus      *bus.Bus
	logger   *zap.Logger
	debounce time.Duration

	// flushMu orders snapshot writes against Clear.
	flushMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates a new sync engine. A zero debounce uses DefaultDebounce.
func NewEngine(db *store.DB, c *cache.Cache, b *bus.Bus, logger *zap.Logger, debounce time.Duration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Engine{
		db:       db,
		cache:    c,
		bus:      b,
		logger:   logger,
		debounce: debounce,
	}
}

// Start subscribes to cache events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe(bus.CacheNamespace, 256)

	go func() {
		defer close(e.done)
		defer unsub()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case evt := <-ch:
				if !cache.Persistent(evt.Kind) || timer != nil {
					continue
				}
				timer = time.NewTimer(e.debounce)
				fire = timer.C
			case <-fire:
				timer, fire = nil, nil
				e.flushLogged()
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
					e.flushLogged()
				}
				return
			}
		}
	}()
}

// Stop stops the engine, writing any pending changes first.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
}

func (e *Engine) flushLogged() {
	if err := e.Flush(); err != nil {
		e.logger.Error("failed to persist cache snapshot", zap.Error(err))
	}
}

// Flush writes the current cache snapshot to the store.
func (e *Engine) Flush() error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	snap := e.cache.Snapshot()
	if err := e.db.SaveSnapshot(snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := e.db.SetCheckpoint(CheckpointLastFlush, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("failed to record flush time", zap.Error(err))
	}
	e.logger.Debug("cache snapshot persisted",
		zap.Int("chats", len(snap.Chats)),
		zap.Int("chats_with_messages", len(snap.Messages)),
		zap.Int("friends", len(snap.Friends)),
	)
	return nil
}

// Hydrate loads the persisted snapshot into the cache.
func (e *Engine) Hydrate() error {
	snap, err := e.db.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	e.cache.Restore(snap)
	e.logger.Info("cache rehydrated",
		zap.Int("chats", len(snap.Chats)),
		zap.Int("friends", len(snap.Friends)),
	)
	return nil
}

// Clear deletes the persisted snapshot. A flush in progress completes first.
func (e *Engine) Clear() error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	if err := e.db.Clear(); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	return nil
}
