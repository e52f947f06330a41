package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/realtime"
	"github.com/matheus3301/chatsync/internal/restapi"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = ~/.chatsync/config.toml
	Debug       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCache,
			provideState,
			provideRESTClient,
			provideGateway,
			provideChannels,
			provideSyncEngine,
			provideTokenStore,
			provideSessionManager,
			provideControl,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.NewWithLevel(session.LogPath(p.SessionName), p.SessionName, level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so that two daemons never open the same database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCache(cfg *config.Config, b *bus.Bus) *cache.Cache {
	return cache.New(b, cache.WithTypingTTL(cfg.Timing.TypingTTL.Duration))
}

func provideState() *session.State {
	return session.NewState()
}

func provideRESTClient(cfg *config.Config, state *session.State, logger *zap.Logger) *restapi.Client {
	return restapi.New(cfg.APIURL,
		restapi.WithTokenSource(state.AccessToken),
		restapi.WithTimeout(cfg.Timing.RequestTimeout.Duration),
		restapi.WithLogger(logger.Named("rest")),
	)
}

func provideGateway(cfg *config.Config, rest *restapi.Client, c *cache.Cache, logger *zap.Logger) *gateway.Gateway {
	s := cfg.Staleness
	return gateway.New(rest, c, gateway.Staleness{
		Chats:             s.Chats.Duration,
		Messages:          s.Messages.Duration,
		FriendList:        s.FriendList.Duration,
		FriendRequests:    s.FriendRequests.Duration,
		FriendSuggestions: s.FriendSuggestions.Duration,
	}, logger.Named("gateway"))
}

func provideChannels(cfg *config.Config, c *cache.Cache, state *session.State, b *bus.Bus, logger *zap.Logger) *realtime.Manager {
	logger = logger.Named("realtime")
	channelConfig := func(name string) realtime.Config {
		rc := realtime.Config{
			Name:              name,
			URL:               cfg.WSURL,
			ReconnectDelay:    cfg.Timing.ReconnectDelay.Duration,
			HeartbeatInterval: cfg.Timing.HeartbeatInterval.Duration,
		}
		if cfg.SendPolicy == config.SendPolicyQueue {
			rc.Queue = outbox.NewQueue(name, outbox.DefaultMaxSize, b, logger)
		}
		return rc
	}
	return realtime.NewManager(
		realtime.NewChatChannel(channelConfig("chats"), c, state.Token, b, logger),
		realtime.NewFriendChannel(channelConfig("friends"), c, state.Token, b, logger),
		// Presence carries no commands, so it never queues.
		realtime.NewPresenceChannel(realtime.Config{
			Name:              "presence",
			URL:               cfg.WSURL,
			ReconnectDelay:    cfg.Timing.ReconnectDelay.Duration,
			HeartbeatInterval: cfg.Timing.HeartbeatInterval.Duration,
		}, c, state.Token, b, logger),
		logger,
	)
}

func provideSyncEngine(cfg *config.Config, db *store.DB, c *cache.Cache, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, c, b, logger.Named("sync"), cfg.Timing.PersistDebounce.Duration)
}

func provideTokenStore(p Params) *session.TokenStore {
	return session.NewTokenStore(session.CredentialsPath(p.SessionName))
}

func provideSessionManager(state *session.State, rest *restapi.Client, channels *realtime.Manager, gw *gateway.Gateway, engine *intsync.Engine, creds *session.TokenStore, c *cache.Cache, b *bus.Bus, logger *zap.Logger) *session.Manager {
	return session.NewManager(session.Deps{
		State:       state,
		Auth:        rest,
		Channels:    channels,
		Fetcher:     gw,
		Persistence: engine,
		Credentials: creds,
		Cache:       c,
		Bus:         b,
		Logger:      logger.Named("session"),
	})
}

func provideControl(p Params, mgr *session.Manager, c *cache.Cache, gw *gateway.Gateway, channels *realtime.Manager, db *store.DB, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *api.Control {
	return api.NewControl(api.Deps{
		SessionName: p.SessionName,
		Session:     mgr,
		Cache:       c,
		Gateway:     gw,
		Channels:    channels,
		DB:          db,
		Flusher:     engine,
		Bus:         b,
		Logger:      logger.Named("api"),
	})
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, lk *lock.Lock, db *store.DB, engine *intsync.Engine, mgr *session.Manager, logger *zap.Logger) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			// Start mirroring cache.* events to disk.
			engine.Start(ctx)

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Resume the stored session, if any.
			go func() {
				err := mgr.Restore(ctx)
				switch {
				case err == nil:
				case errors.Is(err, session.ErrNotAuthenticated):
					logger.Info("no stored credentials, login required")
				default:
					logger.Warn("session restore failed", zap.Error(err))
				}
			}()

			// Renew the access token for as long as the daemon runs.
			go mgr.KeepFresh(ctx, cfg.Timing.TokenRefresh.Duration)

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			mgr.Shutdown()
			engine.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
