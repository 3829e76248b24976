package daemon

import (
	"context"
	"net/http"
	"os"

	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/auth"
	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/chat"
	"github.com/czeful/goalchat/internal/composer"
	"github.com/czeful/goalchat/internal/config"
	"github.com/czeful/goalchat/internal/conversation"
	"github.com/czeful/goalchat/internal/lock"
	"github.com/czeful/goalchat/internal/logging"
	"github.com/czeful/goalchat/internal/metrics"
	"github.com/czeful/goalchat/internal/outbox"
	"github.com/czeful/goalchat/internal/presence"
	"github.com/czeful/goalchat/internal/rest"
	"github.com/czeful/goalchat/internal/session"
	"github.com/czeful/goalchat/internal/status"
	"github.com/czeful/goalchat/internal/store"
	intsync "github.com/czeful/goalchat/internal/sync"
	"github.com/czeful/goalchat/internal/tracing"
	"github.com/czeful/goalchat/internal/upload"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideKeeper,
			provideTracing,
			provideREST,
			provideConversation,
			providePresence,
			provideDispatcher,
			provideComposer,
			provideSyncEngine,
			provideReconciler,
			provideView,
			NewRuntime,
			provideSessionService,
			provideChatService,
			provideComposerService,
			provideEventsService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	return p.Config
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    session.LogPath(p.SessionName),
		Session: p.SessionName,
		Level:   p.Config.LogLevel,
		Console: os.Stderr,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName), p.SessionName)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by the
// daemon that owns the session.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	change, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store ready",
		zap.String("path", dbPath),
		zap.Uint("schema", change.To),
		zap.Bool("migrated", change.Applied()))
	return db, nil
}

// provideKeeper loads the stored credential. A token from the environment
// replaces it.
func provideKeeper(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) (*auth.Keeper, error) {
	k, err := auth.NewKeeper(db, b, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Token != "" && cfg.Token != k.Current().Token {
		if _, err := k.SetToken(cfg.Token); err != nil {
			return nil, err
		}
	}
	return k, nil
}

type tracingResult struct {
	fx.Out

	Client   *http.Client
	Shutdown func(context.Context) error `name:"tracing_shutdown"`
}

func provideTracing(p Params, logger *zap.Logger) (tracingResult, error) {
	shutdown, err := tracing.Init(context.Background(), p.Config.OtelEndpoint, p.SessionName)
	if err != nil {
		return tracingResult{}, err
	}
	if p.Config.OtelEndpoint != "" {
		logger.Info("exporting traces", zap.String("endpoint", p.Config.OtelEndpoint))
	}
	return tracingResult{Client: tracing.HTTPClient(), Shutdown: shutdown}, nil
}

func provideREST(cfg *config.Config, k *auth.Keeper, hc *http.Client, logger *zap.Logger) (*rest.Client, error) {
	return rest.New(cfg.APIURL,
		func() string { return k.Current().Token },
		rest.WithHTTPClient(hc),
		rest.WithTimeout(cfg.RequestTimeout.Duration),
		rest.WithLogger(logger),
		rest.OnUnauthorized(func() {
			if err := k.Clear(); err != nil {
				logger.Warn("failed to clear rejected token", zap.Error(err))
			}
		}),
	)
}

func provideConversation(b *bus.Bus, logger *zap.Logger) *conversation.Store {
	return conversation.New(b, logger)
}

func providePresence(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.New(cfg.PresenceGrace.Duration, b, logger)
}

func provideDispatcher(cfg *config.Config, db *store.DB, conv *conversation.Store, b *bus.Bus, logger *zap.Logger) *outbox.Dispatcher {
	return outbox.NewDispatcher(db, cfg.OutboxCapacity, conv, b, logger)
}

func provideComposer(p Params, d *outbox.Dispatcher, rc *rest.Client, conv *conversation.Store, b *bus.Bus, logger *zap.Logger) *composer.Composer {
	return composer.New(d, upload.New(rc, logger), conv, composer.Options{
		TypingDebounce: p.Config.TypingDebounce.Duration,
		RecordingsDir:  session.RecordingsDir(p.SessionName),
		Recorder:       composer.CommandRecorder{Command: p.Config.RecordCommand},
	}, b, logger)
}

func provideSyncEngine(conv *conversation.Store, pres *presence.Tracker, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(conv, pres, db, b, logger)
}

func provideReconciler(rc *rest.Client, db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(rc, db, logger)
}

func provideView(conv *conversation.Store, pres *presence.Tracker, c *composer.Composer, d *outbox.Dispatcher, rc *rest.Client, logger *zap.Logger) *chat.View {
	return chat.NewView(conv, pres, c, d, rc, logger)
}

func provideSessionService(p Params, m *status.Machine, rt *Runtime, d *outbox.Dispatcher) *api.SessionService {
	return api.NewSessionService(p.SessionName, m, rt, d)
}

func provideChatService(view *chat.View, r *intsync.Reconciler, pres *presence.Tracker, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(view, r, pres, logger)
}

func provideComposerService(view *chat.View) *api.ComposerService {
	return api.NewComposerService(view)
}

func provideEventsService(p Params, b *bus.Bus, logger *zap.Logger) *api.EventsService {
	return api.NewEventsService(b, p.SessionName, logger)
}

type lifecycleParams struct {
	fx.In

	Params  Params
	Server  *Server
	Events  *api.EventsService
	Lock    *lock.Lock
	DB      *store.DB
	Runtime *Runtime
	View    *chat.View
	Outbox  *outbox.Dispatcher
	Logger  *zap.Logger
	Tracing func(context.Context) error `name:"tracing_shutdown"`
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	var (
		cancel context.CancelFunc
		group  *errgroup.Group
	)
	logger := lp.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			group, ctx = errgroup.WithContext(ctx)

			group.Go(func() error {
				return lp.Server.Start()
			})
			group.Go(func() error {
				return metrics.Serve(ctx, lp.Params.Config.MetricsAddr, logger)
			})

			if n := lp.Outbox.Depth(); n > 0 {
				logger.Info("outbox carried over from last run", zap.Int("queued", n))
			}
			lp.Outbox.Start(ctx, lp.Params.Config.ReconnectMax.Duration)
			lp.Runtime.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			lp.Events.Close()
			lp.Server.Stop(ctx)
			cancel()
			err := group.Wait()

			// The socket goes first so no reconnect hook touches the view after Close.
			err = multierr.Append(err, lp.Runtime.Close())
			lp.Outbox.Stop()
			lp.View.Close()
			err = multierr.Combine(err,
				lp.DB.Close(),
				lp.Tracing(ctx),
				lp.Lock.Release(),
			)
			if err != nil {
				logger.Warn("daemon stopped with errors", zap.Error(err))
			} else {
				logger.Info("daemon stopped")
			}
			_ = logger.Sync()
			return err
		},
	})
}
