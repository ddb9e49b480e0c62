package app

import (
	"context"
	"path/filepath"

	"github.com/openflea/fleachat/internal/auth"
	"github.com/openflea/fleachat/internal/bus"
	"github.com/openflea/fleachat/internal/cache"
	"github.com/openflea/fleachat/internal/config"
	"github.com/openflea/fleachat/internal/history"
	"github.com/openflea/fleachat/internal/lock"
	"github.com/openflea/fleachat/internal/logging"
	"github.com/openflea/fleachat/internal/realtime"
	"github.com/openflea/fleachat/internal/rest"
	"github.com/openflea/fleachat/internal/session"
	"github.com/openflea/fleachat/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
}

// Module composes the session engine: credentials, REST backend, realtime
// channel, session store, and the offline history recorder, with lifecycle
// hooks that bring the connection up and tear everything down in order.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCache,
			provideCredentials,
			provideBackend,
			provideChannel,
			provideStore,
			provideRecorder,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(config.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := config.EnsureSessionDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(config.SessionDir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := config.CachePath(p.SessionName)
	db, err := cache.Open(dbPath)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params) auth.Source {
	path := p.Config.CredentialsFile
	if path == "" {
		path = config.CredentialsPath(p.SessionName)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(config.SessionDir(p.SessionName), path)
	}
	return auth.FileSource{Path: path}
}

func provideBackend(p Params, creds auth.Source, logger *zap.Logger) *rest.Client {
	return rest.NewClient(p.Config.APIBaseURL, creds, logger)
}

func provideChannel(p Params, creds auth.Source, logger *zap.Logger) *realtime.Channel {
	return realtime.NewChannel(p.Config.BrokerURL, creds, logger)
}

func provideStore(backend *rest.Client, ch *realtime.Channel, b *bus.Bus, creds auth.Source, logger *zap.Logger) (*session.Store, error) {
	// The engine never authenticates; credentials must already exist on
	// disk when the session starts.
	c, err := creds.Credentials()
	if err != nil {
		return nil, err
	}
	return session.NewStore(backend, ch, b, c.User, logger), nil
}

func provideRecorder(db *cache.DB, b *bus.Bus, store *session.Store, logger *zap.Logger) *history.Recorder {
	return history.NewRecorder(db, b, store, logger)
}

func registerLifecycle(lc fx.Lifecycle, ch *realtime.Channel, store *session.Store, recorder *history.Recorder, machine *status.Machine, db *cache.DB, lk *lock.Lock, logger *zap.Logger) {
	// connect dials the broker and, on success, refreshes the directory and
	// joins the user's rooms. Used for both initial startup and the
	// reconnect after a dropped connection.
	connect := func(ctx context.Context) {
		_ = machine.Transition(status.Connecting)
		if err := ch.Connect(ctx); err != nil {
			logger.Error("broker connect failed", zap.Error(err))
			// REST still works without the broker.
			_ = machine.Transition(status.Degraded)
			return
		}
		_ = machine.Transition(status.Live)
		if err := store.LoadChats(ctx); err != nil {
			logger.Warn("initial chat load failed", zap.Error(err))
		}
		ch.JoinUserRooms(store.ChatIDs())
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			recorder.Start(context.Background())

			// Room membership is connection-scoped: every reconnect starts
			// from a clean slate and rejoins.
			ch.OnDisconnect(func(err error) {
				logger.Warn("broker connection lost", zap.Error(err))
				_ = machine.Transition(status.Reconnecting)
				go connect(context.Background())
			})

			go connect(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ch.Disconnect()
			store.Close()
			recorder.Stop()
			_ = machine.Transition(status.Closed)
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("session stopped")
			return nil
		},
	})
}
