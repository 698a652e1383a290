// Package daemon wires the local store, RemoteSync and the Core service into
// one fx application per profile.
package daemon

import (
	"context"

	"github.com/matheus3301/msgcore/internal/api"
	"github.com/matheus3301/msgcore/internal/bus"
	"github.com/matheus3301/msgcore/internal/config"
	"github.com/matheus3301/msgcore/internal/lock"
	"github.com/matheus3301/msgcore/internal/logging"
	"github.com/matheus3301/msgcore/internal/observe"
	"github.com/matheus3301/msgcore/internal/outbox"
	"github.com/matheus3301/msgcore/internal/profile"
	"github.com/matheus3301/msgcore/internal/repository"
	"github.com/matheus3301/msgcore/internal/status"
	"github.com/matheus3301/msgcore/internal/store"
	intsync "github.com/matheus3301/msgcore/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	// UserID is the signed-in user the daemon acts for.
	UserID     string
	SocketPath string // optional override for testing; empty = use default
	Config     *config.Config
	// Remote is the transport to the authoritative service; nil runs the
	// daemon offline.
	Remote outbox.Remote
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDB,
			provideStore,
			provideObserver,
			repository.NewConversationRepository,
			repository.NewMessageRepository,
			repository.NewActionItemRepository,
			repository.NewUserRepository,
			repository.NewAIChatRepository,
			intsync.NewReconciler,
			provideSyncEngine,
			provideSender,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	return p.Config.WithDefaults()
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(p.Profile)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideDB takes the lock so the store is never opened by two daemons.
func provideDB(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StorePath(p.Profile)
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
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStore(db *store.DB, b *bus.Bus, logger *zap.Logger) *store.Store {
	return store.New(db, b, logger)
}

func provideObserver(b *bus.Bus, logger *zap.Logger) *observe.Engine {
	return observe.New(b, logger)
}

func provideSyncEngine(
	users *repository.UserRepository,
	convs *repository.ConversationRepository,
	msgs *repository.MessageRepository,
	items *repository.ActionItemRepository,
	rec *intsync.Reconciler,
	b *bus.Bus,
	logger *zap.Logger,
) *intsync.Engine {
	repos := intsync.Repositories{Users: users, Conversations: convs, Messages: msgs, ActionItems: items}
	return intsync.NewEngine(repos, rec, b, logger)
}

func provideSender(
	p Params,
	cfg *config.Config,
	users *repository.UserRepository,
	convs *repository.ConversationRepository,
	msgs *repository.MessageRepository,
	items *repository.ActionItemRepository,
	b *bus.Bus,
	machine *status.Machine,
	logger *zap.Logger,
) *outbox.Sender {
	repos := outbox.Repositories{Users: users, Conversations: convs, Messages: msgs, ActionItems: items}
	opts := outbox.Options{
		Interval:    cfg.Sync.Interval.Duration,
		BatchSize:   cfg.Sync.BatchSize,
		MaxRetries:  cfg.Sync.MaxRetries,
		BaseBackoff: cfg.Sync.BaseBackoff.Duration,
		MaxBackoff:  cfg.Sync.MaxBackoff.Duration,
	}
	return outbox.NewSender(repos, p.Remote, b, machine, opts, logger)
}

func provideService(
	p Params,
	users *repository.UserRepository,
	convs *repository.ConversationRepository,
	msgs *repository.MessageRepository,
	items *repository.ActionItemRepository,
	aiChat *repository.AIChatRepository,
	rec *intsync.Reconciler,
	machine *status.Machine,
	obs *observe.Engine,
	logger *zap.Logger,
) *api.Service {
	return api.NewService(api.Options{
		Profile:       p.Profile,
		UserID:        p.UserID,
		Conversations: convs,
		Messages:      msgs,
		ActionItems:   items,
		Users:         users,
		AIChat:        aiChat,
		Reconciler:    rec,
		Machine:       machine,
		Observer:      obs,
		Logger:        logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, engine *intsync.Engine, sender *outbox.Sender, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to remote.* bus events).
			engine.Start(context.Background())

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Start outbox sender; it moves the machine to READY or OFFLINE.
			sender.Start(context.Background())
			logger.Info("daemon started", zap.String("status", string(machine.Current())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Set(status.Stopping)
			srv.Stop(ctx)
			sender.Stop()
			engine.Stop()
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
