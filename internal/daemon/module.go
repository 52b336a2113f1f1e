package daemon

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/tilechat/internal/api"
	"github.com/matheus3301/tilechat/internal/auth"
	"github.com/matheus3301/tilechat/internal/bus"
	"github.com/matheus3301/tilechat/internal/chat"
	"github.com/matheus3301/tilechat/internal/config"
	"github.com/matheus3301/tilechat/internal/httpclient"
	"github.com/matheus3301/tilechat/internal/lock"
	"github.com/matheus3301/tilechat/internal/logging"
	"github.com/matheus3301/tilechat/internal/metrics"
	"github.com/matheus3301/tilechat/internal/profile"
	"github.com/matheus3301/tilechat/internal/status"
	"github.com/matheus3301/tilechat/internal/store"
	intsync "github.com/matheus3301/tilechat/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	// Config overrides the global config file when set.
	Config *config.Config
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
			provideStore,
			provideMetrics,
			provideHTTPClient,
			provideChatAPI,
			provideCredentials,
			provideAuthenticator,
			provideSynchronizer,
			provideChatService,
			provideMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CachePath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		if errors.Is(err, store.ErrDirtyCache) {
			return nil, fmt.Errorf("%w; remove %s to rebuild it from the server", err, dbPath)
		}
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

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideHTTPClient(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *httpclient.Client {
	return httpclient.New(cfg.API.BaseURL,
		httpclient.WithTimeout(cfg.API.Timeout.Duration),
		httpclient.WithLogger(logger.Named("http")),
		httpclient.WithObserver(m.ObserveHTTP),
	)
}

func provideChatAPI(hc *httpclient.Client) *chat.API {
	return chat.NewAPI(hc)
}

func provideCredentials(db *store.DB) (*auth.Store, error) {
	creds := auth.NewStore(db)
	if err := creds.Load(); err != nil {
		return nil, err
	}
	return creds, nil
}

func provideAuthenticator(hc *httpclient.Client, creds *auth.Store, logger *zap.Logger) *auth.Authenticator {
	return auth.NewAuthenticator(hc, creds, logger.Named("auth"))
}

func provideSynchronizer(
	chatAPI *chat.API,
	creds *auth.Store,
	cfg *config.Config,
	db *store.DB,
	b *bus.Bus,
	machine *status.Machine,
	m *metrics.Metrics,
	logger *zap.Logger,
) *intsync.Synchronizer {
	return intsync.New(chatAPI, creds, intsync.ConfigFrom(cfg.Poll),
		intsync.WithCache(db),
		intsync.WithBus(b),
		intsync.WithMachine(machine),
		intsync.WithMetrics(m),
		intsync.WithLogger(logger.Named("sync")),
	)
}

func provideChatService(
	p Params,
	cfg *config.Config,
	syncer *intsync.Synchronizer,
	authn *auth.Authenticator,
	creds *auth.Store,
	db *store.DB,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *api.ChatService {
	return api.NewChatService(api.Deps{
		Profile: p.Profile,
		BaseURL: cfg.API.BaseURL,
		Sync:    syncer,
		Auth:    authn,
		Creds:   creds,
		DB:      db,
		Machine: machine,
		Bus:     b,
		Logger:  logger.Named("api"),
	})
}

func provideMetricsServer(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	return NewMetricsServer(cfg.MetricsAddr, m, logger)
}

type lifecycleDeps struct {
	fx.In

	Server        *Server
	MetricsServer *MetricsServer
	Lock          *lock.Lock
	DB            *store.DB
	Creds         *auth.Store
	Auth          *auth.Authenticator
	Sync          *intsync.Synchronizer
	Bus           *bus.Bus
	Logger        *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	runCtx, cancel := context.WithCancel(context.Background())
	booted := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := d.MetricsServer.Start(); err != nil {
				return err
			}

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Validate persisted credentials before polling starts. A
			// rejected or unreachable token clears all stored auth.
			go func() {
				defer close(booted)
				if _, err := d.Auth.Verify(runCtx); err != nil {
					if errors.Is(err, auth.ErrNoCredentials) {
						d.Logger.Info("no credentials found, login required")
					} else {
						d.Logger.Warn("credential verification failed", zap.Error(err))
					}
				}
				if runCtx.Err() != nil {
					return
				}
				d.Creds.OnChange(d.Sync.AuthChanged)
				d.Sync.Start(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-booted
			d.Sync.Stop()
			// Ends open WatchEvents streams so the graceful stop can finish.
			d.Bus.Close()
			d.Server.Stop(ctx)
			if err := d.MetricsServer.Stop(ctx); err != nil {
				d.Logger.Warn("error stopping metrics server", zap.Error(err))
			}
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			_ = d.Logger.Sync()
			return nil
		},
	})
}
