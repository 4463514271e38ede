package ecolearn

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/kartik102005/ecolearn/internal/backend/local"
	"github.com/kartik102005/ecolearn/internal/backend/remote"
	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/config"
	"github.com/kartik102005/ecolearn/internal/core/eventbus"
	"github.com/kartik102005/ecolearn/internal/core/logging"
	"github.com/kartik102005/ecolearn/internal/core/profile"
	"github.com/kartik102005/ecolearn/internal/core/realtime"
	"github.com/kartik102005/ecolearn/internal/data/db"
	"github.com/kartik102005/ecolearn/internal/data/stores"
	"github.com/kartik102005/ecolearn/internal/ecolearn/sweep"
	"github.com/kartik102005/ecolearn/internal/metrics"
)

// App owns every long-lived collaborator for one process. Commands and the
// TUI consume App instead of building dependencies themselves.
type App struct {
	Config   *config.Config
	DB       *db.DB
	KV       *stores.KVStore
	Bus      *eventbus.EventBus
	Sessions *SessionManager
	Inbox    *Inbox
	Invites  *stores.InviteStore
	Query    *QueryCache
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	stops   []func()
}

// backendParts are the three collaborators every backend provides.
type backendParts struct {
	auth     auth.Provider
	profiles profile.Store
	realtime realtime.Channel
}

// NewApp opens the database and wires the backend selected by cfg.
func NewApp(cfg *config.Config) (*App, error) {
	database, err := stores.OpenDatabase(cfg.DataDir, db.OpenOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	kvStore := stores.NewKVStore(database)

	parts, err := newBackend(cfg, database, kvStore)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	bus := eventbus.New(cfg.Notifications.BusBuffer)
	eventbus.RegisterDebugLogger(bus, logging.Component("eventbus"))
	metrics.InstrumentBus(bus, collector)

	query := NewQueryCache()
	invites := stores.NewInviteStore(kvStore)

	sessions := NewSessionManager(SessionDeps{
		Auth:       parts.auth,
		Profiles:   parts.profiles,
		Realtime:   parts.realtime,
		Store:      kvStore,
		QueryCache: query,
		Timeouts:   cfg.Timeouts,
		LegacyKeys: cfg.LegacyKeys,
		Observer:   collector,
		Logger:     logging.Component("session"),
	})

	inbox := NewInbox(InboxDeps{
		Repo:     stores.NewNotifyStore(kvStore, cfg.Notifications.MaxEntries),
		Invites:  invites,
		Limit:    cfg.Notifications.MaxEntries,
		Observer: collector,
		Logger:   logging.Component("inbox"),
	})

	return &App{
		Config:   cfg,
		DB:       database,
		KV:       kvStore,
		Bus:      bus,
		Sessions: sessions,
		Inbox:    inbox,
		Invites:  invites,
		Query:    query,
		Metrics:  collector,
		Registry: registry,
	}, nil
}

func newBackend(cfg *config.Config, database *db.DB, kvStore *stores.KVStore) (backendParts, error) {
	base := log.Logger.Hook(logging.ContextHook{})

	switch cfg.Backend.Mode {
	case config.ModeRemote:
		b, err := remote.New(cfg.Backend.URL, cfg.Backend.AnonKey, &http.Client{Timeout: cfg.Timeouts.SessionHard}, kvStore, base)
		if err != nil {
			return backendParts{}, fmt.Errorf("remote backend: %w", err)
		}
		return backendParts{auth: b.Auth, profiles: b.Profiles, realtime: b.Realtime}, nil
	default:
		b := local.New(database, kvStore, local.Options{
			Secret:     cfg.Local.JWTSecret,
			SessionTTL: cfg.Local.SessionTTL,
		}, base)
		return backendParts{auth: b.Auth, profiles: b.Profiles, realtime: b.Realtime}, nil
	}
}

// Start runs the bus, attaches the inbox to it and to the session manager,
// and initializes the session. It does not wait for Ready.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	busCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.stops = append(a.stops, a.Inbox.Start(a.Bus), a.Inbox.Follow(a.Sessions))
	a.mu.Unlock()

	go a.Bus.Start(busCtx)

	return a.Sessions.Initialize(ctx)
}

// Sweep removes expired KV entries until ctx is done. Long-running commands
// run it on a goroutine.
func (a *App) Sweep(ctx context.Context) {
	sweep.Start(ctx, a.KV, sweep.DefaultInterval, a.Metrics.AddSwept)
}

// Close stops background work, drains queued events and closes the database.
func (a *App) Close() error {
	a.mu.Lock()
	stops := a.stops
	a.stops = nil
	cancel := a.cancel
	started := a.started
	a.mu.Unlock()

	a.Sessions.Close()
	if cancel != nil {
		cancel()
	}
	if started {
		<-a.Bus.Done()
	}
	for _, stop := range stops {
		stop()
	}
	return a.DB.Close()
}
