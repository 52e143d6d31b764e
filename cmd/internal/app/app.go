// Package app wires the bochat server runtime: config, logging, storage backends,
// the chat socket, the REST endpoints and the notification dispatcher.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Aaliyah097/bochat/cmd/internal/api"
	"github.com/Aaliyah097/bochat/cmd/internal/auth"
	"github.com/Aaliyah097/bochat/cmd/internal/lights"
	"github.com/Aaliyah097/bochat/cmd/internal/metrics"
	"github.com/Aaliyah097/bochat/cmd/internal/notify"
	"github.com/Aaliyah097/bochat/cmd/internal/realtime"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg Config
	log Logger

	be       *backends
	registry *prometheus.Registry

	bus        realtime.FanoutBus
	ws         *realtime.WSGateway
	api        *api.Handler
	dispatcher *notify.Dispatcher // nil when notifications are disabled

	scoreRand lights.Rand // nil uses the engine default
}

type option func(*App)

// withScoreRand fixes the scoring roll source.
func withScoreRand(r lights.Rand) option {
	return func(a *App) { a.scoreRand = r }
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	return newApp(ctx, cfg, log)
}

func newApp(ctx context.Context, cfg Config, log Logger, opts ...option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	authn, err := newAuthenticator(cfg, log)
	if err != nil {
		return nil, err
	}

	be, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, be: be}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.wire(ctx, authn); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

type components struct {
	store    realtime.MessageStore
	ledger   lights.Ledger
	gate     lights.AwardGate
	bus      realtime.FanoutBus
	presence realtime.PresenceCache
	queue    notify.Queue
	devices  notify.DeviceRegistry
}

// newComponents picks the Postgres/Redis implementation of each component when the
// backend is configured and the in-memory one otherwise.
func newComponents(cfg Config, log Logger, be *backends) (components, error) {
	var c components

	if be.pool != nil {
		store, err := realtime.NewPostgresStore(be.pool, realtime.WithSchema(cfg.DBSchema))
		if err != nil {
			return c, err
		}
		ledger, err := lights.NewPostgresLedger(be.pool, lights.WithSchema(cfg.DBSchema))
		if err != nil {
			return c, err
		}
		c.store, c.ledger = store, ledger
	} else {
		c.store, c.ledger = realtime.NewInMemoryStore(), lights.NewInMemoryLedger()
	}

	if be.redis != nil {
		bus, err := realtime.NewRedisBus(log, be.redis, cfg.BusBuffer)
		if err != nil {
			return c, err
		}
		queue, err := notify.NewRedisQueue(be.redis, cfg.NotifyMaxLen, cfg.NotifyClaimMinIdle)
		if err != nil {
			return c, err
		}
		c.bus = bus
		c.queue = queue
		c.presence = realtime.NewRedisPresence(be.redis, "")
		c.gate = lights.NewRedisGate(be.redis, "")
		c.devices = notify.NewRedisDevices(be.redis, "")
	} else {
		c.bus = realtime.NewMemoryBus(log, cfg.BusBuffer)
		c.queue = notify.NewMemoryQueue(notify.MemoryQueueOptions{
			MaxLen:       int(cfg.NotifyMaxLen),
			ClaimMinIdle: cfg.NotifyClaimMinIdle,
		})
		c.presence = realtime.NewMemoryPresence()
		c.gate = lights.NewMemoryGate()
		c.devices = notify.NewMemoryDevices()
	}
	return c, nil
}

func (a *App) wire(ctx context.Context, authn auth.Authenticator) error {
	cfg, log := a.cfg, a.log

	c, err := newComponents(cfg, log, a.be)
	if err != nil {
		return err
	}
	a.bus = c.bus

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(a.registry)

	engine, err := lights.NewEngine(lights.EngineOptions{
		Ledger:   c.ledger,
		Gate:     c.gate,
		AwardTTL: cfg.LightsAwardTTL,
		Rand:     a.scoreRand,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	deps := realtime.SessionDeps{
		Bus:              c.bus,
		Store:            c.store,
		Presence:         c.presence,
		Scorer:           engine,
		BothOnlineWindow: cfg.LightsBothOnlineWindow,
		Log:              log,
	}
	if cfg.NotifyEnabled {
		deps.Queue = c.queue
	}

	a.ws, err = realtime.NewWSGateway(log, realtime.GatewayConfig{
		OriginRequired:   cfg.WSOriginRequired,
		AllowedOrigins:   cfg.WSAllowedOrigins,
		WriteTimeout:     cfg.WSWriteTimeout,
		ReadIdleTimeout:  cfg.WSReadIdleTimeout,
		SendQueueSize:    cfg.WSSendQueueSize,
		HeartbeatEvery:   cfg.WSHeartbeatEvery,
		HeartbeatTimeout: cfg.WSHeartbeatTimeout,
		RateEvents:       cfg.WSRateEvents,
		RateWindow:       cfg.WSRateWindow,
	}, authn, deps)
	if err != nil {
		return err
	}

	a.api, err = api.NewHandler(log, authn, engine, c.devices, c.presence)
	if err != nil {
		return err
	}

	if cfg.NotifyEnabled {
		a.dispatcher, err = newDispatcher(ctx, cfg, log, c.queue, c.devices)
		if err != nil {
			return err
		}
	}
	return nil
}

// Run starts the HTTP server and the dispatcher and blocks until ctx is cancelled
// or the server fails. Everything is torn down before it returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.be.pool != nil,
		"redis_enabled", a.be.redis != nil,
		"notify_enabled", a.dispatcher != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	if a.dispatcher != nil {
		g.Go(func() error { return a.dispatcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
		// Hijacked sockets are not tracked by Shutdown; closing the bus ends their relays.
		_ = a.bus.Close()
		return nil
	})

	err := g.Wait()
	a.close()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.be != nil {
		a.be.close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
