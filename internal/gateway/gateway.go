// Package gateway assembles C1-C10 into one aggregate: an explicit struct
// every test and every binary constructs fresh, rather than module-level
// singletons (a global registry, a global manager).
// Start/Stop sequencing is delegated entirely to a lifecycle.Manager:
// registry and event bus first (nothing else functions without them),
// then the connector pool and process runner, then the supervisor (which
// resurrects persisted/predefined providers against the now-running
// pool and runner), then the result cache, and finally the two network
// frontends (control plane, admin API) so no inbound request can arrive
// before the state it depends on exists.
package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/toolgated/internal/admin"
	"github.com/haasonsaas/toolgated/internal/auth"
	"github.com/haasonsaas/toolgated/internal/config"
	"github.com/haasonsaas/toolgated/internal/connector"
	"github.com/haasonsaas/toolgated/internal/controlplane"
	"github.com/haasonsaas/toolgated/internal/dispatch"
	"github.com/haasonsaas/toolgated/internal/eventbus"
	"github.com/haasonsaas/toolgated/internal/identity"
	"github.com/haasonsaas/toolgated/internal/lifecycle"
	"github.com/haasonsaas/toolgated/internal/marketplace"
	"github.com/haasonsaas/toolgated/internal/observability"
	"github.com/haasonsaas/toolgated/internal/procrunner"
	"github.com/haasonsaas/toolgated/internal/registry"
	"github.com/haasonsaas/toolgated/internal/resultcache"
	"github.com/haasonsaas/toolgated/internal/supervisor"
	"github.com/haasonsaas/toolgated/pkg/models"
)

// Gateway owns every core component (C1-C10) and the lifecycle.Manager
// that sequences them.
type Gateway struct {
	Config *config.Config
	Logger *slog.Logger

	Resolver     *identity.Resolver
	Registry     *registry.Registry
	Connectors   *connector.Pool
	Processes    *procrunner.Runner
	Supervisor   *supervisor.Supervisor
	Dispatcher   *dispatch.Dispatcher
	Bus          *eventbus.Bus
	Cache        *resultcache.Cache[string, models.InvocationResult]
	Auth         *auth.Service
	ControlPlane *controlplane.Server
	Admin        *admin.Server
	Tracer       *observability.Tracer

	manager       *lifecycle.Manager
	traceShutdown func(context.Context) error
	sqlDB         *sql.DB // non-nil only when cfg.Supervisor.Storage is "sqlite"
}

// Handlers supplies the in-process LocalFunction handler table; tool
// servers built into the binary (as opposed to spawned external
// processes) register themselves here before New is called.
type Handlers = dispatch.MapHandlerTable

// Options carries constructor inputs that do not belong in the YAML
// config: the in-process handler table, the predefined provider table,
// an install advisor, and (for tests) a stub connector dialer.
type Options struct {
	Handlers   Handlers
	Predefined []supervisor.PredefinedProvider
	Advisor    supervisor.InstallAdvisor
	Dialer     connector.Dialer
	Registry   *prometheus.Registry
	// Tracing configures the gateway's TracerProvider. The zero value
	// records every span (AlwaysSample) under a "toolgated"/"dev" resource.
	Tracing observability.TraceConfig
}

// poolRemoteCaller adapts C3's connector Pool (keyed by registry_id and
// endpoint) to dispatch.RemoteCaller's narrower per-call signature.
type poolRemoteCaller struct {
	pool *connector.Pool
}

func (c poolRemoteCaller) Call(ctx context.Context, registryID, endpoint, action string, parameters map[string]any) models.InvocationResult {
	return c.pool.Get(registryID, endpoint).Call(ctx, action, parameters)
}

// New wires every component from cfg and opts but does not start
// anything; call Start to bring the gateway up.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Registry
	if metrics == nil {
		metrics = prometheus.NewRegistry()
	}

	tracer, traceShutdown := observability.NewTracer(opts.Tracing)

	bus := eventbus.New(eventbus.Config{Logger: logger})
	reg := registry.New(bus)

	resolver := identity.New(reg.Lookup)
	for agentFacing, registryID := range cfg.Identity.Aliases {
		resolver.SetAlias(agentFacing, registryID)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = connector.WebSocketDialer{}
	}
	pool := connector.NewPool(dialer, cfg.Dispatch.DefaultTimeout)

	procs := procrunner.New(procrunner.Config{
		PortRangeStart: cfg.Process.PortRangeStart,
		PortRangeEnd:   cfg.Process.PortRangeEnd,
		MaxRestarts:    cfg.Process.MaxRestarts,
		RestartWindow:  cfg.Process.RestartWindow,
		RingBufferKB:   cfg.Process.RingBufferKB,
	})

	advisor := opts.Advisor
	if advisor == nil && len(cfg.Marketplace.Registries) > 0 {
		httpClient := auth.NewHTTPClient(context.Background(), auth.OAuth2Config{
			TokenURL:     cfg.Marketplace.OAuth2TokenURL,
			ClientID:     cfg.Marketplace.OAuth2ClientID,
			ClientSecret: cfg.Marketplace.OAuth2ClientSecret,
			Scopes:       cfg.Marketplace.OAuth2Scopes,
		})
		client := marketplace.NewRegistryClient(
			marketplace.WithRegistries(cfg.Marketplace.Registries),
			marketplace.WithHTTPClient(httpClient),
			marketplace.WithCacheTTL(cfg.Marketplace.CacheTTL),
			marketplace.WithLogger(logger),
		)
		advisor = marketplace.NewAdvisor(client)
	}

	// supervisor.storage selects the persistence backend for both the
	// provider manifest and (below) the result cache: "file" (default) uses
	// the YAML manifest and an in-memory-only cache; "sqlite" opens one
	// shared database/sql handle backing a SQLiteManifestStore and a
	// resultcache.SQLiteStore.
	var sqlDB *sql.DB
	var manifestStore supervisor.ManifestStore
	if cfg.Supervisor.Storage == "sqlite" {
		db, err := sql.Open("sqlite", cfg.Supervisor.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage %s: %w", cfg.Supervisor.SQLitePath, err)
		}
		store, err := supervisor.NewSQLiteManifestStore(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite manifest store: %w", err)
		}
		sqlDB = db
		manifestStore = store
	}

	sup := supervisor.New(supervisor.Config{
		Registry:            reg,
		Connectors:          pool,
		Processes:           procs,
		Advisor:             advisor,
		ManifestPath:        cfg.Supervisor.ManifestPath,
		Store:               manifestStore,
		HealthSweepInterval: cfg.Supervisor.HealthSweepInterval,
		Predefined:          opts.Predefined,
		Logger:              logger,
	})

	handlers := opts.Handlers
	if handlers == nil {
		handlers = Handlers{}
	}
	dispatcher := dispatch.New(dispatch.Config{
		Validator: resolver,
		Locator:   reg,
		Remote:    poolRemoteCaller{pool: pool},
		Handlers:  handlers,
		Registry:  metrics,
		Tracer:    tracer,
	})

	cache := resultcache.New[string, models.InvocationResult](resultcache.Config{
		DefaultTTL:    cfg.Cache.DefaultTTL,
		SweepInterval: cfg.Cache.SweepInterval,
		Registry:      metrics,
		Namespace:     "toolgated",
	})
	if sqlDB != nil {
		cacheStore, err := resultcache.NewSQLiteStore(sqlDB)
		if err != nil {
			return nil, fmt.Errorf("init sqlite cache store: %w", err)
		}
		if err := cache.WithStore(context.Background(), cacheStore); err != nil {
			return nil, fmt.Errorf("load sqlite cache store: %w", err)
		}
	}

	var authSvc *auth.Service
	switch cfg.Auth.Mode {
	case "none":
		authSvc = nil
	default:
		authSvc = auth.NewService(auth.Config{JWTSecret: cfg.Auth.JWTSecret})
	}

	cp := controlplane.New(controlplane.Config{
		Role:        controlplane.RoleGateway,
		Registry:    reg,
		Dispatcher:  dispatcher,
		Dialer:      dialer,
		DialTimeout: cfg.Dispatch.DefaultTimeout,
		WSAddr:      fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WSPort),
		GRPCAddr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort),
	})

	adminSrv := admin.New(admin.Config{
		Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Registry:        reg,
		Dispatcher:      dispatcher,
		Supervisor:      sup,
		Bus:             bus,
		Auth:            authSvc,
		MetricsGatherer: metrics,
		Tracer:          tracer,
	})

	manager := lifecycle.NewManager(logger)
	manager.Register(bus)
	manager.Register(reg)
	manager.Register(pool)
	manager.Register(procs)
	manager.Register(sup)
	manager.Register(cache)
	manager.Register(cp)
	manager.Register(adminSrv)

	return &Gateway{
		Config:       cfg,
		Logger:       logger,
		Resolver:     resolver,
		Registry:     reg,
		Connectors:   pool,
		Processes:    procs,
		Supervisor:   sup,
		Dispatcher:   dispatcher,
		Bus:          bus,
		Cache:        cache,
		Auth:         authSvc,
		ControlPlane:  cp,
		Admin:         adminSrv,
		Tracer:        tracer,
		manager:       manager,
		traceShutdown: traceShutdown,
		sqlDB:         sqlDB,
	}, nil
}

// Start brings every component up in dependency order, rolling back on
// the first failure.
func (g *Gateway) Start(ctx context.Context) error {
	return g.manager.Start(ctx)
}

// Stop brings every component down in reverse order, collecting (not
// short-circuiting on) individual failures, then shuts down the tracer
// provider.
func (g *Gateway) Stop(ctx context.Context) error {
	err := g.manager.Stop(ctx)
	if shutErr := g.traceShutdown(ctx); shutErr != nil && err == nil {
		err = shutErr
	}
	if g.sqlDB != nil {
		if closeErr := g.sqlDB.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// Health returns every component's health snapshot keyed by name. The
// admin API's /status view does not read it; it aggregates registry,
// dispatcher and supervisor data directly.
func (g *Gateway) Health(ctx context.Context) map[string]lifecycle.ComponentHealth {
	return g.manager.Health(ctx)
}
