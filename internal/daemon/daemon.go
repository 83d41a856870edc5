// Package daemon assembles and runs the agentfabric service: storage,
// event bus, control-plane bridge, subscription cache, reasoning
// orchestrator, message router and the two HTTP servers.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/todoencadena/agentfabric/internal/bridge"
	"github.com/todoencadena/agentfabric/internal/bus"
	"github.com/todoencadena/agentfabric/internal/config"
	"github.com/todoencadena/agentfabric/internal/guard"
	"github.com/todoencadena/agentfabric/internal/ingress"
	"github.com/todoencadena/agentfabric/internal/logger"
	"github.com/todoencadena/agentfabric/internal/metrics"
	"github.com/todoencadena/agentfabric/internal/router"
	"github.com/todoencadena/agentfabric/internal/subscription"
	"github.com/todoencadena/agentfabric/pkg/actions"
	"github.com/todoencadena/agentfabric/pkg/model"
	"github.com/todoencadena/agentfabric/pkg/orchestrator"
	"github.com/todoencadena/agentfabric/pkg/store"
	"github.com/todoencadena/agentfabric/pkg/telemetry"
)

// shutdownTimeout bounds graceful server drain and bus settling
const shutdownTimeout = 5 * time.Second

// Daemon is the assembled agentfabric service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	metrics  *metrics.Metrics
	store    store.Store
	bus      *bus.Bus
	bridge   *bridge.Client
	cache    *subscription.Cache
	guard    *guard.Guard
	registry *actions.Registry
	provider model.Provider
	orch     *orchestrator.Orchestrator
	router   *router.Router

	telemetryServer *telemetry.Server
	ingressServer   *ingress.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// Status reports the daemon's runtime state
type Status struct {
	Running bool          `json:"running"`
	AgentID string        `json:"agentId"`
	Uptime  time.Duration `json:"uptime"`
}

// New assembles a daemon from configuration. Components are constructed
// in dependency order; nothing starts listening until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(),
		bus:     bus.New(),
		guard:   guard.New(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := d.initialize(); err != nil {
		cancel()
		return nil, fmt.Errorf("daemon initialization failed: %w", err)
	}
	return d, nil
}

func (d *Daemon) initialize() error {
	cfg := d.config

	st, err := d.openStore()
	if err != nil {
		return err
	}
	d.store = st

	bridgeClient, err := bridge.NewClient(bridge.Config{
		BaseURL: cfg.ControlPlane.BaseURL,
		Secret:  cfg.ControlPlane.SharedSecret,
		Timeout: time.Duration(cfg.ControlPlane.TimeoutSecs) * time.Second,
		Logger:  d.component("bridge"),
		Metrics: d.metrics,
	})
	if err != nil {
		return err
	}
	d.bridge = bridgeClient

	d.cache = subscription.New(cfg.Agent.ID, bridgeClient, d.component("subscription"))

	d.registry = actions.NewRegistry()
	if err := actions.RegisterBuiltins(d.registry); err != nil {
		return err
	}

	provider, err := d.buildProvider()
	if err != nil {
		return err
	}
	d.provider = provider

	d.orch = orchestrator.New(orchestrator.Config{
		AgentID:       cfg.Agent.ID,
		AgentName:     cfg.Agent.Name,
		MaxSteps:      cfg.Orchestrator.MaxSteps,
		RunTimeout:    cfg.Orchestrator.RunTimeout(),
		BypassRooms:   cfg.Orchestrator.BypassRooms,
		BypassSources: cfg.Orchestrator.BypassSources,
	}, orchestrator.Deps{
		Store:    d.store,
		Provider: d.provider,
		Registry: d.registry,
		Guard:    d.guard,
		Notifier: d.bridge,
		Logger:   d.component("orchestrator"),
		Metrics:  d.metrics,
	})

	d.router = router.New(router.Deps{
		AgentID: cfg.Agent.ID,
		Store:   d.store,
		Plane:   d.bridge,
		Cache:   d.cache,
		Guard:   d.guard,
		Orch:    d.orch,
		Logger:  d.component("router"),
		Metrics: d.metrics,
	})

	if cfg.Telemetry.Enabled {
		aggregator := telemetry.NewAggregator(d.store, d.component("telemetry"))
		d.telemetryServer = telemetry.NewServer(telemetry.ServerConfig{
			Host:     cfg.Telemetry.Host,
			Port:     cfg.Telemetry.Port,
			CacheTTL: cfg.Telemetry.CacheTTL(),
		}, aggregator, d.metrics, d.component("telemetry"))
	}

	if cfg.Ingress.Enabled {
		d.ingressServer = ingress.NewServer(ingress.Config{
			Host:   cfg.Ingress.Host,
			Port:   cfg.Ingress.Port,
			Secret: cfg.ControlPlane.SharedSecret,
		}, d.bus, d.component("ingress"))
	}

	return nil
}

func (d *Daemon) openStore() (store.Store, error) {
	switch d.config.Store.Driver {
	case "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(d.ctx, d.config.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %s", d.config.Store.Driver)
	}
}

// buildProvider creates the model provider from the first configured
// credential profile
func (d *Daemon) buildProvider() (model.Provider, error) {
	if len(d.config.Model.Profiles) == 0 {
		return nil, fmt.Errorf("no model profiles configured")
	}
	profile := d.config.Model.Profiles[0]

	return model.NewFromProfile(profile.Provider, profile.APIKey, model.Models{
		Small: d.config.Model.SmallModel,
		Large: d.config.Model.LargeModel,
	})
}

// Start brings the daemon online: loads the subscription picture, attaches
// the router to the bus and starts the HTTP servers.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	// a down control plane must not prevent startup; membership events
	// will repair the picture once it comes back
	if err := d.cache.Refresh(d.ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Initial subscription refresh failed")
	} else {
		d.logger.Info().Int("servers", d.cache.ServerCount()).Msg("Subscriptions loaded")
	}

	d.router.Attach(d.ctx, d.bus)

	if d.telemetryServer != nil {
		d.serve("telemetry", d.telemetryServer.Start)
	}
	if d.ingressServer != nil {
		d.serve("ingress", d.ingressServer.Start)
	}

	d.logger.Info().
		Str("agent_id", d.config.Agent.ID).
		Str("control_plane", d.config.ControlPlane.BaseURL).
		Msg("Daemon started")
	return nil
}

func (d *Daemon) serve(name string, start func() error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := start(); err != nil {
			d.logger.Error().Err(err).Str("server", name).Msg("Server exited with error")
		}
	}()
}

// Stop shuts the daemon down: drains the HTTP servers, lets in-flight bus
// dispatches settle and closes storage.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Daemon stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if d.ingressServer != nil {
		if err := d.ingressServer.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn().Err(err).Msg("Ingress shutdown failed")
		}
	}
	if d.telemetryServer != nil {
		if err := d.telemetryServer.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}

	if !d.bus.Wait(shutdownTimeout) {
		d.logger.Warn().Msg("Bus dispatches still in flight at shutdown")
	}

	d.cancel()
	d.wg.Wait()

	if err := d.store.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Store close failed")
	}

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Status reports whether the daemon is running and for how long
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Status{Running: d.running, AgentID: d.config.Agent.ID}
	if d.running {
		s.Uptime = time.Since(d.startTime)
	}
	return s
}

// Bus exposes the event bus, used by tests and local tooling to inject
// events without the ingress server
func (d *Daemon) Bus() *bus.Bus {
	return d.bus
}

func (d *Daemon) component(name string) zerolog.Logger {
	return d.logger.GetZerolog().With().Str("component", name).Logger()
}
