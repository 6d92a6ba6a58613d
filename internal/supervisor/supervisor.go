// Package supervisor implements the Lifecycle Supervisor (C6): the boot
// sequence that resurrects persisted and predefined providers, the
// steady-state health sweep, the spawn-request orchestration triggered by
// the admin API, and the ordered shutdown sequence.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/toolgated/internal/connector"
	"github.com/haasonsaas/toolgated/internal/lifecycle"
	"github.com/haasonsaas/toolgated/internal/procrunner"
	"github.com/haasonsaas/toolgated/internal/registry"
	"github.com/haasonsaas/toolgated/pkg/models"
)

// InstallAdvisor decides what to install in response to a free-text
// search-install request. The default NoopAdvisor rejects every query; a
// real implementation could consult an LLM or a marketplace index to pick
// among candidates.
type InstallAdvisor interface {
	Advise(ctx context.Context, query string) (procrunner.InstallConfig, error)
}

// NoopAdvisor resolves nothing: Advise returns an error for every query,
// so SearchInstall fails without one. Installing a known command goes
// through Spawn with a pre-built SpawnRequest.Config instead.
type NoopAdvisor struct{}

func (NoopAdvisor) Advise(ctx context.Context, query string) (procrunner.InstallConfig, error) {
	return procrunner.InstallConfig{}, fmt.Errorf("no install advisor configured: cannot resolve query %q to a command", query)
}

// PredefinedProvider is a hard-coded descriptor baked into the build,
// probed (not spawned) at boot.
type PredefinedProvider struct {
	Descriptor models.ToolDescriptor
}

// Supervisor orchestrates C2 (registry), C3 (connector pool), and C5
// (process runner) through the boot/steady-state/shutdown lifecycle.
type Supervisor struct {
	*lifecycle.Base

	registry   *registry.Registry
	connectors *connector.Pool
	processes  *procrunner.Runner
	advisor    InstallAdvisor

	store               ManifestStore
	healthSweepInterval time.Duration
	predefined          []PredefinedProvider

	mu             sync.Mutex
	manifest       models.Manifest
	processHandles map[string]string // registry_id -> process runner handle
	stopSweep      chan struct{}
	sweepStopped   atomic.Bool

	logger *slog.Logger
}

// Config wires a Supervisor's collaborators.
type Config struct {
	Registry   *registry.Registry
	Connectors *connector.Pool
	Processes  *procrunner.Runner
	Advisor    InstallAdvisor
	// ManifestPath configures the default file-based ManifestStore. Ignored
	// if Store is set.
	ManifestPath        string
	Store               ManifestStore
	HealthSweepInterval time.Duration
	Predefined          []PredefinedProvider
	Logger              *slog.Logger
}

// New creates a Supervisor. Boot/shutdown orchestration happens in
// Start/Stop so the Supervisor can be registered with a lifecycle.Manager
// alongside every other component.
func New(cfg Config) *Supervisor {
	advisor := cfg.Advisor
	if advisor == nil {
		advisor = NoopAdvisor{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.HealthSweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	store := cfg.Store
	if store == nil {
		store = NewFileManifestStore(cfg.ManifestPath)
	}
	return &Supervisor{
		Base:                lifecycle.NewBase("lifecycle-supervisor", logger),
		registry:            cfg.Registry,
		connectors:          cfg.Connectors,
		processes:           cfg.Processes,
		advisor:             advisor,
		store:               store,
		healthSweepInterval: interval,
		predefined:          cfg.Predefined,
		processHandles:      make(map[string]string),
		stopSweep:           make(chan struct{}),
		logger:              logger,
	}
}

// Start runs the boot sequence: load the manifest, resurrect persisted
// external and spawned providers, probe predefined providers, then launch
// the steady-state health sweep.
func (s *Supervisor) Start(ctx context.Context) error {
	manifest, err := s.store.Load()
	if err != nil {
		s.MarkFailed()
		return fmt.Errorf("load manifest: %w", err)
	}
	s.mu.Lock()
	s.manifest = manifest
	s.mu.Unlock()

	for id, p := range manifest.Providers {
		switch p.Provenance {
		case models.ProvenanceExternal:
			s.resurrectExternal(ctx, id, p)
		case models.ProvenanceSpawned:
			s.resurrectSpawned(ctx, id, p)
		}
	}

	for _, pp := range s.predefined {
		s.probeAndRegisterPredefined(ctx, pp.Descriptor)
	}

	go s.sweepLoop()

	s.MarkStarted()
	s.logger.Info("lifecycle supervisor started", "persisted_providers", len(manifest.Providers), "predefined_providers", len(s.predefined))
	return nil
}

func (s *Supervisor) resurrectExternal(ctx context.Context, registryIDHint string, p models.PersistedProvider) {
	c := s.connectors.Get(registryIDHint, p.Endpoint)
	if err := c.Probe(ctx); err != nil {
		s.logger.Warn("persisted external provider unreachable at boot, skipping", "registry_id", registryIDHint, "error", err)
		return
	}
	descriptor := &models.ToolDescriptor{
		RegistryID:  registryIDHint,
		DisplayName: p.DisplayName,
		Kind:        models.KindRemoteServer,
		Endpoint:    p.Endpoint,
		Provenance:  models.ProvenanceExternal,
		Enabled:     true,
	}
	if _, err := s.registry.Register(descriptor); err != nil {
		s.logger.Warn("failed to register resurrected external provider", "registry_id", registryIDHint, "error", err)
	}
}

func (s *Supervisor) resurrectSpawned(ctx context.Context, registryIDHint string, p models.PersistedProvider) {
	if len(p.Command) == 0 {
		s.logger.Warn("persisted spawned provider has no command, skipping", "registry_id", registryIDHint)
		return
	}
	cfg := procrunner.InstallConfig{
		RegistryIDHint: registryIDHint,
		Command:        p.Command[0],
		Args:           p.Command[1:],
		WorkDir:        p.WorkDir,
		RestartPolicy:  models.RestartOnCrash,
	}
	procHandle, endpoint, _, err := s.processes.Install(ctx, cfg)
	if err != nil {
		s.logger.Warn("failed to respawn persisted provider", "registry_id", registryIDHint, "error", err)
		return
	}
	descriptor := &models.ToolDescriptor{
		RegistryID:  registryIDHint,
		DisplayName: p.DisplayName,
		Kind:        models.KindRemoteServer,
		Endpoint:    endpoint,
		Provenance:  models.ProvenanceSpawned,
		Enabled:     true,
	}
	if _, err := s.registry.Register(descriptor); err != nil {
		s.logger.Warn("failed to register respawned provider", "registry_id", registryIDHint, "error", err)
		s.processes.Stop(procHandle)
		return
	}
	s.mu.Lock()
	s.processHandles[registryIDHint] = procHandle
	s.mu.Unlock()
}

func (s *Supervisor) probeAndRegisterPredefined(ctx context.Context, descriptor models.ToolDescriptor) {
	if descriptor.Kind == models.KindRemoteServer {
		c := s.connectors.Get(descriptor.RegistryID, descriptor.Endpoint)
		if err := c.Probe(ctx); err != nil {
			s.logger.Debug("predefined provider unreachable at boot, will come online later", "registry_id", descriptor.RegistryID, "error", err)
			return
		}
	}
	clone := descriptor
	clone.Enabled = true
	if _, err := s.registry.Register(&clone); err != nil {
		s.logger.Debug("predefined provider already registered", "registry_id", descriptor.RegistryID)
	}
}

// sweepLoop runs the periodic health sweep: every RemoteServer descriptor
// gets its connector re-probed, which dials afresh if the connector has
// no live connection. A failed probe is only logged; the sweep does not
// tear down a connection itself, and the descriptor stays registered
// unless an explicit unregister arrives.
func (s *Supervisor) sweepLoop() {
	ticker := time.NewTicker(s.healthSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce(context.Background())
		case <-s.stopSweep:
			return
		}
	}
}

func (s *Supervisor) sweepOnce(ctx context.Context) {
	for _, d := range s.registry.Enumerate(registry.Filter{Kind: models.KindRemoteServer}) {
		c := s.connectors.Get(d.RegistryID, d.Endpoint)
		if err := c.Probe(ctx); err != nil {
			s.logger.Debug("health sweep: provider degraded", "registry_id", d.RegistryID, "error", err)
		}
	}
}

// ExternalRegisterRequest describes an admin-triggered registration of a
// pre-running RemoteServer that the gateway did not itself spawn.
type ExternalRegisterRequest struct {
	RegistryID    string
	DisplayName   string
	Description   string
	Endpoint      string
	ConnectParams models.ConnectParams
	Tags          []string
}

// RegisterExternal probes the given endpoint and, if reachable, registers
// it as a RemoteServer and persists it so it resurrects on the next boot.
// This is the admin API's `/admin/mcp/register` flow; boot-time resurrection
// of a previously persisted external provider runs the same probe-then-
// register shape via resurrectExternal.
func (s *Supervisor) RegisterExternal(ctx context.Context, req ExternalRegisterRequest) (*models.ToolDescriptor, error) {
	if req.RegistryID == "" {
		return nil, fmt.Errorf("registry_id is required")
	}

	c := s.connectors.Get(req.RegistryID, req.Endpoint)
	if err := c.Probe(ctx); err != nil {
		return nil, fmt.Errorf("external provider unreachable: %w", err)
	}

	descriptor := &models.ToolDescriptor{
		RegistryID:    req.RegistryID,
		DisplayName:   req.DisplayName,
		Description:   req.Description,
		Kind:          models.KindRemoteServer,
		Endpoint:      req.Endpoint,
		ConnectParams: req.ConnectParams,
		Tags:          req.Tags,
		Provenance:    models.ProvenanceExternal,
		Enabled:       true,
	}
	if _, err := s.registry.Register(descriptor); err != nil {
		return nil, fmt.Errorf("register external provider: %w", err)
	}

	s.mu.Lock()
	s.manifest = upsertPersisted(s.manifest, req.RegistryID, models.PersistedProvider{
		RegistryIDHint: req.RegistryID,
		DisplayName:    req.DisplayName,
		Kind:           models.KindRemoteServer,
		Endpoint:       req.Endpoint,
		Provenance:     models.ProvenanceExternal,
	})
	manifest := s.manifest
	s.mu.Unlock()

	if err := s.store.Save(manifest); err != nil {
		s.logger.Warn("failed to persist manifest after external registration", "error", err)
	}

	return descriptor, nil
}

// SpawnRequest describes an admin-triggered spawn orchestration: install
// via C5, probe, register, persist.
type SpawnRequest struct {
	DisplayName string
	Config      procrunner.InstallConfig
}

// Spawn runs the admin API's "install a new provider" flow: C5 installs
// the process, the supervisor probes the resulting endpoint, registers it
// in C2, and persists it so it resurrects on the next boot.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (*models.ToolDescriptor, error) {
	if req.Config.RegistryIDHint == "" {
		req.Config.RegistryIDHint = uuid.NewString()
	}

	procHandle, endpoint, _, err := s.processes.Install(ctx, req.Config)
	if err != nil {
		return nil, fmt.Errorf("install provider: %w", err)
	}

	c := s.connectors.Get(req.Config.RegistryIDHint, endpoint)
	if err := c.Probe(ctx); err != nil {
		s.processes.Stop(procHandle)
		return nil, fmt.Errorf("spawned provider unreachable: %w", err)
	}

	descriptor := &models.ToolDescriptor{
		RegistryID:  req.Config.RegistryIDHint,
		DisplayName: req.DisplayName,
		Kind:        models.KindRemoteServer,
		Endpoint:    endpoint,
		Provenance:  models.ProvenanceSpawned,
		Enabled:     true,
	}
	if _, err := s.registry.Register(descriptor); err != nil {
		s.processes.Stop(procHandle)
		return nil, fmt.Errorf("register spawned provider: %w", err)
	}

	s.mu.Lock()
	s.processHandles[req.Config.RegistryIDHint] = procHandle
	s.manifest = upsertPersisted(s.manifest, req.Config.RegistryIDHint, models.PersistedProvider{
		RegistryIDHint: req.Config.RegistryIDHint,
		DisplayName:    req.DisplayName,
		Kind:           models.KindRemoteServer,
		Endpoint:       endpoint,
		Provenance:     models.ProvenanceSpawned,
		Command:        append([]string{req.Config.Command}, req.Config.Args...),
		WorkDir:        req.Config.WorkDir,
	})
	manifest := s.manifest
	s.mu.Unlock()

	if err := s.store.Save(manifest); err != nil {
		s.logger.Warn("failed to persist manifest after spawn", "error", err)
	}

	return descriptor, nil
}

// SearchInstall resolves a free-text query to an install config via the
// configured InstallAdvisor, then runs the same Spawn flow.
func (s *Supervisor) SearchInstall(ctx context.Context, query string) (*models.ToolDescriptor, error) {
	cfg, err := s.advisor.Advise(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("install advisor: %w", err)
	}
	return s.Spawn(ctx, SpawnRequest{DisplayName: query, Config: cfg})
}

// Unregister tears down a provider: registry, connector pool, process
// runner, and persisted manifest entry.
func (s *Supervisor) Unregister(ctx context.Context, registryID string) error {
	descriptor, ok := s.registry.Lookup(registryID)
	if !ok {
		return fmt.Errorf("registry_id %q not registered", registryID)
	}
	if _, err := s.registry.Unregister(registryID); err != nil {
		return err
	}
	if descriptor.Kind == models.KindRemoteServer {
		s.connectors.Remove(registryID)
	}

	s.mu.Lock()
	if procHandle, ok := s.processHandles[registryID]; ok {
		delete(s.processHandles, registryID)
		s.mu.Unlock()
		s.processes.Stop(procHandle)
		s.mu.Lock()
	}
	s.manifest = removePersisted(s.manifest, registryID)
	manifest := s.manifest
	s.mu.Unlock()

	return s.store.Save(manifest)
}

// Stop runs the shutdown sequence: stop the health sweep, drain the
// connector pool, clean up every spawned process, and flush persistence.
// Closing the admin/control-plane listeners themselves is the gateway
// aggregate's job, since the Supervisor does not own those listeners.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.sweepStopped.CompareAndSwap(false, true) {
		close(s.stopSweep)
	}

	if err := s.connectors.Stop(ctx); err != nil {
		s.logger.Warn("error draining connector pool", "error", err)
	}
	s.processes.CleanupAll()

	s.mu.Lock()
	manifest := s.manifest
	s.mu.Unlock()
	if err := s.store.Save(manifest); err != nil {
		s.logger.Warn("failed to flush manifest on shutdown", "error", err)
	}

	s.MarkStopped()
	return nil
}

// Health satisfies lifecycle.Component.
func (s *Supervisor) Health(ctx context.Context) lifecycle.ComponentHealth {
	return s.DefaultHealth()
}

// ProcessSnapshots returns a point-in-time view of every spawned provider
// process, used by the admin API's /status aggregation.
func (s *Supervisor) ProcessSnapshots() []models.ProviderProcess {
	return s.processes.Snapshot()
}
