// Package registry implements the Tool Registry (C2): the single
// authoritative map from registry_id to ToolDescriptor, with copy-on-write
// snapshot reads and ordered event emission to the Event Fan-Out (C9).
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/toolgated/internal/lifecycle"
	"github.com/haasonsaas/toolgated/pkg/models"
)

// Outcome is the result discriminant for register/unregister mutations.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeInvalid      Outcome = "invalid"
)

// Publisher delivers a committed RegistryEvent to the Event Fan-Out. The
// registry depends on this narrow seam, not on internal/eventbus directly,
// so it can be built and tested before C9 exists and swapped freely after.
type Publisher interface {
	Publish(models.RegistryEvent)
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(models.RegistryEvent)

func (f PublisherFunc) Publish(e models.RegistryEvent) { f(e) }

// noopPublisher discards events; used when a Registry is built without a
// bus wired in yet (e.g. in tests).
type noopPublisher struct{}

func (noopPublisher) Publish(models.RegistryEvent) {}

// Filter narrows Enumerate's results. A zero-value Filter matches every
// descriptor. Non-empty fields are ANDed together.
type Filter struct {
	Kind        models.Kind
	Tag         string
	EnabledOnly bool
	NamePattern string // glob-style, matched against RegistryID; "" matches all
}

// Registry is the exclusive owner of tool descriptor state.
//
// Mutation discipline: a single exclusive-writer lock (mu) serializes
// register/unregister/set_enabled. Reads (Lookup/Enumerate) take a
// consistent snapshot of the current map without blocking writers by
// swapping in a freshly copied map on every mutation (copy-on-write) and
// only ever reading the currently-published snapshot under a read lock
// that is held for the duration of the copy, not the whole read.
type Registry struct {
	*lifecycle.Base

	mu        sync.RWMutex
	snapshot  map[string]*models.ToolDescriptor // never mutated in place once published
	sequence  uint64
	publisher Publisher
}

// New creates an empty Registry. Pass nil for publisher to run without
// event emission (events are simply dropped).
func New(publisher Publisher) *Registry {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Registry{
		Base:      lifecycle.NewBase("tool-registry", nil),
		snapshot:  make(map[string]*models.ToolDescriptor),
		publisher: publisher,
	}
}

// SetPublisher rewires the event sink, e.g. once C9's real bus is
// constructed after the registry (breaking the construction-order cycle
// between the two).
func (r *Registry) SetPublisher(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == nil {
		p = noopPublisher{}
	}
	r.publisher = p
}

// Start satisfies lifecycle.Component; the registry has no background work
// of its own.
func (r *Registry) Start(ctx context.Context) error {
	r.MarkStarted()
	return nil
}

// Stop satisfies lifecycle.Component.
func (r *Registry) Stop(ctx context.Context) error {
	r.MarkStopped()
	return nil
}

// Health satisfies lifecycle.Component.
func (r *Registry) Health(ctx context.Context) lifecycle.ComponentHealth {
	h := r.DefaultHealth()
	r.mu.RLock()
	count := len(r.snapshot)
	r.mu.RUnlock()
	if h.Details == nil {
		h.Details = map[string]string{}
	}
	h.Details["tool_count"] = fmt.Sprintf("%d", count)
	return h
}

func validateDescriptor(d *models.ToolDescriptor) error {
	if d == nil {
		return fmt.Errorf("descriptor is nil")
	}
	if d.RegistryID == "" {
		return fmt.Errorf("registry_id is required")
	}
	switch d.Kind {
	case models.KindLocalFunction:
		if d.HandlerLocator == "" {
			return fmt.Errorf("local_function descriptor requires handler_locator")
		}
	case models.KindRemoteServer:
		if d.Endpoint == "" {
			return fmt.Errorf("remote_server descriptor requires endpoint")
		}
	default:
		return fmt.Errorf("unknown kind %q", d.Kind)
	}
	seen := make(map[string]bool, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if c.Name == "" {
			return fmt.Errorf("capability with empty name")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate capability name %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Register adds a new descriptor. Registering an id that already exists
// with an identical descriptor is a no-op (OutcomeOK); registering an id
// that already exists with a different descriptor replaces it atomically
// via the same path as Update and emits EventUpdated instead of EventAdded.
func (r *Registry) Register(d *models.ToolDescriptor) (Outcome, error) {
	if err := validateDescriptor(d); err != nil {
		return OutcomeInvalid, err
	}

	r.mu.Lock()
	current, exists := r.snapshot[d.RegistryID]
	if exists && current.Equal(d) {
		r.mu.Unlock()
		return OutcomeOK, nil
	}

	next := copyMap(r.snapshot)
	stored := d.Clone()
	next[d.RegistryID] = stored
	r.snapshot = next
	r.sequence++
	eventKind := models.EventAdded
	if exists {
		eventKind = models.EventUpdated
	}
	event := models.RegistryEvent{
		Kind:       eventKind,
		RegistryID: d.RegistryID,
		Descriptor: stored.Clone(),
		Sequence:   r.sequence,
	}
	r.publisher.Publish(event)
	r.mu.Unlock()

	return OutcomeOK, nil
}

// Update replaces an existing descriptor wholesale. Updating an id that
// does not exist returns OutcomeNotFound.
func (r *Registry) Update(d *models.ToolDescriptor) (Outcome, error) {
	if err := validateDescriptor(d); err != nil {
		return OutcomeInvalid, err
	}

	r.mu.Lock()
	if _, exists := r.snapshot[d.RegistryID]; !exists {
		r.mu.Unlock()
		return OutcomeNotFound, fmt.Errorf("registry_id %q not registered", d.RegistryID)
	}

	next := copyMap(r.snapshot)
	stored := d.Clone()
	next[d.RegistryID] = stored
	r.snapshot = next
	r.sequence++
	event := models.RegistryEvent{
		Kind:       models.EventUpdated,
		RegistryID: d.RegistryID,
		Descriptor: stored.Clone(),
		Sequence:   r.sequence,
	}
	r.publisher.Publish(event)
	r.mu.Unlock()

	return OutcomeOK, nil
}

// Unregister removes a descriptor. Unregistering an unknown id returns
// OutcomeNotFound.
func (r *Registry) Unregister(registryID string) (Outcome, error) {
	r.mu.Lock()
	if _, exists := r.snapshot[registryID]; !exists {
		r.mu.Unlock()
		return OutcomeNotFound, fmt.Errorf("registry_id %q not registered", registryID)
	}

	next := copyMap(r.snapshot)
	delete(next, registryID)
	r.snapshot = next
	r.sequence++
	event := models.RegistryEvent{
		Kind:       models.EventRemoved,
		RegistryID: registryID,
		Sequence:   r.sequence,
	}
	r.publisher.Publish(event)
	r.mu.Unlock()

	return OutcomeOK, nil
}

// SetEnabled flips a descriptor's Enabled flag without touching anything
// else, emitting an Updated event like any other mutation.
func (r *Registry) SetEnabled(registryID string, enabled bool) (Outcome, error) {
	r.mu.Lock()
	current, exists := r.snapshot[registryID]
	if !exists {
		r.mu.Unlock()
		return OutcomeNotFound, fmt.Errorf("registry_id %q not registered", registryID)
	}
	if current.Enabled == enabled {
		r.mu.Unlock()
		return OutcomeOK, nil
	}

	updated := current.Clone()
	updated.Enabled = enabled
	next := copyMap(r.snapshot)
	next[registryID] = updated
	r.snapshot = next
	r.sequence++
	event := models.RegistryEvent{
		Kind:       models.EventUpdated,
		RegistryID: registryID,
		Descriptor: updated.Clone(),
		Sequence:   r.sequence,
	}
	r.publisher.Publish(event)
	r.mu.Unlock()

	return OutcomeOK, nil
}

// Lookup returns a cloned snapshot of one descriptor. The returned pointer
// is never aliased with registry-owned state, so callers may hold and read
// it indefinitely without racing future mutations.
func (r *Registry) Lookup(registryID string) (*models.ToolDescriptor, bool) {
	r.mu.RLock()
	d, ok := r.snapshot[registryID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Enumerate returns every descriptor matching filter, sorted by RegistryID
// for deterministic output.
func (r *Registry) Enumerate(filter Filter) []*models.ToolDescriptor {
	r.mu.RLock()
	all := make([]*models.ToolDescriptor, 0, len(r.snapshot))
	for _, d := range r.snapshot {
		all = append(all, d)
	}
	r.mu.RUnlock()

	out := make([]*models.ToolDescriptor, 0, len(all))
	for _, d := range all {
		if !matches(d, filter) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegistryID < out[j].RegistryID })
	return out
}

func matches(d *models.ToolDescriptor, f Filter) bool {
	if f.Kind != "" && d.Kind != f.Kind {
		return false
	}
	if f.Tag != "" && !d.HasTag(f.Tag) {
		return false
	}
	if f.EnabledOnly && !d.Enabled {
		return false
	}
	if f.NamePattern != "" && f.NamePattern != "*" && !globMatch(f.NamePattern, d.RegistryID) {
		return false
	}
	return true
}

// globMatch supports a single trailing "*" wildcard, matching the
// namespace-prefix filters used by the admin API's tool listing.
func globMatch(pattern, s string) bool {
	if pattern == s {
		return true
	}
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(s) >= len(prefix) && s[:len(prefix)] == prefix
	}
	return false
}

// Count returns the number of registered descriptors, used by the admin
// API's /status summary without materializing a full Enumerate.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snapshot)
}

func copyMap(m map[string]*models.ToolDescriptor) map[string]*models.ToolDescriptor {
	next := make(map[string]*models.ToolDescriptor, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}
