// Package resultcache implements the Result Cache (C10): a process-local
// key/value cache with per-entry TTL, periodic sweep_expired, and
// Prometheus hit/miss/eviction counters.
package resultcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/toolgated/internal/lifecycle"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store persists cache contents across a restart. A nil Store leaves the
// cache purely in-memory (process-local), the default; a sqlite-backed
// implementation is the opt-in alternative selected by
// supervisor.storage=sqlite.
type Store[K comparable, V any] interface {
	LoadAll(ctx context.Context) (map[K]StoreRecord[V], error)
	Save(ctx context.Context, key K, value V, expiresAt time.Time) error
	Delete(ctx context.Context, key K) error
}

// StoreRecord is the persisted shape of one cache entry.
type StoreRecord[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Cache is a generic TTL cache: get/set/delete/clear/sweep_expired guarded
// by a single mutex, sized for modest read/write volume rather than
// high-throughput sharding.
type Cache[K comparable, V any] struct {
	*lifecycle.Base

	mu         sync.RWMutex
	entries    map[K]*entry[V]
	defaultTTL time.Duration
	store      Store[K, V]

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepStopped  atomic.Bool

	hits    prometheus.Counter
	misses  prometheus.Counter
	evicts  prometheus.Counter
}

// Config configures a Cache.
type Config struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	Registry      prometheus.Registerer // nil disables metrics registration
	Namespace     string                // metric name prefix, e.g. "toolgated"
}

// New creates an empty Cache and, if SweepInterval > 0, starts its
// background sweep_expired loop.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "toolgated"
	}

	c := &Cache[K, V]{
		Base:       lifecycle.NewBase("result-cache", nil),
		entries:    make(map[K]*entry[V]),
		defaultTTL: defaultTTL,
		stopSweep:  make(chan struct{}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_cache_hits_total",
			Help: "Result cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_cache_misses_total",
			Help: "Result cache misses.",
		}),
		evicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_cache_evictions_total",
			Help: "Result cache entries removed by sweep_expired.",
		}),
	}
	if cfg.Registry != nil {
		cfg.Registry.MustRegister(c.hits, c.misses, c.evicts)
	}

	if cfg.SweepInterval > 0 {
		c.sweepInterval = cfg.SweepInterval
		go c.sweepLoop()
	}

	return c
}

// WithStore attaches a persistence Store and replays its contents into the
// in-memory map, restoring cache state across a restart.
func (c *Cache[K, V]) WithStore(ctx context.Context, store Store[K, V]) error {
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()

	if store == nil {
		return nil
	}
	records, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	c.mu.Lock()
	for k, r := range records {
		if now.Before(r.ExpiresAt) {
			c.entries[k] = &entry[V]{value: r.Value, expiresAt: r.ExpiresAt}
		}
	}
	c.mu.Unlock()
	return nil
}

// Set stores value under key with the cache's default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with a custom TTL.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	expiresAt := time.Now().Add(ttl)
	c.mu.Lock()
	c.entries[key] = &entry[V]{value: value, expiresAt: expiresAt}
	store := c.store
	c.mu.Unlock()

	if store != nil {
		_ = store.Save(context.Background(), key, value, expiresAt)
	}
}

// Get returns the cached value for key, or the zero value and false if
// absent or expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Inc()
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.misses.Inc()
		c.Delete(key)
		var zero V
		return zero, false
	}
	c.hits.Inc()
	return e.value, true
}

// Delete removes key, if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	store := c.store
	c.mu.Unlock()

	if store != nil {
		_ = store.Delete(context.Background(), key)
	}
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]*entry[V])
	c.mu.Unlock()
}

// Len returns the number of entries currently stored, including any not
// yet swept that have expired.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SweepExpired removes every expired entry and returns how many were
// removed.
func (c *Cache[K, V]) SweepExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.evicts.Add(float64(removed))
	}
	return removed
}

func (c *Cache[K, V]) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.SweepExpired()
		case <-c.stopSweep:
			return
		}
	}
}

// Start satisfies lifecycle.Component.
func (c *Cache[K, V]) Start(ctx context.Context) error {
	c.MarkStarted()
	return nil
}

// Stop halts the background sweep loop.
func (c *Cache[K, V]) Stop(ctx context.Context) error {
	if c.sweepStopped.CompareAndSwap(false, true) {
		close(c.stopSweep)
	}
	c.MarkStopped()
	return nil
}

// Health satisfies lifecycle.Component.
func (c *Cache[K, V]) Health(ctx context.Context) lifecycle.ComponentHealth {
	h := c.DefaultHealth()
	if h.Details == nil {
		h.Details = map[string]string{}
	}
	return h
}
