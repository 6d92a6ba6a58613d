// Package eventbus implements the Event Fan-Out (C9): a per-process
// multiplexer that turns Tool Registry change events into a broadcast
// across every connected fan-out subscriber, plus a best-effort publish
// onto a shared external bus channel.
package eventbus

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/haasonsaas/toolgated/internal/lifecycle"
	"github.com/haasonsaas/toolgated/pkg/models"
)

// defaultSubscriberBuffer bounds each subscriber's outgoing queue; a
// subscriber that falls this far behind is treated as slow and dropped
// rather than allowed to stall the others.
const defaultSubscriberBuffer = 256

// BusPublisher is the external "opaque event bus" seam (key: tool_events).
// Publication through it is always best-effort: the registry's truth is
// local, the bus is a convenience. A nil BusPublisher just skips that leg.
type BusPublisher interface {
	Publish(ctx context.Context, channel string, event models.BusEvent) error
}

// subscriber is one connected fan-out consumer's mailbox.
type subscriber struct {
	id string
	ch chan models.RegistryEvent
}

// Bus is the default in-memory, non-blocking-publish implementation of
// C9's EventBus seam, in the style of the shared-context broadcaster this
// package is grounded on: one slot per subscriber, latest-effort delivery,
// no subscriber allowed to block the others.
type Bus struct {
	*lifecycle.Base

	mu          sync.Mutex
	subscribers map[string]*subscriber
	nextID      uint64

	busPublisher BusPublisher
	busChannel   string
	logger       *slog.Logger
}

// Config configures a Bus.
type Config struct {
	BusPublisher BusPublisher // nil disables the external-bus leg entirely
	BusChannel   string       // defaults to "tool_events"
	Logger       *slog.Logger
}

// New creates an empty Bus with no subscribers.
func New(cfg Config) *Bus {
	channel := cfg.BusChannel
	if channel == "" {
		channel = "tool_events"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		Base:         lifecycle.NewBase("event-bus", logger),
		subscribers:  make(map[string]*subscriber),
		busPublisher: cfg.BusPublisher,
		busChannel:   channel,
		logger:       logger,
	}
}

// Start satisfies lifecycle.Component.
func (b *Bus) Start(ctx context.Context) error {
	b.MarkStarted()
	return nil
}

// Stop closes every subscriber channel so fan-out readers observe a clean
// shutdown instead of hanging forever.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	for id, s := range b.subscribers {
		close(s.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	b.MarkStopped()
	return nil
}

// Health satisfies lifecycle.Component.
func (b *Bus) Health(ctx context.Context) lifecycle.ComponentHealth {
	h := b.DefaultHealth()
	b.mu.Lock()
	count := len(b.subscribers)
	b.mu.Unlock()
	if h.Details == nil {
		h.Details = map[string]string{}
	}
	h.Details["subscriber_count"] = strconv.Itoa(count)
	return h
}

// Subscribe registers a new fan-out consumer and returns its receive-only
// channel plus an unsubscribe function. Each subscriber gets its own
// buffered channel, so one consumer's pace never affects another's.
func (b *Bus) Subscribe() (<-chan models.RegistryEvent, func()) {
	b.mu.Lock()
	b.nextID++
	id := strconv.FormatUint(b.nextID, 10)
	s := &subscriber{id: id, ch: make(chan models.RegistryEvent, defaultSubscriberBuffer)}
	b.subscribers[id] = s
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			close(existing.ch)
			delete(b.subscribers, id)
		}
		b.mu.Unlock()
	}
	return s.ch, unsubscribe
}

// Publish delivers e to every connected subscriber (FIFO per subscriber,
// never blocking on a slow one) and best-effort publishes the mapped
// BusEvent onto the external bus. Implements the registry.Publisher seam,
// so a *Bus can be handed directly to registry.New.
func (b *Bus) Publish(e models.RegistryEvent) {
	b.mu.Lock()
	slow := make([]string, 0)
	for id, s := range b.subscribers {
		select {
		case s.ch <- e:
		default:
			// Full buffer: this subscriber is slow. Disconnect it rather
			// than block delivery to everyone else.
			close(s.ch)
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if b.busPublisher != nil {
		if err := b.busPublisher.Publish(context.Background(), b.busChannel, models.ToBusEvent(e)); err != nil {
			b.logger.Warn("bus publish failed, local broadcast still delivered", "error", err, "registry_id", e.RegistryID)
		}
	}
}
