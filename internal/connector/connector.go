// Package connector implements the Connector Pool (C3): one long-lived,
// lazily-connected peer per RemoteServer provider, serializing calls
// through a per-connector mutex and demultiplexing replies by correlation
// ID over a shared WebSocket framed-JSON wire protocol.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/toolgated/internal/lifecycle"
	"github.com/haasonsaas/toolgated/pkg/models"
)

// Frame is the envelope exchanged on the wire: an Invocation request out,
// an InvocationResult reply in, both carrying the correlation_id used to
// demultiplex concurrent-looking-but-serialized calls and to detect
// protocol drift even though at most one request is outstanding at a time.
type Frame struct {
	CorrelationID string                `json:"correlation_id"`
	RegistryID    string                `json:"registry_id,omitempty"`
	Action        string                `json:"action,omitempty"`
	Parameters    map[string]any        `json:"parameters,omitempty"`
	Result        *models.InvocationResult `json:"result,omitempty"`
}

// state is a connector's internal connectivity state, distinct from
// lifecycle.State: a connector can be "running" (per the pool's lifecycle)
// while individually degraded or disconnected between calls.
type state int

const (
	stateDisconnected state = iota
	stateConnected
	stateDegraded
	stateClosed
)

// Dialer opens the underlying transport to a provider endpoint. The
// default implementation dials a WebSocket; tests substitute an in-memory
// fake.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is the minimal framed-message transport a Connector needs.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// wsConn adapts *websocket.Conn to Conn.
type wsConn struct{ c *websocket.Conn }

func (w wsConn) WriteJSON(v any) error { return w.c.WriteJSON(v) }
func (w wsConn) ReadJSON(v any) error  { return w.c.ReadJSON(v) }
func (w wsConn) Close() error          { return w.c.Close() }

// WebSocketDialer is the default Dialer, shared with C7's outbound
// execute_tool path so "gateway calls out" and "provider calls in" speak
// the identical framed-JSON shape.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	c, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return wsConn{c}, nil
}

// Connector is one provider's logical connection: lazy-connected,
// single-flight (one outstanding request at a time), reconnect-once on
// failure.
type Connector struct {
	registryID string
	endpoint   string
	timeout    time.Duration
	dialer     Dialer

	mu    sync.Mutex // serializes calls; held for the duration of a call
	conn  Conn
	state state
}

// Config configures a single Connector.
type Config struct {
	RegistryID string
	Endpoint   string
	Timeout    time.Duration // default 120s per the default dispatch timeout
	Dialer     Dialer
}

// New creates a Connector in the disconnected state; it does not dial
// until the first Call or Probe.
func New(cfg Config) *Connector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	return &Connector{
		registryID: cfg.RegistryID,
		endpoint:   cfg.Endpoint,
		timeout:    timeout,
		dialer:     dialer,
	}
}

func (c *Connector) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, err := c.dialer.Dial(ctx, c.endpoint)
	if err != nil {
		c.state = stateDegraded
		return err
	}
	c.conn = conn
	c.state = stateConnected
	return nil
}

func (c *Connector) teardownLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Call performs one request/response exchange against the provider: lazy
// connect, serialize, correlate, bound by timeout, reconnect-once on a
// transport error before surfacing ProviderUnavailable.
func (c *Connector) Call(ctx context.Context, action string, parameters map[string]any) models.InvocationResult {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return models.Fail(models.ErrorDisabled, "connector closed", start)
	}

	result, err := c.attemptLocked(ctx, action, parameters, start)
	if err == nil {
		return result
	}

	// Reconnect once before surfacing ProviderUnavailable.
	c.teardownLocked()
	result, err = c.attemptLocked(ctx, action, parameters, start)
	if err != nil {
		c.state = stateDegraded
		return models.Fail(models.ErrorProviderUnavailable, err.Error(), start)
	}
	return result
}

func (c *Connector) attemptLocked(ctx context.Context, action string, parameters map[string]any, start time.Time) (models.InvocationResult, error) {
	if err := c.connectLocked(ctx); err != nil {
		return models.InvocationResult{}, err
	}

	correlationID := uuid.NewString()
	request := Frame{
		CorrelationID: correlationID,
		RegistryID:    c.registryID,
		Action:        action,
		Parameters:    parameters,
	}
	if err := c.conn.WriteJSON(request); err != nil {
		c.teardownLocked()
		return models.InvocationResult{}, fmt.Errorf("write request: %w", err)
	}

	type readOutcome struct {
		frame Frame
		err   error
	}
	replies := make(chan readOutcome, 1)
	go func() {
		var f Frame
		err := c.conn.ReadJSON(&f)
		replies <- readOutcome{frame: f, err: err}
	}()

	select {
	case outcome := <-replies:
		if outcome.err != nil {
			c.teardownLocked()
			return models.InvocationResult{}, fmt.Errorf("read reply: %w", outcome.err)
		}
		if outcome.frame.CorrelationID != correlationID {
			c.teardownLocked()
			return models.InvocationResult{}, fmt.Errorf("correlation mismatch: sent %s got %s", correlationID, outcome.frame.CorrelationID)
		}
		if outcome.frame.Result == nil {
			return models.Fail(models.ErrorProviderError, "provider sent empty result", start), nil
		}
		return *outcome.frame.Result, nil

	case <-time.After(c.timeout):
		// Tear down rather than leaving c.conn in place: the reader goroutine
		// above is still blocked in ReadJSON on this same *websocket.Conn, and
		// gorilla/websocket does not support concurrent readers, so the very
		// next Call must dial fresh rather than reuse this connection.
		// Closing the conn here also unblocks that leaked ReadJSON.
		c.teardownLocked()
		c.state = stateDegraded
		return models.Fail(models.ErrorTimeout, fmt.Sprintf("no reply within %s", c.timeout), start), nil

	case <-ctx.Done():
		return models.InvocationResult{}, ctx.Err()
	}
}

// Probe performs a cheap liveness check: lazy-connect if needed and report
// whether the underlying connection is established. Some providers do not
// implement an application-level ping, so "connection established but
// silent" counts as reachable.
func (c *Connector) Probe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return fmt.Errorf("connector closed")
	}
	return c.connectLocked(ctx)
}

// Close stops accepting new calls and releases the underlying connection.
// Any call already in flight observes its own timeout/read-error path;
// Close does not forcibly cancel an in-progress Call, but no further Call
// after Close will attempt to connect.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.state = stateClosed
}

// Pool owns one Connector per RemoteServer registry_id, created lazily on
// first use and torn down when the owning descriptor is unregistered.
type Pool struct {
	*lifecycle.Base

	mu         sync.Mutex
	connectors map[string]*Connector
	dialer     Dialer
	timeout    time.Duration
}

// NewPool creates an empty Pool. dialer may be nil to use the default
// WebSocket dialer.
func NewPool(dialer Dialer, timeout time.Duration) *Pool {
	return &Pool{
		Base:       lifecycle.NewBase("connector-pool", nil),
		connectors: make(map[string]*Connector),
		dialer:     dialer,
		timeout:    timeout,
	}
}

// Get returns the Connector for registryID, creating it (but not dialing
// it) on first access.
func (p *Pool) Get(registryID, endpoint string) *Connector {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.connectors[registryID]; ok {
		return c
	}
	c := New(Config{RegistryID: registryID, Endpoint: endpoint, Timeout: p.timeout, Dialer: p.dialer})
	p.connectors[registryID] = c
	return c
}

// Remove closes and discards the Connector for registryID, if any. Called
// when the owning descriptor is unregistered (invariant: every RemoteServer
// descriptor has exactly one Connector Pool entry; unregistering tears it
// down).
func (p *Pool) Remove(registryID string) {
	p.mu.Lock()
	c, ok := p.connectors[registryID]
	delete(p.connectors, registryID)
	p.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Start satisfies lifecycle.Component.
func (p *Pool) Start(ctx context.Context) error {
	p.MarkStarted()
	return nil
}

// Stop drains the pool: every Connector is closed so no further call
// attempts a new connection.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	connectors := make([]*Connector, 0, len(p.connectors))
	for _, c := range p.connectors {
		connectors = append(connectors, c)
	}
	p.connectors = make(map[string]*Connector)
	p.mu.Unlock()

	for _, c := range connectors {
		c.Close()
	}
	p.MarkStopped()
	return nil
}

// Health satisfies lifecycle.Component.
func (p *Pool) Health(ctx context.Context) lifecycle.ComponentHealth {
	h := p.DefaultHealth()
	p.mu.Lock()
	count := len(p.connectors)
	p.mu.Unlock()
	if h.Details == nil {
		h.Details = map[string]string{}
	}
	h.Details["connector_count"] = fmt.Sprintf("%d", count)
	return h
}
