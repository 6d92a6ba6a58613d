package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/toolgated/pkg/models"
)

// fakeConn is an in-memory Conn that echoes back a canned result for the
// correlation ID it last received, so tests exercise the Connector's
// serialization/correlation logic without a real socket.
type fakeConn struct {
	writeErr error
	readErr  error
	closed   bool
	lastID   string
}

func (f *fakeConn) WriteJSON(v any) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	raw, _ := json.Marshal(v)
	var frame Frame
	_ = json.Unmarshal(raw, &frame)
	f.lastID = frame.CorrelationID
	return nil
}

func (f *fakeConn) ReadJSON(v any) error {
	if f.readErr != nil {
		return f.readErr
	}
	frame, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("unexpected target type")
	}
	frame.CorrelationID = f.lastID
	result := models.Ok(map[string]any{"ok": true}, time.Now())
	frame.Result = &result
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type fakeDialer struct {
	conn *fakeConn
	err  error
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// blockingConn never replies: ReadJSON blocks until Close unblocks it,
// simulating a provider that accepted the request but never answers.
type blockingConn struct {
	done   chan struct{}
	closed bool
}

func newBlockingConn() *blockingConn { return &blockingConn{done: make(chan struct{})} }

func (b *blockingConn) WriteJSON(v any) error { return nil }

func (b *blockingConn) ReadJSON(v any) error {
	<-b.done
	return fmt.Errorf("connection closed")
}

func (b *blockingConn) Close() error {
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

// sequenceDialer hands out conns[0], conns[1], ... on successive dials, so
// a test can observe which connection a reconnect actually used.
type sequenceDialer struct {
	conns []Conn
	dials int
}

func (d *sequenceDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}

func TestConnectorLazyConnect(t *testing.T) {
	dialer := &fakeDialer{conn: &fakeConn{}}
	c := New(Config{RegistryID: "remote-one", Endpoint: "ws://example/invalid", Timeout: time.Second, Dialer: dialer})
	require.Equal(t, 0, dialer.dials, "must not dial before the first call")

	result := c.Call(context.Background(), "run", map[string]any{"x": 1})
	require.True(t, result.Success)
	require.Equal(t, 1, dialer.dials)
}

func TestConnectorReconnectsOnceThenProviderUnavailable(t *testing.T) {
	dialer := &fakeDialer{err: fmt.Errorf("connection refused")}
	c := New(Config{RegistryID: "remote-one", Endpoint: "ws://example/invalid", Timeout: time.Second, Dialer: dialer})

	result := c.Call(context.Background(), "run", nil)
	require.False(t, result.Success)
	require.Equal(t, "ProviderUnavailable", string(result.ErrorKind))
	require.Equal(t, 2, dialer.dials, "must attempt connect, fail, then retry once before surfacing ProviderUnavailable")
}

func TestConnectorCloseRejectsFurtherCalls(t *testing.T) {
	dialer := &fakeDialer{conn: &fakeConn{}}
	c := New(Config{RegistryID: "remote-one", Endpoint: "ws://example", Timeout: time.Second, Dialer: dialer})
	c.Close()

	result := c.Call(context.Background(), "run", nil)
	require.False(t, result.Success)
	require.Equal(t, "Disabled", string(result.ErrorKind))
}

func TestConnectorTimeoutTearsDownStaleConnectionForFreshReconnect(t *testing.T) {
	blocking := newBlockingConn()
	fresh := &fakeConn{}
	dialer := &sequenceDialer{conns: []Conn{blocking, fresh}}
	c := New(Config{RegistryID: "remote-one", Endpoint: "ws://example", Timeout: 20 * time.Millisecond, Dialer: dialer})

	result := c.Call(context.Background(), "run", nil)
	require.False(t, result.Success)
	require.Equal(t, "Timeout", string(result.ErrorKind))
	require.True(t, blocking.closed, "a timeout must tear down the stale connection, not just mark the connector degraded")
	require.Equal(t, 1, dialer.dials)

	result = c.Call(context.Background(), "run", nil)
	require.True(t, result.Success, "the next call must dial a fresh connection instead of reusing the torn-down one")
	require.Equal(t, 2, dialer.dials)
}

func TestPoolGetIsIdempotentPerRegistryID(t *testing.T) {
	pool := NewPool(&fakeDialer{conn: &fakeConn{}}, time.Second)
	a := pool.Get("remote-one", "ws://example")
	b := pool.Get("remote-one", "ws://example")
	require.Same(t, a, b)
}

func TestPoolRemoveClosesConnector(t *testing.T) {
	fc := &fakeConn{}
	pool := NewPool(&fakeDialer{conn: fc}, time.Second)
	c := pool.Get("remote-one", "ws://example")
	_ = c.Call(context.Background(), "run", nil) // force a connect so Close has something to tear down
	pool.Remove("remote-one")
	require.True(t, fc.closed)
}
