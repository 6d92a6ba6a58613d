package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/toolgated/internal/config"
	"github.com/haasonsaas/toolgated/internal/connector"
	"github.com/haasonsaas/toolgated/internal/registry"
	"github.com/haasonsaas/toolgated/internal/supervisor"
	"github.com/haasonsaas/toolgated/pkg/models"
)

type fakeConn struct{}

func (fakeConn) WriteJSON(v any) error { return nil }
func (fakeConn) ReadJSON(v any) error  { return nil }
func (fakeConn) Close() error          { return nil }

type stubDialer struct{ err bool }

func (d stubDialer) Dial(ctx context.Context, endpoint string) (connector.Conn, error) {
	if d.err {
		return nil, fmt.Errorf("connection refused")
	}
	return fakeConn{}, nil
}

func testConfig(t *testing.T, wsPort, httpPort, grpcPort int) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.WSPort = wsPort
	cfg.Server.HTTPPort = httpPort
	cfg.Server.GRPCPort = grpcPort
	cfg.Auth.Mode = "none"
	cfg.Supervisor.ManifestPath = filepath.Join(t.TempDir(), "manifest.yaml")
	cfg.Supervisor.HealthSweepInterval = time.Hour
	cfg.Identity.Aliases = map[string]string{"sandbox": "echo"}
	return cfg
}

func echoHandlers() Handlers {
	return Handlers{
		"echo": func(ctx context.Context, action string, parameters map[string]any) models.InvocationResult {
			return models.Ok(map[string]any{"echoed": parameters["text"]}, time.Now())
		},
	}
}

func TestGatewayStartStopLifecycle(t *testing.T) {
	cfg := testConfig(t, 29765, 29080, 29766)
	gw, err := New(cfg, nil, Options{Handlers: echoHandlers(), Dialer: stubDialer{}})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gw.Start(ctx))
	defer func() { require.NoError(t, gw.Stop(ctx)) }()

	health := gw.Health(ctx)
	require.Contains(t, health, "tool-registry")
	require.Contains(t, health, "admin-api")
	require.Contains(t, health, "control-plane")
}

func TestGatewayRegisterThenInvokeLocal(t *testing.T) {
	cfg := testConfig(t, 29767, 29081, 29768)
	gw, err := New(cfg, nil, Options{Handlers: echoHandlers(), Dialer: stubDialer{}})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gw.Start(ctx))
	defer func() { require.NoError(t, gw.Stop(ctx)) }()

	outcome, err := gw.Registry.Register(&models.ToolDescriptor{
		RegistryID:     "echo",
		Kind:           models.KindLocalFunction,
		HandlerLocator: "echo",
		Enabled:        true,
		Capabilities: []models.Capability{{
			Name:       "run",
			Parameters: map[string]models.ParamSchema{"text": {Type: "string", Required: true}},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, registry.OutcomeOK, outcome)

	result := gw.Dispatcher.Dispatch(ctx, "echo", "run", map[string]any{"text": "hello"})
	require.True(t, result.Success)
	require.Equal(t, "hello", result.Data.(map[string]any)["echoed"])

	result = gw.Dispatcher.Dispatch(ctx, "echo", "run", map[string]any{})
	require.False(t, result.Success)
	require.Equal(t, models.ErrorInvalidArgument, result.ErrorKind)
}

func TestGatewayAliasResolution(t *testing.T) {
	cfg := testConfig(t, 29769, 29082, 29770)
	gw, err := New(cfg, nil, Options{Handlers: echoHandlers(), Dialer: stubDialer{}})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gw.Start(ctx))
	defer func() { require.NoError(t, gw.Stop(ctx)) }()

	_, err = gw.Registry.Register(&models.ToolDescriptor{
		RegistryID:     "echo",
		Kind:           models.KindLocalFunction,
		HandlerLocator: "echo",
		Enabled:        true,
		Capabilities:   []models.Capability{{Name: "run"}},
	})
	require.NoError(t, err)

	registryID, ok := gw.Resolver.Resolve("sandbox")
	require.True(t, ok)
	require.Equal(t, "echo", registryID)
}

func TestGatewayAdminHealthServesOverHTTP(t *testing.T) {
	cfg := testConfig(t, 29771, 29083, 29772)
	gw, err := New(cfg, nil, Options{Handlers: echoHandlers(), Dialer: stubDialer{}})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gw.Start(ctx))
	defer func() { require.NoError(t, gw.Stop(ctx)) }()

	var resp *http.Response
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://127.0.0.1:29083/health")
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGatewayRejectsEmptyAliasTableEntries(t *testing.T) {
	cfg := testConfig(t, 29773, 29084, 29774)
	cfg.Identity.Aliases = map[string]string{"": "echo", "valid": ""}
	gw, err := New(cfg, nil, Options{Handlers: echoHandlers(), Dialer: stubDialer{}})
	require.NoError(t, err)

	_, ok := gw.Resolver.Resolve("valid")
	require.False(t, ok)
}

// fakeProvider is a real WebSocket peer speaking the connector package's
// Frame wire format: it answers every request after a fixed delay and
// records each request's arrival order, so tests can observe per-connector
// FIFO ordering end to end rather than only at the in-memory fake used
// elsewhere in this file.
type fakeProvider struct {
	srv      *httptest.Server
	delay    time.Duration
	mu       sync.Mutex
	arrivals []string
}

func newFakeProvider(t *testing.T, delay time.Duration) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{delay: delay}
	upgrader := websocket.Upgrader{}
	fp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame connector.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			fp.mu.Lock()
			fp.arrivals = append(fp.arrivals, frame.Action)
			fp.mu.Unlock()
			time.Sleep(fp.delay)
			result := models.Ok(map[string]any{"ok": true}, time.Now())
			_ = conn.WriteJSON(connector.Frame{CorrelationID: frame.CorrelationID, Result: &result})
		}
	}))
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProvider) wsURL() string {
	return "ws" + strings.TrimPrefix(fp.srv.URL, "http")
}

func (fp *fakeProvider) seenOrder() []string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	out := make([]string, len(fp.arrivals))
	copy(out, fp.arrivals)
	return out
}

// S3: remote forwarding over a real WebSocket round trip, with two
// concurrent invocations against the same provider arriving at the
// provider in submission order (per-connector FIFO, enforced by the
// Connector's call mutex).
func TestGatewayRemoteForwardingPreservesPerConnectorOrder(t *testing.T) {
	provider := newFakeProvider(t, 50*time.Millisecond)

	cfg := testConfig(t, 29775, 29085, 29776)
	gw, err := New(cfg, nil, Options{Handlers: echoHandlers()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gw.Start(ctx))
	defer func() { require.NoError(t, gw.Stop(ctx)) }()

	_, err = gw.Registry.Register(&models.ToolDescriptor{
		RegistryID: "browser",
		Kind:       models.KindRemoteServer,
		Endpoint:   provider.wsURL(),
		Enabled:    true,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result := gw.Dispatcher.Dispatch(ctx, "browser", "first", nil)
		require.True(t, result.Success)
	}()
	time.Sleep(10 * time.Millisecond) // let "first" acquire the connector before "second" is submitted
	go func() {
		defer wg.Done()
		result := gw.Dispatcher.Dispatch(ctx, "browser", "second", nil)
		require.True(t, result.Success)
	}()
	wg.Wait()

	require.Equal(t, []string{"first", "second"}, provider.seenOrder())
}

// S4: a RemoteServer endpoint pointing nowhere fails to connect, retries
// once, and surfaces ProviderUnavailable rather than hanging.
func TestGatewayProviderDownSurfacesProviderUnavailable(t *testing.T) {
	cfg := testConfig(t, 29777, 29086, 29778)
	gw, err := New(cfg, nil, Options{Handlers: echoHandlers(), Dialer: stubDialer{err: true}})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gw.Start(ctx))
	defer func() { require.NoError(t, gw.Stop(ctx)) }()

	_, err = gw.Registry.Register(&models.ToolDescriptor{
		RegistryID: "unreachable",
		Kind:       models.KindRemoteServer,
		Endpoint:   "ws://127.0.0.1:1/nowhere",
		Enabled:    true,
	})
	require.NoError(t, err)

	result := gw.Dispatcher.Dispatch(ctx, "unreachable", "run", nil)
	require.False(t, result.Success)
	require.Equal(t, models.ErrorProviderUnavailable, result.ErrorKind)
}

// S6: a manifest persisted with one external provider resurrects that
// provider on the next boot, re-registering it and leaving the manifest
// entry in place across the restart.
func TestGatewayPersistedProviderResurrectsAcrossRestart(t *testing.T) {
	provider := newFakeProvider(t, time.Millisecond)
	manifestPath := filepath.Join(t.TempDir(), "manifest.yaml")

	cfg := testConfig(t, 29779, 29087, 29780)
	cfg.Supervisor.ManifestPath = manifestPath
	gw, err := New(cfg, nil, Options{Handlers: echoHandlers()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gw.Start(ctx))

	descriptor, err := gw.Supervisor.RegisterExternal(ctx, supervisor.ExternalRegisterRequest{
		RegistryID: "persisted-browser",
		Endpoint:   provider.wsURL(),
	})
	require.NoError(t, err)
	require.Equal(t, "persisted-browser", descriptor.RegistryID)
	require.NoError(t, gw.Stop(ctx))

	gw2, err := New(cfg, nil, Options{Handlers: echoHandlers()})
	require.NoError(t, err)
	require.NoError(t, gw2.Start(ctx))
	defer func() { require.NoError(t, gw2.Stop(ctx)) }()

	resurrected, ok := gw2.Registry.Lookup("persisted-browser")
	require.True(t, ok)
	require.Equal(t, provider.wsURL(), resurrected.Endpoint)
}
