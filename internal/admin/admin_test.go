package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/toolgated/internal/auth"
	"github.com/haasonsaas/toolgated/internal/connector"
	"github.com/haasonsaas/toolgated/internal/dispatch"
	"github.com/haasonsaas/toolgated/internal/eventbus"
	"github.com/haasonsaas/toolgated/internal/identity"
	"github.com/haasonsaas/toolgated/internal/procrunner"
	"github.com/haasonsaas/toolgated/internal/registry"
	"github.com/haasonsaas/toolgated/internal/supervisor"
	"github.com/haasonsaas/toolgated/pkg/models"
)

type fakeConn struct{}

func (fakeConn) WriteJSON(v any) error { return nil }
func (fakeConn) ReadJSON(v any) error  { return nil }
func (fakeConn) Close() error          { return nil }

type stubDialer struct{ fail bool }

func (d *stubDialer) Dial(ctx context.Context, endpoint string) (connector.Conn, error) {
	if d.fail {
		return nil, context.DeadlineExceeded
	}
	return fakeConn{}, nil
}

func newTestFixture(t *testing.T, authSvc *auth.Service) (*Server, *registry.Registry, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(eventbus.Config{})
	reg := registry.New(bus)
	resolver := identity.New(reg.Lookup)
	d := dispatch.New(dispatch.Config{
		Validator: resolver,
		Locator:   reg,
		Handlers: dispatch.MapHandlerTable{
			"echo": func(ctx context.Context, action string, parameters map[string]any) models.InvocationResult {
				return models.Ok(parameters, time.Now())
			},
		},
	})
	pool := connector.NewPool(&stubDialer{}, time.Second)
	procs := procrunner.New(procrunner.Config{PortRangeStart: 21900, PortRangeEnd: 22000, MaxRestarts: 3, RestartWindow: time.Minute, RingBufferKB: 8})
	sup := supervisor.New(supervisor.Config{
		Registry:            reg,
		Connectors:          pool,
		Processes:           procs,
		HealthSweepInterval: time.Hour,
	})

	srv := New(Config{
		Registry:        reg,
		Dispatcher:      d,
		Supervisor:      sup,
		Bus:             bus,
		Auth:            authSvc,
		MetricsGatherer: prometheus.NewRegistry(),
	})
	return srv, reg, bus
}

func registerEcho(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	outcome, err := reg.Register(&models.ToolDescriptor{
		RegistryID:     id,
		Kind:           models.KindLocalFunction,
		HandlerLocator: "echo",
		Enabled:        true,
		Capabilities:   []models.Capability{{Name: "run"}},
	})
	require.NoError(t, err)
	require.Equal(t, registry.OutcomeOK, outcome)
}

func TestHealthRunsWithoutAuth(t *testing.T) {
	authSvc := auth.NewService(auth.Config{JWTSecret: "secret"})
	srv, _, _ := newTestFixture(t, authSvc)
	mux := srv.buildMux(prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRunsWithoutAuth(t *testing.T) {
	authSvc := auth.NewService(auth.Config{JWTSecret: "secret"})
	srv, _, _ := newTestFixture(t, authSvc)
	mux := srv.buildMux(prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	authSvc := auth.NewService(auth.Config{JWTSecret: "secret"})
	srv, _, _ := newTestFixture(t, authSvc)
	mux := srv.buildMux(prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterListGetDeleteToolRoundTrip(t *testing.T) {
	srv, _, _ := newTestFixture(t, nil)
	mux := srv.buildMux(prometheus.NewRegistry())

	body := `{"tool_id":"fn.echo","name":"Echo","capabilities":[{"name":"run"}]}`
	req := httptest.NewRequest(http.MethodPost, "/admin/tools/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/tools", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		TotalCount int `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Equal(t, 1, listResp.TotalCount)

	req = httptest.NewRequest(http.MethodGet, "/tools/fn.echo", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/tools/fn.echo", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/tools/fn.echo", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUnknownToolReturnsNotFound(t *testing.T) {
	srv, _, _ := newTestFixture(t, nil)
	mux := srv.buildMux(prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/tools/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteDispatchesThroughDispatcher(t *testing.T) {
	srv, reg, _ := newTestFixture(t, nil)
	registerEcho(t, reg, "fn.echo")
	mux := srv.buildMux(prometheus.NewRegistry())

	body := `{"tool_id":"fn.echo","action":"run","parameters":{"x":1}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tools/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Success)
}

func TestExecuteUnknownToolReturnsNotFoundStatus(t *testing.T) {
	srv, _, _ := newTestFixture(t, nil)
	mux := srv.buildMux(prometheus.NewRegistry())

	body := `{"tool_id":"nope","action":"run"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tools/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterMCPProbesAndRegisters(t *testing.T) {
	srv, reg, _ := newTestFixture(t, nil)
	mux := srv.buildMux(prometheus.NewRegistry())

	body := `{"tool_id":"mcp.search","name":"Search","endpoint":"ws://example/search"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/mcp/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	d, ok := reg.Lookup("mcp.search")
	require.True(t, ok)
	require.Equal(t, models.KindRemoteServer, d.Kind)
}

func TestStatusAggregatesRegistryAndDispatchCounters(t *testing.T) {
	srv, reg, _ := newTestFixture(t, nil)
	registerEcho(t, reg, "fn.echo")
	mux := srv.buildMux(prometheus.NewRegistry())

	execBody := `{"tool_id":"fn.echo","action":"run","parameters":{}}`
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/tools/execute", strings.NewReader(execBody)))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.ToolCount)
	require.Equal(t, uint64(1), resp.ToolStats["fn.echo"].Successes)
}

func TestEventsWSSendsWelcomeThenIncrementalEvent(t *testing.T) {
	srv, reg, _ := newTestFixture(t, nil)
	registerEcho(t, reg, "fn.echo")
	ts := httptest.NewServer(srv.buildMux(prometheus.NewRegistry()))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events/tools"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome welcomeFrame
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, "welcome", welcome.Type)
	require.Len(t, welcome.Tools, 1)

	registerEcho(t, reg, "fn.second")

	var event models.BusEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, "fn.second", event.ToolID)
	require.Equal(t, models.BusRegister, event.EventType)
}
