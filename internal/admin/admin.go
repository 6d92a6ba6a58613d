// Package admin implements the Admin API (C8): the HTTP surface operators
// and test harnesses use to register/unregister tools, dispatch calls, and
// watch the registry change stream, plus the bearer-auth gate
// internal/auth/middleware.go puts in front of every route except
// /health and /metrics.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/toolgated/internal/auth"
	"github.com/haasonsaas/toolgated/internal/dispatch"
	"github.com/haasonsaas/toolgated/internal/eventbus"
	"github.com/haasonsaas/toolgated/internal/lifecycle"
	"github.com/haasonsaas/toolgated/internal/observability"
	"github.com/haasonsaas/toolgated/internal/registry"
	"github.com/haasonsaas/toolgated/internal/supervisor"
)

// Config wires an admin Server's collaborators and listen address.
type Config struct {
	Addr string // e.g. ":8080"

	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Supervisor *supervisor.Supervisor
	Bus        *eventbus.Bus

	Auth            *auth.Service // nil or disabled runs every route unauthenticated
	MetricsGatherer prometheus.Gatherer
	Tracer          *observability.Tracer // nil disables per-request spans
}

// Server is the Admin API (C8): a single *http.Server whose mux wires the
// routes registered in buildMux behind the bearer-auth middleware, plus the
// /api/v1/events/tools WebSocket sub-endpoint.
type Server struct {
	*lifecycle.Base

	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	supervisor *supervisor.Supervisor
	bus        *eventbus.Bus
	authSvc    *auth.Service

	addr     string
	upgrader websocket.Upgrader
	tracer   *observability.Tracer

	httpServer *http.Server
	httpLn     net.Listener
}

// New constructs a Server. Call Start to begin serving.
func New(cfg Config) *Server {
	gatherer := cfg.MetricsGatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		Base:       lifecycle.NewBase("admin-api", nil),
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		supervisor: cfg.Supervisor,
		bus:        cfg.Bus,
		authSvc:    cfg.Auth,
		addr:       cfg.Addr,
		tracer:     cfg.Tracer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{Handler: s.buildMux(gatherer), ReadHeaderTimeout: 5 * time.Second}
	return s
}

// buildMux assembles the route table: /health and /metrics run
// unauthenticated, every other route runs behind RequireAuth.
func (s *Server) buildMux(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	protected := http.NewServeMux()
	protected.HandleFunc("GET /status", s.handleStatus)
	protected.HandleFunc("GET /tools", s.handleListTools)
	protected.HandleFunc("GET /tools/{id}", s.handleGetTool)
	protected.HandleFunc("DELETE /tools/{id}", s.handleUnregisterTool)
	protected.HandleFunc("POST /admin/tools/register", s.handleRegisterTool)
	protected.HandleFunc("DELETE /admin/tools/{id}", s.handleUnregisterTool)
	protected.HandleFunc("POST /admin/mcp/register", s.handleRegisterMCP)
	protected.HandleFunc("POST /admin/tools/search-install", s.handleSearchInstall)
	protected.HandleFunc("POST /api/v1/tools/execute", s.handleExecute)
	protected.HandleFunc("GET /api/v1/events/tools", s.handleEventsWS)

	mux.Handle("/", auth.RequireAuth(s.authSvc, s.Logger())(protected))
	return observability.HTTPMiddleware(s.tracer)(mux)
}

// Start satisfies lifecycle.Component: it binds the listener and serves in
// a background goroutine, mirroring the control plane's Start shape.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin api listen: %w", err)
	}
	s.httpLn = ln
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger().Error("admin api server error", "error", err)
		}
	}()
	s.Logger().Info("admin api listening", "addr", s.addr)
	s.MarkStarted()
	return nil
}

// Stop satisfies lifecycle.Component: the listener shuts down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.MarkStopped()
	return err
}

// Health satisfies lifecycle.Component.
func (s *Server) Health(ctx context.Context) lifecycle.ComponentHealth {
	return s.DefaultHealth()
}
