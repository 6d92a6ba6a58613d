package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc"

	"github.com/haasonsaas/toolgated/internal/connector"
	"github.com/haasonsaas/toolgated/internal/dispatch"
	"github.com/haasonsaas/toolgated/internal/lifecycle"
	"github.com/haasonsaas/toolgated/internal/registry"
)

// Config wires a Server's collaborators and listener addresses.
type Config struct {
	Role Role

	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher

	// Dialer opens C7's own outbound connections when forwarding
	// execute_tool to a RemoteServer target; defaults to
	// connector.WebSocketDialer, the same transport C3 uses.
	Dialer      connector.Dialer
	DialTimeout time.Duration

	// ActionHandler is required when Role is RoleProvider; it answers
	// inbound execute_tool_action requests.
	ActionHandler ActionHandler

	WSAddr   string // address the WebSocket listener binds, e.g. ":8765"
	GRPCAddr string // address the ProviderStream gRPC listener binds, "" disables it
}

// Server is the Control-Plane Server (C7): a WebSocket listener and,
// optionally, a gRPC ProviderStream listener, both terminating at the same
// ControlPlaneSession handling core.
type Server struct {
	*lifecycle.Base

	role          Role
	registry      *registry.Registry
	dispatcher    *dispatch.Dispatcher
	dialer        connector.Dialer
	dialTimeout   time.Duration
	actionHandler ActionHandler

	wsAddr   string
	grpcAddr string

	upgrader websocket.Upgrader

	httpServer *http.Server
	httpLn     net.Listener
	grpcServer *grpc.Server
	grpcLn     net.Listener
}

// New constructs a Server. A zero-value Config.Role defaults to RoleGateway.
func New(cfg Config) *Server {
	role := cfg.Role
	if role == "" {
		role = RoleGateway
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = connector.WebSocketDialer{}
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Server{
		Base:          lifecycle.NewBase("control-plane", nil),
		role:          role,
		registry:      cfg.Registry,
		dispatcher:    cfg.Dispatcher,
		dialer:        dialer,
		dialTimeout:   timeout,
		actionHandler: cfg.ActionHandler,
		wsAddr:        cfg.WSAddr,
		grpcAddr:      cfg.GRPCAddr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) now() time.Time                { return time.Now() }
func (s *Server) newRequestID() string          { return uuid.NewString() }
func (s *Server) dialTimeoutChan() <-chan time.Time { return time.After(s.dialTimeout) }

// ServeHTTP upgrades the connection and runs a WebSocket Session for its
// lifetime, one handler goroutine per connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	session := newSession(s, conn)
	session.run()
}

// Start satisfies lifecycle.Component: it binds the WebSocket listener and,
// if configured, the ProviderStream gRPC listener, serving both in
// background goroutines.
func (s *Server) Start(ctx context.Context) error {
	if s.wsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", s)
		ln, err := net.Listen("tcp", s.wsAddr)
		if err != nil {
			return fmt.Errorf("control plane ws listen: %w", err)
		}
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		s.httpServer = srv
		s.httpLn = ln
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger().Error("control plane ws server error", "error", err)
			}
		}()
		s.Logger().Info("control plane ws listening", "addr", s.wsAddr)
	}

	if s.grpcAddr != "" {
		ln, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("control plane grpc listen: %w", err)
		}
		grpcServer := grpc.NewServer(grpc.ForceServerCodec(frameCodec{}))
		grpcServer.RegisterService(&providerStreamServiceDesc, s)
		s.grpcServer = grpcServer
		s.grpcLn = ln
		go func() {
			if err := grpcServer.Serve(ln); err != nil {
				s.Logger().Error("control plane grpc server error", "error", err)
			}
		}()
		s.Logger().Info("control plane grpc listening", "addr", s.grpcAddr)
	}

	s.MarkStarted()
	return nil
}

// Stop satisfies lifecycle.Component: both listeners are shut down
// gracefully, not abruptly closed, so in-flight requests get a chance to
// finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
		s.httpServer = nil
		s.httpLn = nil
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
		s.grpcServer = nil
		s.grpcLn = nil
	}
	s.MarkStopped()
	return nil
}

// Health satisfies lifecycle.Component.
func (s *Server) Health(ctx context.Context) lifecycle.ComponentHealth {
	return s.DefaultHealth()
}
