package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/toolgated/internal/controlplane"
	"github.com/haasonsaas/toolgated/internal/registry"
	"github.com/haasonsaas/toolgated/pkg/models"
)

const (
	eventsPongWait   = 45 * time.Second
	eventsWriteWait  = 10 * time.Second
	eventsSendBuffer = 256
)

// welcomeFrame is the snapshot every /api/v1/events/tools client receives
// immediately after connecting, before any incremental event.
type welcomeFrame struct {
	Type  string                        `json:"type"`
	Tools []controlplane.WireDescriptor `json:"tools"`
}

// clientFrame is the small set of inbound control messages this
// sub-endpoint accepts, per §4.8's "ping, subscribe, get_tools".
type clientFrame struct {
	Type string `json:"type"`
}

// handleEventsWS upgrades to a WebSocket, sends a welcome snapshot of every
// enabled tool, then streams incremental registry events for the life of
// the connection. A single writer goroutine owns the connection's writes
// (gorilla/websocket does not allow concurrent writers), fed by both the
// registry-event forwarder and the control-message reader through one
// bounded channel.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	send := make(chan any, eventsSendBuffer)
	done := make(chan struct{})

	go s.writeEventsLoop(conn, send, done)

	select {
	case send <- s.snapshotFrame():
	case <-done:
		return
	}

	events, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	go s.readControlMessages(conn, send, done)

	for {
		select {
		case <-done:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			select {
			case send <- models.ToBusEvent(e):
			case <-done:
				return
			}
		}
	}
}

func (s *Server) writeEventsLoop(conn *websocket.Conn, send <-chan any, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				select {
				case <-done:
				default:
					close(done)
				}
				return
			}
		}
	}
}

func (s *Server) snapshotFrame() welcomeFrame {
	descriptors := s.registry.Enumerate(registry.Filter{EnabledOnly: true})
	tools := make([]controlplane.WireDescriptor, len(descriptors))
	for i, d := range descriptors {
		tools[i] = controlplane.ToWireDescriptor(d)
	}
	return welcomeFrame{Type: "welcome", Tools: tools}
}

// readControlMessages drains inbound client frames (ping/subscribe/
// get_tools), queuing replies onto send, and closes done when the
// connection ends.
func (s *Server) readControlMessages(conn *websocket.Conn, send chan<- any, done chan struct{}) {
	defer func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}()
	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "ping":
			select {
			case send <- map[string]string{"type": "pong"}:
			case <-done:
				return
			}
		case "get_tools":
			select {
			case send <- s.snapshotFrame():
			case <-done:
				return
			}
		case "subscribe":
			// Already subscribed for the life of the connection; accepted
			// as a no-op so older clients that always send it still work.
		}
	}
}
