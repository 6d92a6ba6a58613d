package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBufferSize  = 256
	maxPayloadBytes = 1 << 20
	pongWait        = 45 * time.Second
	writeWait       = 10 * time.Second
)

// wsConn is the subset of *websocket.Conn a Session needs; *websocket.Conn
// satisfies this directly, and tests substitute an in-memory fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one WebSocket control-plane connection: a read loop, a write
// loop draining a bounded outgoing queue, and the shared ControlPlaneSession
// core that actually interprets frames.
type Session struct {
	core *ControlPlaneSession
	conn wsConn
	send chan []byte
	ctx  context.Context
	cancel context.CancelFunc
	id   string

	closeOnce sync.Once
}

func newSession(srv *Server, conn wsConn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		core:   &ControlPlaneSession{srv: srv},
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
	}
}

func (s *Session) run() {
	defer s.closeConn()
	go s.writeLoop()
	s.readLoop()
}

func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := decodeFrame(data)
		if err != nil {
			s.enqueue(*errorFrame("", fmt.Sprintf("invalid frame: %v", err), "invalid_frame"))
			continue
		}

		reply := s.core.Handle(s.ctx, frame)
		if reply == nil {
			continue
		}
		s.enqueue(*reply)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func decodeFrame(raw []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("missing type")
	}
	return &frame, nil
}

// enqueue marshals and queues frame for the write loop. Exceeding the
// bounded buffer closes the connection rather than blocking the read loop
// behind a slow writer; no RateLimited frame or close reason is sent to
// the peer before the close.
func (s *Session) enqueue(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
		s.closeConn()
	}
}
