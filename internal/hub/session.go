package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/corkboard-app/corkboard/internal/metrics"
)

const (
	// sendBufferSize bounds the per-session outbound queue. A member whose
	// queue fills is dropped instead of stalling the room's fan-out.
	sendBufferSize = 256

	// maxFrameSize bounds inbound frames. Box text is unbounded by the
	// protocol but the transport still caps a single frame.
	maxFrameSize = 64 * 1024
)

// Session is one connected client. Its lifetime is the websocket's: the
// read pump feeds the hub until the connection drops, then the session is
// detached from every room it joined.
type Session struct {
	ID   uuid.UUID
	hub  *Hub
	conn *websocket.Conn

	// rooms is guarded by hub.mu together with the hub's room registry.
	rooms map[string]struct{}

	mu     sync.Mutex // protects send/closed
	send   chan []byte
	closed bool
}

// NewSession registers a connection with the hub. The conn may be nil in
// tests; pumps are only started by Serve.
func (h *Hub) NewSession(conn *websocket.Conn) *Session {
	s := &Session{
		ID:    uuid.New(),
		hub:   h,
		conn:  conn,
		rooms: make(map[string]struct{}),
		send:  make(chan []byte, sendBufferSize),
	}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	metrics.SessionsConnected.Inc()
	h.logger.Info().Str("session", s.ID.String()).Msg("session connected")
	return s
}

// Serve runs the read and write pumps and blocks until the connection
// drops. The session is detached before it returns.
func (s *Session) Serve() {
	go s.writePump()
	s.readPump()
}

// Send queues a frame for delivery, dropping it if the session is closed
// or its queue is full.
func (s *Session) Send(buf []byte) {
	s.trySend(buf)
}

// trySend reports whether the frame was queued. False means the session
// is closed or too slow to keep up.
func (s *Session) trySend(buf []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- buf:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once, ending the write pump.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *Session) readPump() {
	defer func() {
		s.hub.Detach(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxFrameSize)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				metrics.SessionsDropped.WithLabelValues("read_error").Inc()
				s.hub.logger.Warn().Err(err).Str("session", s.ID.String()).Msg("read failed")
			}
			return
		}
		s.hub.Dispatch(s, raw)
	}
}

func (s *Session) writePump() {
	defer s.conn.Close()
	for buf := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
			return
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
