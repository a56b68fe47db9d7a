package session

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/Jacobpac15/chatapp-parcial3/internal/metrics"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the connection-scoped state of one authenticated client.
// Outbound frames go through a bounded queue drained by a writer goroutine.
type Session struct {
	id       string
	identity models.Identity
	conn     *websocket.Conn

	state atomic.Int32

	mu     sync.Mutex
	send   chan []byte
	closed bool

	closeOnce sync.Once
}

func newSession(id string, identity models.Identity, conn *websocket.Conn, queueSize int) *Session {
	s := &Session{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, queueSize),
	}
	s.setState(StateAuthenticated)
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Identity returns the authenticated user behind the session.
func (s *Session) Identity() models.Identity { return s.identity }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Send queues payload for the client. It never blocks: payloads for a
// closed session or a full queue are dropped and false is returned.
func (s *Session) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		metrics.FramesDropped.Inc()
		return false
	}
}

func (s *Session) sendJSON(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return s.Send(payload)
}

func (s *Session) sendError(roomID int64, message string) {
	s.sendJSON(errorFrame{Type: "error", RoomID: roomID, Message: message})
}

// closeQueue stops accepting frames; the writer drains what is queued and
// then closes the connection.
func (s *Session) closeQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}
