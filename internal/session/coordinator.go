// Package session runs the WebSocket side of the relay: it authenticates
// connections, dispatches client frames to the access, ingestion and broker
// components, and fans broker deliveries out to subscribed sessions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Jacobpac15/chatapp-parcial3/internal/apperr"
	"github.com/Jacobpac15/chatapp-parcial3/internal/crypto"
	"github.com/Jacobpac15/chatapp-parcial3/internal/hub"
	"github.com/Jacobpac15/chatapp-parcial3/internal/ingest"
	"github.com/Jacobpac15/chatapp-parcial3/internal/metrics"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

// CloseInvalidToken is the close code sent when the handshake token is rejected.
const CloseInvalidToken = 4001

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 16 * 1024
)

// Verifier authenticates handshake tokens.
type Verifier interface {
	Verify(token string) (models.Identity, error)
}

// Authorizer applies the room join policy.
type Authorizer interface {
	Authorize(ctx context.Context, roomID, userID int64, accessCode string) (*models.Room, error)
}

// Ingester validates and persists inbound messages.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*models.Message, error)
}

// Publisher hands persisted messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg *models.Message) error
}

// Config tunes per-connection behaviour.
type Config struct {
	// OperationTimeout bounds each join / message dispatch.
	OperationTimeout time.Duration
	// MaxFramesPerSecond closes connections that send faster than this.
	MaxFramesPerSecond int
	// SendQueueSize is the number of outbound frames buffered per session.
	SendQueueSize int
	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
	if c.MaxFramesPerSecond <= 0 {
		c.MaxFramesPerSecond = 20
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 64
	}
	return c
}

// Coordinator owns every session on this relay instance.
type Coordinator struct {
	verifier  Verifier
	rooms     Authorizer
	pipeline  Ingester
	publisher Publisher
	registry  *hub.Registry
	config    Config
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewCoordinator wires a coordinator to its collaborators.
func NewCoordinator(verifier Verifier, rooms Authorizer, pipeline Ingester, publisher Publisher, registry *hub.Registry, config Config, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		verifier:  verifier,
		rooms:     rooms,
		pipeline:  pipeline,
		publisher: publisher,
		registry:  registry,
		config:    config.withDefaults(),
		logger:    logger.With().Str("component", "session").Logger(),
		sessions:  make(map[string]*Session),
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     c.checkOrigin,
	}
	return c
}

func (c *Coordinator) checkOrigin(r *http.Request) bool {
	if len(c.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range c.config.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Host {
			return true
		}
	}
	return false
}

// tokenFromRequest reads the token query parameter, then the bearer header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return crypto.BearerToken(r.Header.Get("Authorization"))
}

// ServeHTTP upgrades the request and runs the session until it closes.
func (c *Coordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, authErr := c.verifier.Verify(tokenFromRequest(r))

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	if authErr != nil {
		metrics.SessionsRejected.Inc()
		c.logger.Warn().
			Str("type", "security").
			Str("remote_addr", r.RemoteAddr).
			Err(authErr).
			Msg("websocket authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseInvalidToken, "invalid token"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	s := newSession(crypto.NewSessionID(), identity, conn, c.config.SendQueueSize)
	c.track(s)
	defer c.closeSession(s)

	go c.writePump(s)

	s.sendJSON(connectedFrame{Type: "connected", User: identity})
	s.setState(StateActive)

	c.logger.Info().
		Str("session_id", s.ID()).
		Int64("user_id", identity.ID).
		Str("username", identity.Username).
		Msg("session opened")

	c.readPump(s)
}

func (c *Coordinator) track(s *Session) {
	c.wg.Add(1)
	c.mu.Lock()
	c.sessions[s.ID()] = s
	c.mu.Unlock()
	metrics.SessionsActive.Inc()
}

// readPump handles frames one at a time, in arrival order.
func (c *Coordinator) readPump(s *Session) {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	windowStart := time.Now()
	framesInWindow := 0

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Debug().Err(err).Str("session_id", s.ID()).Msg("websocket read error")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > c.config.MaxFramesPerSecond {
			c.logger.Warn().
				Str("type", "security").
				Str("session_id", s.ID()).
				Int64("user_id", s.identity.ID).
				Msg("frame rate limit exceeded")
			s.sendError(0, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			s.sendError(0, "invalid format")
			continue
		}
		c.dispatch(s, data)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Coordinator) writePump(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeSession runs once per session: it removes every subscription,
// tells the remaining room subscribers and stops the writer.
func (c *Coordinator) closeSession(s *Session) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)

		rooms := c.registry.UnsubscribeAll(s)
		for _, roomID := range rooms {
			c.broadcast(roomID, presenceFrame{Type: "user_left", RoomID: roomID, User: s.identity}, s.ID())
		}
		s.closeQueue()

		c.mu.Lock()
		delete(c.sessions, s.ID())
		c.mu.Unlock()
		metrics.SessionsActive.Dec()
		c.wg.Done()

		c.logger.Info().
			Str("session_id", s.ID()).
			Int64("user_id", s.identity.ID).
			Int("rooms", len(rooms)).
			Msg("session closed")
	})
}

func (c *Coordinator) dispatch(s *Session, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.FramesReceived.WithLabelValues("invalid").Inc()
		s.sendError(0, "invalid format")
		return
	}

	switch frame.Type {
	case frameJoin:
		metrics.FramesReceived.WithLabelValues(frameJoin).Inc()
		c.handleJoin(s, frame)
	case frameMessage:
		metrics.FramesReceived.WithLabelValues(frameMessage).Inc()
		c.handleMessage(s, frame)
	case frameLeave:
		metrics.FramesReceived.WithLabelValues(frameLeave).Inc()
		c.handleLeave(s, frame)
	default:
		metrics.FramesReceived.WithLabelValues("unsupported").Inc()
		s.sendError(0, "unsupported type")
	}
}

func (c *Coordinator) operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.config.OperationTimeout)
}

func (c *Coordinator) handleJoin(s *Session, frame inboundFrame) {
	roomID, ok := frame.roomID()
	if !ok {
		s.sendError(0, "invalid room id")
		return
	}

	ctx, cancel := c.operationContext()
	defer cancel()

	room, err := c.rooms.Authorize(ctx, roomID, s.identity.ID, frame.AccessCode)
	if err != nil {
		c.reportError(s, roomID, "join", err)
		return
	}

	added := c.registry.Subscribe(s, roomID)
	s.sendJSON(roomJoinedFrame{
		Type:   "room_joined",
		RoomID: roomID,
		Room:   roomSummary{ID: room.ID, Name: room.Name, IsPrivate: room.IsPrivate},
	})
	if added {
		c.broadcast(roomID, presenceFrame{Type: "user_joined", RoomID: roomID, User: s.identity}, s.ID())
	}
}

func (c *Coordinator) handleMessage(s *Session, frame inboundFrame) {
	roomID, ok := frame.roomID()
	if !ok {
		s.sendError(0, "invalid room id")
		return
	}

	ctx, cancel := c.operationContext()
	defer cancel()

	msg, err := c.pipeline.Ingest(ctx, ingest.Request{RoomID: roomID, Content: frame.Content, Sender: s.identity})
	if err != nil {
		c.reportError(s, roomID, "message", err)
		return
	}

	// Posting proves access, so the sender starts receiving the room.
	if c.registry.Subscribe(s, roomID) {
		c.broadcast(roomID, presenceFrame{Type: "user_joined", RoomID: roomID, User: s.identity}, s.ID())
	}

	if err := c.publisher.Publish(ctx, msg); err != nil {
		c.reportError(s, roomID, "message", err)
		return
	}

	s.sendJSON(sentFrame{Type: "sent", RoomID: roomID, MessageID: msg.ID})
}

func (c *Coordinator) handleLeave(s *Session, frame inboundFrame) {
	roomID, ok := frame.roomID()
	if !ok {
		s.sendError(0, "invalid room id")
		return
	}

	if c.registry.Unsubscribe(s, roomID) {
		c.broadcast(roomID, presenceFrame{Type: "user_left", RoomID: roomID, User: s.identity}, s.ID())
	}
	s.sendJSON(roomLeftFrame{Type: "room_left", RoomID: roomID})
}

func (c *Coordinator) reportError(s *Session, roomID int64, op string, err error) {
	event := c.logger.Debug()
	if errors.Is(err, apperr.ErrUnavailable) {
		event = c.logger.Warn()
	}
	event.Err(err).
		Str("session_id", s.ID()).
		Int64("user_id", s.identity.ID).
		Int64("room_id", roomID).
		Str("op", op).
		Msg("frame rejected")

	s.sendError(roomID, apperr.UserMessage(err))
}

func (c *Coordinator) broadcast(roomID int64, frame any, exclude string) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode frame")
		return
	}
	c.registry.Fanout(roomID, payload, exclude)
}

// HandleBrokerMessage delivers a message consumed from the broker to every
// local subscriber of its room.
func (c *Coordinator) HandleBrokerMessage(msg models.Message) {
	c.broadcast(msg.RoomID, newMessageFrame(msg), "")
}

// ActiveSessions returns the number of open sessions.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Shutdown closes every session with a going-away close frame and waits for
// their cleanup or for ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	open := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		open = append(open, s)
	}
	c.mu.Unlock()

	for _, s := range open {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = s.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
