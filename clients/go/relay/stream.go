package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseInvalidToken is the close code the relay uses for a rejected token.
const CloseInvalidToken = 4001

// ErrInvalidToken is returned by Connect when the relay rejects the token.
var ErrInvalidToken = errors.New("relay rejected token")

// Frame is any frame the relay sends. Fields not used by a frame type are
// left zero.
type Frame struct {
	Type      string    `json:"type"`
	RoomID    int64     `json:"roomId"`
	ID        int64     `json:"id"`
	MessageID int64     `json:"messageId"`
	User      User      `json:"user"`
	Content   string    `json:"content"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Room      struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		IsPrivate bool   `json:"isPrivate"`
	} `json:"room"`
}

type outboundFrame struct {
	Type       string `json:"type"`
	RoomID     int64  `json:"roomId"`
	AccessCode string `json:"accessCode,omitempty"`
	Content    string `json:"content,omitempty"`
}

// Stream is an open websocket session with the relay.
type Stream struct {
	conn *websocket.Conn
	User User

	writeMu sync.Mutex
}

// Connect opens a websocket session with the client's token and waits for
// the relay's connected frame.
func (c *Client) Connect(ctx context.Context) (*Stream, error) {
	if c.Token == "" {
		return nil, ErrNotLoggedIn
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, websocketURL(c.BaseURL)+"/ws", header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	s := &Stream{conn: conn}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	first, err := s.Next()
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	if first.Type != "connected" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", first.Type)
	}
	s.User = first.User
	return s, nil
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func (s *Stream) write(frame outboundFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// Join subscribes to a room. Private rooms need the access code unless the
// user is already a member.
func (s *Stream) Join(roomID int64, accessCode string) error {
	return s.write(outboundFrame{Type: "join", RoomID: roomID, AccessCode: accessCode})
}

// Send posts a message to a room.
func (s *Stream) Send(roomID int64, content string) error {
	return s.write(outboundFrame{Type: "message", RoomID: roomID, Content: content})
}

// Leave unsubscribes from a room.
func (s *Stream) Leave(roomID int64) error {
	return s.write(outboundFrame{Type: "leave", RoomID: roomID})
}

// Next blocks for the next frame. A token rejection surfaces as
// ErrInvalidToken.
func (s *Stream) Next() (Frame, error) {
	var frame Frame
	if err := s.conn.ReadJSON(&frame); err != nil {
		if websocket.IsCloseError(err, CloseInvalidToken) {
			return Frame{}, ErrInvalidToken
		}
		return Frame{}, err
	}
	return frame, nil
}

// Close sends a normal close frame and closes the connection.
func (s *Stream) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
