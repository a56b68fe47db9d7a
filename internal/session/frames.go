package session

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

// Inbound frame types.
const (
	frameJoin    = "join"
	frameMessage = "message"
	frameLeave   = "leave"
)

// inboundFrame is the union of every client frame.
type inboundFrame struct {
	Type       string          `json:"type"`
	RoomID     json.RawMessage `json:"roomId"`
	AccessCode string          `json:"accessCode"`
	Content    string          `json:"content"`
}

// roomID accepts the room id as a JSON number or a numeric string.
func (f inboundFrame) roomID() (int64, bool) {
	raw := bytes.TrimSpace(f.RoomID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
	} else {
		text = string(raw)
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type connectedFrame struct {
	Type string          `json:"type"`
	User models.Identity `json:"user"`
}

type roomSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
}

type roomJoinedFrame struct {
	Type   string      `json:"type"`
	RoomID int64       `json:"roomId"`
	Room   roomSummary `json:"room"`
}

type roomLeftFrame struct {
	Type   string `json:"type"`
	RoomID int64  `json:"roomId"`
}

// presenceFrame is sent as user_joined and user_left.
type presenceFrame struct {
	Type   string          `json:"type"`
	RoomID int64           `json:"roomId"`
	User   models.Identity `json:"user"`
}

type sentFrame struct {
	Type      string `json:"type"`
	RoomID    int64  `json:"roomId"`
	MessageID int64  `json:"messageId"`
}

type messageFrame struct {
	Type      string          `json:"type"`
	ID        int64           `json:"id"`
	RoomID    int64           `json:"roomId"`
	User      models.Identity `json:"user"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

type errorFrame struct {
	Type    string `json:"type"`
	RoomID  int64  `json:"roomId,omitempty"`
	Message string `json:"message"`
}

func newMessageFrame(msg models.Message) messageFrame {
	return messageFrame{
		Type:      "message",
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		User:      models.Identity{ID: msg.UserID, Username: msg.Username},
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
}
