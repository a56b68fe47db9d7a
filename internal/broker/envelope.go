package broker

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

// Envelope is the wire form of an accepted message on the exchange.
type Envelope struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"roomId"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin,omitempty"`
}

// EncodeEnvelope marshals msg for publishing.
func EncodeEnvelope(msg *models.Message, origin string) ([]byte, error) {
	return json.Marshal(Envelope{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		Origin:    origin,
	})
}

// DecodeEnvelope parses a delivery body. The room id must agree with the
// routing key it arrived under.
func DecodeEnvelope(routingKey string, body []byte) (models.Message, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.Message{}, env, err
	}

	roomID, ok := RoomFromRoutingKey(routingKey)
	if !ok {
		return models.Message{}, env, errors.New("unexpected routing key " + routingKey)
	}
	if env.RoomID != roomID {
		return models.Message{}, env, errors.New("envelope room does not match routing key")
	}
	if env.ID <= 0 {
		return models.Message{}, env, errors.New("envelope without message id")
	}

	return models.Message{
		ID:        env.ID,
		RoomID:    env.RoomID,
		UserID:    env.UserID,
		Username:  env.Username,
		Content:   env.Content,
		Timestamp: env.Timestamp,
	}, env, nil
}
