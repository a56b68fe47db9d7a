// Package ingest validates, authorizes and persists inbound chat messages.
package ingest

import (
	"context"
	"strings"

	"github.com/Jacobpac15/chatapp-parcial3/internal/access"
	"github.com/Jacobpac15/chatapp-parcial3/internal/apperr"
	"github.com/Jacobpac15/chatapp-parcial3/internal/metrics"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

// MaxContentBytes bounds the size of a message body after trimming.
const MaxContentBytes = 4096

// Store persists accepted messages.
type Store interface {
	InsertMessage(ctx context.Context, roomID, userID int64, content string) (*models.Message, error)
}

// Resolver looks up a room and the sender's standing in it.
type Resolver interface {
	Resolve(ctx context.Context, roomID, userID int64) (access.Resolution, error)
}

// Request is a message as received from a session.
type Request struct {
	RoomID  int64
	Content string
	Sender  models.Identity
}

// Pipeline turns requests into stored messages.
type Pipeline struct {
	store Store
	rooms Resolver
}

// NewPipeline creates a pipeline.
func NewPipeline(store Store, rooms Resolver) *Pipeline {
	return &Pipeline{store: store, rooms: rooms}
}

// Ingest validates req, checks the sender's access against the room and
// persists the message. The returned message carries the store-assigned
// id and timestamp. Access is checked on every call; a local subscription
// is not proof of access.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*models.Message, error) {
	msg, err := p.ingest(ctx, req)
	if err != nil {
		metrics.MessagesIngested.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.MessagesIngested.WithLabelValues("accepted").Inc()
	return msg, nil
}

func (p *Pipeline) ingest(ctx context.Context, req Request) (*models.Message, error) {
	if req.RoomID <= 0 {
		return nil, apperr.New(apperr.ErrValidation, "invalid room id")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apperr.New(apperr.ErrValidation, "message content is required")
	}
	if len(content) > MaxContentBytes {
		return nil, apperr.New(apperr.ErrValidation, "message content is too long")
	}

	res, err := p.rooms.Resolve(ctx, req.RoomID, req.Sender.ID)
	if err != nil {
		return nil, err
	}
	if !res.Exists {
		return nil, apperr.New(apperr.ErrNotFound, "room not found")
	}
	if !res.Allows(req.Sender.ID) {
		return nil, apperr.New(apperr.ErrAccessDenied, "access denied")
	}

	msg, err := p.store.InsertMessage(ctx, req.RoomID, req.Sender.ID, content)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUnavailable, "failed to save message", err)
	}
	if msg.Username == "" {
		msg.Username = req.Sender.Username
	}
	return msg, nil
}
