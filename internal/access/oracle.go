// Package access decides whether a user may join or post to a room.
package access

import (
	"context"

	"github.com/Jacobpac15/chatapp-parcial3/internal/apperr"
	"github.com/Jacobpac15/chatapp-parcial3/internal/crypto"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
	"github.com/Jacobpac15/chatapp-parcial3/internal/store"
)

// RoomStore is the subset of store.DataStore the oracle reads and writes.
type RoomStore interface {
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	AddMember(ctx context.Context, roomID, userID int64, role string) error
}

// Resolution is the result of looking a room up for a user.
type Resolution struct {
	Exists   bool
	Room     *models.Room
	IsMember bool
}

// Oracle answers room existence, membership and access questions.
type Oracle struct {
	store RoomStore
}

// NewOracle creates an oracle over the given store.
func NewOracle(s RoomStore) *Oracle {
	return &Oracle{store: s}
}

// Resolve reads the room and the user's membership in it.
func (o *Oracle) Resolve(ctx context.Context, roomID, userID int64) (Resolution, error) {
	room, err := o.store.GetRoom(ctx, roomID)
	if err != nil {
		return Resolution{}, apperr.Wrap(apperr.ErrUnavailable, "room lookup failed", err)
	}
	if room == nil {
		return Resolution{}, nil
	}

	member, err := o.store.IsMember(ctx, roomID, userID)
	if err != nil {
		return Resolution{}, apperr.Wrap(apperr.ErrUnavailable, "membership lookup failed", err)
	}

	return Resolution{Exists: true, Room: room, IsMember: member}, nil
}

// HasAccess reports whether the room exists and is public, owned by the
// user, or lists the user as a member.
func (o *Oracle) HasAccess(ctx context.Context, roomID, userID int64) (bool, error) {
	res, err := o.Resolve(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	return res.Allows(userID), nil
}

// RecordMembership adds the user to the room. Repeated calls leave a
// single membership row.
func (o *Oracle) RecordMembership(ctx context.Context, roomID, userID int64) error {
	if err := o.store.AddMember(ctx, roomID, userID, store.RoleMember); err != nil {
		return apperr.Wrap(apperr.ErrUnavailable, "membership write failed", err)
	}
	return nil
}

// Authorize applies the join policy: public rooms, owners and existing
// members are admitted; anyone else must present the room's access code,
// which records their membership on success.
func (o *Oracle) Authorize(ctx context.Context, roomID, userID int64, accessCode string) (*models.Room, error) {
	res, err := o.Resolve(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !res.Exists {
		return nil, apperr.New(apperr.ErrNotFound, "room not found")
	}
	if res.Allows(userID) {
		return res.Room, nil
	}

	if crypto.HashAccessCode(accessCode) == "" {
		return nil, apperr.New(apperr.ErrAccessDenied, "access code required")
	}
	if !crypto.AccessCodeMatches(accessCode, res.Room.AccessCodeHash) {
		return nil, apperr.New(apperr.ErrAccessDenied, "incorrect access code")
	}

	if err := o.RecordMembership(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return res.Room, nil
}

// Allows reports whether the resolved room admits userID without an access code.
func (r Resolution) Allows(userID int64) bool {
	if !r.Exists {
		return false
	}
	return !r.Room.IsPrivate || r.Room.OwnerID == userID || r.IsMember
}
