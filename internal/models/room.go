package models

import "time"

// Room represents a chat room. AccessCodeHash is the hex SHA-256 of the
// room's access code and is empty for public rooms.
type Room struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	IsPrivate      bool      `json:"is_private"`
	OwnerID        int64     `json:"owner_id"`
	AccessCodeHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// RoomListing is a room as seen by a specific user.
type RoomListing struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	OwnerID   int64  `json:"owner_id"`
	IsMember  bool   `json:"is_member"`
}
