package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewInstanceID generates a time-ordered UUID v7 identifying a relay process.
func NewInstanceID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewSessionID generates a ULID for a connection.
func NewSessionID() string {
	return ulid.Make().String()
}
