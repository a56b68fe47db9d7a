package models

import "time"

// Identity is the authenticated principal behind a connection or request.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// User represents a registered chat user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity returns the public identity of the user.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username}
}
