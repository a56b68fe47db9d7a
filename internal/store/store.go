package store

import (
	"context"
	"errors"

	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

// ErrDuplicate is returned when a unique constraint (username) is violated.
var ErrDuplicate = errors.New("duplicate record")

// DataStore defines the interface for persistent storage of users, rooms,
// room membership and messages. Lookups return nil, nil when the record
// does not exist. Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// Room operations
	CreateRoom(ctx context.Context, name string, isPrivate bool, accessCodeHash string, ownerID int64) (*models.Room, error)
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	ListAccessibleRooms(ctx context.Context, userID int64) ([]models.RoomListing, error)
	ListAllRooms(ctx context.Context, userID int64) ([]models.RoomListing, error)

	// Membership operations
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	AddMember(ctx context.Context, roomID, userID int64, role string) error

	// Message operations
	InsertMessage(ctx context.Context, roomID, userID int64, content string) (*models.Message, error)
	ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, int, error)
}

// Membership roles.
const (
	RoleMember = "member"
	RoleOwner  = "owner"
)
