package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

// SQLiteStore handles SQLite database operations for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/relay.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/relay.db"
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		is_private INTEGER NOT NULL DEFAULT 0,
		access_code TEXT,
		owner_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role TEXT NOT NULL DEFAULT 'member',
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_timestamp ON messages(room_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_rooms_is_private ON rooms(is_private);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)
	`, username, passwordHash, time.Now().UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s.GetUserByUsername(ctx, username)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, created_at FROM users WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string, isPrivate bool, accessCodeHash string, ownerID int64) (*models.Room, error) {
	var codePtr *string
	if accessCodeHash != "" {
		codePtr = &accessCodeHash
	}

	isPrivateInt := 0
	if isPrivate {
		isPrivateInt = 1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (name, is_private, access_code, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, isPrivateInt, codePtr, ownerID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	room := &models.Room{}
	var isPrivateInt int
	var code sql.NullString
	var owner sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_private, access_code, owner_id, created_at
		FROM rooms WHERE id = ?
	`, id).Scan(&room.ID, &room.Name, &isPrivateInt, &code, &owner, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.IsPrivate = isPrivateInt == 1
	room.AccessCodeHash = code.String
	room.OwnerID = owner.Int64
	return room, nil
}

const sqliteListingColumns = `
	r.id, r.name, r.is_private, COALESCE(r.owner_id, 0),
	(r.owner_id = ? OR EXISTS (
		SELECT 1 FROM room_members rm WHERE rm.room_id = r.id AND rm.user_id = ?
	)) AS is_member`

// ListAccessibleRooms lists the public rooms plus the private rooms the
// user owns or belongs to.
func (s *SQLiteStore) ListAccessibleRooms(ctx context.Context, userID int64) ([]models.RoomListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteListingColumns+`
		FROM rooms r
		WHERE r.is_private = 0
			OR r.owner_id = ?
			OR EXISTS (SELECT 1 FROM room_members rm WHERE rm.room_id = r.id AND rm.user_id = ?)
		ORDER BY r.name ASC
	`, userID, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	return scanSQLiteListings(rows)
}

// ListAllRooms lists every room, newest first, flagged with the user's membership.
func (s *SQLiteStore) ListAllRooms(ctx context.Context, userID int64) ([]models.RoomListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteListingColumns+`
		FROM rooms r
		ORDER BY r.created_at DESC, r.name ASC
	`, userID, userID)
	if err != nil {
		return nil, err
	}
	return scanSQLiteListings(rows)
}

func scanSQLiteListings(rows *sql.Rows) ([]models.RoomListing, error) {
	defer rows.Close()

	rooms := []models.RoomListing{}
	for rows.Next() {
		var room models.RoomListing
		var isPrivateInt int
		var isMember sql.NullBool
		if err := rows.Scan(&room.ID, &room.Name, &isPrivateInt, &room.OwnerID, &isMember); err != nil {
			return nil, err
		}
		room.IsPrivate = isPrivateInt == 1
		room.IsMember = isMember.Valid && isMember.Bool
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// IsMember reports whether the user has a membership row for the room.
func (s *SQLiteStore) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?)
	`, roomID, userID).Scan(&exists)
	return exists == 1, err
}

// AddMember records a membership. Repeated calls are no-ops.
func (s *SQLiteStore) AddMember(ctx context.Context, roomID, userID int64, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_members (room_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`, roomID, userID, role, time.Now().UTC())
	return err
}

// InsertMessage stores a message and returns it with its assigned id and timestamp.
func (s *SQLiteStore) InsertMessage(ctx context.Context, roomID, userID int64, content string) (*models.Message, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, user_id, content, timestamp) VALUES (?, ?, ?, ?)
	`, roomID, userID, content, now)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	msg := &models.Message{ID: id, RoomID: roomID, UserID: userID, Content: content}
	err = s.db.QueryRowContext(ctx, `
		SELECT u.username, m.timestamp
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.id = ?
	`, id).Scan(&msg.Username, &msg.Timestamp)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a page of a room's messages, newest first, and the total count.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE room_id = ?`, roomID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.user_id, u.username, m.content, m.timestamp
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Username, &msg.Content, &msg.Timestamp); err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}
	return messages, total, rows.Err()
}
