package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jacobpac15/chatapp-parcial3/internal/metrics"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	defer observe(time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password)
		VALUES ($1, $2)
		RETURNING id, username, password, created_at
	`, username, passwordHash).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	defer observe(time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password, created_at
		FROM users WHERE username = $1
	`, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateRoom creates a new room.
func (s *PostgresStore) CreateRoom(ctx context.Context, name string, isPrivate bool, accessCodeHash string, ownerID int64) (*models.Room, error) {
	defer observe(time.Now())

	var codePtr *string
	if accessCodeHash != "" {
		codePtr = &accessCodeHash
	}

	room := &models.Room{}
	var code *string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (name, is_private, access_code, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, is_private, access_code, COALESCE(owner_id, 0), created_at
	`, name, isPrivate, codePtr, ownerID).Scan(
		&room.ID,
		&room.Name,
		&room.IsPrivate,
		&code,
		&room.OwnerID,
		&room.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if code != nil {
		room.AccessCodeHash = *code
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	defer observe(time.Now())

	room := &models.Room{}
	var code *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, is_private, access_code, COALESCE(owner_id, 0), created_at
		FROM rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&room.Name,
		&room.IsPrivate,
		&code,
		&room.OwnerID,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if code != nil {
		room.AccessCodeHash = *code
	}
	return room, nil
}

// ListAccessibleRooms lists the public rooms plus the private rooms the
// user owns or belongs to.
func (s *PostgresStore) ListAccessibleRooms(ctx context.Context, userID int64) ([]models.RoomListing, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT
			r.id,
			r.name,
			r.is_private,
			COALESCE(r.owner_id, 0),
			r.owner_id = $1 OR EXISTS (
				SELECT 1 FROM room_members rm
				WHERE rm.room_id = r.id AND rm.user_id = $1
			) AS is_member
		FROM rooms r
		WHERE r.is_private = FALSE
			OR r.owner_id = $1
			OR EXISTS (
				SELECT 1 FROM room_members rm
				WHERE rm.room_id = r.id AND rm.user_id = $1
			)
		ORDER BY r.name ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanListings(rows)
}

// ListAllRooms lists every room, newest first, flagged with the user's membership.
func (s *PostgresStore) ListAllRooms(ctx context.Context, userID int64) ([]models.RoomListing, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT
			r.id,
			r.name,
			r.is_private,
			COALESCE(r.owner_id, 0),
			r.owner_id = $1 OR EXISTS (
				SELECT 1 FROM room_members rm
				WHERE rm.room_id = r.id AND rm.user_id = $1
			) AS is_member
		FROM rooms r
		ORDER BY r.created_at DESC, r.name ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanListings(rows)
}

func scanListings(rows pgx.Rows) ([]models.RoomListing, error) {
	defer rows.Close()

	rooms := []models.RoomListing{}
	for rows.Next() {
		var room models.RoomListing
		var isMember *bool
		if err := rows.Scan(&room.ID, &room.Name, &room.IsPrivate, &room.OwnerID, &isMember); err != nil {
			return nil, err
		}
		room.IsMember = isMember != nil && *isMember
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// IsMember reports whether the user has a membership row for the room.
func (s *PostgresStore) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	defer observe(time.Now())

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)
	`, roomID, userID).Scan(&exists)
	return exists, err
}

// AddMember records a membership. Repeated calls are no-ops.
func (s *PostgresStore) AddMember(ctx context.Context, roomID, userID int64, role string) error {
	defer observe(time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, roomID, userID, role)
	return err
}

// InsertMessage stores a message and returns it with its assigned id and timestamp.
func (s *PostgresStore) InsertMessage(ctx context.Context, roomID, userID int64, content string) (*models.Message, error) {
	defer observe(time.Now())

	msg := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO messages (room_id, user_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, room_id, user_id, content, timestamp
		)
		SELECT i.id, i.room_id, i.user_id, u.username, i.content, i.timestamp
		FROM inserted i JOIN users u ON u.id = i.user_id
	`, roomID, userID, content).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.UserID,
		&msg.Username,
		&msg.Content,
		&msg.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a page of a room's messages, newest first, and the total count.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, int, error) {
	defer observe(time.Now())

	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE room_id = $1`, roomID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.room_id, m.user_id, u.username, m.content, m.timestamp
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT $2 OFFSET $3
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
