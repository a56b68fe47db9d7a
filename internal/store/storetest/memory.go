// Package storetest provides an in-memory store.DataStore for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
	"github.com/Jacobpac15/chatapp-parcial3/internal/store"
)

var _ store.DataStore = (*Memory)(nil)

type membershipKey struct {
	roomID int64
	userID int64
}

// Memory is a goroutine-safe DataStore backed by maps. Setting Err makes
// every call fail with it, which simulates an unreachable database.
type Memory struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	rooms    map[int64]*models.Room
	members  map[membershipKey]string
	messages []models.Message

	userSeq    int64
	roomSeq    int64
	messageSeq int64

	Err error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[int64]*models.User),
		rooms:   make(map[int64]*models.Room),
		members: make(map[membershipKey]string),
	}
}

// PutRoom stores room as-is, keeping its ID.
func (m *Memory) PutRoom(room models.Room) *models.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	m.rooms[room.ID] = &room
	if room.ID > m.roomSeq {
		m.roomSeq = room.ID
	}
	copied := room
	return &copied
}

// SetErr swaps the injected failure.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// MemberRows counts membership rows for a room and user.
func (m *Memory) MemberRows(roomID, userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[membershipKey{roomID, userID}]; ok {
		return 1
	}
	return 0
}

// MessageCount returns how many messages were persisted.
func (m *Memory) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *Memory) Close() {}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

func (m *Memory) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, u := range m.users {
		if u.Username == username {
			return nil, store.ErrDuplicate
		}
	}
	m.userSeq++
	u := &models.User{ID: m.userSeq, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	m.users[u.ID] = u
	copied := *u
	return &copied, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, u := range m.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateRoom(ctx context.Context, name string, isPrivate bool, accessCodeHash string, ownerID int64) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.roomSeq++
	r := &models.Room{
		ID:             m.roomSeq,
		Name:           name,
		IsPrivate:      isPrivate,
		OwnerID:        ownerID,
		AccessCodeHash: accessCodeHash,
		CreatedAt:      time.Now().UTC(),
	}
	m.rooms[r.ID] = r
	copied := *r
	return &copied, nil
}

func (m *Memory) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	r, ok := m.rooms[id]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (m *Memory) listing(r *models.Room, userID int64) models.RoomListing {
	_, member := m.members[membershipKey{r.ID, userID}]
	return models.RoomListing{ID: r.ID, Name: r.Name, IsPrivate: r.IsPrivate, OwnerID: r.OwnerID, IsMember: member}
}

func (m *Memory) sortedRooms() []*models.Room {
	rooms := make([]*models.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID > rooms[j].ID })
	return rooms
}

func (m *Memory) ListAccessibleRooms(ctx context.Context, userID int64) ([]models.RoomListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.RoomListing
	for _, r := range m.sortedRooms() {
		l := m.listing(r, userID)
		if !r.IsPrivate || l.IsMember {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) ListAllRooms(ctx context.Context, userID int64) ([]models.RoomListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.RoomListing
	for _, r := range m.sortedRooms() {
		out = append(out, m.listing(r, userID))
	}
	return out, nil
}

func (m *Memory) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	_, ok := m.members[membershipKey{roomID, userID}]
	return ok, nil
}

func (m *Memory) AddMember(ctx context.Context, roomID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	key := membershipKey{roomID, userID}
	if _, ok := m.members[key]; !ok {
		m.members[key] = role
	}
	return nil
}

func (m *Memory) InsertMessage(ctx context.Context, roomID, userID int64, content string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var username string
	if u, ok := m.users[userID]; ok {
		username = u.Username
	}
	m.messageSeq++
	msg := models.Message{
		ID:        m.messageSeq,
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	m.messages = append(m.messages, msg)
	return &msg, nil
}

func (m *Memory) ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, 0, m.Err
	}
	var inRoom []models.Message
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].RoomID == roomID {
			inRoom = append(inRoom, m.messages[i])
		}
	}
	total := len(inRoom)
	if offset >= total {
		return []models.Message{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return inRoom[offset:end], total, nil
}
