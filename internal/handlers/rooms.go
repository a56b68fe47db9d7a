package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Jacobpac15/chatapp-parcial3/internal/api/middleware"
	"github.com/Jacobpac15/chatapp-parcial3/internal/crypto"
	"github.com/Jacobpac15/chatapp-parcial3/internal/metrics"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
	"github.com/Jacobpac15/chatapp-parcial3/internal/store"
)

const (
	minRoomNameLength   = 3
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	Name       string `json:"name"`
	IsPrivate  bool   `json:"isPrivate"`
	AccessCode string `json:"accessCode,omitempty"`
}

// JoinRoomRequest represents the room join request.
type JoinRoomRequest struct {
	AccessCode string `json:"accessCode"`
}

// MessagePage is one page of a room's history, newest first.
type MessagePage struct {
	Data       []models.Message `json:"data"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	Total      int              `json:"total"`
	TotalPages int              `json:"totalPages"`
}

// ListRooms returns the public rooms plus the private rooms the caller
// owns or belongs to.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentityFromContext(r.Context())

	rooms, err := h.db.ListAccessibleRooms(r.Context(), identity.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list rooms")
		h.Error(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	h.JSON(w, http.StatusOK, nonNil(rooms))
}

// DiscoverRooms returns every room with the caller's membership flag.
func (h *Handler) DiscoverRooms(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentityFromContext(r.Context())

	rooms, err := h.db.ListAllRooms(r.Context(), identity.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list rooms")
		h.Error(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	h.JSON(w, http.StatusOK, nonNil(rooms))
}

// CreateRoom creates a room owned by the caller. Private rooms require an
// access code and record the owner as a member.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentityFromContext(r.Context())

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name := sanitizeName(req.Name)
	if len([]rune(name)) < minRoomNameLength {
		h.Error(w, http.StatusBadRequest, "room name must be at least 3 characters")
		return
	}

	var codeHash string
	if req.IsPrivate {
		codeHash = crypto.HashAccessCode(req.AccessCode)
		if codeHash == "" {
			h.Error(w, http.StatusBadRequest, "private rooms require an access code")
			return
		}
	}

	room, err := h.db.CreateRoom(r.Context(), name, req.IsPrivate, codeHash, identity.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("name", name).Msg("failed to create room")
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	roomType := "public"
	if room.IsPrivate {
		roomType = "private"
		if err := h.db.AddMember(r.Context(), room.ID, identity.ID, store.RoleOwner); err != nil {
			h.logger.Error().Err(err).Int64("room_id", room.ID).Msg("failed to record owner membership")
			h.Error(w, http.StatusInternalServerError, "failed to create room")
			return
		}
	}
	metrics.RoomsCreated.WithLabelValues(roomType).Inc()

	h.logger.Info().
		Int64("room_id", room.ID).
		Int64("owner_id", identity.ID).
		Bool("private", room.IsPrivate).
		Msg("room created")

	h.JSON(w, http.StatusCreated, room)
}

// JoinRoom admits the caller to a room under the same policy as the
// websocket join and records the membership.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentityFromContext(r.Context())

	roomID, ok := roomIDParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	room, err := h.rooms.Authorize(r.Context(), roomID, identity.ID, req.AccessCode)
	if err != nil {
		h.AppError(w, err)
		return
	}
	if !room.IsPrivate {
		if err := h.rooms.RecordMembership(r.Context(), room.ID, identity.ID); err != nil {
			h.AppError(w, err)
			return
		}
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"message": "joined room",
		"room":    room,
	})
}

// RoomMessages returns a page of the room's history, newest first.
func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.GetIdentityFromContext(r.Context())

	roomID, ok := roomIDParam(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	res, err := h.rooms.Resolve(r.Context(), roomID, identity.ID)
	if err != nil {
		h.AppError(w, err)
		return
	}
	if !res.Exists {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}
	if !res.Allows(identity.ID) {
		h.Error(w, http.StatusForbidden, "access denied")
		return
	}

	messages, total, err := h.db.ListMessages(r.Context(), roomID, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error().Err(err).Int64("room_id", roomID).Msg("failed to load history")
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	h.JSON(w, http.StatusOK, MessagePage{
		Data:       nonNil(messages),
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	})
}

func roomIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
