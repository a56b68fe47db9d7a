package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/Jacobpac15/chatapp-parcial3/internal/access"
	"github.com/Jacobpac15/chatapp-parcial3/internal/apperr"
	"github.com/Jacobpac15/chatapp-parcial3/internal/crypto"
	"github.com/Jacobpac15/chatapp-parcial3/internal/hub"
	"github.com/Jacobpac15/chatapp-parcial3/internal/store"
)

// BrokerStatus reports whether the broker bridge holds a live connection.
type BrokerStatus interface {
	Connected() bool
}

// SessionCounter reports the number of open websocket sessions.
type SessionCounter interface {
	ActiveSessions() int
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	redis    *store.RedisStore
	tokens   *crypto.TokenManager
	rooms    *access.Oracle
	broker   BrokerStatus
	sessions SessionCounter
	registry *hub.Registry
	instance string
	logger   zerolog.Logger
}

// Options carries the optional runtime collaborators reported by the
// health and stats endpoints.
type Options struct {
	Redis      *store.RedisStore
	Broker     BrokerStatus
	Sessions   SessionCounter
	Registry   *hub.Registry
	InstanceID string
}

// NewHandler creates a new Handler backed by db.
func NewHandler(db store.DataStore, tokens *crypto.TokenManager, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		db:       db,
		redis:    opts.Redis,
		tokens:   tokens,
		rooms:    access.NewOracle(db),
		broker:   opts.Broker,
		sessions: opts.Sessions,
		registry: opts.Registry,
		instance: opts.InstanceID,
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// AppError maps an apperr kind to its HTTP status and writes the
// client-facing message.
func (h *Handler) AppError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("request failed")
	}
	h.Error(w, status, apperr.UserMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}

	return name
}
