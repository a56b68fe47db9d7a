package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Jacobpac15/chatapp-parcial3/internal/metrics"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
	"github.com/Jacobpac15/chatapp-parcial3/internal/store"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 50
	minPasswordLength = 4
	// bcrypt rejects passwords longer than 72 bytes.
	maxPasswordLength = 72
)

// CredentialsRequest is the body of register and login requests.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse carries a freshly issued bearer token.
type AuthResponse struct {
	Token string          `json:"token"`
	User  models.Identity `json:"user"`
}

// Register creates a user and returns a token for it.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := sanitizeName(req.Username)
	if len([]rune(username)) < minUsernameLength || len([]rune(username)) > maxUsernameLength {
		h.Error(w, http.StatusBadRequest, "username must be 3-50 characters")
		return
	}
	if len(req.Password) < minPasswordLength || len(req.Password) > maxPasswordLength {
		h.Error(w, http.StatusBadRequest, "password must be 4-72 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := h.db.CreateUser(r.Context(), username, string(hash))
	if errors.Is(err, store.ErrDuplicate) {
		h.Error(w, http.StatusBadRequest, "username already exists")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("username", username).Msg("failed to create user")
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	metrics.UsersRegistered.Inc()
	h.issue(w, http.StatusCreated, user)
}

// Login verifies a username and password and returns a token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.db.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load user")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.logger.Warn().
			Str("type", "security").
			Str("event", "login_failed").
			Str("username", username).
			Msg("invalid credentials")
		h.Error(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	h.issue(w, http.StatusOK, user)
}

func (h *Handler) issue(w http.ResponseWriter, status int, user *models.User) {
	token, err := h.tokens.Issue(user.Identity())
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to sign token")
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	h.JSON(w, status, AuthResponse{Token: token, User: user.Identity()})
}
