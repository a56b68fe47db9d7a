// Package relay provides a client for the chat relay HTTP API and its
// websocket protocol.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultURL is used when no base URL is given.
const DefaultURL = "http://localhost:8080"

// ErrNotLoggedIn is returned by calls that need a token before one is set.
var ErrNotLoggedIn = errors.New("not logged in")

// User is an authenticated relay user.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// APIError is a non-2xx response from the relay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Status, e.Message)
}

// Client is a relay API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Token      string
	User       User
	HTTPClient *http.Client
}

// Credentials are saved between CLI invocations.
type Credentials struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// NewClient creates a new client and loads saved credentials if any.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	configDir := os.Getenv("RELAY_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".chat-relay")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads saved credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "credentials.json"))
	if err != nil {
		return err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	c.Token = creds.Token
	c.User = creds.User
	return nil
}

// SaveConfig saves the current credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Credentials{Token: c.Token, User: c.User}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "credentials.json"), data, 0600)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.Token == "" {
			return ErrNotLoggedIn
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account and keeps the returned token.
func (c *Client) Register(username, password string) (*User, error) {
	return c.authenticate("/auth/register", username, password)
}

// Login exchanges a username and password for a token.
func (c *Client) Login(username, password string) (*User, error) {
	return c.authenticate("/auth/login", username, password)
}

func (c *Client) authenticate(path, username, password string) (*User, error) {
	var creds Credentials
	if err := c.doRequest(http.MethodPost, path, credentialsRequest{username, password}, &creds, false); err != nil {
		return nil, err
	}
	c.Token = creds.Token
	c.User = creds.User
	return &c.User, nil
}

// Room is a room as listed for the current user.
type Room struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	OwnerID   int64  `json:"owner_id"`
	IsMember  bool   `json:"is_member"`
}

// Rooms lists rooms the current user can enter.
func (c *Client) Rooms() ([]Room, error) {
	var rooms []Room
	err := c.doRequest(http.MethodGet, "/rooms", nil, &rooms, true)
	return rooms, err
}

// Discover lists every room with the current user's membership flag.
func (c *Client) Discover() ([]Room, error) {
	var rooms []Room
	err := c.doRequest(http.MethodGet, "/rooms/discover", nil, &rooms, true)
	return rooms, err
}

type createRoomRequest struct {
	Name       string `json:"name"`
	IsPrivate  bool   `json:"isPrivate"`
	AccessCode string `json:"accessCode,omitempty"`
}

// CreateRoom creates a room. A non-empty access code makes it private.
func (c *Client) CreateRoom(name, accessCode string) (*Room, error) {
	req := createRoomRequest{Name: name, IsPrivate: accessCode != "", AccessCode: accessCode}
	var room Room
	if err := c.doRequest(http.MethodPost, "/rooms", req, &room, true); err != nil {
		return nil, err
	}
	return &room, nil
}

// JoinRoom records membership in a room.
func (c *Client) JoinRoom(roomID int64, accessCode string) error {
	req := map[string]string{"accessCode": accessCode}
	return c.doRequest(http.MethodPost, "/rooms/"+strconv.FormatInt(roomID, 10)+"/join", req, nil, true)
}

// Message is a stored chat message.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessagePage is one page of room history, newest first.
type MessagePage struct {
	Data       []Message `json:"data"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	Total      int       `json:"total"`
	TotalPages int       `json:"totalPages"`
}

// Messages retrieves a page of a room's history.
func (c *Client) Messages(roomID int64, page, limit int) (*MessagePage, error) {
	path := fmt.Sprintf("/rooms/%d/messages?page=%d&limit=%d", roomID, page, limit)
	var resp MessagePage
	if err := c.doRequest(http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Instance  string                 `json:"instance,omitempty"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503 with the same
// report, so both statuses decode.
func (c *Client) Health() (*HealthResponse, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}
