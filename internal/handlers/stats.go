package handlers

import (
	"net/http"
)

// StatsResponse is a snapshot of this instance's live relay state.
type StatsResponse struct {
	Instance        string `json:"instance"`
	BrokerConnected bool   `json:"broker_connected"`
	Sessions        int    `json:"sessions"`
	Rooms           int    `json:"rooms"`
	Subscribers     int    `json:"subscribers"`
	Subscriptions   int    `json:"subscriptions"`
}

// Stats returns local session and subscription counts. Counts cover this
// instance only; other relay instances keep their own registries.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Instance: h.instance}

	if h.broker != nil {
		resp.BrokerConnected = h.broker.Connected()
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions.ActiveSessions()
	}
	if h.registry != nil {
		stats := h.registry.Stats()
		resp.Rooms = stats.Rooms
		resp.Subscribers = stats.Subscribers
		resp.Subscriptions = stats.Subscriptions
	}

	h.JSON(w, http.StatusOK, resp)
}
