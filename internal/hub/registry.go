// Package hub tracks which local sessions are subscribed to which rooms and
// fans payloads out to them.
package hub

import (
	"sort"
	"sync"

	"github.com/Jacobpac15/chatapp-parcial3/internal/metrics"
)

// Subscriber is a session that can receive room payloads. Send must not
// block; it reports false when the payload was dropped.
type Subscriber interface {
	ID() string
	Send(payload []byte) bool
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Rooms         int `json:"rooms"`
	Subscribers   int `json:"subscribers"`
	Subscriptions int `json:"subscriptions"`
}

// Registry holds the room -> subscribers and subscriber -> rooms indexes.
// Both maps are guarded by one lock so they always agree.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[int64]map[string]Subscriber // roomID -> subscriberID -> subscriber
	sessions map[string]map[int64]struct{}   // subscriberID -> set of roomIDs
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[int64]map[string]Subscriber),
		sessions: make(map[string]map[int64]struct{}),
	}
}

// Subscribe adds sub to roomID and reports whether it was newly added.
func (r *Registry) Subscribe(sub Subscriber, roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]Subscriber)
		r.rooms[roomID] = members
	}
	if _, ok := members[sub.ID()]; ok {
		return false
	}
	members[sub.ID()] = sub

	joined := r.sessions[sub.ID()]
	if joined == nil {
		joined = make(map[int64]struct{})
		r.sessions[sub.ID()] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

// Unsubscribe removes sub from roomID and reports whether it was subscribed.
func (r *Registry) Unsubscribe(sub Subscriber, roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(sub.ID(), roomID)
}

// UnsubscribeAll removes sub from every room and returns the rooms it left.
func (r *Registry) UnsubscribeAll(sub Subscriber) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.sessions[sub.ID()]
	left := make([]int64, 0, len(joined))
	for roomID := range joined {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		r.remove(sub.ID(), roomID)
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

// remove must be called with the write lock held.
func (r *Registry) remove(id string, roomID int64) bool {
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[id]; !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}

	if joined := r.sessions[id]; joined != nil {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.sessions, id)
		}
	}
	return true
}

// Fanout sends payload to every subscriber of roomID except the one whose
// ID equals exclude, and returns how many accepted it. Sends happen after
// the lock is released.
func (r *Registry) Fanout(roomID int64, payload []byte, exclude string) int {
	recipients := r.Subscribers(roomID)

	delivered := 0
	for _, sub := range recipients {
		if sub.ID() == exclude {
			continue
		}
		if sub.Send(payload) {
			delivered++
		}
	}
	metrics.FanoutDeliveries.Add(float64(delivered))
	return delivered
}

// Subscribers returns a snapshot of the subscribers of roomID.
func (r *Registry) Subscribers(roomID int64) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		out = append(out, sub)
	}
	return out
}

// Rooms returns the rooms sub is subscribed to, in ascending order.
func (r *Registry) Rooms(sub Subscriber) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.sessions[sub.ID()]
	out := make([]int64, 0, len(joined))
	for roomID := range joined {
		out = append(out, roomID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsSubscribed reports whether sub is subscribed to roomID.
func (r *Registry) IsSubscribed(sub Subscriber, roomID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][sub.ID()]
	return ok
}

// Stats returns counts of active rooms, subscribers and subscriptions.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{Rooms: len(r.rooms), Subscribers: len(r.sessions)}
	for _, members := range r.rooms {
		st.Subscriptions += len(members)
	}
	return st
}
