// Package room keeps the live socket connections subscribed to each conversation.
package room

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// Registry maps conversation ids to their connected clients.
// Empty rooms are pruned as soon as their last client leaves.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger.With().Str("component", "rooms").Logger(),
	}
}

// Join adds c to the room for convID.
func (r *Registry) Join(convID string, c *Client) {
	r.mu.Lock()
	members, ok := r.rooms[convID]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[convID] = members
	}
	_, already := members[c]
	members[c] = struct{}{}
	r.mu.Unlock()

	if !already {
		metrics.SocketConnections.Inc()
	}
}

// Leave removes c from the room for convID. Safe to call repeatedly.
func (r *Registry) Leave(convID string, c *Client) {
	if r.remove(convID, c) {
		metrics.SocketConnections.Dec()
	}
}

func (r *Registry) remove(convID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[convID]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, convID)
	}
	return true
}

// Broadcast queues data for every client in the room and returns how many
// accepted it. Clients that cannot accept are dropped from the room; the
// others are unaffected.
func (r *Registry) Broadcast(convID string, data []byte) int {
	r.mu.RLock()
	members := r.rooms[convID]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(data) {
			delivered++
			continue
		}
		metrics.BroadcastFailures.Inc()
		r.logger.Warn().Str("conv_id", convID).Str("client_id", c.ID).Msg("ws broadcast failed, dropping connection")
		r.Leave(convID, c)
	}
	return delivered
}

// Members returns the number of clients in the room for convID.
func (r *Registry) Members(convID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[convID])
}

// Rooms returns the number of non-empty rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Connections returns the number of clients across all rooms.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, members := range r.rooms {
		n += len(members)
	}
	return n
}

// CloseAll closes every client and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]map[*Client]struct{})
	r.mu.Unlock()

	for _, members := range rooms {
		for c := range members {
			c.Close()
			metrics.SocketConnections.Dec()
		}
	}
}
