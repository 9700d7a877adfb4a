package chat

import (
	"sync"
)

// Client represents one connected event stream of a user.
type Client struct {
	Conn     Conn
	UserID   string
	Outgoing chan []byte
}

// Hub tracks connected clients by user id and fans frames out to them.
// A user may hold several connections at once.
type Hub struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[client.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.UserID] = set
	}
	set[client] = struct{}{}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[client.UserID]
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.UserID)
	}
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Online reports whether userID has at least one connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// SendTo queues frame on every connection of the given users and returns
// how many connections accepted it. A connection whose queue is full is
// skipped.
func (h *Hub) SendTo(userIDs []string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, id := range userIDs {
		for client := range h.clients[id] {
			select {
			case client.Outgoing <- frame:
				sent++
			default:
			}
		}
	}
	return sent
}

// Clients returns a snapshot of every connected client.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Client
	for _, set := range h.clients {
		for client := range set {
			out = append(out, client)
		}
	}
	return out
}
