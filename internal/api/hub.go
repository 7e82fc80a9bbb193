package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type HubConfig struct {
	// Publisher relays room broadcasts to other processes. Optional.
	Publisher *Publisher
	Metrics   prometheus.Registerer
}

// Hub tracks websocket clients and the rooms they listen to. Sends never block: a client
// whose buffer is full is disconnected.
type Hub struct {
	pub *Publisher
	m   *metrics

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewHub(c HubConfig) *Hub {
	return &Hub{
		pub:     c.Publisher,
		m:       newMetrics(c.Metrics),
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Broadcast sends an event to the clients subscribed to a room.
func (h *Hub) Broadcast(ctx context.Context, roomID, event string, payload any) {
	b, ok := h.marshal(ctx, Notification{Event: event, Data: payload})
	if !ok {
		return
	}

	h.mu.RLock()
	slow := h.sendLocked(h.rooms[roomID], b)
	h.mu.RUnlock()

	h.drop(ctx, slow)

	if h.pub != nil {
		h.pub.Enqueue(ctx, roomID, b)
	}
}

// BroadcastAll sends an event to every connected client.
func (h *Hub) BroadcastAll(ctx context.Context, event string, payload any) {
	b, ok := h.marshal(ctx, Notification{Event: event, Data: payload})
	if !ok {
		return
	}

	h.mu.RLock()
	slow := h.sendLocked(h.clients, b)
	h.mu.RUnlock()

	h.drop(ctx, slow)
}

// Deliver sends a notification to a single client.
func (h *Hub) Deliver(ctx context.Context, c *Client, n Notification) {
	b, ok := h.marshal(ctx, n)
	if !ok {
		return
	}

	h.mu.RLock()
	var slow []*Client
	if _, ok := h.clients[c]; ok {
		slow = h.sendLocked(map[*Client]struct{}{c: {}}, b)
	}
	h.mu.RUnlock()

	h.drop(ctx, slow)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.m.connections.Inc()
}

func (h *Hub) subscribe(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}

	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.rooms[roomID] = subs
	}
	subs[c] = struct{}{}
	c.rooms[roomID] = struct{}{}
}

// unregister removes the client and closes its send buffer. It is safe to call more than once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	for roomID := range c.rooms {
		subs := h.rooms[roomID]
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}

	close(c.send)
	h.m.connections.Dec()
}

func (h *Hub) sendLocked(clients map[*Client]struct{}, b []byte) []*Client {
	var slow []*Client
	for c := range clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	return slow
}

func (h *Hub) drop(ctx context.Context, slow []*Client) {
	for _, c := range slow {
		slog.WarnContext(ctx, "ws: client too slow, disconnecting", "client", c.id)
		h.m.dropped.WithLabelValues(dropSlowClient).Inc()
		h.unregister(c)
	}
}

func (h *Hub) marshal(ctx context.Context, n Notification) ([]byte, bool) {
	b, err := json.Marshal(n)
	if err != nil {
		slog.ErrorContext(ctx, "ws: marshal notification failed", "event", n.Event, "error", err)
		return nil, false
	}
	return b, true
}
