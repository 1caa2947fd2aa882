// Package feed pushes live updates to dashboard clients over websockets.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"fusion-svr/internal/observability"
)

// Message types sent to clients.
const (
	TypeEvent  = "cot_event"
	TypeStream = "stream_state"
	TypeTAK    = "tak_state"
	TypePing   = "ping"
	TypePong   = "pong"
)

const broadcastBuffer = 256

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans messages out to every connected client. Clients that cannot keep
// up are dropped.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	stopOnce   sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "feed"),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

// RunWithContext processes registrations and broadcasts until ctx is done,
// then closes every client.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n := h.closeAll()
			h.stopOnce.Do(func() { close(h.stopped) })
			h.logger.Info("feed hub stopped", "clients_closed", n)
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			observability.FeedClients.Set(float64(n))
			h.logger.Info("feed client connected", "client", c.id, "total_clients", n)

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) Serve(ctx context.Context) error { return h.RunWithContext(ctx) }

func (h *Hub) String() string { return "feed-hub" }

// Broadcast queues a message for every client. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(typ string, data any) {
	select {
	case h.broadcast <- Message{Type: typ, Data: data}:
	default:
		h.logger.Warn("broadcast queue full, dropping message", "type", typ)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		c.closeSend()
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		observability.FeedClients.Set(float64(n))
		h.logger.Info("feed client disconnected", "client", c.id, "total_clients", n)
	}
}

func (h *Hub) sortedClients() []*Client {
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (h *Hub) fanOut(msg Message) {
	h.mu.Lock()
	var slow []*Client
	for _, c := range h.sortedClients() {
		if !c.trySend(msg) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
		c.closeSend()
	}
	n := len(h.clients)
	h.mu.Unlock()

	if len(slow) > 0 {
		observability.FeedClients.Set(float64(n))
		h.logger.Warn("dropped slow feed clients", "dropped", len(slow), "total_clients", n)
	}
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.sortedClients()
	for _, c := range clients {
		c.closeSend()
		delete(h.clients, c)
	}
	observability.FeedClients.Set(0)
	return len(clients)
}
