package streaming

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/orbweave/coordinator/internal/common/logger"
)

// Hub fans broadcastMessages out to every client subscribed to one
// session's stream, routing purely by session ID since a stream
// connection never spans sessions.
type Hub struct {
	clients   map[*Client]bool
	bySession map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu  sync.RWMutex
	log *logger.Logger

	// OnDrop, if set, is invoked with the session ID whenever a client's
	// bounded send queue is full and a message had to be dropped, so the
	// caller can publish a gap marker for that session.
	OnDrop func(sessionID string)
}

type broadcastMessage struct {
	sessionID string
	payload   []byte
}

// NewHub constructs a Hub. Call Run to start its processing loop.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		bySession:  make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		log:        log.WithFields(zap.String("component", "streaming_hub")),
	}
}

// Run processes registration and broadcast traffic until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("streaming hub started")
	defer h.log.Info("streaming hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.bySession = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.bySession[client.SessionID] == nil {
				h.bySession[client.SessionID] = make(map[*Client]bool)
			}
			h.bySession[client.SessionID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if set, ok := h.bySession[client.SessionID]; ok {
					delete(set, client)
					if len(set) == 0 {
						delete(h.bySession, client.SessionID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := h.bySession[msg.sessionID]
			recipients := make([]*Client, 0, len(clients))
			for c := range clients {
				recipients = append(recipients, c)
			}
			h.mu.RUnlock()

			dropped := false
			for _, c := range recipients {
				if !c.trySend(msg.payload) {
					dropped = true
				}
			}
			if dropped && h.OnDrop != nil {
				h.OnDrop(msg.sessionID)
			}
		}
	}
}

// Register adds client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast fans payload out to every client currently subscribed to
// sessionID. Never blocks the caller beyond the hub's own buffered
// channel: per-client delivery is always non-blocking.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.broadcast <- &broadcastMessage{sessionID: sessionID, payload: payload}
}

// SubscriberCount reports how many clients are attached to sessionID, for
// diagnostics and tests.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySession[sessionID])
}
