package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xelth-com/reportsync/internal/ledger"
	"go.uber.org/zap"
)

// outbound is one encoded event and its type for subscription filtering
type outbound struct {
	eventType string
	payload   []byte
}

// directMessage is addressed to one client
type directMessage struct {
	client  *Client
	payload []byte
}

// Hub keeps the connected listeners and fans ledger events out to them
type Hub struct {
	// Registered clients: ClientID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	direct     chan directMessage
	done       chan struct{}

	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
		direct:     make(chan directMessage, 16),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		log:        log.With(zap.String("component", "ws_hub")),
	}
}

// Run is the hub's main loop; it closes every client when ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ClientID] = client
			h.mu.Unlock()
			h.log.Debug("listener connected", zap.String("client_id", client.ClientID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ClientID]; ok {
				delete(h.clients, client.ClientID)
				close(client.send)
				h.log.Debug("listener disconnected", zap.String("client_id", client.ClientID))
			}
			h.mu.Unlock()

		case msg := <-h.direct:
			h.mu.RLock()
			if _, ok := h.clients[msg.client.ClientID]; ok {
				select {
				case msg.client.send <- msg.payload:
				default:
				}
			}
			h.mu.RUnlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(msg.eventType) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Slow listener: drop it rather than stall the feed
					delete(h.clients, id)
					close(client.send)
					h.log.Warn("dropping slow listener", zap.String("client_id", id))
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Notify implements ledger.Notifier. It never blocks; events are dropped
// when the broadcast buffer is full.
func (h *Hub) Notify(e ledger.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error("failed to encode event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{eventType: e.Type, payload: payload}:
	default:
		h.log.Warn("event feed full, dropping event", zap.String("type", e.Type))
	}
}

// ClientCount reports the number of connected listeners
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
