package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub manages subscriber connections grouped by space.
type Hub struct {
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // space -> clients
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	codec      *Codec
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) (*Hub, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		codec:      codec,
		logger:     logger,
	}, nil
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.groups[client.space] == nil {
				h.groups[client.space] = make(map[*Client]bool)
			}
			h.groups[client.space][client] = true
			h.mu.Unlock()
			h.logger.Debug("subscriber registered",
				zap.String("connID", client.connID),
				zap.String("space_id", client.space),
			)

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if clients, ok := h.groups[client.space]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, client.space)
		}
	}
	close(client.send)
	h.logger.Debug("subscriber unregistered",
		zap.String("connID", client.connID),
		zap.String("space_id", client.space),
	)
}

// shutdown closes all subscriber connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.done)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
	h.codec.Close()
}

// Subscribers returns the number of connections subscribed to a space.
func (h *Hub) Subscribers(spaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[spaceID])
}

// Broadcast sends ev to every subscriber of ev.SpaceID. Each message is
// encoded once per negotiated protocol. Subscribers whose send buffer is
// full are disconnected.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	clients, ok := h.groups[ev.SpaceID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	encoded := make(map[string][]byte, 2)
	for client := range clients {
		msg, ok := encoded[client.protocol]
		if !ok {
			var err error
			msg, err = h.codec.Encode(client.protocol, ev)
			if err != nil {
				h.logger.Error("failed to encode event", zap.String("type", ev.Type), zap.Error(err))
				h.mu.RUnlock()
				return
			}
			encoded[client.protocol] = msg
		}
		select {
		case client.send <- msg:
		default:
			// Buffer full, schedule disconnect
			go func(c *Client) {
				select {
				case h.unregister <- c:
				case <-h.done:
				}
			}(client)
		}
	}
	h.mu.RUnlock()
}

// Clients returns the number of connected subscribers across all spaces.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
