package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/quizrace/internal/domain"
)

// Message types
const (
	MessageTypeGameEvent   = "game_event"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Message represents a WebSocket message on the round feed
type Message struct {
	Type      string      `json:"type"`
	RoundID   string      `json:"round_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains the set of active clients and broadcasts round
// progress events to their subscribers
type Hub struct {
	// Registered clients by round ID
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Inbound messages to broadcast
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client  *Client
	roundID string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Remove from all round subscriptions
				for roundID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, roundID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.roundID]; !ok {
				h.clients[req.roundID] = make(map[*Client]bool)
			}
			h.clients[req.roundID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "round_id", req.roundID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.roundID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.roundID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "round_id", req.roundID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to all subscribed clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	// If message has a round ID, only send to subscribed clients
	if message.RoundID != "" {
		for client := range h.clients[message.RoundID] {
			client.enqueue(data)
		}
		return
	}
	for client := range h.allClients {
		client.enqueue(data)
	}
}

// clientCommand is the inbound feed protocol: subscribe or unsubscribe
// to a round, plus an application-level ping
type clientCommand struct {
	Type    string `json:"type"`
	RoundID string `json:"round_id,omitempty"`
}

// handleClientCommand applies one inbound frame from a feed client.
// Malformed frames get an error reply; the connection stays open.
func (h *Hub) handleClientCommand(c *Client, frame []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(frame, &cmd); err != nil {
		h.logger.Warn("invalid message format", "client_id", c.id, "error", err)
		h.reply(c, &Message{Type: MessageTypeError, Data: map[string]string{"error": "invalid message format"}})
		return
	}

	switch cmd.Type {
	case MessageTypeSubscribe:
		if cmd.RoundID == "" {
			h.reply(c, &Message{Type: MessageTypeError, Data: map[string]string{"error": "round_id required for subscribe"}})
			return
		}
		h.Subscribe(c, cmd.RoundID)
		h.reply(c, &Message{Type: "subscribed", RoundID: cmd.RoundID, Data: map[string]string{"status": "ok"}})

	case MessageTypeUnsubscribe:
		if cmd.RoundID == "" {
			return
		}
		h.Unsubscribe(c, cmd.RoundID)
		h.reply(c, &Message{Type: "unsubscribed", RoundID: cmd.RoundID, Data: map[string]string{"status": "ok"}})

	case MessageTypePing:
		h.reply(c, &Message{Type: MessageTypePong})

	default:
		h.logger.Debug("unknown message type", "type", cmd.Type)
	}
}

// reply marshals and queues a message for a single client
func (h *Hub) reply(c *Client, msg *Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}
	c.enqueue(data)
}

// BroadcastGameEvent sends a round progress event to the round's
// subscribers. Answers and correctness stay server-side: the feed only
// ever carries what spectators may see.
func (h *Hub) BroadcastGameEvent(roundID string, ev domain.GameEvent) {
	message := &Message{
		Type:      MessageTypeGameEvent,
		RoundID:   roundID,
		Data:      ev,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a round subscription
func (h *Hub) Subscribe(client *Client, roundID string) {
	h.subscribe <- &subscriptionRequest{
		client:  client,
		roundID: roundID,
	}
}

// Unsubscribe removes a client from a round subscription
func (h *Hub) Unsubscribe(client *Client, roundID string) {
	h.unsubscribe <- &subscriptionRequest{
		client:  client,
		roundID: roundID,
	}
}

// GetSubscriberCount returns the number of subscribers for a round
func (h *Hub) GetSubscriberCount(roundID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[roundID]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
