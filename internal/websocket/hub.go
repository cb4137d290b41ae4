package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/webrana-mailengine/internal/models"
)

// EventType represents the type of WebSocket message
type EventType string

const (
	EventSubscribe     EventType = "subscribe"
	EventUnsubscribe   EventType = "unsubscribe"
	EventMessageStored EventType = "message_stored"
	EventSyncCompleted EventType = "sync_completed"
	EventError         EventType = "error"
)

// Event is one frame exchanged with a client
type Event struct {
	Type      EventType     `json:"type"`
	AccountID uint          `json:"account_id,omitempty"`
	Message   *MessageEvent `json:"message,omitempty"`
	Sync      *SyncEvent    `json:"sync,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// MessageEvent describes a newly stored message
type MessageEvent struct {
	ID        uint             `json:"id"`
	ThreadID  uint             `json:"thread_id"`
	Direction models.Direction `json:"direction"`
	From      string           `json:"from"`
	FromName  string           `json:"from_name,omitempty"`
	Subject   string           `json:"subject,omitempty"`
	Snippet   string           `json:"snippet,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// SyncEvent describes a finished sync
type SyncEvent struct {
	MessageCount int       `json:"message_count"`
	NewMessages  int       `json:"new_messages"`
	SyncedAt     time.Time `json:"synced_at"`
}

// Hub maintains the set of active clients and fans account events out to
// the clients subscribed to that account
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Account subscriptions: accountID -> set of clients
	subscriptions map[uint]map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest
	broadcast   chan *broadcastMessage
	done        chan struct{}
	stopOnce    sync.Once

	mu sync.RWMutex

	logger *slog.Logger
}

type subscriptionRequest struct {
	client    *Client
	accountID uint
}

type broadcastMessage struct {
	accountID uint
	data      []byte
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[uint]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan *subscriptionRequest),
		unsubscribe:   make(chan *subscriptionRequest),
		broadcast:     make(chan *broadcastMessage, 256),
		done:          make(chan struct{}),
		logger:        logger,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.subscriptions = make(map[uint]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", slog.String("user_id", client.userID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for accountID, subscribers := range h.subscriptions {
					delete(subscribers, client)
					if len(subscribers) == 0 {
						delete(h.subscriptions, accountID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", slog.String("user_id", client.userID))

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.client]; ok {
				if h.subscriptions[req.accountID] == nil {
					h.subscriptions[req.accountID] = make(map[*Client]bool)
				}
				h.subscriptions[req.accountID][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed to account", slog.Uint64("account_id", uint64(req.accountID)))

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if subscribers, ok := h.subscriptions[req.accountID]; ok {
				delete(subscribers, req.client)
				if len(subscribers) == 0 {
					delete(h.subscriptions, req.accountID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.subscriptions[msg.accountID] {
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends Run and closes every client's send channel
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe subscribes a client to an account
func (h *Hub) Subscribe(client *Client, accountID uint) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, accountID: accountID}:
	case <-h.done:
	}
}

// Unsubscribe unsubscribes a client from an account
func (h *Hub) Unsubscribe(client *Client, accountID uint) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, accountID: accountID}:
	case <-h.done:
	}
}

// Subscribers returns the number of clients subscribed to accountID
func (h *Hub) Subscribers(accountID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[accountID])
}

// MessageStored publishes a message_stored event to the account's subscribers
func (h *Hub) MessageStored(msg *models.EmailMessage) {
	h.publish(Event{
		Type:      EventMessageStored,
		AccountID: msg.AccountID,
		Message: &MessageEvent{
			ID:        msg.ID,
			ThreadID:  msg.ThreadID,
			Direction: msg.Direction,
			From:      msg.FromAddress,
			FromName:  msg.FromName,
			Subject:   msg.Subject,
			Snippet:   msg.Snippet,
			Timestamp: msg.Timestamp,
		},
	})
}

// SyncCompleted publishes a sync_completed event to the account's subscribers
func (h *Hub) SyncCompleted(accountID uint, messageCount, newMessages int, at time.Time) {
	h.publish(Event{
		Type:      EventSyncCompleted,
		AccountID: accountID,
		Sync: &SyncEvent{
			MessageCount: messageCount,
			NewMessages:  newMessages,
			SyncedAt:     at,
		},
	})
}

// publish never blocks the caller; events are dropped when the queue is full
func (h *Hub) publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", slog.Any("error", err))
		return
	}

	select {
	case h.broadcast <- &broadcastMessage{accountID: event.AccountID, data: data}:
	default:
		h.logger.Warn("event queue full, dropping event",
			slog.String("type", string(event.Type)),
			slog.Uint64("account_id", uint64(event.AccountID)))
	}
}
