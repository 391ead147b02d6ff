package pool

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"WeGo/server/internal/services"
)

// StatusStore persists the online flag on presence edges.
type StatusStore interface {
	SetOnline(ctx context.Context, userID int, online bool) error
}

// Frame is the wire envelope of every realtime event.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StatusPayload is the data of userStatusChanged.
type StatusPayload struct {
	UserID   int  `json:"userId"`
	IsOnline bool `json:"isOnline"`
}

// Hub owns every live connection, the per-chat channel subscriptions and the
// presence registry. It satisfies the services notifier contract; delivery is
// best effort and never blocks on a slow client.
type Hub struct {
	registry *Registry
	status   StatusStore

	mu    sync.RWMutex
	conns map[string]*Client
	rooms map[int]map[string]*Client
}

func NewHub(status StatusStore) *Hub {
	return &Hub{
		registry: NewRegistry(),
		status:   status,
		conns:    make(map[string]*Client),
		rooms:    make(map[int]map[string]*Client),
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

// Add registers a freshly upgraded connection. On the user's first handle the
// online flag is persisted and userStatusChanged goes out to everyone.
func (h *Hub) Add(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()

	if h.registry.Join(c) {
		if err := h.status.SetOnline(ctx, c.UserID, true); err != nil {
			log.Printf("Failed to persist online status for user %d: %v", c.UserID, err)
		}
		h.ToAll(services.EventUserStatusChanged, StatusPayload{UserID: c.UserID, IsOnline: true})
	}
	log.Printf("Connection %s added for user %d", c.ID, c.UserID)
}

// Remove tears the connection down: every subscription goes, the write pump
// stops, and on the user's last handle the offline edge fires.
func (h *Hub) Remove(ctx context.Context, c *Client) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	for chatID, room := range h.rooms {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
	h.mu.Unlock()
	c.Close()

	if h.registry.Leave(c) {
		if err := h.status.SetOnline(ctx, c.UserID, false); err != nil {
			log.Printf("Failed to persist offline status for user %d: %v", c.UserID, err)
		}
		h.ToAll(services.EventUserStatusChanged, StatusPayload{UserID: c.UserID, IsOnline: false})
	}
	log.Printf("Connection %s removed for user %d", c.ID, c.UserID)
}

// Subscribe attaches the connection to a chat channel. The caller is
// responsible for having checked chat membership first.
func (h *Hub) Subscribe(chatID int, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[chatID] = room
	}
	room[c.ID] = c
}

func (h *Hub) Unsubscribe(chatID int, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[chatID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// ToChat publishes to every subscriber of the chat channel except the
// excluded connection.
func (h *Hub) ToChat(chatID int, event string, data any, excludeConn string) {
	frame, err := marshalFrame(event, data)
	if err != nil {
		log.Printf("Failed to marshal %s frame: %v", event, err)
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[chatID]))
	for id, c := range h.rooms[chatID] {
		if id != excludeConn {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, event, frame)
}

// ToUser publishes to every handle the user currently holds.
func (h *Hub) ToUser(userID int, event string, data any) {
	frame, err := marshalFrame(event, data)
	if err != nil {
		log.Printf("Failed to marshal %s frame: %v", event, err)
		return
	}
	h.deliver(h.registry.HandlesFor(userID), event, frame)
}

// ToAll publishes to every connection.
func (h *Hub) ToAll(event string, data any) {
	frame, err := marshalFrame(event, data)
	if err != nil {
		log.Printf("Failed to marshal %s frame: %v", event, err)
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.deliver(targets, event, frame)
}

func (h *Hub) deliver(targets []*Client, event string, frame []byte) {
	for _, c := range targets {
		if !c.TrySend(frame) {
			log.Printf("Dropped %s frame for connection %s (buffer full)", event, c.ID)
		}
	}
}

func marshalFrame(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}
