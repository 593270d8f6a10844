// Package realtime keeps the websocket connection registry and answers the
// liveness question the chat fanout needs: is this user currently viewing a
// chat. One user may hold several connections (tabs, devices).
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// sendBuffer is per-connection; a full buffer drops the frame rather
	// than blocking the fanout path.
	sendBuffer = 32

	idleTimeout  = 2 * time.Minute
	reapInterval = time.Minute
)

// Client is one live connection. The ws handler owns the conn and pumps;
// the hub only sees the outbox channel.
type Client struct {
	UserID string

	hub          *Hub
	send         chan []byte
	activeChat   string
	lastActivity time.Time
	closed       bool
}

// Outbox exposes the frames queued for this connection.
func (c *Client) Outbox() <-chan []byte { return c.send }

// Touch records activity on the connection.
func (c *Client) Touch() {
	c.hub.mu.Lock()
	c.lastActivity = time.Now()
	c.hub.mu.Unlock()
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
	log     *zap.Logger
	stop    chan struct{}
}

func NewHub(log *zap.Logger) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		byUser:  make(map[string]map[*Client]struct{}),
		log:     log,
		stop:    make(chan struct{}),
	}
	go h.reapLoop()
	return h
}

// Register adds a connection for the user and returns its client handle.
func (h *Hub) Register(userID string) *Client {
	c := &Client{
		UserID:       userID,
		hub:          h,
		send:         make(chan []byte, sendBuffer),
		lastActivity: time.Now(),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*Client]struct{})
	}
	h.byUser[userID][c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("ws client registered", zap.String("userId", userID))
	return c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	delete(h.clients, c)
	if set := h.byUser[c.UserID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	close(c.send)
}

// SetActiveChat records which chat the connection is viewing; an empty id
// means the user left the chat view.
func (h *Hub) SetActiveChat(c *Client, chatID string) {
	h.mu.Lock()
	c.activeChat = chatID
	c.lastActivity = time.Now()
	h.mu.Unlock()
}

// IsUserInActiveChat reports whether any of the user's connections is
// viewing the given chat.
func (h *Hub) IsUserInActiveChat(userID, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		if c.activeChat == chatID {
			return true
		}
	}
	return false
}

// IsUserInAnyActiveChat reports whether the user is viewing any chat.
func (h *Hub) IsUserInAnyActiveChat(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		if c.activeChat != "" {
			return true
		}
	}
	return false
}

// SendToUser pushes a generic event frame to every connection of the user.
// Returns false when the user has no live connections.
func (h *Hub) SendToUser(userID string, payload any) bool {
	return h.emit(userID, "notification", payload)
}

// SendChatMessage pushes a chat event frame to every connection of the user.
func (h *Hub) SendChatMessage(userID string, payload any) bool {
	return h.emit(userID, "chat_message", payload)
}

func (h *Hub) emit(userID, event string, payload any) bool {
	frame, err := json.Marshal(map[string]any{
		"event":  event,
		"data":   payload,
		"sentAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.log.Error("ws frame marshal failed", zap.Error(err))
		return false
	}

	// The sends stay under the read lock: outboxes are only closed while
	// the write lock is held, so a concurrent unregister can never close a
	// channel mid-send here. The sends never block (buffered + drop).
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.byUser[userID]) == 0 {
		return false
	}

	for c := range h.byUser[userID] {
		select {
		case c.send <- frame:
		default:
			h.log.Warn("ws outbox full, dropping frame",
				zap.String("userId", userID),
				zap.String("event", event))
		}
	}
	return true
}

// ConnectedUsers lists users with at least one live connection.
func (h *Hub) ConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		out = append(out, id)
	}
	return out
}

// Close stops the reaper and drops every connection.
func (h *Hub) Close() {
	close(h.stop)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.reap()
		}
	}
}

func (h *Hub) reap() {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if now.Sub(c.lastActivity) > idleTimeout {
			h.log.Info("closing idle ws connection", zap.String("userId", c.UserID))
			h.removeLocked(c)
		}
	}
}
