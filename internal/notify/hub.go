// Package notify pushes toasts and reminder alerts to connected browsers over WebSocket.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrNoListeners is returned by Alert when the user has no open connection.
var ErrNoListeners = errors.New("no connected clients")

const defaultWriteTimeout = 5 * time.Second

// Hub tracks open event connections per user.
type Hub struct {
	mu           sync.RWMutex
	active       map[string]map[string]*websocket.Conn
	writeTimeout time.Duration
	onDeliver    func(kind string, delivered int)
	onPresence   func(userID string, online bool)
}

// NewHub creates a hub. Each write is bounded by writeTimeout.
func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Hub{
		active:       make(map[string]map[string]*websocket.Conn),
		writeTimeout: writeTimeout,
	}
}

// OnDeliver registers a hook observing how many connections received each notification.
func (h *Hub) OnDeliver(fn func(kind string, delivered int)) {
	h.onDeliver = fn
}

// OnPresence registers a hook called when a user opens their first
// connection (online) or loses their last one (offline). It runs outside the
// hub lock and is not called by Close.
func (h *Hub) OnPresence(fn func(userID string, online bool)) {
	h.onPresence = fn
}

func (h *Hub) presence(userID string, online bool) {
	if h.onPresence != nil {
		h.onPresence(userID, online)
	}
}

// Register adds a connection for a user.
func (h *Hub) Register(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	first := len(h.active[userID]) == 0
	if first {
		h.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := h.active[userID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.active[userID][connID] = conn
	h.mu.Unlock()

	slog.Debug("Event stream registered", "user_id", userID, "conn_id", connID)
	if first {
		h.presence(userID, true)
	}
}

// Unregister removes a connection if it is still the one registered under connID.
func (h *Hub) Unregister(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	removed, last := false, false
	if conns, ok := h.active[userID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			removed = true
			if len(conns) == 0 {
				delete(h.active, userID)
				last = true
			}
		}
	}
	h.mu.Unlock()

	if removed {
		slog.Debug("Event stream unregistered", "user_id", userID, "conn_id", connID)
	}
	if last {
		h.presence(userID, false)
	}
}

// CloseUser terminates every connection of a user.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	conns := h.active[userID]
	delete(h.active, userID)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.CloseNow()
	}
	if len(conns) > 0 {
		slog.Info("Event streams closed", "user_id", userID, "count", len(conns))
		h.presence(userID, false)
	}
}

// Connections returns how many connections a user has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// Total returns the number of open connections across all users.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.active {
		n += len(conns)
	}
	return n
}

func (h *Hub) snapshot(userID string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(h.active[userID]))
	for _, c := range h.active[userID] {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) send(userID string, n domain.Notification) int {
	delivered := 0
	for _, conn := range h.snapshot(userID) {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		err := wsjson.Write(ctx, conn, n)
		cancel()
		if err != nil {
			slog.Debug("Event write failed", "user_id", userID, "kind", n.Kind, "error", err)
			continue
		}
		delivered++
	}
	if h.onDeliver != nil {
		h.onDeliver(n.Kind, delivered)
	}
	return delivered
}

// Notify sends a toast. Delivery is best effort.
func (h *Hub) Notify(userID string, n domain.Notification) {
	h.send(userID, n)
}

// Alert sends a reminder alert. sound asks the client to play the chime.
func (h *Hub) Alert(userID, message string, sound bool) error {
	n := domain.Notification{Kind: "reminder", Level: domain.LevelInfo, Message: message, Sound: sound}
	if h.send(userID, n) == 0 {
		return ErrNoListeners
	}
	return nil
}

// Close terminates all connections.
func (h *Hub) Close() {
	h.mu.Lock()
	active := h.active
	h.active = make(map[string]map[string]*websocket.Conn)
	h.mu.Unlock()

	for _, conns := range active {
		for _, conn := range conns {
			_ = conn.CloseNow()
		}
	}
}
