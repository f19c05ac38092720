// Package realtime maps user identities to active delivery channels and
// dispatches notifications over them. Delivery is best-effort: a user with no
// connection simply misses the notification; nothing is queued or retried.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/alphainsights/portfolio-engine/internal/metrics"
	"github.com/alphainsights/portfolio-engine/internal/model"
)

// Channel is one user's delivery endpoint. The websocket implementation lives
// in this package; tests substitute in-memory channels.
type Channel interface {
	Send(n model.Notification) error
	Close() error
}

// Hub is the connection registry and notification dispatcher. At most one
// channel is active per user; a new Register for the same user closes the
// previous channel (last connect wins).
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Channel
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]Channel)}
}

// Register binds a channel to userID, replacing and closing any prior one.
func (h *Hub) Register(userID string, ch Channel) {
	h.mu.Lock()
	prev := h.conns[userID]
	h.conns[userID] = ch
	h.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	metrics.ConnectedUsers.Set(float64(h.Count()))
	slog.Info("user connected", "user", userID)
}

// Unregister removes the user's channel, closing it if present.
func (h *Hub) Unregister(userID string) {
	h.mu.Lock()
	ch := h.conns[userID]
	delete(h.conns, userID)
	h.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	metrics.ConnectedUsers.Set(float64(h.Count()))
	slog.Info("user disconnected", "user", userID)
}

// detach removes userID only while ch is still its current channel. Used by
// the websocket read pump so a stale connection's teardown cannot evict a
// fresh one registered after a reconnect.
func (h *Hub) detach(userID string, ch Channel) {
	h.mu.Lock()
	current, ok := h.conns[userID]
	if ok && current == ch {
		delete(h.conns, userID)
	}
	h.mu.Unlock()

	ch.Close()
	metrics.ConnectedUsers.Set(float64(h.Count()))
}

// Dispatch delivers a notification to userID's channel if one is registered.
// Absent users and failed sends drop the notification; a failed send also
// tears the channel down.
func (h *Hub) Dispatch(userID string, n model.Notification) {
	h.mu.RLock()
	ch, ok := h.conns[userID]
	h.mu.RUnlock()

	if !ok {
		metrics.NotificationsDropped.WithLabelValues(n.Type).Inc()
		return
	}

	if err := ch.Send(n); err != nil {
		metrics.NotificationsDropped.WithLabelValues(n.Type).Inc()
		slog.Warn("notification send failed", "user", userID, "type", n.Type, "err", err)
		h.detach(userID, ch)
		return
	}
	metrics.NotificationsDispatched.WithLabelValues(n.Type).Inc()
}

// Connected reports whether userID has an active channel.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// ConnectedUsers returns the ids of all users with an active channel.
func (h *Hub) ConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		out = append(out, userID)
	}
	return out
}

// Count returns the number of connected users.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
