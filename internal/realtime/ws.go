package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alphainsights/portfolio-engine/internal/model"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// wsChannel adapts a websocket connection to the Channel interface.
// gorilla/websocket allows one concurrent writer, so sends and pings share a
// mutex. done is closed on the first Close; the ping loop keys off it rather
// than the hub's registry, which after a reconnect holds the replacement
// channel under the same user id.
type wsChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn, done: make(chan struct{})}
}

func (c *wsChannel) Send(n model.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(n)
}

func (c *wsChannel) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close is idempotent: both the read pump's detach and a replacement
// Register may close the same channel.
func (c *wsChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

// HandleWS handles websocket upgrade requests at GET /api/v1/ws?user_id=...
// Authentication happens upstream; by the time a request reaches here the
// user_id is trusted.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "user", userID, "err", err)
		return
	}

	ch := newWSChannel(conn)
	h.Register(userID, ch)

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer h.detach(userID, ch)
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(readDeadline))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Ping ticker to keep the connection alive through proxies. Exits when
	// this channel closes, not when the user id drops out of the registry.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ch.done:
				return
			case <-ticker.C:
				if err := ch.ping(); err != nil {
					return
				}
			}
		}
	}()
}
