package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tms-tools/teamcal/internal/logging"
)

// Kind labels a domain event.
type Kind string

const (
	TaskCreated Kind = "task.created"
	TaskUpdated Kind = "task.updated"
	TaskDeleted Kind = "task.deleted"
)

// Event is the outbound domain event the web layer subscribes to. It
// replaces any process-wide side channel: the service layer publishes,
// transports subscribe.
type Event struct {
	Kind   Kind      `json:"kind"`
	TaskID string    `json:"taskId"`
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// Publisher delivers domain events to interested parties.
type Publisher interface {
	Publish(event Event)
}

// Discard is a Publisher that drops every event. Useful in tests and for
// CLI commands that have no subscribers.
type Discard struct{}

func (Discard) Publish(Event) {}

// Hub fans events out to connected websocket clients. It implements both
// Publisher and http.Handler; mount it on the /ws route.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates a hub with no connected clients.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", slog.Int("clients", n))

	// Reads are discarded; the socket is outbound-only. The read loop
	// exists to detect the client closing.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish sends the event to every connected client. Clients that fail to
// accept the write are dropped.
func (h *Hub) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", logging.Err(err))
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(c)
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		conn.Close()
		h.logger.Debug("websocket client disconnected")
	}
}
