package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robplow/ebike-monitor/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

// MessageSnapshot is the type of messages carrying a StatusView.
const MessageSnapshot = "snapshot"

// Message is the envelope for everything pushed over the WebSocket.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from other origins during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session snapshots out to WebSocket clients. Client bookkeeping
// happens only on the Run goroutine.
type Hub struct {
	ctl        Controller
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      atomic.Int64
}

// NewHub creates a hub streaming ctl's snapshots. Start it with Run.
func NewHub(ctl Controller) *Hub {
	return &Hub{
		ctl:        ctl,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Run forwards snapshots to clients until ctx is done, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	snaps, cancel := h.ctl.Subscribe()
	defer cancel()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			if msg, ok := h.encode(h.ctl.Snapshot()); ok {
				h.deliver(c, msg)
			}
			slog.Debug("[WS] client registered", "clients", len(h.clients))

		case c := <-h.unregister:
			h.drop(c)

		case snap, ok := <-snaps:
			if !ok {
				// Session closed; keep serving clients the final state.
				snaps = nil
				continue
			}
			msg, ok := h.encode(snap)
			if !ok {
				continue
			}
			for c := range h.clients {
				h.deliver(c, msg)
			}
		}
	}
}

func (h *Hub) encode(snap session.Snapshot) ([]byte, bool) {
	msg, err := json.Marshal(Message{
		Type:      MessageSnapshot,
		Timestamp: time.Now().UTC(),
		Payload:   newStatusView(snap, h.ctl),
	})
	if err != nil {
		slog.Error("[WS] encode snapshot", "error", err)
		return nil, false
	}
	return msg, true
}

// deliver queues msg for c, dropping a client that cannot keep up.
func (h *Hub) deliver(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		slog.Warn("[WS] client too slow, disconnecting")
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
	slog.Debug("[WS] client unregistered", "clients", len(h.clients))
}

func (h *Hub) shutdown() {
	close(h.done)
	for c := range h.clients {
		h.drop(c)
	}
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[WS] upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only watches for close and pong frames; clients send nothing
// the server acts on.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("[WS] read error", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
