package web

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// clientBuffer bounds queued events per client; a stalled socket drops
// events instead of blocking the tick loop.
const clientBuffer = 16

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan types.Event
}

// EventHub pushes coordinator events to websocket clients as JSON.
// Emit never blocks, so the hub can sit directly on the tick path.
type EventHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*wsClient]struct{})}
}

// Emit queues ev for every connected client, dropping per client when
// its buffer is full.
func (h *EventHub) Emit(ev types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handle upgrades the request and serves events until the client goes
// away.
func (h *EventHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan types.Event, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	slog.Info("event client connected", "remote", r.RemoteAddr, "clients", total)

	go h.writeLoop(c)
	h.readLoop(c, r.RemoteAddr)
}

// readLoop drains the socket so close frames are processed; any read
// error means the client is gone.
func (h *EventHub) readLoop(c *wsClient, remote string) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			slog.Info("event client disconnected", "remote", remote)
			return
		}
	}
}

func (h *EventHub) writeLoop(c *wsClient) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			h.drop(c)
			return
		}
	}
}

// drop removes c and closes its channel and socket. Safe to call more
// than once; only the call that removes c from the map tears it down.
func (h *EventHub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	close(c.send)
	c.conn.Close()
}

// Close disconnects all clients and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
}
