package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/photoproc/internal/observability"
	"github.com/your-org/photoproc/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	photoID string
}

// Hub fans ops events (dead-lettered jobs) out to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan *dto.OpsEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *dto.OpsEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Run is the hub loop. Call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				observability.WSConnections.Dec()
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "photo_id", c.photoID)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				observability.WSConnections.Dec()
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case evt := <-h.broadcast:
			h.deliver(evt)
		}
	}
}

func (h *Hub) deliver(evt *dto.OpsEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("marshal ops event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.photoID != "" && c.photoID != evt.PhotoID.String() {
			continue
		}
		select {
		case c.send <- data:
		default:
			// slow client
			delete(h.clients, c)
			close(c.send)
			observability.WSConnections.Dec()
		}
	}
}

// Broadcast queues an event without blocking; it is dropped if the hub
// is backed up.
func (h *Hub) Broadcast(evt *dto.OpsEvent) {
	select {
	case <-h.done:
	case h.broadcast <- evt:
	default:
		slog.Warn("ops event dropped", "photo_id", evt.PhotoID, "type", evt.Type)
	}
}

// HandleWS upgrades the request. An optional photo_id query narrows the feed.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	cl := &client{
		conn:    conn,
		send:    make(chan []byte, 64),
		photoID: c.Query("photo_id"),
	}
	select {
	case h.register <- cl:
	case <-h.done:
		conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
