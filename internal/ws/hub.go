package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client represents a connected WebSocket session scoped to one tenant.
type Client struct {
	hub      *Hub
	tenantID string
	conn     *websocket.Conn
	send     chan []byte
}

// Hub maintains per-tenant sets of live sessions and fans events out to them.
type Hub struct {
	mu      sync.Mutex
	tenants map[string]map[*Client]bool
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		tenants: make(map[string]map[*Client]bool),
		logger:  logger,
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tenants[client.tenantID] == nil {
		h.tenants[client.tenantID] = make(map[*Client]bool)
	}
	h.tenants[client.tenantID][client] = true
	h.logger.Debug("WebSocket client registered", zap.String("tenantID", client.tenantID))
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.tenants[client.tenantID]
	if clients == nil {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.send)
	}
	if len(clients) == 0 {
		delete(h.tenants, client.tenantID)
	}
}

// Publish fans an event out to every live session of one tenant. Sessions
// that cannot keep up are dropped rather than blocking the caller.
func (h *Hub) Publish(tenantID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Error marshaling WS event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.tenants[tenantID] {
		select {
		case client.send <- payload:
		default:
			close(client.send)
			delete(h.tenants[tenantID], client)
		}
	}
}

// ServeWs upgrades an HTTP request into a live session for the tenant named
// in the route.
func (h *Hub) ServeWs(c *gin.Context) {
	tenantID := c.Param("tenantId")
	if tenantID == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade error", zap.Error(err))
		return
	}

	client := &Client{hub: h, tenantID: tenantID, conn: conn, send: make(chan []byte, 256)}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// We don't expect messages FROM the client, just heartbeats or nothing.
	}
}

func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
