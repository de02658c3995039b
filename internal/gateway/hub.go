package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-coach/internal/controller"
	"github.com/lexiqai/speech-coach/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendQueue  = 32
)

// Hub pushes every controller View to the connected WebSocket clients
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	version uint64
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a hub accepting connections from the given origins
func NewHub(origins *OriginPolicy) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     origins.Check,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  observability.Component("gateway"),
		clients: make(map[*client]struct{}),
	}
}

// Publish sends v to every client. Views older than the last published one
// are dropped. A client whose queue is full is disconnected.
func (h *Hub) Publish(v controller.View) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode view")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if v.Version < h.version {
		return
	}
	h.version = v.Version
	h.last = payload

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn().Str("client_id", c.id).Msg("Client too slow; disconnecting")
			observability.RecordGatewayDrop()
			delete(h.clients, c)
			c.close()
		}
	}
	observability.SetGatewayClients(len(h.clients))
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams views until the peer goes away.
// initial is sent first when nothing has been published yet.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial controller.View) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendQueue),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	first := h.last
	if first == nil || initial.Version > h.version {
		first, _ = json.Marshal(initial)
	}
	c.send <- first
	h.clients[c] = struct{}{}
	observability.SetGatewayClients(len(h.clients))
	h.mu.Unlock()

	logger := h.logger.With().Str("client_id", c.id).Logger()
	logger.Info().Msg("WebSocket client connected")

	go h.readPump(c, logger)
	h.writePump(c, logger)

	h.mu.Lock()
	delete(h.clients, c)
	observability.SetGatewayClients(len(h.clients))
	h.mu.Unlock()
	conn.Close()
	logger.Info().Msg("WebSocket client disconnected")
}

// readPump discards inbound messages and notices when the peer closes
func (h *Hub) readPump(c *client, logger zerolog.Logger) {
	defer c.close()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// CloseAll disconnects every client
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
	observability.SetGatewayClients(0)
}
