package websocket

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wricardo/mapnudge-relay/relay/config"
)

// Dispatcher consumes connection events. The hub calls it from a single
// goroutine, one event at a time.
type Dispatcher interface {
	HandleMessage(connID string, frame []byte) error
	Disconnect(connID string)
}

// Client is one WebSocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// ID returns the connection id assigned at upgrade time.
func (c *Client) ID() string { return c.id }

type inbound struct {
	client *Client
	frame  []byte
}

// Hub owns every live connection and serializes all of their events
// through one loop.
type Hub struct {
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	// Only touched by the Run goroutine.
	dispatcher Dispatcher
	clients    map[string]*Client
	evict      []*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	connections atomic.Int64
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(cfg config.WebSocketConfig, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers on any origin may connect, matching the CORS policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:     logger.Named("websocket"),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop and blocks until ctx is cancelled.
// Every registration, inbound frame and disconnect is handed to d in
// arrival order, and each one finishes before the next starts.
func (h *Hub) Run(ctx context.Context, d Dispatcher) {
	h.dispatcher = d
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client.id] = client
			h.connections.Add(1)
			h.logger.Info("client connected",
				zap.String("conn_id", client.id),
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
			)

		case client := <-h.unregister:
			if h.clients[client.id] == client {
				h.drop(client)
				h.flushEvictions()
			}

		case msg := <-h.inbound:
			if h.clients[msg.client.id] != msg.client {
				continue
			}
			h.dispatch(msg.client, msg.frame)
			h.flushEvictions()
		}
	}
}

// Send queues frame for connID without blocking. A client whose queue is
// full is evicted once the current event has been handled. Send must only
// be called from the Dispatcher.
func (h *Hub) Send(connID string, frame []byte) {
	client, ok := h.clients[connID]
	if !ok {
		return
	}
	select {
	case client.send <- frame:
	default:
		for _, c := range h.evict {
			if c == client {
				return
			}
		}
		h.logger.Warn("send buffer full, evicting client", zap.String("conn_id", connID))
		h.evict = append(h.evict, client)
	}
}

// ConnectionCount reports the number of registered connections. Safe to
// call from any goroutine.
func (h *Hub) ConnectionCount() int {
	return int(h.connections.Load())
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// dispatch runs one inbound frame through the dispatcher. A panic is logged
// and the offending client is evicted; the loop keeps running.
func (h *Hub) dispatch(client *Client, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("dispatcher panic",
				zap.String("conn_id", client.id),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			h.evict = append(h.evict, client)
		}
	}()

	if err := h.dispatcher.HandleMessage(client.id, frame); err != nil {
		h.logger.Debug("message rejected", zap.String("conn_id", client.id), zap.Error(err))
	}
}

func (h *Hub) disconnect(connID string) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("dispatcher panic on disconnect",
				zap.String("conn_id", connID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	h.dispatcher.Disconnect(connID)
}

// drop forgets client, closes its queue and runs the leave path for it.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client.id)
	close(client.send)
	h.connections.Add(-1)
	h.logger.Info("client disconnected", zap.String("conn_id", client.id))
	h.disconnect(client.id)
}

// flushEvictions drops slow clients collected during the last event. Their
// leave broadcasts may fill other queues, so it repeats until none remain.
func (h *Hub) flushEvictions() {
	for len(h.evict) > 0 {
		client := h.evict[0]
		h.evict = h.evict[1:]
		if h.clients[client.id] == client {
			h.drop(client)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.send)
		h.connections.Add(-1)
	}
	h.evict = nil
	h.logger.Info("hub stopped")
}

// readPump pumps frames from the WebSocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		select {
		case c.hub.inbound <- inbound{client: c, frame: frame}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps frames from the hub to the WebSocket connection. Each
// queued frame is written as its own text message.
func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
