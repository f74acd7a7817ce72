// Package ws provides the robot-side WebSocket hub used by the simulator.
// Each connected operator gets a Client with its own outbound queue; the
// hub fans broadcasts out to every client that has passed the key check and
// routes inbound frames to a single handler.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 3 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
)

// Handler processes one inbound text frame from c.
type Handler func(c *Client, msg []byte)

// Client is one operator connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	authed atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Authenticated reports whether the client passed the key check.
func (c *Client) Authenticated() bool {
	return c.authed.Load()
}

// SetAuthenticated marks the client as allowed to receive broadcasts.
func (c *Client) SetAuthenticated(v bool) {
	c.authed.Store(v)
}

// SendJSON marshals v and queues it for this client only. The frame is
// dropped if the client's queue is full.
func (c *Client) SendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *Client) enqueue(b []byte) {
	select {
	case <-c.done:
	case c.send <- b:
	default:
	}
}

// Finish closes the connection once every frame queued before it has been
// written.
func (c *Client) Finish() {
	select {
	case <-c.done:
	case c.send <- nil:
	}
}

// Close sends a normal close frame and disconnects the client.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
	})
}

// Hub tracks clients and fans out broadcast messages. Register, unregister,
// and broadcast all go through channels serviced by Run.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	stopped    chan struct{}
	upgrader   websocket.Upgrader
	handler    Handler
	log        logrus.FieldLogger
	count      atomic.Int64
}

// NewHub allocates a hub that passes inbound frames to h.
// Call Run in a goroutine to start the event loop.
func NewHub(h Handler, log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []byte, 256),
		stopped:    make(chan struct{}),
		handler:    h,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024 * 64,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Run processes registrations, unregistrations, and broadcasts. When ctx is
// cancelled it flushes and closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.Finish()
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.log.WithField("client", c.RemoteAddr()).Info("client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				h.count.Store(int64(len(h.clients)))
				c.Close()
				h.log.WithField("client", c.RemoteAddr()).Info("client disconnected")
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.Authenticated() {
					c.enqueue(msg)
				}
			}
		}
	}
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		c := &Client{
			hub:  h,
			conn: conn,
			send: make(chan []byte, 64),
			done: make(chan struct{}),
		}
		select {
		case h.register <- c:
		case <-h.stopped:
			c.Close()
			return
		}

		go c.writeLoop()
		go func() {
			c.readLoop()
			select {
			case h.unregister <- c:
			case <-h.stopped:
				c.Close()
			}
		}()
	})
}

func (c *Client) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt == websocket.TextMessage && c.hub.handler != nil {
			c.hub.handler(c, msg)
		}
	}
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if msg == nil {
				c.Close()
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// BroadcastJSON marshals v to JSON and queues it for delivery to every
// authenticated client. If the broadcast channel is full the message is
// silently dropped to avoid blocking the caller.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}
