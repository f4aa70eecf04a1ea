package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"homewatch-cloud/internal/alerts/application"
	"homewatch-cloud/internal/observability/metrics"
)

const (
	// writeTimeout bounds a single frame write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is the maximum silence tolerated on a connection before it is
	// treated as dead. Every pong resets the deadline.
	pongWait = 60 * time.Second

	// pingPeriod is the server ping interval. Must stay below pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is how many outgoing events a client may lag behind before
	// it is dropped.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks belong to the reverse proxy in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// helloMessage is the first frame every client receives after the upgrade.
type helloMessage struct {
	Type     string `json:"type"`
	ServerTS string `json:"server_ts"`
}

// Hub manages WebSocket observers and pushes every published alert event to
// all of them. It implements application.Broadcaster.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// client represents one connected WebSocket observer.
//
// send is never closed: the client is torn down by closing done (exactly once)
// and the connection, so publishers racing a disconnect can never hit a send
// on a closed channel.
type client struct {
	conn *websocket.Conn
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

func (c *client) close() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Publish fans one alert event out to every connected observer. Delivery is
// best-effort: a client whose buffer is full is disconnected rather than
// allowed to slow the rest, and a client that disconnected between the
// snapshot and the send is skipped.
func (h *Hub) Publish(_ context.Context, event application.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal broadcast event", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		case <-c.done:
			// Client already torn down.
		default:
			// Buffer full: drop the slow client.
			h.unregister(c)
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the observer.
// It sends a hello frame immediately on connect, then forwards every event
// published through the hub. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	defer h.unregister(c)

	if hello, err := json.Marshal(helloMessage{
		Type:     "hello",
		ServerTS: time.Now().UTC().Format(time.RFC3339),
	}); err == nil {
		select {
		case c.send <- hello:
		default:
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.SetStreamClients(len(h.clients))
	return true
}

// unregister drops the client from the hub and tears it down. Safe to call
// more than once and concurrently with Publish.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	metrics.SetStreamClients(len(h.clients))
	h.mu.Unlock()
	c.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
		delete(h.clients, c)
	}
	metrics.SetStreamClients(0)
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

// writePump forwards queued messages to the connection and keeps it alive with
// periodic pings. One goroutine per client; it is the only writer on the
// connection and exits once the client's done channel is closed.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames so pong and close control messages are
// processed, and unblocks ServeHTTP when the peer goes away.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
