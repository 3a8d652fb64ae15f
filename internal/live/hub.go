// Package live pushes readings to subscribers as they are produced: a
// websocket fan-out hub and an MQTT publisher. Delivery is best effort; a
// slow subscriber loses frames, never stalls the session.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/upright-data/posture.report/internal/monitoring"
	"github.com/upright-data/posture.report/internal/posture"
)

const (
	// clientQueueSize is the per-subscriber send buffer; readings beyond it
	// are dropped for that subscriber.
	clientQueueSize = 16

	writeTimeout = 5 * time.Second
)

// Hub is a websocket fan-out for readings. It implements http.Handler for
// subscriber upgrades and session.Publisher for the frame path.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	dropped uint64
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Readings are not sensitive to cross-origin reads.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("live: websocket upgrade failed: %v", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientQueueSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	monitoring.Logf("live: subscriber connected (%d active)", n)

	go h.writePump(c)
	go h.readPump(c)
}

// Publish encodes the reading once and fans it out. Subscribers with a full
// queue miss this reading.
func (h *Hub) Publish(r *posture.Reading) {
	payload, err := json.Marshal(r)
	if err != nil {
		monitoring.Logf("live: encoding reading %d: %v", r.FrameNumber, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.dropped++
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many reading deliveries were skipped on full queues.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// writePump drains the client queue onto the connection.
func (h *Hub) writePump(c *hubClient) {
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
			return
		}
	}
	// Queue closed by Hub.Close.
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		time.Now().Add(time.Second))
	c.conn.Close()
}

// readPump discards inbound messages and notices disconnects.
func (h *Hub) readPump(c *hubClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}
