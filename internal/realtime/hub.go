package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"expediter/internal/monitoring"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // displays connect from the local network
	},
}

// SnapshotFunc builds the canonical full state for a filter, together with
// the channel sequence it is current as of. Served on connect and on every
// resync request.
type SnapshotFunc func(ctx context.Context, f Filter) (interface{}, uint64, error)

// wsMessage is the envelope sent to displays.
type wsMessage struct {
	Type  string       `json:"type"` // snapshot | event | error
	Seq   uint64       `json:"seq,omitempty"`
	Event *ChangeEvent `json:"event,omitempty"`
	Data  interface{}  `json:"data,omitempty"`
	Error string       `json:"error,omitempty"`
}

// clientRequest is what a display may send upstream.
type clientRequest struct {
	Type string `json:"type"` // resync
}

// Hub serves filtered event streams to websocket displays. Every connection
// starts with a full snapshot, then streams deltas; a display can demand a
// fresh snapshot at any time by sending a resync request.
type Hub struct {
	channel  Channel
	snapshot SnapshotFunc
	metrics  *monitoring.Metrics
}

// NewHub creates a hub over the (usually multiplexed) channel.
func NewHub(ch Channel, snapshot SnapshotFunc, m *monitoring.Metrics) *Hub {
	return &Hub{channel: ch, snapshot: snapshot, metrics: m}
}

// HubConn maintains one display's connection.
type HubConn struct {
	hub    *Hub
	conn   *websocket.Conn
	filter Filter
	send   chan wsMessage
	mu     sync.Mutex
	closed bool
}

// Serve upgrades the request and runs the connection until it drops.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, filter Filter) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: failed to upgrade connection: %v", err)
		return
	}

	c := &HubConn{
		hub:    h,
		conn:   conn,
		filter: filter,
		send:   make(chan wsMessage, 256),
	}
	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	sub, err := h.channel.Subscribe(r.Context(), filter)
	if err != nil {
		c.enqueue(wsMessage{Type: "error", Error: "subscription failed"})
		conn.Close()
		return
	}
	defer sub.Cancel()

	c.sendSnapshot(r.Context())

	done := make(chan struct{})
	go c.writePump(done)
	go func() {
		for ev := range sub.Events {
			e := ev
			c.enqueue(wsMessage{Type: "event", Seq: e.Seq, Event: &e})
		}
	}()

	c.readPump(r.Context())
	close(done)
}

func (c *HubConn) sendSnapshot(ctx context.Context) {
	data, seq, err := c.hub.snapshot(ctx, c.filter)
	if err != nil {
		c.enqueue(wsMessage{Type: "error", Error: "snapshot failed"})
		return
	}
	c.enqueue(wsMessage{Type: "snapshot", Seq: seq, Data: data})
}

func (c *HubConn) enqueue(msg wsMessage) {
	select {
	case c.send <- msg:
	default:
		log.Println("realtime: send buffer full, dropping message")
	}
}

// readPump consumes display requests until the connection drops.
func (c *HubConn) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("realtime: websocket error: %v", err)
			}
			return
		}
		var req clientRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		if req.Type == "resync" {
			c.hub.metrics.Resync()
			c.sendSnapshot(ctx)
		}
	}
}

// writePump flushes queued messages and keeps the connection alive with
// pings.
func (c *HubConn) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
