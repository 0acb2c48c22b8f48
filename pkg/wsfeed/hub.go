// Package wsfeed serves live detection summaries over WebSocket.
package wsfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

const writeWait = 5 * time.Second

// Target is the wire form of a detection
type Target struct {
	Label  string  `json:"label"`
	Score  float32 `json:"score"`
	Left   int     `json:"left"`
	Top    int     `json:"top"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// Summary is one frame's detections
type Summary struct {
	RunID   string   `json:"run_id"`
	Channel int      `json:"channel"`
	Frame   uint64   `json:"frame"`
	Targets []Target `json:"targets"`
}

// NewSummary builds the summary of a frame's targets
func NewSummary(runID string, channel int, frame uint64, targets []meta.DetectionTarget) Summary {
	s := Summary{RunID: runID, Channel: channel, Frame: frame, Targets: make([]Target, 0, len(targets))}
	for _, t := range targets {
		s.Targets = append(s.Targets, Target{
			Label: t.Label, Score: t.Score,
			Left: t.Left, Top: t.Top, Width: t.Width, Height: t.Height,
		})
	}
	return s
}

// Encode marshals the summary
func (s Summary) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	return b, errors.Wrap(err, "encode summary")
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans messages out to connected clients. A client whose buffer is
// full misses the message.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	log      *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a hub with a per-client buffer of messages
func NewHub(buffer int, log *zap.SugaredLogger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		buffer:  buffer,
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and streams messages until the client
// goes away or the hub closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.buffer)}
	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		conn.Close()
		return
	}
	h.log.Infow("feed client connected", "remote", conn.RemoteAddr().String())

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	c.close()
}

// readPump discards client messages and notices disconnects
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.log.Debugw("feed client gone", "remote", c.conn.RemoteAddr().String(), "error", err)
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister(c)
			for range c.send {
			}
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Broadcast queues msg for every client and returns how many accepted it
func (h *Hub) Broadcast(msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- msg:
			delivered++
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Sent returns the number of queued messages
func (h *Hub) Sent() uint64 { return h.sent.Load() }

// Dropped returns the number of messages skipped for slow clients
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	return nil
}
