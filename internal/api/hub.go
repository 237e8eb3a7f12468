// Package api provides the HTTP and WebSocket surface described in
// spec.md §6, expanded with /metrics and /ws (SPEC_FULL.md §6).
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType tags a Hub broadcast, mirroring the teacher's WebSocket
// message-type enumeration adapted to this domain's own event set.
type EventType string

const (
	EventTick               EventType = "tick"
	EventDiscussionStarted  EventType = "discussion_started"
	EventDiscussionDecided  EventType = "discussion_decided"
	EventExecutionLog       EventType = "execution_log"
	EventHeartbeat          EventType = "heartbeat"
)

// Event is the envelope broadcast to every connected WebSocket client.
type Event struct {
	Type      EventType   `json:"type"`
	SectorID  string      `json:"sectorId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Client is one WebSocket connection registered with a Hub.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out Events to every connected client, matching the
// teacher's register/unregister/broadcast channel shape
// (internal/api/websocket.go in the teacher repo) generalized from
// order/position/trade updates to tick/discussion/execution events.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("ws"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run drives the hub loop until ctx-like cancellation is achieved by
// closing the hub's broadcast/register channels is unnecessary: Run
// simply blocks forever in its own goroutine, matching the teacher's
// always-on Hub.Run.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
				}
			}
			h.mu.RUnlock()

		case <-heartbeat.C:
			h.Publish(Event{Type: EventHeartbeat, Timestamp: time.Now().UnixMilli()})
		}
	}
}

// Publish marshals and broadcasts ev to every connected client,
// dropping it (with a logged warning) if the broadcast buffer is full.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("marshal event failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast buffer full, dropping event", zap.String("type", string(ev.Type)))
	}
}

// ServeWS upgrades r into a WebSocket connection registered with h.
func (h *Hub) ServeWS(upgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{conn: conn, send: make(chan []byte, 64)}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
