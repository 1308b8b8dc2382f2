// Package events streams alert lifecycle events to connected dashboard
// clients over WebSocket.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/workflow"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer frames per client; a consumer that falls further behind
	// is disconnected rather than allowed to stall the hub.
	sendBuffer = 32

	// broadcastBuffer bounds how many events can queue between the
	// service and the hub loop before Send starts reporting drops.
	broadcastBuffer = 64
)

// Hub owns the set of connected clients and fans lifecycle events out to
// them. It satisfies the notify sink contract, so it plugs into the same
// fanout as Slack and push delivery.
type Hub struct {
	logger log.Logger

	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	clients map[*client]struct{}
	conns   atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// envelope is the wire form of one event frame.
type envelope struct {
	Kind  workflow.EventKind `json:"kind"`
	Alert *workflow.Alert    `json:"alert"`
	Brief string             `json:"brief,omitempty"`
	At    time.Time          `json:"at"`
}

// NewHub creates a hub. The caller must run it: go hub.Run().
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from their own origin; the bearer
			// middleware on the route handles auth.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		broadcast:  make(chan []byte, broadcastBuffer),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Close, once every client has been
// disconnected.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.conns.Store(0)
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.conns.Store(int64(len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.conns.Store(int64(len(h.clients)))
			}
		case data := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Slow consumer; cut it loose instead of stalling.
					delete(h.clients, c)
					close(c.send)
					h.conns.Store(int64(len(h.clients)))
				}
			}
		}
	}
}

// Close shuts the hub down. Connected clients receive a close frame.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ConnectionCount reports how many clients are connected.
func (h *Hub) ConnectionCount() int64 { return h.conns.Load() }

// Name identifies the sink in logs and metrics.
func (h *Hub) Name() string { return "events" }

// Send queues one event frame for broadcast. It reports an error only when
// the hub's queue is full, which the fanout counts as a drop.
func (h *Hub) Send(_ context.Context, ev *workflow.Event) error {
	data, err := json.Marshal(envelope{
		Kind:  ev.Kind,
		Alert: ev.Alert,
		Brief: ev.Brief,
		At:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}

	select {
	case h.broadcast <- data:
		return nil
	default:
		return errors.New("events: broadcast queue full, frame dropped")
	}
}

// Handler upgrades the request to a WebSocket and attaches it to the hub.
// The stream is one-way; inbound frames only service control traffic.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
			return
		}

		c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
		select {
		case h.register <- c:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go c.writePump()
		go c.readPump(h)
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
