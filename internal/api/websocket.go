package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"algodesk/internal/domain"
	"algodesk/internal/live"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	clientBuffer = 256
	busBuffer    = 1024
)

// ConnectionStatus is the first message a WebSocket client receives.
type ConnectionStatus struct {
	Connected bool `json:"connected"`
	domain.SessionState
}

// Client represents a single WebSocket connection managed by a Hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages a set of WebSocket clients and broadcasts bus events to all
// connected clients. A client that cannot keep up is dropped.
type Hub struct {
	bus      *live.Bus
	status   func() domain.SessionState
	upgrader websocket.Upgrader
	log      *slog.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
}

// NewHub creates a Hub fed by bus. status supplies the session state sent
// on connect; origin is the allowed Origin header, "*" for any.
func NewHub(bus *live.Bus, origin string, status func() domain.SessionState, log *slog.Logger) *Hub {
	return &Hub{
		bus:    bus,
		status: status,
		log:    log.With("component", "ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "" || origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	return reqOrigin == "" || strings.EqualFold(reqOrigin, origin)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Run is the Hub's event loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	subID, events := h.bus.Subscribe(busBuffer)
	defer h.bus.Unsubscribe(subID)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.count.Add(1)
		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			msg, err := json.Marshal(evt)
			if err != nil {
				h.log.Warn("skipping unencodable event", "type", evt.Type, "error", err)
				continue
			}
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg []byte) {
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping slow websocket client", "remote", c.conn.RemoteAddr().String())
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
}

// ServeHTTP upgrades the connection, sends the connection status and
// registers the client with the Hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &Client{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}

	hello := ConnectionStatus{Connected: true}
	if h.status != nil {
		hello.SessionState = h.status()
	}
	if msg, err := json.Marshal(live.NewEvent(live.EventConnection, hello)); err == nil {
		c.send <- msg
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// readPump discards client messages and detects disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
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

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
