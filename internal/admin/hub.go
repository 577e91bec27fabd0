// Package admin exposes the driver's operability surface: a small
// HTTP API plus a WebSocket feed of telemetry snapshots and HSI
// events, independent of the readout worker's own lifecycle.
package admin

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Event is a single message broadcast to every connected WebSocket
// client: either a telemetry snapshot or an HSI event, tagged by Type.
type Event struct {
	Type string `json:"type"` // "telemetry" or "hsi_event"
	Data any    `json:"data"`
}

// Hub fans out Events to connected WebSocket clients. Its loop runs in
// a goroutine the caller starts with Run and ends with Stop;
// it is a passive observer and never participates in readout
// control-plane/data-plane ordering.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

// NewHub constructs a hub; call Run in its own goroutine to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.With("component", "admin_hub"),
	}
}

// Run drives the hub's register/unregister/broadcast loop until
// Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("admin client connected", "total", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()
			h.log.Debug("admin client disconnected", "total", len(h.clients))

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(event); err != nil {
					h.log.Warn("admin websocket write failed", "error", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			return
		}
	}
}

// Stop ends Run's loop.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast queues an event for delivery to every connected client.
// Non-blocking: a full queue drops the event rather than stalling the
// caller (telemetry collection must never block on admin clients).
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("admin broadcast queue full, dropping event", "type", event.Type)
	}
}

// HandleWebSocket upgrades the request and registers the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("admin websocket upgrade failed", "error", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
