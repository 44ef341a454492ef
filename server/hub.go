// server/hub.go
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sammcj/deskchat/events"
)

const writeTimeout = 10 * time.Second

// frame is the envelope every UI event travels in
type frame struct {
	Event   string       `json:"event"`
	Payload events.Event `json:"payload"`
}

// Hub fans UI events out to every connected WebSocket subscriber. It
// implements events.Emitter.
type Hub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewHub creates an empty hub
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The UI is served from a local origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Emit implements events.Emitter. A subscriber that cannot be written to is
// dropped; the other subscribers still receive the event.
func (h *Hub) Emit(e events.Event) error {
	data, err := json.Marshal(frame{Event: events.Channel, Payload: e})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", conn.RemoteAddr(), err))
			delete(h.conns, conn)
			conn.Close()
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of subscribers
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and keeps the subscriber until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	h.logger.Printf("UI subscriber connected: %s", conn.RemoteAddr())

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
		h.logger.Printf("UI subscriber disconnected: %s", conn.RemoteAddr())
	}()

	// Subscribers only listen; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("WebSocket read error: %v", err)
			}
			return
		}
	}
}

// Close disconnects every subscriber
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(h.conns, conn)
	}
	return nil
}
