// Package handlers provides HTTP request handlers for the cyberguard API.
// This file implements the WebSocket stream that pushes scan lifecycle
// events to connected dashboards.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberguard/cyberguard/internal/api/middleware"
	"github.com/cyberguard/cyberguard/internal/models"
	"github.com/cyberguard/cyberguard/internal/scan"
)

const (
	// WebSocket configuration constants.
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
	bufferSize      = 256                                                // Size of the broadcast and per-client buffers

	// MessageTypeScanUpdate is the type of every scan event message.
	MessageTypeScanUpdate = "scan_update"
)

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ScanUpdateMessage carries one scan transition.
type ScanUpdateMessage struct {
	Event scan.EventType    `json:"event"`
	Scan  models.ScanResult `json:"scan"`
}

// wsClient is one connected socket and its outbound queue.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHandler fans scan events out to connected clients. It
// implements scan.Observer.
type WebSocketHandler struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clients    map[*wsClient]struct{}
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	mutex      sync.RWMutex
}

var _ scan.Observer = (*WebSocketHandler)(nil)

// NewWebSocketHandler creates the handler and starts its hub goroutine.
// Upgrades are accepted from same-host pages and from allowedOrigins; "*"
// allows any origin.
func NewWebSocketHandler(allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:     logger.With("handler", "websocket"),
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan []byte, bufferSize),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	go h.run()

	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// ScanWebSocket handles GET /api/ws/scans.
func (h *WebSocketHandler) ScanWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		h.logger.Warn("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}
	h.logger.Info("New scan WebSocket connection", "request_id", requestID, "remote_addr", r.RemoteAddr)

	c := &wsClient{conn: conn, send: make(chan []byte, bufferSize)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(c, requestID)
	h.readPump(c, requestID)
}

// run manages client registration and broadcasts.
func (h *WebSocketHandler) run() {
	defer close(h.done)

	for {
		select {
		case <-h.shutdown:
			h.mutex.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mutex.Unlock()
			h.logger.Debug("WebSocket hub stopped")
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debug("Client registered", "total_clients", total)

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debug("Client unregistered", "total_clients", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.logger.Warn("Client send buffer full, disconnecting")
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// readPump drains the connection so control frames are processed. It
// returns when the peer goes away.
func (h *WebSocketHandler) readPump(c *wsClient, requestID string) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("Failed to set read deadline", "request_id", requestID, "error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
		// Client messages carry no commands.
	}
}

// writePump sends queued messages and keepalive pings until the client's
// queue is closed.
func (h *WebSocketHandler) writePump(c *wsClient, requestID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.logger.Error("Failed to set write deadline", "request_id", requestID, "error", err)
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		}
	}
}

// ScanEvent implements scan.Observer. Events are dropped rather than
// blocking the scan runner when the broadcast queue is full.
func (h *WebSocketHandler) ScanEvent(e scan.Event) {
	message := WebSocketMessage{
		Type:      MessageTypeScanUpdate,
		Timestamp: e.At.UTC(),
		Data:      ScanUpdateMessage{Event: e.Type, Scan: e.Scan},
	}
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal scan update", "scan_id", e.Scan.ID, "error", err)
		return
	}

	select {
	case <-h.shutdown:
	case h.broadcast <- data:
	default:
		h.logger.Warn("Scan broadcast channel full, dropping message", "scan_id", e.Scan.ID)
	}
}

// ConnectedClients returns the number of connected clients.
func (h *WebSocketHandler) ConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client queue and stops the hub. It is safe to
// call more than once.
func (h *WebSocketHandler) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.shutdown)
	})
	<-h.done
	h.logger.Info("WebSocket handler closed")
}
