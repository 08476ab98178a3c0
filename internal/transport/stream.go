// Package transport serves the telemetry websocket. Each connection owns
// one session; a read pump feeds messages to it in order and a write pump
// owns every write to the socket.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sentinel/core/internal/session"
)

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	maxMsgSize = 512 * 1024       // 512KB max message size per frame
	sendBuffer = 64               // Per-connection outbound channel buffer
)

// StreamHandler upgrades /ws/stream/{clientId} and runs a session per
// connection.
type StreamHandler struct {
	deps     session.Deps
	registry *session.Registry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

// NewStreamHandler builds the handler. An empty allowedOrigins accepts any
// origin.
func NewStreamHandler(deps session.Deps, registry *session.Registry, allowedOrigins []string) *StreamHandler {
	if registry == nil {
		registry = session.NewRegistry()
	}
	return &StreamHandler{
		deps:     deps,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		clients: make(map[*client]struct{}),
	}
}

func checkOrigin(allowedOrigins []string) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	slog.Info("[Stream] origin allowlist active", "count", len(allowed))
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non-browser clients send no Origin
		if origin == "" || allowed[origin] {
			return true
		}
		slog.Info("[Stream] rejected connection from origin", "origin", origin)
		return false
	}
}

// Registry returns the open sessions.
func (h *StreamHandler) Registry() *session.Registry { return h.registry }

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]
	if clientID == "" {
		http.Error(w, "missing client id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Stream] upgrade failed", "client_id", clientID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ctrl := session.NewController(clientID, h.deps)
	if err := ctrl.Open(ctx); err != nil {
		slog.Error("[Stream] session open failed", "client_id", clientID, "error", err)
		conn.Close()
		return
	}
	if prev := h.registry.Add(ctrl); prev != nil {
		slog.Info("[Stream] client reconnected, previous session still open", "client_id", clientID)
	}

	c := &client{
		conn: conn,
		ctrl: ctrl,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if !h.track(c) {
		ctrl.Close()
		h.registry.Remove(ctrl)
		conn.Close()
		return
	}
	defer func() {
		ctrl.Close()
		h.registry.Remove(ctrl)
		c.close()
		h.untrack(c)
	}()

	slog.Info("[Stream] client connected", "client_id", clientID, "remote", r.RemoteAddr)
	go c.writePump()
	c.readPump(ctx)
}

// Shutdown disconnects every client and waits for their sessions to end.
func (h *StreamHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for c := range h.clients {
		c.close()
	}
	h.clients = nil
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *StreamHandler) track(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients == nil {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *StreamHandler) untrack(c *client) {
	h.mu.Lock()
	if h.clients != nil {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.wg.Done()
}

type client struct {
	conn *websocket.Conn
	ctrl *session.Controller
	send chan []byte   // Buffered outbound frames
	done chan struct{} // Signals shutdown to writePump
	once sync.Once
}

// close shuts the connection down exactly once.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump is the only goroutine that reads from the connection. Messages
// are handled strictly in arrival order.
func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("[Stream] read failed", "client_id", c.ctrl.ClientID(), "error", err)
			}
			slog.Info("[Stream] client disconnected", "client_id", c.ctrl.ClientID(), "trust", c.ctrl.Trust())
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := json.Marshal(c.ctrl.Handle(ctx, payload))
		if err != nil {
			slog.Error("[Stream] encode response failed", "client_id", c.ctrl.ClientID(), "error", err)
			continue
		}
		select {
		case c.send <- frame:
		case <-c.done:
			return
		}
	}
}

// writePump is the only goroutine that writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Warn("[Stream] write failed", "client_id", c.ctrl.ClientID(), "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Warn("[Stream] ping failed", "client_id", c.ctrl.ClientID(), "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}
