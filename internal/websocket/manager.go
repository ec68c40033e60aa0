// Package websocket implements the dev server's live reload channel.
//
// A single hub goroutine owns client registration and broadcasting. Each
// connected client has a write pump that drains its send queue and pings
// the browser, and a read loop that only watches for disconnects.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/staticpack/internal/logging"
)

const (
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 16
)

// Hub tracks connected clients and fans reload messages out to them.
//
// clients is only written by the hub goroutine and Shutdown; a client's
// send channel is closed by whichever of the two removes it from the map.
type Hub struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	originPatterns []string
	logger         logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewHub creates a Hub and starts its goroutine. originPatterns are host
// patterns accepted in the Origin header in addition to the request host.
func NewHub(originPatterns []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		clients:        make(map[*websocket.Conn]*Client),
		broadcast:      make(chan []byte, 64),
		register:       make(chan *Client, 32),
		unregister:     make(chan *websocket.Conn, 32),
		originPatterns: originPatterns,
		logger:         logger.WithComponent("websocket"),
		ctx:            ctx,
		cancel:         cancel,
	}
	go h.run()
	return h
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects or the hub shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	// Accept answers 403 itself when the origin is not allowed.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	}

	h.handleClient(client)
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case conn := <-h.unregister:
			h.unregisterClient(conn)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMutex.Lock()
	h.clients[client.conn] = client
	total := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Debug(h.ctx, "client connected", "clients", total)
}

func (h *Hub) unregisterClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	client, exists := h.clients[conn]
	if exists {
		delete(h.clients, conn)
		close(client.send)
	}
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if exists {
		h.logger.Debug(h.ctx, "client disconnected", "clients", total)
	}
}

func (h *Hub) broadcastToClients(message []byte) {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()

	for conn, client := range h.clients {
		select {
		case client.send <- message:
		default:
			// A stalled tab only misses reloads; drop it.
			go h.drop(conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

func (h *Hub) handleClient(client *Client) {
	defer h.drop(client.conn)

	go h.writeToClient(client)
	h.readFromClient(client)
}

// readFromClient discards incoming messages and returns once the
// connection is gone.
func (h *Hub) readFromClient(client *Client) {
	for {
		if _, _, err := client.conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) writeToClient(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer func() {
		_ = client.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-h.ctx.Done():
			return
		}
	}
}

// BroadcastMessage queues message for every connected client. Messages
// are dropped once the hub is shut down or its queue is full.
func (h *Hub) BroadcastMessage(message UpdateMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error(h.ctx, err, "marshalling broadcast message")
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.logger.Warn(h.ctx, nil, "broadcast queue full, dropping message", "type", message.Type)
	}
}

// Reload tells every client to reload the page.
func (h *Hub) Reload() {
	h.BroadcastMessage(UpdateMessage{Type: MessageReload})
}

// ConnectedClients returns the number of registered clients.
func (h *Hub) ConnectedClients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown stops the hub and closes every client connection.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.cancel()

		h.clientsMutex.Lock()
		for conn, client := range h.clients {
			close(client.send)
			_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		h.clients = make(map[*websocket.Conn]*Client)
		h.clientsMutex.Unlock()

		h.logger.Info(ctx, "websocket hub shut down")
	})
	return nil
}
