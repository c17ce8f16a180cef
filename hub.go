package main

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"skyfleet/simulator/internal/config"
	"skyfleet/simulator/internal/logging"
)

const writeWait = 10 * time.Second

// ErrTooManyClients rejects WebSocket upgrades past the configured limit.
var ErrTooManyClients = errors.New("client limit reached")

// Client is one WebSocket consumer with a buffered outbound queue.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub fans simulation broadcasts out to WebSocket consumers. Consumers are
// read-only: commands arrive through the REST API, never over the socket.
type Hub struct {
	log          *logging.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	maxPayload   int64
	maxClients   int
	snapshots    *StateSnapshotter
	startedAt    time.Time

	mu         sync.Mutex
	clients    map[*Client]bool
	pending    int
	broadcasts int
	startupErr error
}

// NewHub builds a hub enforcing the configured origin, payload and client limits.
func NewHub(cfg *config.Config, logger *logging.Logger, snapshots *StateSnapshotter) *Hub {
	if logger == nil {
		logger = logging.L()
	}
	h := &Hub{
		log:          logger.With(logging.String("component", "hub")),
		pingInterval: cfg.PingInterval,
		maxPayload:   cfg.MaxPayloadBytes,
		maxClients:   cfg.MaxClients,
		snapshots:    snapshots,
		startedAt:    time.Now(),
		clients:      make(map[*Client]bool),
	}
	allowed := append([]string(nil), cfg.AllowedOrigins...)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			//1.- An empty allowlist keeps local development frictionless.
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, candidate := range allowed {
				if candidate == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS upgrades the request and starts the client's pump goroutines.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.maxClients > 0 && len(h.clients)+h.pending >= h.maxClients {
		h.mu.Unlock()
		h.log.Warn("websocket rejected", logging.String("remote_addr", r.RemoteAddr), logging.Error(ErrTooManyClients))
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	//1.- Count the handshake as pending so racing upgrades respect the limit.
	h.pending++
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)

	h.mu.Lock()
	h.pending--
	if err != nil {
		h.mu.Unlock()
		h.log.Warn("websocket upgrade failed", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
		return
	}
	client := &Client{conn: conn, send: make(chan []byte, 256), id: r.RemoteAddr}
	h.clients[client] = true
	h.mu.Unlock()

	//2.- Replay the persisted layout so late joiners see the current world.
	for _, message := range h.snapshots.StateMessages() {
		select {
		case client.send <- message:
		default:
		}
	}

	h.log.Info("websocket client connected", logging.String("client_id", client.id))
	go h.readPump(client)
	go h.writePump(client)
}

// readPump drains inbound frames so pings and close frames are processed.
// Consumer payloads are intentionally discarded.
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
	}()
	if h.maxPayload > 0 {
		client.conn.SetReadLimit(h.maxPayload)
	}
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", logging.Error(err), logging.String("client_id", client.id))
			}
			return
		}
	}
}

// writePump flushes the outbound queue and keeps the connection alive.
func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	h.log.Info("websocket client disconnected", logging.String("client_id", client.id))
}

// Broadcast queues the message for every connected client. Clients that
// cannot keep up are evicted so one slow consumer never stalls the rest.
func (h *Hub) Broadcast(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasts++
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			delete(h.clients, client)
			close(client.send)
			h.log.Warn("evicted slow websocket client", logging.String("client_id", client.id))
		}
	}
}

// Stats reports delivery counters for the metrics endpoint.
func (h *Hub) Stats() (broadcasts, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcasts, len(h.clients)
}

// SnapshotClientCounts reports connected and mid-handshake client counts.
func (h *Hub) SnapshotClientCounts() (clients, pending int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients), h.pending
}

// SetStartupError records a fatal initialisation problem for readiness checks.
func (h *Hub) SetStartupError(err error) {
	h.mu.Lock()
	h.startupErr = err
	h.mu.Unlock()
}

// StartupError returns the recorded initialisation problem, if any.
func (h *Hub) StartupError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startupErr
}

// Uptime reports how long the hub has been serving.
func (h *Hub) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}
