package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fieldgrid/dispatch-core/internal/infrastructure/config"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/logging"
	"github.com/fieldgrid/dispatch-core/internal/registry"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// Push methods named in event messages. SensorData pushes use
// telemetry.SensorDataMethod.
const (
	// MethodNotify carries a device notification fanned out to the
	// device's group.
	MethodNotify = "Notify"

	// MethodClientMessage carries a device's command response, addressed
	// to the submitting client connection.
	MethodClientMessage = "ClientMessage"
)

// WSMessage is the envelope exchanged with WebSocket clients. For pushes
// (type "event") Method names the client-side handler: Notify,
// ClientMessage, or SensorData.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Method    string `json:"method,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Groups []string `json:"groups"`
}

// Hub delivery errors.
var (
	// ErrConnectionUnknown is returned when pushing to a connection ID
	// with no live client. Expected when a push races a disconnect.
	ErrConnectionUnknown = errors.New("api: websocket connection unknown")

	// ErrSendBufferFull is returned when a client's outbound buffer is
	// saturated. The push is dropped for that recipient only.
	ErrSendBufferFull = errors.New("api: websocket send buffer full")
)

// Hub manages client WebSocket connections, keyed by connection ID.
//
// It implements broadcast.PushTransport: group resolution happens in the
// broadcaster through the connection registry, the hub only delivers to
// individual connections.
type Hub struct {
	cfg      config.WebSocketConfig
	registry *registry.Registry
	logger   *logging.Logger

	mu      sync.RWMutex
	clients map[string]*WSClient
}

// WSClient represents one connected client.
type WSClient struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	connectionID string
	userID       string
}

// upgrader configures the WebSocket upgrader. Origin checking is handled
// by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a WebSocket hub. Clients are mirrored into reg so the
// broadcaster can resolve groups to connection IDs.
func NewHub(cfg config.WebSocketConfig, reg *registry.Registry, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: reg,
		logger:   logger,
		clients:  make(map[string]*WSClient),
	}
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// register adds a client to the hub and the connection registry.
func (h *Hub) register(client *WSClient) {
	h.mu.Lock()
	h.clients[client.connectionID] = client
	h.mu.Unlock()

	h.registry.RegisterClient(client.userID, client.connectionID)
	h.logger.Debug("websocket client connected",
		"connection_id", client.connectionID,
		"user_id", client.userID,
		"clients", h.ClientCount(),
	)
}

// unregister removes a client from the hub and the connection registry.
// Only the goroutine that removes the client from the map closes the send
// channel, preventing double-close panics during shutdown.
func (h *Hub) unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client.connectionID]
	delete(h.clients, client.connectionID)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.registry.UnregisterClient(client.connectionID)
	}
	h.logger.Debug("websocket client disconnected",
		"connection_id", client.connectionID,
		"clients", h.ClientCount(),
	)
}

// SendToConnection delivers a push message to a single client connection.
// Implements broadcast.PushTransport.
func (h *Hub) SendToConnection(connectionID, method string, payload any) error {
	h.mu.RLock()
	client := h.clients[connectionID]
	h.mu.RUnlock()

	if client == nil {
		return ErrConnectionUnknown
	}

	msg := WSMessage{
		Type:      WSTypeEvent,
		Method:    method,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return client.trySend(data)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels so
// writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for connectionID, client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close() //nolint:errcheck // Best-effort close on shutdown
		}
		delete(h.clients, connectionID)
		h.registry.UnregisterClient(connectionID)
	}
}

// handleWebSocket upgrades the HTTP connection to a client WebSocket.
// Authentication is via ticket query parameter (from POST /auth/ws-ticket).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	userID, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:          s.hub,
		conn:         conn,
		send:         make(chan []byte, wsSendBufferSize),
		connectionID: uuid.NewString(),
		userID:       userID,
	}

	s.hub.register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close() //nolint:errcheck // Teardown path
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps the connection
		// alive even if the browser ignores protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Teardown path
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe adds groups to the connection's subscription set.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	groups, ok := parseSubscribePayload(msg.Payload)
	if !ok {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	c.hub.registry.Subscribe(c.connectionID, groups...)
	c.hub.logger.Debug("websocket client subscribed",
		"connection_id", c.connectionID, "groups", groups)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": groups,
	})
}

// handleUnsubscribe removes groups from the connection's subscription set.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	groups, ok := parseSubscribePayload(msg.Payload)
	if !ok {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.hub.registry.Unsubscribe(c.connectionID, groups...)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": groups,
	})
}

// parseSubscribePayload extracts the group list from a subscribe or
// unsubscribe payload.
func parseSubscribePayload(payload any) ([]string, bool) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		return nil, false
	}
	return sub.Groups, true
}

// trySend hands data to the client's writer. A closed channel (disconnect
// racing a push) or a full buffer is reported as a delivery error; the
// client is never blocked on.
func (c *WSClient) trySend(data []byte) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrConnectionUnknown
		}
	}()

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data) //nolint:errcheck // Best-effort response to client
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
