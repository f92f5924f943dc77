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

	"github.com/nerrad567/gray-logic-hub/internal/hub"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/subscription"
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

// ErrClientGone is returned by Send once the client has disconnected.
var ErrClientGone = errors.New("websocket client disconnected")

// ErrSendBufferFull is returned by Send when a slow client's buffer is full.
var ErrSendBufferFull = errors.New("websocket send buffer full")

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload names the device service of a subscribe or
// unsubscribe message.
type WSSubscribePayload struct {
	DeviceID  string `json:"device_id"`
	ServiceID string `json:"service_id"`
}

// WSHub tracks connected WebSocket clients.
type WSHub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one WebSocket connection. It is a subscription.Channel: the
// hub delivers device events to it through Send.
type WSClient struct {
	id      string
	wsHub   *WSHub
	devices *hub.Manager
	conn    *websocket.Conn
	send    chan []byte

	mu     sync.RWMutex
	closed bool
}

var _ subscription.Channel = (*WSClient)(nil)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewWSHub creates an empty client set.
func NewWSHub(cfg config.WebSocketConfig, logger *logging.Logger) *WSHub {
	return &WSHub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *WSHub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *WSHub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client", client.id, "clients", h.ClientCount())
}

// Unregister removes a client and closes its send channel. Only the call
// that removes the client from the map closes the channel.
func (h *WSHub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		client.closeSend()
	}
	h.logger.Debug("websocket client disconnected", "client", client.id, "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.closeSend()
		client.conn.Close()
	}
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		id:      uuid.NewString(),
		wsHub:   s.ws,
		devices: s.devices,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
	}
	s.ws.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// ID returns the client's channel id.
func (c *WSClient) ID() string { return c.id }

// Send queues a device event for the client.
func (c *WSClient) Send(msg subscription.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	return c.trySend(data)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		if n := c.devices.CloseChannel(c.id); n > 0 {
			c.wsHub.logger.Debug("websocket subscriptions released", "client", c.id, "count", n)
		}
		c.wsHub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
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
				c.wsHub.logger.Warn("websocket read error", "client", c.id, "error", err)
			} else {
				c.wsHub.logger.Debug("websocket closed", "client", c.id, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(msg.ID, Error{Status: http.StatusBadRequest, Code: ErrCodeBadRequest, Message: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, Error{Status: http.StatusBadRequest, Code: ErrCodeBadRequest, Message: "unknown message type: " + msg.Type})
	}
}

func (c *WSClient) handleSubscription(msg WSMessage) {
	var p WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.DeviceID == "" || p.ServiceID == "" {
		c.sendError(msg.ID, Error{Status: http.StatusBadRequest, Code: ErrCodeValidation, Message: "device_id and service_id are required"})
		return
	}

	var err error
	if msg.Type == WSTypeSubscribe {
		_, err = c.devices.Subscribe(c, p.DeviceID, p.ServiceID)
	} else {
		err = c.devices.Unsubscribe(c.id, p.DeviceID, p.ServiceID)
	}
	if err != nil {
		c.sendError(msg.ID, deviceError(err))
		return
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		msg.Type:     true,
		"device_id":  p.DeviceID,
		"service_id": p.ServiceID,
	})
}

// trySend queues data without blocking. A full buffer drops the message.
func (c *WSClient) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *WSClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Payload = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data) //nolint:errcheck // Client may be gone; nothing to report to
}

func (c *WSClient) sendError(id string, e Error) {
	c.sendResponse(id, WSTypeError, e)
}
