// Package websocket accepts voice note events pushed by authenticated bridges
// over a persistent WebSocket connection.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/internal/listener"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Events inline base64 audio.
	maxMessageSize = 48 << 20

	// Time allowed to queue an accepted event for dispatch.
	publishTimeout = 5 * time.Second

	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// bridges are not browsers; they authenticate with a bearer token
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ErrHubStopped is returned when a bridge connects after the hub stopped
var ErrHubStopped = errors.New("websocket hub stopped")

// Hub maintains the set of connected bridges and feeds their events into the
// websocket listener.
type Hub struct {
	*listener.Fanout

	// Registered clients.
	clients map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed once Run returns
	stopped chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	validator *MessageValidator
	logger    *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(queueSize int, logger *zap.Logger) *Hub {
	return &Hub{
		Fanout:     listener.NewFanout(listener.SourceWebSocket, queueSize, logger),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run starts the hub's main loop and the listener dispatch. It returns once
// ctx is cancelled, after disconnecting every bridge.
func (h *Hub) Run(ctx context.Context) {
	go h.Fanout.Run(ctx)
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Bridge connected", zap.String("bridgeId", client.bridgeID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			h.logger.Info("Bridge disconnected", zap.String("bridgeId", client.bridgeID))

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.Fanout.Close()
			return
		}
	}
}

// ConnectedBridges returns the bridge IDs of the open connections
func (h *Hub) ConnectedBridges() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for client := range h.clients {
		ids = append(ids, client.bridgeID)
	}
	return ids
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Bridge ID taken from the verified token
	bridgeID string

	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, bridgeID string, logger *zap.Logger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, sendBufferSize),
		bridgeID: bridgeID,
		logger:   logger.With(zap.String("bridgeId", bridgeID)),
	}
}

// HandleWebSocketWithAuth handles websocket requests with a pre-authenticated bridge ID
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, bridgeID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, bridgeID, logger)

	select {
	case hub.register <- client:
	case <-hub.stopped:
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return ErrHubStopped
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.sendJSON(CreateErrorMessage("UNSUPPORTED_FRAME", "Binary frames are not supported", "send events as JSON text frames"))
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage processes incoming frames from the bridge
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message from bridge", zap.Error(err))
		c.sendJSON(CreateErrorMessage("INVALID_MESSAGE", "Message validation failed", err.Error()))
		return
	}

	switch m := msg.(type) {
	case *PingMessage:
		c.sendJSON(CreatePongMessage(m.Data))
	case *EventMessage:
		c.handleEvent(m)
	}
}

// handleEvent decodes one event, queues it when it is a voice note and acks it
func (c *Client) handleEvent(msg *EventMessage) {
	ack := domain.EventAck{ID: msg.Event.ID}

	note, err := listener.DecodeEvent(listener.SourceWebSocket, &msg.Event)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = c.hub.Publish(ctx, note)
		cancel()
	}

	switch {
	case err == nil:
		ack.Accepted = true
		c.logger.Debug("Voice note queued", zap.String("externalId", note.ExternalID))
	case errors.Is(err, listener.ErrNotVoiceNote):
		ack.Reason = err.Error()
	default:
		ack.Reason = err.Error()
		c.logger.Warn("Rejected bridge event",
			zap.String("eventId", msg.Event.ID),
			zap.Error(err))
	}

	c.sendJSON(CreateAckMessage(msg.MessageID, ack))
}

func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Send buffer full, dropping message")
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
