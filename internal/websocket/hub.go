package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/internal/orchestrator"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Budget for the full connect handshake, including upstream retries.
	connectTimeout = 30 * time.Second
)

var errConnectionClosed = errors.New("websocket: connection closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SessionController is the slice of the orchestrator the transport needs.
type SessionController interface {
	OnDeviceConnect(ctx context.Context, deviceID, firmwareVersion string, link orchestrator.DeviceLink) error
	OnDeviceAudio(ctx context.Context, deviceID string, frame []byte) error
	OnFunctionResponse(deviceID string, selection entities.EpisodeSelection)
	OnDeviceDisconnect(ctx context.Context, deviceID string)
	Session(deviceID string) (orchestrator.SessionStatus, bool)
}

// Hub maintains the set of active device clients.
type Hub struct {
	// Registered clients keyed by device ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	controller SessionController

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(controller SessionController, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		controller: controller,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if stale, ok := h.clients[client.deviceID]; ok {
				// A device reconnecting before its old socket died.
				stale.Close()
			}
			h.clients[client.deviceID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("deviceID", client.deviceID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.deviceID]; ok && current == client {
				delete(h.clients, client.deviceID)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("deviceID", client.deviceID))
		}
	}
}

// DeviceIDs returns the currently connected device IDs.
func (h *Hub) DeviceIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// IsConnected reports whether a device currently holds a live socket.
func (h *Hub) IsConnected(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[deviceID]
	return ok
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub. It
// implements orchestrator.DeviceLink: sends toward the device go through the
// buffered send channel and block once the device stops draining, which is
// what suspends the relay's upstream reads.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed exactly once when the connection is torn down.
	done      chan struct{}
	closeOnce sync.Once

	// Device ID for this client, taken from the verified token.
	deviceID string

	// Set after the device completes the connect handshake.
	mu        sync.Mutex
	connected bool

	logger *zap.Logger
}

// HandleWebSocketWithAuth upgrades an authenticated request and starts the
// client's pumps. The device ID comes from the token, never from the socket.
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, deviceID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, 256),
		done:     make(chan struct{}),
		deviceID: deviceID,
		logger:   logger.With(zap.String("deviceID", deviceID)),
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the orchestrator.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.Close()
		c.hub.controller.OnDeviceDisconnect(context.Background(), c.deviceID)
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
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if stop := c.processMessage(message); stop {
				return
			}
		case websocket.BinaryMessage:
			// Raw PCM16 frame, the low-overhead alternative to the JSON
			// audio envelope.
			c.forwardAudio(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the send channel to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage dispatches one JSON envelope. Returns true when the read
// loop should stop.
func (c *Client) processMessage(raw []byte) bool {
	var msg DeviceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Error("Failed to parse message", zap.Error(err))
		return false
	}

	switch msg.Type {
	case MessageTypeConnect:
		c.handleConnect(msg)

	case MessageTypeAudio:
		if msg.AudioData == "" {
			return false
		}
		frame, err := base64.StdEncoding.DecodeString(msg.AudioData)
		if err != nil {
			c.logger.Warn("Undecodable audio payload", zap.Error(err))
			return false
		}
		c.forwardAudio(frame)

	case MessageTypeFunctionResponse:
		if msg.Selection == nil {
			c.logger.Warn("Function response without selection")
			return false
		}
		if !c.isConnected() {
			return false
		}
		c.hub.controller.OnFunctionResponse(c.deviceID, *msg.Selection)

	case MessageTypeHeartbeat:
		ack := HeartbeatAckMessage{
			Type:      MessageTypeHeartbeatAck,
			Timestamp: time.Now().Unix(),
		}
		if status, found := c.hub.controller.Session(c.deviceID); found {
			ack.SessionStats = &status
		}
		c.enqueue(marshalMessage(ack))

	case MessageTypeDisconnect:
		c.logger.Info("Device requested disconnect")
		return true

	default:
		c.logger.Warn("Unknown message type", zap.String("type", msg.Type))
	}
	return false
}

func (c *Client) handleConnect(msg DeviceMessage) {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.logger.Warn("Duplicate connect message ignored")
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	// The orchestrator sends connected/error messages itself and closes the
	// link on failure; nothing to report back from here.
	if err := c.hub.controller.OnDeviceConnect(ctx, c.deviceID, msg.FirmwareVersion, c); err != nil {
		c.logger.Error("Connect handshake failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
}

func (c *Client) forwardAudio(frame []byte) {
	if !c.isConnected() {
		c.logger.Warn("Audio frame before connect handshake")
		return
	}
	if err := c.hub.controller.OnDeviceAudio(context.Background(), c.deviceID, frame); err != nil {
		c.logger.Warn("Audio frame not relayed", zap.Error(err))
	}
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// enqueue hands a payload to the write pump. It blocks while the buffer is
// full so that a stalled device propagates backpressure to the caller. A
// closed client always fails: done is checked on its own first, because the
// two-way select below picks an arbitrary ready case and buffer space is
// usually available.
func (c *Client) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return errConnectionClosed
	default:
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	case <-c.done:
		return errConnectionClosed
	}
}

// SendConnected implements orchestrator.DeviceLink.
func (c *Client) SendConnected(userID, message string) error {
	return c.enqueue(marshalMessage(ConnectedMessage{
		Type:    MessageTypeConnected,
		UserID:  userID,
		Message: message,
	}))
}

// SendAudio implements orchestrator.DeviceLink.
func (c *Client) SendAudio(audio []byte, agent string) error {
	return c.enqueue(marshalMessage(AudioResponseMessage{
		Type:      MessageTypeAudioResponse,
		AudioData: base64.StdEncoding.EncodeToString(audio),
		AgentType: agent,
	}))
}

// SendAgentSwitched implements orchestrator.DeviceLink.
func (c *Client) SendAgentSwitched(agent string, episode entities.EpisodeSummary) error {
	return c.enqueue(marshalMessage(AgentSwitchedMessage{
		Type:        MessageTypeAgentSwitched,
		NewAgent:    agent,
		EpisodeInfo: episode,
	}))
}

// SendEpisodeCompleted implements orchestrator.DeviceLink.
func (c *Client) SendEpisodeCompleted(episode entities.EpisodeRef, wordsLearned []string) error {
	return c.enqueue(marshalMessage(EpisodeCompletedMessage{
		Type:         MessageTypeEpisodeCompleted,
		Episode:      episode,
		WordsLearned: wordsLearned,
	}))
}

// SendError implements orchestrator.DeviceLink.
func (c *Client) SendError(code, message string) error {
	return c.enqueue(marshalMessage(ErrorMessage{
		Type:    MessageTypeError,
		Code:    code,
		Message: message,
	}))
}

// Close implements orchestrator.DeviceLink. Safe to call repeatedly.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}
