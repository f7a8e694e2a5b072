// Package realtime implements the upstream conversation seam against the
// OpenAI Realtime API: one WebSocket per conversation, audio in both
// directions, tool calls surfaced as structured events.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/storyteller/server/domain/repositories"
)

const (
	defaultEndpoint = "wss://api.openai.com/v1/realtime"
	defaultModel    = "gpt-4o-realtime-preview-2024-12-17"

	// Time allowed to write a message to the upstream peer.
	writeWait = 10 * time.Second

	// Time allowed for the session.created handshake after dialing.
	handshakeWait = 10 * time.Second

	eventBuffer = 64
)

// Config holds the connection settings for the Realtime endpoint.
type Config struct {
	APIKey   string
	Model    string
	Endpoint string
}

// Service dials Realtime conversations. Implements
// repositories.ConversationService.
type Service struct {
	config Config
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewService validates the config and returns a conversation dialer.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	if config.APIKey == "" {
		return nil, errors.New("realtime API key is required")
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Endpoint == "" {
		config.Endpoint = defaultEndpoint
	}

	return &Service{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeWait},
		logger: logger,
	}, nil
}

// Open dials a new conversation, waits for session.created, and configures
// the session with the given agent config before returning.
func (s *Service) Open(ctx context.Context, deviceID string, config repositories.ConversationConfig) (repositories.Conversation, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("conversation config: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.config.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	url := s.config.Endpoint + "?model=" + s.config.Model
	conn, _, err := s.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	sessionID, err := awaitSessionCreated(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &conversation{
		id:       sessionID,
		deviceID: deviceID,
		conn:     conn,
		events:   make(chan repositories.ConversationEvent, eventBuffer),
		done:     make(chan struct{}),
		logger:   s.logger,
	}

	if err := c.configure(config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure session %s: %w", sessionID, err)
	}

	go c.readLoop()

	s.logger.Info("Realtime conversation opened",
		zap.String("deviceID", deviceID),
		zap.String("conversationID", sessionID),
		zap.String("agent", config.Name))

	return c, nil
}

// awaitSessionCreated reads events until session.created arrives and returns
// the server-assigned session ID.
func awaitSessionCreated(conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(handshakeWait)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		var event wireEvent
		if err := conn.ReadJSON(&event); err != nil {
			return "", fmt.Errorf("waiting for session.created: %w", err)
		}
		if event.Type == eventSessionCreated && event.Session != nil {
			return event.Session.ID, nil
		}
	}
}

// conversation is one live Realtime stream. Writes are serialized by a
// mutex; reads happen on the single readLoop goroutine.
type conversation struct {
	id       string
	deviceID string
	conn     *websocket.Conn
	events   chan repositories.ConversationEvent
	done     chan struct{}
	logger   *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
}

func (c *conversation) ID() string {
	return c.id
}

func (c *conversation) configure(config repositories.ConversationConfig) error {
	tools := make([]wireTool, 0, len(config.Tools))
	for _, tool := range config.Tools {
		tools = append(tools, wireTool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}

	return c.writeJSON(sessionUpdate{
		Type: eventSessionUpdate,
		Session: sessionUpdateInner{
			Modalities:              []string{"text", "audio"},
			Instructions:            config.Instructions,
			Voice:                   config.Voice,
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: transcriptionIn{Model: "whisper-1"},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 200,
			},
			Tools: tools,
		},
	})
}

// SendAudio forwards one PCM frame to the agent.
func (c *conversation) SendAudio(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.writeJSON(audioAppend{
		Type:  eventAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// SendToolResult reports a tool call outcome and asks for the follow-up
// response.
func (c *conversation) SendToolResult(ctx context.Context, callID string, result interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	output, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal tool result: %w", err)
	}
	item, err := json.Marshal(map[string]interface{}{
		"type":    "function_call_output",
		"call_id": callID,
		"output":  string(output),
	})
	if err != nil {
		return err
	}

	if err := c.writeJSON(itemCreate{Type: eventItemCreate, Item: item}); err != nil {
		return err
	}
	return c.writeJSON(responseCreate{Type: eventResponseCreate})
}

// StartResponse seeds the conversation with a user turn so the agent greets
// the child immediately after the handshake.
func (c *conversation) StartResponse(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	item, err := json.Marshal(map[string]interface{}{
		"type": "message",
		"role": "user",
		"content": []map[string]string{
			{"type": "input_text", "text": "Hello! Please start our conversation."},
		},
	})
	if err != nil {
		return err
	}

	if err := c.writeJSON(itemCreate{Type: eventItemCreate, Item: item}); err != nil {
		return err
	}
	return c.writeJSON(responseCreate{Type: eventResponseCreate})
}

func (c *conversation) Events() <-chan repositories.ConversationEvent {
	return c.events
}

// Close tears the stream down. Idempotent; the readLoop drains and closes
// the event channel.
func (c *conversation) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.closed = true
		deadline := time.Now().Add(writeWait)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		c.conn.SetWriteDeadline(deadline)
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *conversation) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return errors.New("conversation is closed")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// readLoop decodes inbound wire events into conversation events until the
// stream ends, then delivers EventClosed and closes the channel.
func (c *conversation) readLoop() {
	defer close(c.events)

	for {
		var event wireEvent
		if err := c.conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			c.deliver(repositories.ConversationEvent{Type: repositories.EventClosed, Err: err})
			return
		}

		switch event.Type {
		case eventAudioDelta:
			audio, err := base64.StdEncoding.DecodeString(event.Delta)
			if err != nil {
				c.logger.Warn("Dropping undecodable audio delta",
					zap.String("conversationID", c.id), zap.Error(err))
				continue
			}
			c.deliver(repositories.ConversationEvent{Type: repositories.EventAudioDelta, Audio: audio})

		case eventAudioDone:
			c.deliver(repositories.ConversationEvent{Type: repositories.EventAudioDone})

		case eventFunctionCallDone:
			c.deliver(repositories.ConversationEvent{
				Type: repositories.EventToolCall,
				ToolCall: &repositories.ToolCall{
					CallID:    event.CallID,
					Name:      event.Name,
					Arguments: json.RawMessage(event.Arguments),
				},
			})

		case eventTranscriptionDone:
			c.deliver(repositories.ConversationEvent{Type: repositories.EventTranscript, Transcript: event.Transcript})

		case eventError:
			message := "unknown error"
			if event.Error != nil {
				message = event.Error.Message
			}
			c.deliver(repositories.ConversationEvent{
				Type: repositories.EventError,
				Err:  fmt.Errorf("realtime error: %s", message),
			})

		default:
			c.logger.Debug("Ignoring realtime event",
				zap.String("conversationID", c.id),
				zap.String("type", event.Type))
		}
	}
}

// deliver pushes an event to the consumer. A saturated consumer suspends
// the read loop, which is the backpressure policy: no unbounded buffering,
// no reordering, no drops while the conversation is live. Close unblocks a
// suspended delivery via the done channel.
func (c *conversation) deliver(event repositories.ConversationEvent) {
	select {
	case c.events <- event:
	case <-c.done:
	}
}
