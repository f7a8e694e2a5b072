package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/storyteller/server/domain/repositories"
)

// MockService is an in-process stand-in for the Realtime endpoint, used in
// development mode and tests. Conversations it opens record outbound traffic
// and let the caller script inbound events.
type MockService struct {
	mu     sync.Mutex
	logger *zap.Logger
	opened []*MockConversation
	serial int

	// OpenErr, when set, makes every Open attempt fail with it.
	OpenErr error
}

// NewMockService creates a mock conversation dialer.
func NewMockService(logger *zap.Logger) *MockService {
	return &MockService{logger: logger}
}

// Open returns a scripted conversation for the device.
func (m *MockService) Open(ctx context.Context, deviceID string, config repositories.ConversationConfig) (repositories.Conversation, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OpenErr != nil {
		return nil, m.OpenErr
	}

	m.serial++
	c := &MockConversation{
		id:     fmt.Sprintf("mock-conv-%d", m.serial),
		Config: config,
		events: make(chan repositories.ConversationEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	m.opened = append(m.opened, c)

	m.logger.Info("Mock conversation opened",
		zap.String("deviceID", deviceID),
		zap.String("conversationID", c.id),
		zap.String("agent", config.Name))

	return c, nil
}

// Conversations returns every conversation opened so far.
func (m *MockService) Conversations() []*MockConversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockConversation(nil), m.opened...)
}

// Last returns the most recently opened conversation, or nil.
func (m *MockService) Last() *MockConversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.opened) == 0 {
		return nil
	}
	return m.opened[len(m.opened)-1]
}

// MockConversation records outbound frames and replays scripted events.
type MockConversation struct {
	id     string
	Config repositories.ConversationConfig

	mu          sync.Mutex
	sentFrames  [][]byte
	toolResults []string
	started     bool
	closed      bool

	events chan repositories.ConversationEvent
	done   chan struct{}
}

func (c *MockConversation) ID() string { return c.id }

func (c *MockConversation) SendAudio(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("conversation %s is closed", c.id)
	}
	copied := append([]byte(nil), frame...)
	c.sentFrames = append(c.sentFrames, copied)
	return nil
}

func (c *MockConversation) SendToolResult(ctx context.Context, callID string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("conversation %s is closed", c.id)
	}
	c.toolResults = append(c.toolResults, callID+":"+string(data))
	return nil
}

func (c *MockConversation) StartResponse(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *MockConversation) Events() <-chan repositories.ConversationEvent {
	return c.events
}

func (c *MockConversation) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	close(c.events)
	return nil
}

// SentFrames returns the audio frames forwarded so far, in order.
func (c *MockConversation) SentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sentFrames...)
}

// ToolResults returns the recorded tool results, in order.
func (c *MockConversation) ToolResults() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.toolResults...)
}

// Started reports whether StartResponse was called.
func (c *MockConversation) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Closed reports whether the conversation has been closed.
func (c *MockConversation) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Emit injects one inbound event, as if read from the upstream stream.
func (c *MockConversation) Emit(event repositories.ConversationEvent) {
	select {
	case c.events <- event:
	case <-c.done:
	}
}

// EmitAudio injects one synthesized audio chunk.
func (c *MockConversation) EmitAudio(audio []byte) {
	c.Emit(repositories.ConversationEvent{Type: repositories.EventAudioDelta, Audio: audio})
}

// EmitToolCall injects a completed function call.
func (c *MockConversation) EmitToolCall(name string, arguments interface{}) error {
	data, err := json.Marshal(arguments)
	if err != nil {
		return err
	}
	c.Emit(repositories.ConversationEvent{
		Type: repositories.EventToolCall,
		ToolCall: &repositories.ToolCall{
			CallID:    c.id + "-call",
			Name:      name,
			Arguments: data,
		},
	})
	return nil
}
