package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ToolDefinition describes one function the upstream agent may call.
// Parameters is a JSON schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ConversationConfig is the full configuration for one upstream conversation:
// system prompt, voice, and the tool schema the agent is allowed to use.
// Validated at construction, not at use.
type ConversationConfig struct {
	Name         string
	Instructions string
	Voice        string
	Tools        []ToolDefinition
}

// Validate enforces the required fields.
func (c ConversationConfig) Validate() error {
	if c.Name == "" {
		return errors.New("conversation name is required")
	}
	if c.Instructions == "" {
		return errors.New("instructions are required")
	}
	if c.Voice == "" {
		return errors.New("voice is required")
	}
	for _, tool := range c.Tools {
		if tool.Name == "" {
			return errors.New("tool name is required")
		}
		if len(tool.Parameters) == 0 {
			return fmt.Errorf("tool %s has no parameter schema", tool.Name)
		}
	}
	return nil
}

// EventType classifies events surfaced by an upstream conversation.
type EventType string

const (
	// EventAudioDelta carries one chunk of synthesized audio.
	EventAudioDelta EventType = "audio_delta"
	// EventAudioDone marks the end of one audio response.
	EventAudioDone EventType = "audio_done"
	// EventToolCall carries a completed function call from the agent.
	EventToolCall EventType = "tool_call"
	// EventTranscript carries the transcription of the user's speech.
	EventTranscript EventType = "transcript"
	// EventClosed signals the upstream stream ended; Err distinguishes a
	// clean close (nil) from a failure.
	EventClosed EventType = "closed"
	// EventError carries a recoverable upstream error.
	EventError EventType = "error"
)

// ToolCall is a structured function call emitted by the upstream agent.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// ConversationEvent is one event read from the upstream stream.
type ConversationEvent struct {
	Type       EventType
	Audio      []byte
	Transcript string
	ToolCall   *ToolCall
	Err        error
}

// Conversation is one live duplex stream to the AI speech service. All
// methods are safe for use from the single device task that owns it.
type Conversation interface {
	// ID identifies this conversation for logging and session records.
	ID() string

	// SendAudio forwards one audio frame to the agent.
	SendAudio(ctx context.Context, frame []byte) error

	// SendToolResult reports the outcome of a tool call back to the agent.
	SendToolResult(ctx context.Context, callID string, result interface{}) error

	// StartResponse asks the agent to produce a response now, e.g. the
	// greeting right after the conversation opens.
	StartResponse(ctx context.Context) error

	// Events returns the stream of inbound events. The channel is closed
	// after an EventClosed is delivered.
	Events() <-chan ConversationEvent

	// Close tears the conversation down. Idempotent.
	Close(ctx context.Context) error
}

// ConversationService opens upstream conversations. The one production
// implementation speaks the OpenAI Realtime protocol; tests substitute
// their own.
type ConversationService interface {
	Open(ctx context.Context, deviceID string, config ConversationConfig) (Conversation, error)
}
