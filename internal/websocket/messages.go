package websocket

import (
	"encoding/json"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/internal/orchestrator"
)

// Message types accepted from the device.
const (
	MessageTypeConnect          = "connect"
	MessageTypeAudio            = "audio"
	MessageTypeFunctionResponse = "function_response"
	MessageTypeHeartbeat        = "heartbeat"
	MessageTypeDisconnect       = "disconnect"
)

// Message types sent to the device.
const (
	MessageTypeConnected        = "connected"
	MessageTypeAudioResponse    = "audio_response"
	MessageTypeAgentSwitched    = "agent_switched"
	MessageTypeError            = "error"
	MessageTypeHeartbeatAck     = "heartbeat_ack"
	MessageTypeEpisodeCompleted = "episode_completed"
)

// DeviceMessage is the single inbound envelope. Fields beyond Type are
// populated depending on the message type; unknown fields are ignored so
// older firmware can keep talking to a newer server.
type DeviceMessage struct {
	Type            string `json:"type"`
	FirmwareVersion string `json:"firmware_version,omitempty"`

	// audio
	AudioData string `json:"audio_data,omitempty"` // base64 PCM16
	Timestamp int64  `json:"timestamp,omitempty"`

	// function_response
	Selection *entities.EpisodeSelection `json:"selection,omitempty"`
}

// ConnectedMessage confirms the handshake and carries the resolved user.
type ConnectedMessage struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// AudioResponseMessage carries one synthesized audio frame downstream.
type AudioResponseMessage struct {
	Type      string `json:"type"`
	AudioData string `json:"audio_data"` // base64 PCM16
	AgentType string `json:"agent_type"`
}

// AgentSwitchedMessage announces a completed handoff to another agent.
type AgentSwitchedMessage struct {
	Type        string                  `json:"type"`
	NewAgent    string                  `json:"new_agent"`
	EpisodeInfo entities.EpisodeSummary `json:"episode_info"`
}

// EpisodeCompletedMessage announces the return to the choice agent after a
// finished episode.
type EpisodeCompletedMessage struct {
	Type         string              `json:"type"`
	Episode      entities.EpisodeRef `json:"episode"`
	WordsLearned []string            `json:"words_learned"`
}

// ErrorMessage carries a structured failure to the device.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatAckMessage answers a device heartbeat with the current session
// stats when a session is live.
type HeartbeatAckMessage struct {
	Type         string                      `json:"type"`
	Timestamp    int64                       `json:"timestamp"`
	SessionStats *orchestrator.SessionStatus `json:"session_stats,omitempty"`
}

func marshalMessage(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		// All outbound message types marshal cleanly; this is unreachable
		// short of a programming error.
		return []byte(`{"type":"error","code":"INTERNAL","message":"encoding failure"}`)
	}
	return payload
}
