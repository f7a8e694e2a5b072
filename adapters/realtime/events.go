package realtime

import "encoding/json"

// Wire event types of the Realtime protocol the client reacts to. Everything
// else is logged at debug level and skipped.
const (
	eventSessionCreated    = "session.created"
	eventSessionUpdate     = "session.update"
	eventAudioDelta        = "response.audio.delta"
	eventAudioDone         = "response.audio.done"
	eventFunctionCallDone  = "response.function_call_arguments.done"
	eventTranscriptionDone = "conversation.item.input_audio_transcription.completed"
	eventError             = "error"

	eventAudioAppend    = "input_audio_buffer.append"
	eventItemCreate     = "conversation.item.create"
	eventResponseCreate = "response.create"
)

// wireEvent is the envelope for inbound Realtime events. Only the fields the
// client needs are decoded.
type wireEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	Session *wireSession `json:"session,omitempty"`

	// Audio/text delta payloads are base64 strings.
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// Function call completion.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Error *wireError `json:"error,omitempty"`
}

type wireSession struct {
	ID string `json:"id"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sessionUpdate configures the freshly created session with the agent's
// instructions, voice, and tool schema.
type sessionUpdate struct {
	Type    string             `json:"type"`
	Session sessionUpdateInner `json:"session"`
}

type sessionUpdateInner struct {
	Modalities              []string        `json:"modalities"`
	Instructions            string          `json:"instructions"`
	Voice                   string          `json:"voice"`
	InputAudioFormat        string          `json:"input_audio_format"`
	OutputAudioFormat       string          `json:"output_audio_format"`
	InputAudioTranscription transcriptionIn `json:"input_audio_transcription"`
	TurnDetection           turnDetection   `json:"turn_detection"`
	Tools                   []wireTool      `json:"tools"`
}

type transcriptionIn struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type wireTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreate struct {
	Type string          `json:"type"`
	Item json.RawMessage `json:"item"`
}

type responseCreate struct {
	Type string `json:"type"`
}
