package entities

import (
	"errors"
	"fmt"
	"time"
)

// AgentMode is the agent currently driving the conversation for a device.
type AgentMode string

const (
	// AgentModeChoosing is the menu phase: the choice agent offers the next
	// episode and may emit a select_episode tool call.
	AgentModeChoosing AgentMode = "CHOOSING"

	// AgentModeLearning is the teaching phase for one selected episode.
	AgentModeLearning AgentMode = "LEARNING"
)

// SessionRecord is the authoritative per-device state while a device is
// connected (or very recently was). One record per device identity.
//
// Invariant: Episode != nil exactly when Mode == AgentModeLearning, and the
// record references at most one upstream conversation at any instant. Both
// are enforced by the transition methods below; callers must not mutate the
// fields around them.
type SessionRecord struct {
	DeviceID       string      `json:"device_id" bson:"device_id"`
	UserID         string      `json:"user_id" bson:"user_id"`
	Mode           AgentMode   `json:"agent_state" bson:"agent_state"`
	ConversationID string      `json:"conversation_id,omitempty" bson:"conversation_id,omitempty"`
	Episode        *EpisodeRef `json:"current_episode,omitempty" bson:"current_episode,omitempty"`
	ConnectedAt    time.Time   `json:"connected_at" bson:"connected_at"`
	LastActivity   time.Time   `json:"last_activity" bson:"last_activity"`

	// Per-session learning progress, flushed into the ProgressRecord.
	InteractionCount int      `json:"interaction_count" bson:"interaction_count"`
	WordsLearned     []string `json:"words_learned,omitempty" bson:"words_learned,omitempty"`
}

// NewSessionRecord creates the record for a freshly connected device in
// the menu phase with no upstream conversation attached yet.
func NewSessionRecord(deviceID, userID string) *SessionRecord {
	now := time.Now()
	return &SessionRecord{
		DeviceID:     deviceID,
		UserID:       userID,
		Mode:         AgentModeChoosing,
		ConnectedAt:  now,
		LastActivity: now,
	}
}

// Touch updates the last-activity timestamp.
func (s *SessionRecord) Touch() {
	s.LastActivity = time.Now()
}

// AttachConversation records the live upstream conversation handle. It fails
// if another conversation is still attached: a session never owns two.
func (s *SessionRecord) AttachConversation(conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	if s.ConversationID != "" && s.ConversationID != conversationID {
		return fmt.Errorf("session %s already has conversation %s", s.DeviceID, s.ConversationID)
	}
	s.ConversationID = conversationID
	s.Touch()
	return nil
}

// DetachConversation clears the upstream handle, e.g. while a replacement
// is being opened during handoff.
func (s *SessionRecord) DetachConversation() {
	s.ConversationID = ""
}

// BeginLearning flips the session into the teaching phase for one episode.
// Mode and episode reference change together so no observer ever sees a
// half-updated record.
func (s *SessionRecord) BeginLearning(ref EpisodeRef) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("invalid episode ref: %w", err)
	}
	if s.Mode == AgentModeLearning {
		return fmt.Errorf("session %s is already learning %s", s.DeviceID, s.Episode)
	}
	s.Mode = AgentModeLearning
	s.Episode = &ref
	s.Touch()
	return nil
}

// ReturnToChoosing ends the teaching phase and puts the session back on the
// menu. Safe to call from CHOOSING; per-episode progress is reset.
func (s *SessionRecord) ReturnToChoosing() {
	s.Mode = AgentModeChoosing
	s.Episode = nil
	s.WordsLearned = nil
	s.Touch()
}

// MarkWordLearned records a vocabulary word once per session.
func (s *SessionRecord) MarkWordLearned(word string) {
	for _, w := range s.WordsLearned {
		if w == word {
			return
		}
	}
	s.WordsLearned = append(s.WordsLearned, word)
	s.Touch()
}

// Duration reports how long the device has been connected.
func (s *SessionRecord) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// Clone returns a copy safe to hand to readers outside the owning device
// task. The episode ref is copied, not shared.
func (s *SessionRecord) Clone() *SessionRecord {
	c := *s
	if s.Episode != nil {
		ref := *s.Episode
		c.Episode = &ref
	}
	if s.WordsLearned != nil {
		c.WordsLearned = append([]string(nil), s.WordsLearned...)
	}
	return &c
}

// Validate enforces the mode/episode invariant.
func (s *SessionRecord) Validate() error {
	if s.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if s.Mode != AgentModeChoosing && s.Mode != AgentModeLearning {
		return fmt.Errorf("invalid agent mode %q", s.Mode)
	}
	if s.Mode == AgentModeLearning && s.Episode == nil {
		return errors.New("learning session without an episode")
	}
	if s.Mode == AgentModeChoosing && s.Episode != nil {
		return errors.New("choosing session with an episode attached")
	}
	return nil
}
