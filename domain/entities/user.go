package entities

import (
	"errors"
	"time"
)

// User is the long-lived identity linked 1:1 to a device. Created on the
// device's first connection, looked up afterwards.
type User struct {
	ID        string    `json:"id" bson:"_id"`
	DeviceID  string    `json:"device_id" bson:"device_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	LastSeen  time.Time `json:"last_seen" bson:"last_seen"`

	// Learning progress pointer: the next episode the choice agent offers.
	CurrentLanguage string `json:"current_language" bson:"current_language"`
	CurrentSeason   int    `json:"current_season" bson:"current_season"`
	CurrentEpisode  int    `json:"current_episode" bson:"current_episode"`

	// Lifetime statistics.
	TotalWordsLearned      int `json:"total_words_learned" bson:"total_words_learned"`
	TotalEpisodesCompleted int `json:"total_episodes_completed" bson:"total_episodes_completed"`
	TotalConversationTime  int `json:"total_conversation_time" bson:"total_conversation_time"`
}

// NewUser creates a user for a device seen for the first time, starting at
// the first Spanish episode.
func NewUser(id, deviceID string) *User {
	now := time.Now()
	return &User{
		ID:              id,
		DeviceID:        deviceID,
		CreatedAt:       now,
		LastSeen:        now,
		CurrentLanguage: "spanish",
		CurrentSeason:   1,
		CurrentEpisode:  1,
	}
}

// NextEpisode returns the episode the user's progress points at.
func (u *User) NextEpisode() EpisodeRef {
	return EpisodeRef{
		Language: u.CurrentLanguage,
		Season:   u.CurrentSeason,
		Episode:  u.CurrentEpisode,
	}
}

// AdvanceProgress moves the progress pointer past the completed episode and
// accumulates lifetime statistics.
func (u *User) AdvanceProgress(completed EpisodeRef, wordsLearned int, durationSeconds int) {
	if completed == u.NextEpisode() {
		u.CurrentEpisode++
	}
	u.TotalEpisodesCompleted++
	u.TotalWordsLearned += wordsLearned
	u.TotalConversationTime += durationSeconds
	u.LastSeen = time.Now()
}

func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.DeviceID == "" {
		return errors.New("device_id is required")
	}
	return nil
}

// ProgressRecord is the durable fact that a user completed or attempted an
// episode. Appended on teardown or completion, never mutated.
type ProgressRecord struct {
	// ID is assigned by the durable store on insert; it never round-trips
	// back into a query, so it is excluded from the bson mapping.
	ID               string     `json:"id" bson:"-"`
	UserID           string     `json:"user_id" bson:"user_id"`
	Episode          EpisodeRef `json:"episode" bson:"episode"`
	Completed        bool       `json:"completed" bson:"completed"`
	DurationSeconds  int        `json:"duration_seconds" bson:"duration_seconds"`
	InteractionCount int        `json:"interaction_count" bson:"interaction_count"`
	WordsLearned     []string   `json:"words_learned" bson:"words_learned"`
	RecordedAt       time.Time  `json:"recorded_at" bson:"recorded_at"`
}
