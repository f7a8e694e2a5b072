package entities

import (
	"errors"
	"fmt"
)

// EpisodeRef identifies one immutable content unit in the catalog.
type EpisodeRef struct {
	Language string `json:"language" bson:"language"`
	Season   int    `json:"season" bson:"season"`
	Episode  int    `json:"episode" bson:"episode"`
}

// Key returns the catalog document ID, e.g. "spanish_1_2".
func (r EpisodeRef) Key() string {
	return fmt.Sprintf("%s_%d_%d", r.Language, r.Season, r.Episode)
}

func (r EpisodeRef) String() string {
	return fmt.Sprintf("%s S%dE%d", r.Language, r.Season, r.Episode)
}

// Validate checks that the reference is fully specified.
func (r EpisodeRef) Validate() error {
	if r.Language == "" {
		return errors.New("language is required")
	}
	if r.Season < 1 {
		return errors.New("season must be positive")
	}
	if r.Episode < 1 {
		return errors.New("episode must be positive")
	}
	return nil
}

// EpisodeSelection is the payload of a select_episode tool call from the
// choice agent. Title is optional, everything else is required.
type EpisodeSelection struct {
	Language string `json:"language"`
	Season   int    `json:"season"`
	Episode  int    `json:"episode"`
	Title    string `json:"title,omitempty"`
}

// Validate rejects partially filled selections so that no transition is
// ever attempted on malformed payloads.
func (s EpisodeSelection) Validate() error {
	return s.Ref().Validate()
}

// Ref returns the catalog reference for this selection.
func (s EpisodeSelection) Ref() EpisodeRef {
	return EpisodeRef{Language: s.Language, Season: s.Season, Episode: s.Episode}
}

// EpisodeContent is the full content unit fetched from the catalog. It is
// read-only from the server's point of view.
type EpisodeContent struct {
	EpisodeRef         `bson:",inline"`
	Title              string            `json:"title" bson:"title"`
	Vocabulary         []string          `json:"vocabulary" bson:"vocabulary"`
	StoryContext       string            `json:"story_context" bson:"story_context"`
	Difficulty         string            `json:"difficulty" bson:"difficulty"`
	EstimatedDuration  int               `json:"estimated_duration" bson:"estimated_duration"`
	LearningObjectives []string          `json:"learning_objectives" bson:"learning_objectives"`
	Translations       map[string]string `json:"vocabulary_translations,omitempty" bson:"vocabulary_translations,omitempty"`

	// Pre-written agent prompts. Stripped from public API responses.
	ChoiceAgentPrompt  string `json:"-" bson:"choice_agent_prompt"`
	EpisodeAgentPrompt string `json:"-" bson:"episode_agent_prompt"`
}

// Summary returns the fields safe to expose over the REST surface.
func (e *EpisodeContent) Summary() EpisodeSummary {
	return EpisodeSummary{
		EpisodeRef: e.EpisodeRef,
		Title:      e.Title,
		Difficulty: e.Difficulty,
	}
}

// EpisodeSummary is the catalog listing entry for a single episode.
type EpisodeSummary struct {
	EpisodeRef `bson:",inline"`
	Title      string `json:"title" bson:"title"`
	Difficulty string `json:"difficulty" bson:"difficulty"`
}
