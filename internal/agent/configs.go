// Package agent builds the typed conversation configurations for the two
// agent phases: the choice agent that offers the next episode, and the
// episode agent that teaches one selected episode.
package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
)

// Tool names the agents may call.
const (
	ToolSelectEpisode         = "select_episode"
	ToolMarkVocabularyLearned = "mark_vocabulary_learned"
	ToolCompleteEpisode       = "complete_episode"
)

// Voices per agent phase.
const (
	choiceVoice  = "alloy"
	episodeVoice = "nova"
)

// UserInfo is the personalization data templated into the prompts.
type UserInfo struct {
	Name string
	Age  int
}

// DefaultUserInfo is used when no profile exists for the device yet.
func DefaultUserInfo() UserInfo {
	return UserInfo{Name: "friend", Age: 6}
}

var selectEpisodeTool = repositories.ToolDefinition{
	Name:        ToolSelectEpisode,
	Description: "Start the chosen episode when the child is ready to learn",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"language": {"type": "string", "description": "Language of the episode to start"},
			"season": {"type": "integer", "description": "Season number"},
			"episode": {"type": "integer", "description": "Episode number"},
			"title": {"type": "string", "description": "Episode title, if known"}
		},
		"required": ["language", "season", "episode"]
	}`),
}

var markVocabularyLearnedTool = repositories.ToolDefinition{
	Name:        ToolMarkVocabularyLearned,
	Description: "Mark a vocabulary word as learned when the child successfully repeats it",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"word": {"type": "string", "description": "The vocabulary word that was learned"},
			"confidence": {"type": "string", "enum": ["low", "medium", "high"], "description": "How well the child learned the word"}
		},
		"required": ["word", "confidence"]
	}`),
}

var completeEpisodeTool = repositories.ToolDefinition{
	Name:        ToolCompleteEpisode,
	Description: "Mark the episode as completed when all vocabulary has been taught",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"words_learned": {"type": "array", "items": {"type": "string"}, "description": "Words successfully learned in this episode"},
			"completion_time": {"type": "integer", "description": "Time taken to complete the episode in seconds"}
		},
		"required": ["words_learned"]
	}`),
}

// ChoiceConfig builds the choice-phase configuration for offering one
// episode. The pre-written prompt from the catalog is preferred; a built-in
// fallback covers episodes without one.
func ChoiceConfig(next *entities.EpisodeContent, user UserInfo) (repositories.ConversationConfig, error) {
	prompt := next.ChoiceAgentPrompt
	if prompt == "" {
		prompt = fallbackChoicePrompt
	}

	config := repositories.ConversationConfig{
		Name:         "choice_agent",
		Instructions: renderPrompt(prompt, next, user),
		Voice:        choiceVoice,
		Tools:        []repositories.ToolDefinition{selectEpisodeTool},
	}
	if err := config.Validate(); err != nil {
		return repositories.ConversationConfig{}, fmt.Errorf("choice agent config: %w", err)
	}
	return config, nil
}

// EpisodeConfig builds the teaching-phase configuration for one episode.
func EpisodeConfig(content *entities.EpisodeContent, user UserInfo) (repositories.ConversationConfig, error) {
	prompt := content.EpisodeAgentPrompt
	if prompt == "" {
		prompt = fallbackEpisodePrompt
	}

	config := repositories.ConversationConfig{
		Name:         "episode_agent_" + content.Key(),
		Instructions: renderPrompt(prompt, content, user),
		Voice:        episodeVoice,
		Tools: []repositories.ToolDefinition{
			markVocabularyLearnedTool,
			completeEpisodeTool,
		},
	}
	if err := config.Validate(); err != nil {
		return repositories.ConversationConfig{}, fmt.Errorf("episode agent config: %w", err)
	}
	return config, nil
}

// renderPrompt substitutes the placeholders shared by all catalog prompts.
func renderPrompt(prompt string, content *entities.EpisodeContent, user UserInfo) string {
	replacer := strings.NewReplacer(
		"{user_name}", user.Name,
		"{user_age}", strconv.Itoa(user.Age),
		"{episode_title}", content.Title,
		"{episode_language}", titleCase(content.Language),
		"{episode_season}", strconv.Itoa(content.Season),
		"{episode_number}", strconv.Itoa(content.Episode),
		"{story_context}", content.StoryContext,
		"{vocabulary_list}", strings.Join(content.Vocabulary, ", "),
		"{objectives_list}", strings.Join(content.LearningObjectives, ", "),
		"{difficulty}", content.Difficulty,
	)
	return replacer.Replace(prompt)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
