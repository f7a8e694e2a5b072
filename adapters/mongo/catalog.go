package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
)

type EpisodeCatalog struct {
	collection *mongo.Collection
}

// NewEpisodeCatalog creates the MongoDB episode catalog. Episodes are keyed
// by language_season_episode.
func NewEpisodeCatalog(db *mongo.Database) *EpisodeCatalog {
	return &EpisodeCatalog{
		collection: db.Collection("episodes"),
	}
}

// GetEpisode implements repositories.EpisodeCatalog
func (c *EpisodeCatalog) GetEpisode(ctx context.Context, ref entities.EpisodeRef) (*entities.EpisodeContent, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var content entities.EpisodeContent
	err := c.collection.FindOne(ctx, bson.M{"_id": ref.Key()}).Decode(&content)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrEpisodeNotFound
		}
		return nil, fmt.Errorf("failed to get episode %s: %w", ref.Key(), err)
	}
	return &content, nil
}

// ListEpisodes implements repositories.EpisodeCatalog
func (c *EpisodeCatalog) ListEpisodes(ctx context.Context) ([]entities.EpisodeSummary, error) {
	opts := options.Find().
		SetProjection(bson.M{"language": 1, "season": 1, "episode": 1, "title": 1, "difficulty": 1}).
		SetSort(bson.D{{Key: "language", Value: 1}, {Key: "season", Value: 1}, {Key: "episode", Value: 1}})

	cursor, err := c.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer cursor.Close(ctx)

	var summaries []entities.EpisodeSummary
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, fmt.Errorf("failed to decode episode list: %w", err)
	}
	return summaries, nil
}

// Seed upserts the given episodes, used at startup so a fresh database
// serves content immediately.
func (c *EpisodeCatalog) Seed(ctx context.Context, episodes []*entities.EpisodeContent) error {
	for _, episode := range episodes {
		doc := bson.M{
			"language":                episode.Language,
			"season":                  episode.Season,
			"episode":                 episode.Episode,
			"title":                   episode.Title,
			"vocabulary":              episode.Vocabulary,
			"story_context":           episode.StoryContext,
			"difficulty":              episode.Difficulty,
			"estimated_duration":      episode.EstimatedDuration,
			"learning_objectives":     episode.LearningObjectives,
			"vocabulary_translations": episode.Translations,
			"choice_agent_prompt":     episode.ChoiceAgentPrompt,
			"episode_agent_prompt":    episode.EpisodeAgentPrompt,
		}
		_, err := c.collection.ReplaceOne(
			ctx,
			bson.M{"_id": episode.Key()},
			doc,
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to seed episode %s: %w", episode.Key(), err)
		}
	}
	return nil
}
