package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
)

type ProgressRepository struct {
	collection *mongo.Collection
}

// NewProgressRepository creates a new MongoDB progress repository
func NewProgressRepository(db *mongo.Database) repositories.ProgressRepository {
	return &ProgressRepository{
		collection: db.Collection("progress"),
	}
}

// Record implements repositories.ProgressRepository. Records are appended
// facts; there is no update path.
func (r *ProgressRepository) Record(ctx context.Context, record *entities.ProgressRecord) error {
	if record == nil {
		return errors.New("progress record cannot be nil")
	}
	if record.UserID == "" {
		return errors.New("progress record needs a user ID")
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now()
	}

	doc := bson.M{
		"user_id":           record.UserID,
		"episode":           record.Episode,
		"completed":         record.Completed,
		"duration_seconds":  record.DurationSeconds,
		"interaction_count": record.InteractionCount,
		"words_learned":     record.WordsLearned,
		"recorded_at":       record.RecordedAt,
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to record progress for user %s: %w", record.UserID, err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		record.ID = oid.Hex()
	}
	return nil
}

// ListByUser implements repositories.ProgressRepository
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]*entities.ProgressRecord, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.M{"recorded_at": -1})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress for user %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var records []*entities.ProgressRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode progress for user %s: %w", userID, err)
	}
	return records, nil
}
