package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
)

type UserRepository struct {
	collection *mongo.Collection
}

// NewUserRepository creates a new MongoDB user repository
func NewUserRepository(db *mongo.Database) repositories.UserRepository {
	return &UserRepository{
		collection: db.Collection("users"),
	}
}

// GetOrCreateByDeviceID implements repositories.UserRepository. The user is
// created on the device's first contact, keyed by a generated UUID.
func (r *UserRepository) GetOrCreateByDeviceID(ctx context.Context, deviceID string) (*entities.User, error) {
	if deviceID == "" {
		return nil, errors.New("device ID cannot be empty")
	}

	var user entities.User
	err := r.collection.FindOne(ctx, bson.M{"device_id": deviceID}).Decode(&user)
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to look up user for device %s: %w", deviceID, err)
	}

	created := entities.NewUser(uuid.New().String(), deviceID)
	if _, err := r.collection.InsertOne(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to create user for device %s: %w", deviceID, err)
	}
	return created, nil
}

// GetByID implements repositories.UserRepository
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	if id == "" {
		return nil, errors.New("user ID cannot be empty")
	}

	var user entities.User
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %s not found", id)
		}
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &user, nil
}

// Update implements repositories.UserRepository
func (r *UserRepository) Update(ctx context.Context, user *entities.User) error {
	if user == nil {
		return errors.New("user cannot be nil")
	}
	if err := user.Validate(); err != nil {
		return err
	}

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("user %s not found", user.ID)
	}
	return nil
}
