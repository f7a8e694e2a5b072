// Package rediscache mirrors live session records into Redis so the REST
// surface and crash recovery can read them without touching the
// orchestrator. An in-memory fallback keeps single-node deployments working
// without Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/storyteller/server/domain/entities"
)

// Cached sessions expire on their own; the orchestrator deletes them on
// clean disconnect, the TTL covers crashes.
const sessionTTL = 24 * time.Hour

func sessionKey(deviceID string) string {
	return "session:" + deviceID
}

// Redis is the SessionCache backed by a Redis server.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis connects to the given address and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", db))
	return &Redis{client: client, logger: logger}, nil
}

// SetSession implements repositories.SessionCache.
func (r *Redis) SetSession(ctx context.Context, deviceID string, record *entities.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session for %s: %w", deviceID, err)
	}
	if err := r.client.Set(ctx, sessionKey(deviceID), data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("cache session for %s: %w", deviceID, err)
	}
	return nil
}

// GetSession implements repositories.SessionCache. Returns nil without error
// on a cache miss.
func (r *Redis) GetSession(ctx context.Context, deviceID string) (*entities.SessionRecord, error) {
	data, err := r.client.Get(ctx, sessionKey(deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cached session for %s: %w", deviceID, err)
	}

	var record entities.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode cached session for %s: %w", deviceID, err)
	}
	return &record, nil
}

// DeleteSession implements repositories.SessionCache.
func (r *Redis) DeleteSession(ctx context.Context, deviceID string) error {
	if err := r.client.Del(ctx, sessionKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("delete cached session for %s: %w", deviceID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
