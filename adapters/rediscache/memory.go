package rediscache

import (
	"context"
	"sync"
	"time"

	"github.com/storyteller/server/domain/entities"
)

// Memory is the in-process SessionCache fallback used when no Redis is
// configured. Entries expire lazily on read, mirroring the Redis TTL.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	record    *entities.SessionRecord
	expiresAt time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// SetSession implements repositories.SessionCache.
func (m *Memory) SetSession(ctx context.Context, deviceID string, record *entities.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[deviceID] = memoryEntry{
		record:    record.Clone(),
		expiresAt: time.Now().Add(sessionTTL),
	}
	return nil
}

// GetSession implements repositories.SessionCache.
func (m *Memory) GetSession(ctx context.Context, deviceID string) (*entities.SessionRecord, error) {
	m.mu.RLock()
	entry, ok := m.entries[deviceID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, deviceID)
		m.mu.Unlock()
		return nil, nil
	}
	return entry.record.Clone(), nil
}

// DeleteSession implements repositories.SessionCache.
func (m *Memory) DeleteSession(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, deviceID)
	return nil
}
