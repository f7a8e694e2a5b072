package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/domain/repositories"
)

const cacheMirrorTimeout = 2 * time.Second

// SessionStore is the authoritative in-memory map of session records, keyed
// by device identity. Every mutation is mirrored synchronously into the
// shared cache so the REST surface and crash recovery read consistent state.
//
// Records are cloned on the way in and out: readers never observe a record
// mid-mutation, and mode/episode always change together under the lock.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*entities.SessionRecord

	cache  repositories.SessionCache
	logger *zap.Logger
}

// NewSessionStore creates an empty store mirroring into the given cache.
func NewSessionStore(cache repositories.SessionCache, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*entities.SessionRecord),
		cache:    cache,
		logger:   logger,
	}
}

// Put inserts or replaces the record for its device.
func (s *SessionStore) Put(ctx context.Context, record *entities.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid session: %w", err)
	}

	clone := record.Clone()
	s.mu.Lock()
	s.sessions[clone.DeviceID] = clone
	s.mu.Unlock()

	s.mirror(ctx, clone)
	return nil
}

// Get returns a copy of the record, or false when the device has no session.
func (s *SessionStore) Get(deviceID string) (*entities.SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sessions[deviceID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// Update applies fn to the device's record under the lock and mirrors the
// result. fn returning an error leaves the stored record untouched, so a
// failed transition can never leave a half-updated record behind.
func (s *SessionStore) Update(ctx context.Context, deviceID string, fn func(*entities.SessionRecord) error) error {
	s.mu.Lock()
	record, ok := s.sessions[deviceID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no session for device %s", deviceID)
	}

	next := record.Clone()
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("update left session invalid: %w", err)
	}
	s.sessions[deviceID] = next
	clone := next.Clone()
	s.mu.Unlock()

	s.mirror(ctx, clone)
	return nil
}

// Touch bumps the device's last-activity timestamp in memory only. Activity
// is too frequent to mirror per frame; the cache copy catches up on the next
// mode or episode change.
func (s *SessionStore) Touch(deviceID string) {
	s.mu.Lock()
	if record, ok := s.sessions[deviceID]; ok {
		record.Touch()
	}
	s.mu.Unlock()
}

// Remove deletes the record and its cache mirror. No-op for unknown devices.
func (s *SessionStore) Remove(ctx context.Context, deviceID string) {
	s.mu.Lock()
	_, ok := s.sessions[deviceID]
	delete(s.sessions, deviceID)
	s.mu.Unlock()
	if !ok {
		return
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheMirrorTimeout)
	defer cancel()
	if err := s.cache.DeleteSession(mctx, deviceID); err != nil {
		s.logger.Warn("Failed to delete cached session",
			zap.String("deviceID", deviceID),
			zap.Error(err))
	}
}

// List returns copies of all live records, ordered by device identity.
func (s *SessionStore) List() []*entities.SessionRecord {
	s.mu.RLock()
	records := make([]*entities.SessionRecord, 0, len(s.sessions))
	for _, record := range s.sessions {
		records = append(records, record.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].DeviceID < records[j].DeviceID
	})
	return records
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// mirror writes the record into the shared cache. Cache failures are logged
// and swallowed: the in-memory map stays authoritative.
func (s *SessionStore) mirror(ctx context.Context, record *entities.SessionRecord) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheMirrorTimeout)
	defer cancel()
	if err := s.cache.SetSession(mctx, record.DeviceID, record); err != nil {
		s.logger.Warn("Failed to mirror session to cache",
			zap.String("deviceID", record.DeviceID),
			zap.Error(err))
	}
}
