// Package memstore holds in-memory implementations of the durable
// repositories, used when no MongoDB is configured and across the test
// suites. State lives for the process lifetime only.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/storyteller/server/domain/entities"
)

// Users implements repositories.UserRepository over a process-local map.
type Users struct {
	mu       sync.RWMutex
	byDevice map[string]*entities.User
	byID     map[string]*entities.User
}

// NewUsers creates an empty in-memory user repository.
func NewUsers() *Users {
	return &Users{
		byDevice: make(map[string]*entities.User),
		byID:     make(map[string]*entities.User),
	}
}

// GetOrCreateByDeviceID implements repositories.UserRepository.
func (u *Users) GetOrCreateByDeviceID(ctx context.Context, deviceID string) (*entities.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if user, ok := u.byDevice[deviceID]; ok {
		clone := *user
		return &clone, nil
	}

	user := entities.NewUser(uuid.New().String(), deviceID)
	u.byDevice[deviceID] = user
	u.byID[user.ID] = user
	clone := *user
	return &clone, nil
}

// GetByID implements repositories.UserRepository.
func (u *Users) GetByID(ctx context.Context, id string) (*entities.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	user, ok := u.byID[id]
	if !ok {
		return nil, fmt.Errorf("user %s not found", id)
	}
	clone := *user
	return &clone, nil
}

// Update implements repositories.UserRepository.
func (u *Users) Update(ctx context.Context, user *entities.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.byID[user.ID]; !ok {
		return fmt.Errorf("user %s not found", user.ID)
	}
	clone := *user
	u.byID[user.ID] = &clone
	u.byDevice[user.DeviceID] = &clone
	return nil
}

// Progress implements repositories.ProgressRepository over an append-only
// in-memory slice.
type Progress struct {
	mu      sync.RWMutex
	records []*entities.ProgressRecord
}

// NewProgress creates an empty in-memory progress repository.
func NewProgress() *Progress {
	return &Progress{}
}

// Record implements repositories.ProgressRepository.
func (p *Progress) Record(ctx context.Context, record *entities.ProgressRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	record.ID = uuid.New().String()
	clone := *record
	p.records = append(p.records, &clone)
	return nil
}

// ListByUser implements repositories.ProgressRepository. Records come back
// newest first, matching the durable store's ordering.
func (p *Progress) ListByUser(ctx context.Context, userID string) ([]*entities.ProgressRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*entities.ProgressRecord
	for i := len(p.records) - 1; i >= 0; i-- {
		if p.records[i].UserID == userID {
			clone := *p.records[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}
