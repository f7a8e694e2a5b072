// Package devicestore holds the registry of physical devices allowed to
// authenticate against the server.
package devicestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyteller/server/domain/entities"
)

// Memory is an in-memory DeviceRepository. Suitable as a simple production
// backend for small fleets; registration normally happens at provisioning
// time through the REST surface.
type Memory struct {
	mu      sync.RWMutex
	devices map[string]*entities.Device // id -> device
	serials map[string]*entities.Device // serial_number -> device
	secrets map[string]string           // serial_number -> secret key
}

// NewMemory creates an empty device registry.
func NewMemory() *Memory {
	return &Memory{
		devices: make(map[string]*entities.Device),
		serials: make(map[string]*entities.Device),
		secrets: make(map[string]string),
	}
}

// Register implements repositories.DeviceRepository.
func (m *Memory) Register(ctx context.Context, device *entities.Device, secretKey string) error {
	if device == nil {
		return errors.New("device cannot be nil")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	if secretKey == "" {
		return errors.New("secret key cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.serials[device.SerialNumber]; exists {
		return errors.New("device with this serial number already exists")
	}

	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	copied := *device
	m.devices[device.ID] = &copied
	m.serials[device.SerialNumber] = &copied
	m.secrets[device.SerialNumber] = secretKey
	return nil
}

// GetByID implements repositories.DeviceRepository.
func (m *Memory) GetByID(ctx context.Context, id string) (*entities.Device, error) {
	if id == "" {
		return nil, errors.New("device ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[id]
	if !exists {
		return nil, errors.New("device not found")
	}
	copied := *device
	return &copied, nil
}

// ValidateDevice implements repositories.DeviceRepository. Used during
// device authentication.
func (m *Memory) ValidateDevice(serialNumber, secret string) (*entities.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	storedSecret, exists := m.secrets[serialNumber]
	if !exists {
		return nil, errors.New("device not found")
	}
	if storedSecret != secret {
		return nil, errors.New("invalid credentials")
	}

	device, exists := m.serials[serialNumber]
	if !exists {
		return nil, errors.New("device not found")
	}
	copied := *device
	return &copied, nil
}
