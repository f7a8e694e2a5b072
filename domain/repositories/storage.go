package repositories

import (
	"context"

	"github.com/storyteller/server/domain/entities"
)

// UserRepository defines data access methods for users.
type UserRepository interface {
	// GetOrCreateByDeviceID looks the user up by device identity, creating
	// one on first contact.
	GetOrCreateByDeviceID(ctx context.Context, deviceID string) (*entities.User, error)
	GetByID(ctx context.Context, id string) (*entities.User, error)
	Update(ctx context.Context, user *entities.User) error
}

// ProgressRepository appends durable progress records. Records are facts
// and are never mutated after the write.
type ProgressRepository interface {
	Record(ctx context.Context, record *entities.ProgressRecord) error
	ListByUser(ctx context.Context, userID string) ([]*entities.ProgressRecord, error)
}

// DeviceRepository defines data access methods for registered devices.
type DeviceRepository interface {
	Register(ctx context.Context, device *entities.Device, secretKey string) error
	GetByID(ctx context.Context, id string) (*entities.Device, error)
	// ValidateDevice validates device credentials for authentication.
	ValidateDevice(serialNumber, secret string) (*entities.Device, error)
}
