package repositories

import (
	"context"

	"github.com/storyteller/server/domain/entities"
)

// SessionCache mirrors live session records into a fast shared cache so the
// REST surface and crash recovery can read them without touching the
// orchestrator. Keys are session:{deviceID}.
type SessionCache interface {
	SetSession(ctx context.Context, deviceID string, record *entities.SessionRecord) error
	// GetSession returns nil without error when no record is cached.
	GetSession(ctx context.Context, deviceID string) (*entities.SessionRecord, error)
	DeleteSession(ctx context.Context, deviceID string) error
}
