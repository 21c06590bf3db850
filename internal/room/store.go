package room

import (
	"context"
	"time"

	"github.com/agileflow/realtime/internal/models"
)

// Store is keyed persistence of one RoomDocument per room. Set writes the
// full document and resets its expiry window; there are no partial writes.
// Get returns (nil, nil) for an unknown or expired room — absence is not an
// error, only storage or transport failures are.
type Store interface {
	Get(ctx context.Context, roomID string) (*models.RoomDocument, error)
	Set(ctx context.Context, roomID string, doc *models.RoomDocument) error
}

// DefaultRoomTTL is how long a room survives without a write.
const DefaultRoomTTL = 6 * time.Hour
