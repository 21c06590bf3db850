package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/agileflow/realtime/internal/models"
)

// NATSStoreConfig holds configuration for the shared room store.
type NATSStoreConfig struct {
	Bucket  string
	RoomTTL time.Duration
}

// DefaultNATSStoreConfig returns the default store configuration.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:  "rooms",
		RoomTTL: DefaultRoomTTL,
	}
}

// NATSStore is the shared Store backing the authoritative variant: one
// JetStream key-value bucket whose MaxAge is the room TTL, so a room
// expires RoomTTL after its most recent write. All coordinator instances
// read and write the same bucket.
type NATSStore struct {
	kv     jetstream.KeyValue
	config NATSStoreConfig
}

// NewNATSStore creates or binds the room bucket on an existing NATS
// connection.
func NewNATSStore(ctx context.Context, nc *nats.Conn, config NATSStoreConfig) (*NATSStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "room state documents",
		TTL:         config.RoomTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure room bucket: %w", err)
	}

	log.Info().
		Str("bucket", config.Bucket).
		Dur("room_ttl", config.RoomTTL).
		Msg("room store bucket ready")

	return &NATSStore{kv: kv, config: config}, nil
}

// roomKey maps a room code to its bucket key. Colons are not legal in KV
// keys, so the layout uses dots: room.<code>.state.
func roomKey(roomID string) string {
	return "room." + roomID + ".state"
}

// Get returns the current document for roomID, or (nil, nil) when the key
// is absent or expired.
func (s *NATSStore) Get(ctx context.Context, roomID string) (*models.RoomDocument, error) {
	entry, err := s.kv.Get(ctx, roomKey(roomID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}

	var doc models.RoomDocument
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &doc, nil
}

// Set writes the full document. The bucket's MaxAge restarts per key on
// every put, which refreshes the expiry window.
func (s *NATSStore) Set(ctx context.Context, roomID string, doc *models.RoomDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", roomID, err)
	}
	if _, err := s.kv.Put(ctx, roomKey(roomID), data); err != nil {
		return fmt.Errorf("put room %s: %w", roomID, err)
	}
	return nil
}
