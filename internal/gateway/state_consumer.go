package gateway

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/agileflow/realtime/internal/room"
)

// StateConsumer subscribes to the room-state subjects and relays every
// published document to this process's connection pools. It is what makes
// broadcasts reach clients connected to any coordinator instance. Late and
// duplicate publishes are relayed as-is; clients replace state wholesale.
type StateConsumer struct {
	nc      *nats.Conn
	manager *ConnectionManager
}

// NewStateConsumer creates a consumer on an existing NATS connection.
func NewStateConsumer(nc *nats.Conn, manager *ConnectionManager) *StateConsumer {
	return &StateConsumer{nc: nc, manager: manager}
}

// Start subscribes and relays until ctx is canceled.
func (sc *StateConsumer) Start(ctx context.Context) error {
	sub, err := sc.nc.Subscribe(room.StateSubject("*"), func(msg *nats.Msg) {
		roomID := room.RoomIDFromSubject(msg.Subject)
		if roomID == "" {
			return
		}
		frame, err := EncodeRawRoomState(msg.Data)
		if err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to frame room state")
			return
		}
		sc.manager.BroadcastToRoom(roomID, frame)
	})
	if err != nil {
		return fmt.Errorf("subscribe room state: %w", err)
	}

	log.Info().Str("subject", room.StateSubject("*")).Msg("state consumer started")

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain state subscription")
	}
	log.Info().Msg("state consumer shutting down")
	return nil
}
