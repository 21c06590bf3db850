package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/agileflow/realtime/internal/models"
)

// Broadcaster publishes the complete post-mutation document of a room to
// every subscriber of that room id. No deltas: clients replace their local
// view wholesale.
type Broadcaster interface {
	Publish(ctx context.Context, roomID string, doc *models.RoomDocument) error
}

const stateSubjectPrefix = "room.state."

// StateSubject returns the bus subject carrying state broadcasts for a
// room.
func StateSubject(roomID string) string {
	return stateSubjectPrefix + roomID
}

// RoomIDFromSubject recovers the room id from a state subject, or "" when
// the subject is not a state subject.
func RoomIDFromSubject(subject string) string {
	if len(subject) <= len(stateSubjectPrefix) || subject[:len(stateSubjectPrefix)] != stateSubjectPrefix {
		return ""
	}
	return subject[len(stateSubjectPrefix):]
}

// NATSBroadcaster fans documents out over core NATS so that subscribers
// connected to any coordinator instance receive them.
type NATSBroadcaster struct {
	nc *nats.Conn
}

// NewNATSBroadcaster creates a broadcaster on an existing NATS connection.
func NewNATSBroadcaster(nc *nats.Conn) *NATSBroadcaster {
	return &NATSBroadcaster{nc: nc}
}

// Publish sends the public view of the document to the room's state
// subject.
func (b *NATSBroadcaster) Publish(ctx context.Context, roomID string, doc *models.RoomDocument) error {
	data, err := json.Marshal(doc.Public())
	if err != nil {
		return fmt.Errorf("encode room state %s: %w", roomID, err)
	}
	if err := b.nc.Publish(StateSubject(roomID), data); err != nil {
		return fmt.Errorf("publish room state %s: %w", roomID, err)
	}
	return nil
}

// LocalBroadcaster fans documents out to in-process subscribers. It serves
// the peer-replicated variant and tests, where there is no message bus.
type LocalBroadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[chan *models.RoomDocument]bool
}

// NewLocalBroadcaster creates an empty in-process broadcaster.
func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{
		subs: make(map[string]map[chan *models.RoomDocument]bool),
	}
}

// Subscribe registers a buffered channel receiving every document published
// for roomID. The returned cancel func removes the subscription.
func (b *LocalBroadcaster) Subscribe(roomID string) (<-chan *models.RoomDocument, func()) {
	ch := make(chan *models.RoomDocument, 16)

	b.mu.Lock()
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[chan *models.RoomDocument]bool)
	}
	b.subs[roomID][ch] = true
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[roomID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, roomID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the public view of the document to every subscriber of
// roomID. Slow subscribers are skipped rather than blocking the mutation
// path.
func (b *LocalBroadcaster) Publish(ctx context.Context, roomID string, doc *models.RoomDocument) error {
	pub := doc.Public()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[roomID] {
		select {
		case ch <- pub:
		default:
			log.Warn().Str("room_id", roomID).Msg("subscriber buffer full, dropping state")
		}
	}
	return nil
}
