package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agileflow/realtime/internal/models"
)

// MemStore is an in-process Store with per-key TTL. It backs the
// peer-replicated variant, local development, and tests. Documents are
// stored serialized so readers and writers never share a live pointer.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemStore creates a MemStore with the given TTL. A zero ttl means
// entries never expire.
func NewMemStore(ttl time.Duration, clock clockwork.Clock) *MemStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemStore{
		entries: make(map[string]memEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns the current document for roomID, or (nil, nil) when the room
// is unknown or its TTL has elapsed.
func (s *MemStore) Get(ctx context.Context, roomID string) (*models.RoomDocument, error) {
	s.mu.RLock()
	entry, ok := s.entries[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.ttl > 0 && s.clock.Now().After(entry.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; a Set may have refreshed the entry.
		if cur, ok := s.entries[roomID]; ok && s.clock.Now().After(cur.expiresAt) {
			delete(s.entries, roomID)
		}
		s.mu.Unlock()
		return nil, nil
	}

	var doc models.RoomDocument
	if err := json.Unmarshal(entry.data, &doc); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &doc, nil
}

// Set writes the full document and resets the room's expiry window.
func (s *MemStore) Set(ctx context.Context, roomID string, doc *models.RoomDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", roomID, err)
	}

	s.mu.Lock()
	s.entries[roomID] = memEntry{
		data:      data,
		expiresAt: s.clock.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return nil
}

// Len reports the number of live (possibly expired but unswept) entries.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
