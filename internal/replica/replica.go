// Package replica implements the peer-replicated deployment variant: every
// client independently reads and writes a shared keyed store with no
// central arbiter, converging by optimistic locking and retries. It trades
// the coordinator's ordering guarantee for best-effort convergence; see
// Join for the race it cannot close.
package replica

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/agileflow/realtime/internal/models"
	"github.com/agileflow/realtime/internal/room"
)

// ErrRoomNotFound is returned while the room's creating write has not
// landed yet; Join retries through it.
var ErrRoomNotFound = errors.New("room not found")

// ErrConflict means a concurrent writer overwrote this replica's write
// between its read and its verification re-read.
var ErrConflict = errors.New("write conflict")

// ErrRetryExhausted is the terminal join failure after the retry budget is
// spent.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// errRoomExists routes JoinOrCreate from its create path to its join path.
var errRoomExists = errors.New("room already exists")

// RetryConfig bounds the verify-and-retry protocol.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryConfig matches the reference protocol: up to 6 attempts with
// delay base*2^(attempt-1) plus up to 50ms of jitter, base 80ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 6,
		BaseDelay:   80 * time.Millisecond,
		MaxJitter:   50 * time.Millisecond,
	}
}

// Replica is one independent writer (one browser tab's worth of state)
// over a shared store. Mutations are last-writer-wins whole-document
// read-modify-writes serialized per room only within this replica.
type Replica struct {
	store room.Store
	locks *KeyedLock
	clock clockwork.Clock
	retry RetryConfig

	// Participant ids must be stable across join retries, otherwise a
	// retry after a false conflict would duplicate the participant.
	idMu sync.Mutex
	ids  map[string]string // roomID/name -> participant id
}

// New creates a replica over the shared store.
func New(store room.Store, clock clockwork.Clock, retry RetryConfig) *Replica {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Replica{
		store: store,
		locks: NewKeyedLock(),
		clock: clock,
		retry: retry,
		ids:   make(map[string]string),
	}
}

// participantID returns the stable id for (roomID, name), generating it on
// first use.
func (r *Replica) participantID(roomID, name string) string {
	key := roomID + "/" + name
	r.idMu.Lock()
	defer r.idMu.Unlock()
	if id, ok := r.ids[key]; ok {
		return id
	}
	id := uuid.New().String()
	r.ids[key] = id
	return id
}

// withRetry runs op until it succeeds, the retry budget is exhausted, or
// ctx is canceled. Delay grows exponentially with jitter.
func (r *Replica) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	delay := r.retry.BaseDelay
	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == r.retry.MaxAttempts {
			break
		}
		wait := delay
		if r.retry.MaxJitter > 0 {
			wait += time.Duration(rand.Int63n(int64(r.retry.MaxJitter)))
		}
		log.Debug().Err(lastErr).Int("attempt", attempt).Dur("delay", wait).Msg("retrying after conflict")
		select {
		case <-r.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %w", ErrRetryExhausted, lastErr)
}

// CreateRoom initializes a room document with the caller as host and
// writes it. No retry: creation is a plain write, and a concurrent creator
// racing it resolves through the joiners' verify path.
func (r *Replica) CreateRoom(ctx context.Context, roomID, name string, roomType models.RoomType) (*models.RoomDocument, *models.Participant, error) {
	var doc *models.RoomDocument
	var host models.Participant
	var err error

	r.locks.Do(roomID, func() {
		hostID := r.participantID(roomID, name)
		host = models.Participant{ID: hostID, Name: name, IsHost: true}
		doc = &models.RoomDocument{
			ID:           roomID,
			Type:         roomType,
			Participants: []models.Participant{host},
			Host:         hostID,
			CreatedAt:    r.clock.Now().UTC(),
			Votes:        map[string]models.Vote{},
			Notes:        []models.Note{},
		}
		if roomType == models.RoomTypeRetroBoard {
			doc.Columns = models.DefaultRetroColumns()
		}
		err = r.store.Set(ctx, roomID, doc)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create room %s: %w", roomID, err)
	}
	return doc, &host, nil
}

// Join attaches to an existing room using the verify-and-retry protocol:
// read, merge this participant in, write, re-read, and confirm our own
// entry survived. A missing room (the creator's write has not landed) and
// a failed verification both count against the retry budget.
//
// Verification only proves this replica's entry is present after the
// write; it cannot detect another writer's concurrent change being lost.
// True lost-update races inside one retry window are a known gap of this
// variant.
func (r *Replica) Join(ctx context.Context, roomID, name string) (*models.RoomDocument, *models.Participant, error) {
	stableID := r.participantID(roomID, name)

	var doc *models.RoomDocument
	var joined models.Participant

	err := r.withRetry(ctx, func() error {
		jdoc, jp, jerr := r.joinOnce(ctx, roomID, name, stableID)
		if jerr != nil {
			return jerr
		}
		doc, joined = jdoc, *jp
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("join room %s: %w", roomID, err)
	}
	return doc, &joined, nil
}

// joinOnce is one attempt of the verified join: read, merge, write,
// re-read, confirm our own entry survived.
func (r *Replica) joinOnce(ctx context.Context, roomID, name, stableID string) (*models.RoomDocument, *models.Participant, error) {
	var doc *models.RoomDocument
	var joined models.Participant
	var opErr error

	r.locks.Do(roomID, func() {
		latest, err := r.store.Get(ctx, roomID)
		if err != nil {
			opErr = err
			return
		}
		if latest == nil {
			opErr = ErrRoomNotFound
			return
		}

		// Already present under this name: attach, no write needed.
		if existing := latest.FindParticipantByName(name); existing != nil && !existing.IsHost {
			doc, joined = latest, *existing
			return
		}
		if latest.FindParticipantByID(stableID) == nil && latest.FindParticipantByName(name) == nil {
			latest.Participants = append(latest.Participants, models.Participant{
				ID:     stableID,
				Name:   name,
				IsHost: false,
			})
		}

		if err := r.store.Set(ctx, roomID, latest); err != nil {
			opErr = err
			return
		}

		verified, err := r.store.Get(ctx, roomID)
		if err != nil {
			opErr = err
			return
		}
		if verified == nil {
			opErr = ErrConflict
			return
		}
		attached := verified.FindParticipantByID(stableID)
		if attached == nil {
			attached = verified.FindParticipantByName(name)
		}
		if attached == nil {
			opErr = ErrConflict
			return
		}
		doc, joined = verified, *attached
	})
	if opErr != nil {
		return nil, nil, opErr
	}
	return doc, &joined, nil
}

// JoinOrCreate claims an unclaimed room code as host, or joins the
// existing room as a regular participant. The host claim is verified the
// same way a join is: after writing, the document is re-read and the claim
// must have survived; a concurrent creator stomping it turns this caller
// into a joiner on the next attempt. Whatever interleaving wins, the
// stored document only ever carries one host.
func (r *Replica) JoinOrCreate(ctx context.Context, roomID, name string, roomType models.RoomType) (*models.RoomDocument, *models.Participant, error) {
	stableID := r.participantID(roomID, name)

	var doc *models.RoomDocument
	var joined models.Participant

	err := r.withRetry(ctx, func() error {
		var opErr error
		r.locks.Do(roomID, func() {
			latest, err := r.store.Get(ctx, roomID)
			if err != nil {
				opErr = err
				return
			}
			if latest != nil {
				opErr = errRoomExists
				return
			}

			host := models.Participant{ID: stableID, Name: name, IsHost: true}
			created := &models.RoomDocument{
				ID:           roomID,
				Type:         roomType,
				Participants: []models.Participant{host},
				Host:         stableID,
				CreatedAt:    r.clock.Now().UTC(),
				Votes:        map[string]models.Vote{},
				Notes:        []models.Note{},
			}
			if roomType == models.RoomTypeRetroBoard {
				created.Columns = models.DefaultRetroColumns()
			}
			if err := r.store.Set(ctx, roomID, created); err != nil {
				opErr = err
				return
			}

			verified, err := r.store.Get(ctx, roomID)
			if err != nil {
				opErr = err
				return
			}
			if verified == nil || verified.Host != stableID {
				opErr = ErrConflict
				return
			}
			doc, joined = verified, host
		})
		if opErr == nil {
			return nil
		}
		if !errors.Is(opErr, errRoomExists) && !errors.Is(opErr, ErrConflict) {
			return opErr
		}

		// Someone else claimed the code; join their room instead.
		jdoc, jp, jerr := r.joinOnce(ctx, roomID, name, stableID)
		if jerr != nil {
			return jerr
		}
		doc, joined = jdoc, *jp
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("join or create room %s: %w", roomID, err)
	}
	return doc, &joined, nil
}

// mutate is the last-writer-wins read-modify-write every non-join mutation
// uses. Preconditions fail silently, matching the coordinator.
func (r *Replica) mutate(ctx context.Context, roomID string, op func(doc *models.RoomDocument) bool) error {
	var opErr error
	r.locks.Do(roomID, func() {
		doc, err := r.store.Get(ctx, roomID)
		if err != nil {
			opErr = err
			return
		}
		if doc == nil || !op(doc) {
			return
		}
		opErr = r.store.Set(ctx, roomID, doc)
	})
	return opErr
}

// CastVote upserts this room's vote for the named participant.
func (r *Replica) CastVote(ctx context.Context, roomID, participantName string, value *string) error {
	return r.mutate(ctx, roomID, func(doc *models.RoomDocument) bool {
		if doc.VotesRevealed {
			return false
		}
		participant := doc.FindParticipantByName(participantName)
		if participant == nil {
			return false
		}
		if doc.Votes == nil {
			doc.Votes = map[string]models.Vote{}
		}
		doc.Votes[participant.ID] = models.Vote{ParticipantID: participant.ID, Value: value}
		return true
	})
}

// RevealVotes flips the revealed flag. Host only.
func (r *Replica) RevealVotes(ctx context.Context, roomID, requesterName string) error {
	return r.mutate(ctx, roomID, func(doc *models.RoomDocument) bool {
		requester := doc.FindParticipantByName(requesterName)
		if requester == nil || !requester.IsHost {
			return false
		}
		doc.VotesRevealed = true
		return true
	})
}

// ResetVotes clears votes and the revealed flag. Host only.
func (r *Replica) ResetVotes(ctx context.Context, roomID, requesterName string) error {
	return r.mutate(ctx, roomID, func(doc *models.RoomDocument) bool {
		requester := doc.FindParticipantByName(requesterName)
		if requester == nil || !requester.IsHost {
			return false
		}
		doc.Votes = map[string]models.Vote{}
		doc.VotesRevealed = false
		return true
	})
}

// AddNote appends a note authored by the named participant.
func (r *Replica) AddNote(ctx context.Context, roomID, authorName, text, columnID string) error {
	return r.mutate(ctx, roomID, func(doc *models.RoomDocument) bool {
		author := doc.FindParticipantByName(authorName)
		if author == nil {
			return false
		}
		doc.Notes = append(doc.Notes, models.Note{
			ID:         uuid.New().String(),
			Text:       text,
			AuthorID:   author.ID,
			AuthorName: author.Name,
			ColumnID:   columnID,
			CreatedAt:  r.clock.Now().UTC(),
		})
		return true
	})
}

// DeleteNote removes the note when the requester authored it or hosts the
// room.
func (r *Replica) DeleteNote(ctx context.Context, roomID, noteID, requesterName string) error {
	return r.mutate(ctx, roomID, func(doc *models.RoomDocument) bool {
		requester := doc.FindParticipantByName(requesterName)
		if requester == nil {
			return false
		}
		kept := doc.Notes[:0]
		removed := false
		for _, n := range doc.Notes {
			if n.ID == noteID && (n.AuthorID == requester.ID || requester.IsHost) {
				removed = true
				continue
			}
			kept = append(kept, n)
		}
		if !removed {
			return false
		}
		doc.Notes = kept
		return true
	})
}
