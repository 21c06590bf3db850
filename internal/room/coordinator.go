package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/agileflow/realtime/internal/models"
)

// Coordinator validates and applies one mutation at a time per room,
// enforcing authorization and idempotency, then writes through the Store
// and publishes the post-mutation document.
//
// Each active room is owned by one actor goroutine with an inbox of
// pending operations: mutations for the same room run in acceptance order
// and never interleave their read-modify-write, while different rooms run
// fully in parallel. Precondition and authorization failures are silent
// no-ops with no broadcast; only storage and transport failures surface as
// errors.
type Coordinator struct {
	store Store
	bus   Broadcaster
	clock clockwork.Clock

	mu     sync.Mutex
	actors map[string]*roomActor

	idleAfter time.Duration
	inboxSize int
}

type roomActor struct {
	inbox chan func()
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock replaces the wall clock, for tests.
func WithClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// WithActorIdleTimeout sets how long a room actor lingers with an empty
// inbox before shutting down.
func WithActorIdleTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.idleAfter = d }
}

// NewCoordinator creates a coordinator over the given store and
// broadcaster.
func NewCoordinator(store Store, bus Broadcaster, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:     store,
		bus:       bus,
		clock:     clockwork.NewRealClock(),
		actors:    make(map[string]*roomActor),
		idleAfter: time.Minute,
		inboxSize: 64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// submit queues fn on the room's actor, spawning one if needed. The send
// happens under the coordinator lock so it cannot race actor retirement.
func (c *Coordinator) submit(roomID string, fn func()) {
	for {
		c.mu.Lock()
		actor := c.actors[roomID]
		if actor == nil {
			actor = &roomActor{inbox: make(chan func(), c.inboxSize)}
			c.actors[roomID] = actor
			go c.runActor(roomID, actor)
		}
		select {
		case actor.inbox <- fn:
			c.mu.Unlock()
			return
		default:
		}
		c.mu.Unlock()
		// Inbox full; let the actor drain before retrying.
		time.Sleep(time.Millisecond)
	}
}

// runActor executes a room's operations sequentially until the inbox has
// been idle for idleAfter.
func (c *Coordinator) runActor(roomID string, actor *roomActor) {
	log.Debug().Str("room_id", roomID).Msg("room actor started")
	idle := c.clock.NewTimer(c.idleAfter)
	defer idle.Stop()

	for {
		select {
		case fn := <-actor.inbox:
			fn()
			idle.Reset(c.idleAfter)
		case <-idle.Chan():
			c.mu.Lock()
			if len(actor.inbox) > 0 {
				c.mu.Unlock()
				idle.Reset(c.idleAfter)
				continue
			}
			delete(c.actors, roomID)
			c.mu.Unlock()
			log.Debug().Str("room_id", roomID).Msg("room actor retired")
			return
		}
	}
}

// mutation is one read-modify-write step. It returns the new document and
// whether anything changed; (nil, false) or (doc, false) means a silent
// no-op.
type mutation func(doc *models.RoomDocument) (*models.RoomDocument, bool)

// apply runs op inside the room's actor: read current document, compute,
// write through, broadcast. The returned document is the post-operation
// state the actor observed (nil when the room is absent).
func (c *Coordinator) apply(ctx context.Context, roomID, opName string, op mutation) (*models.RoomDocument, error) {
	type result struct {
		doc *models.RoomDocument
		err error
	}
	done := make(chan result, 1)

	c.submit(roomID, func() {
		doc, err := c.store.Get(ctx, roomID)
		if err != nil {
			done <- result{nil, fmt.Errorf("%s: %w", opName, err)}
			return
		}

		next, changed := op(doc)
		if !changed {
			log.Debug().Str("room_id", roomID).Str("op", opName).Msg("precondition failed, dropping")
			done <- result{doc, nil}
			return
		}

		if err := c.store.Set(ctx, roomID, next); err != nil {
			done <- result{nil, fmt.Errorf("%s: %w", opName, err)}
			return
		}
		if err := c.bus.Publish(ctx, roomID, next); err != nil {
			done <- result{next, fmt.Errorf("%s: %w", opName, err)}
			return
		}
		done <- result{next, nil}
	})

	select {
	case res := <-done:
		return res.doc, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Join attaches a participant to a room, creating the room with the caller
// as host when the code is unclaimed. Re-joining under an existing display
// name reattaches to that participant rather than duplicating it.
//
// Creation mints the room's host token, returned only here: privileged
// operations must present it, so claiming the host's display name later
// grants nothing. The token is stored on the document and stripped from
// every outbound view except the creator's join response.
func (c *Coordinator) Join(ctx context.Context, roomID, name string, roomType models.RoomType) (*models.RoomDocument, *models.Participant, string, error) {
	if roomID == "" || name == "" || !roomType.Valid() {
		return nil, nil, "", nil
	}

	var joined models.Participant
	var hostToken string
	doc, err := c.apply(ctx, roomID, "join_room", func(doc *models.RoomDocument) (*models.RoomDocument, bool) {
		if doc == nil {
			hostID := uuid.New().String()
			hostToken = uuid.New().String()
			joined = models.Participant{ID: hostID, Name: name, IsHost: true}
			created := &models.RoomDocument{
				ID:           roomID,
				Type:         roomType,
				Participants: []models.Participant{joined},
				Host:         hostID,
				HostToken:    hostToken,
				CreatedAt:    c.clock.Now().UTC(),
				Votes:        map[string]models.Vote{},
				Notes:        []models.Note{},
			}
			if roomType == models.RoomTypeRetroBoard {
				created.Columns = models.DefaultRetroColumns()
			}
			return created, true
		}

		if existing := doc.FindParticipantByName(name); existing != nil {
			joined = *existing
			return doc, true
		}
		joined = models.Participant{ID: uuid.New().String(), Name: name, IsHost: false}
		doc.Participants = append(doc.Participants, joined)
		return doc, true
	})
	if err != nil || doc == nil {
		return nil, nil, "", err
	}

	log.Info().
		Str("room_id", roomID).
		Str("participant_id", joined.ID).
		Bool("is_host", joined.IsHost).
		Msg("participant joined")
	return doc, &joined, hostToken, nil
}

// hostAuthorized checks the host capability: the requester must carry the
// host flag, and rooms that have a host token require it to be presented.
// Documents without a token (written by the peer-replicated variant) fall
// back to the flag alone.
func hostAuthorized(doc *models.RoomDocument, requesterName, hostToken string) bool {
	requester := doc.FindParticipantByName(requesterName)
	if requester == nil || !requester.IsHost {
		return false
	}
	return doc.HostToken == "" || hostToken == doc.HostToken
}

// Leave removes the named participant from the roster. Host privilege is
// never transferred: when the host leaves, the room keeps referencing the
// departed id. Removing an absent name is a no-op.
func (c *Coordinator) Leave(ctx context.Context, roomID, name string) error {
	_, err := c.apply(ctx, roomID, "leave_room", func(doc *models.RoomDocument) (*models.RoomDocument, bool) {
		if doc == nil {
			return nil, false
		}
		kept := doc.Participants[:0]
		removed := false
		for _, p := range doc.Participants {
			if p.Name == name {
				removed = true
				continue
			}
			kept = append(kept, p)
		}
		if !removed {
			return doc, false
		}
		doc.Participants = kept
		return doc, true
	})
	return err
}

// CastVote upserts the participant's vote; repeated casts overwrite the
// prior value. Votes cast after a reveal are dropped.
func (c *Coordinator) CastVote(ctx context.Context, roomID, participantName string, value *string) error {
	_, err := c.apply(ctx, roomID, "cast_vote", func(doc *models.RoomDocument) (*models.RoomDocument, bool) {
		if doc == nil || doc.VotesRevealed {
			return doc, false
		}
		participant := doc.FindParticipantByName(participantName)
		if participant == nil {
			return doc, false
		}
		if doc.Votes == nil {
			doc.Votes = map[string]models.Vote{}
		}
		doc.Votes[participant.ID] = models.Vote{
			ParticipantID: participant.ID,
			Value:         value,
			Revealed:      false,
		}
		return doc, true
	})
	return err
}

// RevealVotes flips the room to revealed. Host only; idempotent.
func (c *Coordinator) RevealVotes(ctx context.Context, roomID, requesterName, hostToken string) error {
	_, err := c.apply(ctx, roomID, "reveal_votes", func(doc *models.RoomDocument) (*models.RoomDocument, bool) {
		if doc == nil {
			return nil, false
		}
		if !hostAuthorized(doc, requesterName, hostToken) {
			return doc, false
		}
		doc.VotesRevealed = true
		return doc, true
	})
	return err
}

// ResetVotes clears the vote map and the revealed flag. Host only;
// idempotent.
func (c *Coordinator) ResetVotes(ctx context.Context, roomID, requesterName, hostToken string) error {
	_, err := c.apply(ctx, roomID, "reset_votes", func(doc *models.RoomDocument) (*models.RoomDocument, bool) {
		if doc == nil {
			return nil, false
		}
		if !hostAuthorized(doc, requesterName, hostToken) {
			return doc, false
		}
		doc.Votes = map[string]models.Vote{}
		doc.VotesRevealed = false
		return doc, true
	})
	return err
}

// SetStory sets the current story label on a poker room. Host only.
func (c *Coordinator) SetStory(ctx context.Context, roomID, requesterName, story, hostToken string) error {
	_, err := c.apply(ctx, roomID, "set_story", func(doc *models.RoomDocument) (*models.RoomDocument, bool) {
		if doc == nil {
			return nil, false
		}
		if !hostAuthorized(doc, requesterName, hostToken) {
			return doc, false
		}
		doc.CurrentStory = story
		return doc, true
	})
	return err
}

// AddNote appends a note with a fresh id. Every call creates a new note.
func (c *Coordinator) AddNote(ctx context.Context, roomID, authorName, text, columnID string) error {
	_, err := c.apply(ctx, roomID, "note_add", func(doc *models.RoomDocument) (*models.RoomDocument, bool) {
		if doc == nil {
			return nil, false
		}
		author := doc.FindParticipantByName(authorName)
		if author == nil {
			return doc, false
		}
		doc.Notes = append(doc.Notes, models.Note{
			ID:         uuid.New().String(),
			Text:       text,
			AuthorID:   author.ID,
			AuthorName: author.Name,
			ColumnID:   columnID,
			CreatedAt:  c.clock.Now().UTC(),
		})
		return doc, true
	})
	return err
}

// DeleteNote removes a note when the requester authored it or is the host.
// Deleting an already-removed note is a no-op.
func (c *Coordinator) DeleteNote(ctx context.Context, roomID, noteID, requesterName, hostToken string) error {
	_, err := c.apply(ctx, roomID, "note_delete", func(doc *models.RoomDocument) (*models.RoomDocument, bool) {
		if doc == nil {
			return nil, false
		}
		requester := doc.FindParticipantByName(requesterName)
		if requester == nil {
			return doc, false
		}
		asHost := hostAuthorized(doc, requesterName, hostToken)
		kept := doc.Notes[:0]
		removed := false
		for _, n := range doc.Notes {
			if n.ID == noteID && (n.AuthorID == requester.ID || asHost) {
				removed = true
				continue
			}
			kept = append(kept, n)
		}
		if !removed {
			return doc, false
		}
		doc.Notes = kept
		return doc, true
	})
	return err
}
