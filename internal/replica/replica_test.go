package replica

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agileflow/realtime/internal/models"
	"github.com/agileflow/realtime/internal/room"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 6, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond}
}

func newSharedStore() *room.MemStore {
	return room.NewMemStore(0, nil)
}

func TestCreateThenJoin(t *testing.T) {
	store := newSharedStore()
	ctx := context.Background()

	host := New(store, nil, fastRetry())
	guest := New(store, nil, fastRetry())

	_, hostP, err := host.CreateRoom(ctx, "ABC12345", "Host", models.RoomTypePlanningPoker)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !hostP.IsHost {
		t.Fatal("creator is not host")
	}

	doc, guestP, err := guest.Join(ctx, "ABC12345", "Alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if guestP.IsHost {
		t.Error("joiner must not be host")
	}
	if len(doc.Participants) != 2 {
		t.Errorf("expected 2 participants, got %+v", doc.Participants)
	}
}

func TestJoinRetriesUntilRoomCreated(t *testing.T) {
	store := newSharedStore()
	ctx := context.Background()

	host := New(store, nil, fastRetry())
	guest := New(store, nil, fastRetry())

	joined := make(chan error, 1)
	go func() {
		_, _, err := guest.Join(ctx, "ABC12345", "Alice")
		joined <- err
	}()

	// Let the joiner burn at least one attempt against the missing room.
	time.Sleep(2 * time.Millisecond)
	if _, _, err := host.CreateRoom(ctx, "ABC12345", "Host", models.RoomTypePlanningPoker); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	select {
	case err := <-joined:
		if err != nil {
			t.Fatalf("join after creation failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("join did not complete")
	}

	doc, _ := store.Get(ctx, "ABC12345")
	if len(doc.Participants) != 2 {
		t.Errorf("expected 2 participants, got %+v", doc.Participants)
	}
}

func TestJoinExhaustsRetries(t *testing.T) {
	store := newSharedStore()
	guest := New(store, nil, fastRetry())

	_, _, err := guest.Join(context.Background(), "NOROOM00", "Alice")
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected the terminal error to carry ErrRoomNotFound, got %v", err)
	}
}

// dropWritesStore swallows the first n writes, so the writer's
// verification re-read cannot find its own change.
type dropWritesStore struct {
	room.Store
	mu    sync.Mutex
	drops int
}

func (s *dropWritesStore) Set(ctx context.Context, roomID string, doc *models.RoomDocument) error {
	s.mu.Lock()
	if s.drops > 0 {
		s.drops--
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Store.Set(ctx, roomID, doc)
}

func TestStableParticipantIDAcrossRetries(t *testing.T) {
	base := newSharedStore()
	ctx := context.Background()

	host := New(base, nil, fastRetry())
	if _, _, err := host.CreateRoom(ctx, "ABC12345", "Host", models.RoomTypePlanningPoker); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	flaky := &dropWritesStore{Store: base, drops: 2}
	guest := New(flaky, nil, fastRetry())

	doc, joined, err := guest.Join(ctx, "ABC12345", "Alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// The id must be the one generated before the first attempt, and the
	// retries must not have produced duplicate entries.
	if joined.ID != guest.participantID("ABC12345", "Alice") {
		t.Errorf("joined id %q differs from the stable id", joined.ID)
	}
	count := 0
	for _, p := range doc.Participants {
		if p.Name == "Alice" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one Alice after retries, got %d", count)
	}
}

func TestConcurrentJoinOrCreateProducesOneHost(t *testing.T) {
	store := newSharedStore()
	ctx := context.Background()

	tabA := New(store, nil, fastRetry())
	tabB := New(store, nil, fastRetry())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, errs[0] = tabA.JoinOrCreate(ctx, "RACE0001", "Ann", models.RoomTypePlanningPoker)
	}()
	go func() {
		defer wg.Done()
		_, _, errs[1] = tabB.JoinOrCreate(ctx, "RACE0001", "Ben", models.RoomTypePlanningPoker)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("tab %d failed: %v", i, err)
		}
	}

	doc, err := store.Get(ctx, "RACE0001")
	if err != nil || doc == nil {
		t.Fatalf("room missing after race: doc=%v err=%v", doc, err)
	}
	hosts := 0
	for _, p := range doc.Participants {
		if p.IsHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Fatalf("expected exactly one host, got %d in %+v", hosts, doc.Participants)
	}
	if doc.FindParticipantByID(doc.Host) == nil {
		t.Error("host field references no current participant")
	}

	// A crashed-and-rejoined tab converges: sequential re-joins restore any
	// entry a concurrent write stomped, without changing the host.
	if _, _, err := tabA.JoinOrCreate(ctx, "RACE0001", "Ann", models.RoomTypePlanningPoker); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	if _, _, err := tabB.JoinOrCreate(ctx, "RACE0001", "Ben", models.RoomTypePlanningPoker); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	doc, _ = store.Get(ctx, "RACE0001")
	hosts = 0
	names := map[string]bool{}
	for _, p := range doc.Participants {
		if p.IsHost {
			hosts++
		}
		names[p.Name] = true
	}
	if hosts != 1 || !names["Ann"] || !names["Ben"] {
		t.Errorf("room did not converge: %+v", doc.Participants)
	}
}

func TestReplicaVoteAndRevealSemantics(t *testing.T) {
	store := newSharedStore()
	ctx := context.Background()

	host := New(store, nil, fastRetry())
	guest := New(store, nil, fastRetry())

	host.CreateRoom(ctx, "ABC12345", "Host", models.RoomTypePlanningPoker)
	guest.Join(ctx, "ABC12345", "Alice")

	five := "5"
	if err := guest.CastVote(ctx, "ABC12345", "Alice", &five); err != nil {
		t.Fatalf("cast failed: %v", err)
	}
	// Guests cannot reveal.
	guest.RevealVotes(ctx, "ABC12345", "Alice")
	doc, _ := store.Get(ctx, "ABC12345")
	if doc.VotesRevealed {
		t.Fatal("non-host revealed votes")
	}

	host.RevealVotes(ctx, "ABC12345", "Host")
	thirteen := "13"
	guest.CastVote(ctx, "ABC12345", "Alice", &thirteen)
	doc, _ = store.Get(ctx, "ABC12345")
	alice := doc.FindParticipantByName("Alice")
	if v := doc.Votes[alice.ID]; v.Value == nil || *v.Value != "5" {
		t.Errorf("vote changed after reveal: %v", v.Value)
	}

	host.ResetVotes(ctx, "ABC12345", "Host")
	doc, _ = store.Get(ctx, "ABC12345")
	if len(doc.Votes) != 0 || doc.VotesRevealed {
		t.Errorf("reset left votes=%v revealed=%v", doc.Votes, doc.VotesRevealed)
	}
}

func TestKeyedLockSerializesPerKey(t *testing.T) {
	locks := NewKeyedLock()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Do("room", func() {
				counter++
			})
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("lost updates under keyed lock: %d", counter)
	}
}
