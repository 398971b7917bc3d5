package relay

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("alice", nil); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register("alice", nil); !errors.Is(err, ErrDuplicateParticipant) {
		t.Fatalf("expected ErrDuplicateParticipant, got %v", err)
	}
	if got := r.ParticipantCount(); got != 1 {
		t.Fatalf("expected 1 participant, got %d", got)
	}
}

func TestJoinRoomUnregistered(t *testing.T) {
	r := NewRegistry()

	if _, _, err := r.JoinRoom("ghost", "room"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestJoinRoomReturnsOthersSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"carol", "alice", "bob"} {
		if err := r.Register(id, nil); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		if _, _, err := r.JoinRoom(id, "room"); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	if err := r.Register("dave", nil); err != nil {
		t.Fatalf("register dave: %v", err)
	}
	others, _, err := r.JoinRoom("dave", "room")
	if err != nil {
		t.Fatalf("join dave: %v", err)
	}

	want := []string{"alice", "bob", "carol"}
	if len(others) != len(want) {
		t.Fatalf("expected %v, got %v", want, others)
	}
	for i := range want {
		if others[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, others)
		}
	}
}

func TestRejoinSameRoomIdempotent(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("alice", nil); err != nil {
		t.Fatal(err)
	}

	first, _, err := r.JoinRoom("alice", "room")
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	second, _, err := r.JoinRoom("alice", "room")
	if err != nil {
		t.Fatalf("second join: %v", err)
	}

	if len(first) != 0 || len(second) != 0 {
		t.Fatalf("expected empty member sets, got %v then %v", first, second)
	}
	if members := r.Participants("room"); len(members) != 1 || members[0] != "alice" {
		t.Fatalf("expected [alice], got %v", members)
	}
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("alice", nil); err != nil {
		t.Fatal(err)
	}

	if _, _, err := r.JoinRoom("alice", "old"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.JoinRoom("alice", "new"); err != nil {
		t.Fatal(err)
	}

	if room, ok := r.Room("alice"); !ok || room != "new" {
		t.Fatalf("expected alice in new, got %q (ok=%t)", room, ok)
	}
	// The old room emptied out and must be gone.
	if got := r.RoomCount(); got != 1 {
		t.Fatalf("expected 1 room, got %d", got)
	}
	if members := r.Participants("old"); members != nil {
		t.Fatalf("expected old room deleted, got members %v", members)
	}
}

func TestMoveReturnsPriorRoomSurvivors(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"alice", "bob"} {
		if err := r.Register(id, nil); err != nil {
			t.Fatal(err)
		}
		if _, _, err := r.JoinRoom(id, "r1"); err != nil {
			t.Fatal(err)
		}
	}

	others, prior, err := r.JoinRoom("bob", "r2")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(others) != 0 {
		t.Fatalf("expected empty new room, got %v", others)
	}
	if len(prior) != 1 || prior[0] != "alice" {
		t.Fatalf("expected [alice] left behind, got %v", prior)
	}

	// No move, no prior set.
	if _, prior, err := r.JoinRoom("bob", "r2"); err != nil || prior != nil {
		t.Fatalf("rejoin reported a move: prior=%v err=%v", prior, err)
	}
}

func TestLeaveNotifiesSurvivorsAndDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"alice", "bob"} {
		if err := r.Register(id, nil); err != nil {
			t.Fatal(err)
		}
		if _, _, err := r.JoinRoom(id, "room"); err != nil {
			t.Fatal(err)
		}
	}

	roomID, remaining := r.Leave("alice")
	if roomID != "room" {
		t.Fatalf("expected room, got %q", roomID)
	}
	if len(remaining) != 1 || remaining[0] != "bob" {
		t.Fatalf("expected [bob], got %v", remaining)
	}

	roomID, remaining = r.Leave("bob")
	if roomID != "room" || len(remaining) != 0 {
		t.Fatalf("expected empty room on last leave, got %q %v", roomID, remaining)
	}
	if got := r.RoomCount(); got != 0 {
		t.Fatalf("expected 0 rooms, got %d", got)
	}
	if got := r.ParticipantCount(); got != 0 {
		t.Fatalf("expected 0 participants, got %d", got)
	}
}

func TestLeaveUnknownIsNoOp(t *testing.T) {
	r := NewRegistry()

	roomID, remaining := r.Leave("ghost")
	if roomID != "" || remaining != nil {
		t.Fatalf("expected no-op, got %q %v", roomID, remaining)
	}
}

func TestRoomRecreatedAfterDeletion(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("alice", nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.JoinRoom("alice", "room"); err != nil {
		t.Fatal(err)
	}
	r.Leave("alice")

	if err := r.Register("bob", nil); err != nil {
		t.Fatal(err)
	}
	others, _, err := r.JoinRoom("bob", "room")
	if err != nil {
		t.Fatalf("rejoin after deletion: %v", err)
	}
	// The recreated room carries no trace of its earlier occupants.
	if len(others) != 0 {
		t.Fatalf("expected fresh room, got members %v", others)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%02d", i)
			if err := r.Register(id, nil); err != nil {
				t.Errorf("register %s: %v", id, err)
				return
			}
			if _, _, err := r.JoinRoom(id, "room"); err != nil {
				t.Errorf("join %s: %v", id, err)
				return
			}
			if i%2 == 0 {
				r.Leave(id)
			}
		}(i)
	}
	wg.Wait()

	if got := r.ParticipantCount(); got != n/2 {
		t.Fatalf("expected %d participants, got %d", n/2, got)
	}
	if got := len(r.Participants("room")); got != n/2 {
		t.Fatalf("expected %d members, got %d", n/2, got)
	}
}

func BenchmarkJoinLeave(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("p%d", i)
		if err := r.Register(id, nil); err != nil {
			b.Fatal(err)
		}
		if _, _, err := r.JoinRoom(id, "room"); err != nil {
			b.Fatal(err)
		}
		r.Leave(id)
	}
}
