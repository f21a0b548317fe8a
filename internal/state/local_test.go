package state

import (
	"sync"
	"testing"
	"time"

	"github.com/lijuuu/ContestBroadcastService/internal/model"
)

type fakeSubscriber struct {
	id       string
	mu       sync.Mutex
	received []model.Outbound
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(out model.Outbound) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, out)
	return true
}

func TestJoinLeave(t *testing.T) {
	lsm := NewLocalStateManager()
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}

	if !lsm.Join("room", a) {
		t.Fatal("first join should report a new member")
	}
	if lsm.Join("room", a) {
		t.Fatal("second join of the same subscriber should be a no-op")
	}
	lsm.Join("room", b)
	lsm.Join("other", a)

	if got := lsm.MemberCount("room"); got != 2 {
		t.Fatalf("expected 2 members, got %d", got)
	}

	lsm.LeaveAll("a", []string{"room", "other"})

	if lsm.IsMember("room", "a") || lsm.IsMember("other", "a") {
		t.Fatal("subscriber should have left every room")
	}
	if !lsm.IsMember("room", "b") {
		t.Fatal("other subscribers must stay joined")
	}
	if lsm.IsMember("missing", "b") {
		t.Fatal("unknown rooms have no members")
	}
}

func TestNextTimestampIsStrictlyIncreasing(t *testing.T) {
	lsm := NewLocalStateManager()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	state := lsm.LockRoom("room")
	first := state.NextTimestampLocked(now)
	second := state.NextTimestampLocked(now)
	third := state.NextTimestampLocked(now.Add(-time.Second))
	state.MU.Unlock()

	if !second.After(first) || !third.After(second) {
		t.Fatalf("timestamps must increase: %v %v %v", first, second, third)
	}
	if second.Sub(first) != time.Microsecond {
		t.Fatalf("expected a one microsecond step, got %v", second.Sub(first))
	}
}

func TestPruneIdleKeepsOccupiedRooms(t *testing.T) {
	lsm := NewLocalStateManager()
	lsm.Join("busy", &fakeSubscriber{id: "a"})
	lsm.Join("empty", &fakeSubscriber{id: "b"})
	lsm.Leave("empty", "b")

	removed := lsm.PruneIdle(time.Now().Add(time.Minute))
	if removed != 1 {
		t.Fatalf("expected one idle room pruned, got %d", removed)
	}

	rooms := lsm.GetAllRooms()
	if len(rooms) != 1 || rooms[0] != "busy" {
		t.Fatalf("expected only the busy room to remain, got %v", rooms)
	}

	// joining a pruned room recreates it
	lsm.Join("empty", &fakeSubscriber{id: "c"})
	if !lsm.IsMember("empty", "c") {
		t.Fatal("expected join after prune to succeed")
	}
}
