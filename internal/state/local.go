package state

import (
	"sync"
	"time"

	"github.com/lijuuu/ContestBroadcastService/internal/model"
)

// Subscriber is a connection that can receive room traffic. Send must never
// block for long and reports false when the subscriber is gone.
type Subscriber interface {
	ID() string
	Send(out model.Outbound) bool
}

type LocalStateManager struct {
	roomStates map[string]*RoomLocalState
	mu         sync.RWMutex
}

// RoomLocalState is the membership set of one room. MU serialises
// membership changes against publishes to the same room; holders of the
// read lock see a membership that cannot change under them.
type RoomLocalState struct {
	Members map[string]Subscriber
	MU      sync.RWMutex

	lastTimestamp time.Time
	lastActivity  time.Time
	pruned        bool
}

func NewLocalStateManager() *LocalStateManager {
	return &LocalStateManager{
		roomStates: make(map[string]*RoomLocalState),
	}
}

// GetRoomState returns the local state for a room, creating it if it doesn't exist
func (lsm *LocalStateManager) GetRoomState(room string) *RoomLocalState {
	lsm.mu.RLock()
	state, exists := lsm.roomStates[room]
	lsm.mu.RUnlock()
	if exists {
		return state
	}

	lsm.mu.Lock()
	defer lsm.mu.Unlock()

	state, exists = lsm.roomStates[room]
	if !exists {
		state = &RoomLocalState{
			Members:      make(map[string]Subscriber),
			lastActivity: time.Now(),
		}
		lsm.roomStates[room] = state
	}
	return state
}

// LockRoom returns the room's state with MU held for writing. The caller
// must call MU.Unlock.
func (lsm *LocalStateManager) LockRoom(room string) *RoomLocalState {
	for {
		state := lsm.GetRoomState(room)
		state.MU.Lock()
		if !state.pruned {
			return state
		}
		state.MU.Unlock()
	}
}

// RLockRoom returns the room's state with MU held for reading. The caller
// must call MU.RUnlock. Unlike LockRoom it never creates the room: it
// reports false, holding no lock, when the room has no local state.
func (lsm *LocalStateManager) RLockRoom(room string) (*RoomLocalState, bool) {
	for {
		state, exists := lsm.lookup(room)
		if !exists {
			return nil, false
		}
		state.MU.RLock()
		if !state.pruned {
			return state, true
		}
		state.MU.RUnlock()
	}
}

func (lsm *LocalStateManager) lookup(room string) (*RoomLocalState, bool) {
	lsm.mu.RLock()
	defer lsm.mu.RUnlock()
	state, exists := lsm.roomStates[room]
	return state, exists
}

// Join adds the subscriber to the room. It reports false when the
// subscriber was already a member.
func (lsm *LocalStateManager) Join(room string, sub Subscriber) bool {
	state := lsm.LockRoom(room)
	defer state.MU.Unlock()

	if _, exists := state.Members[sub.ID()]; exists {
		return false
	}
	state.Members[sub.ID()] = sub
	state.lastActivity = time.Now()
	return true
}

// Leave removes the subscriber from the room
func (lsm *LocalStateManager) Leave(room, subscriberID string) {
	state, exists := lsm.lookup(room)
	if !exists {
		return
	}

	state.MU.Lock()
	defer state.MU.Unlock()

	delete(state.Members, subscriberID)
	state.lastActivity = time.Now()
}

// LeaveAll removes the subscriber from every listed room. Each room is
// updated under its own lock so a publish to that room sees the subscriber
// either fully present or fully gone.
func (lsm *LocalStateManager) LeaveAll(subscriberID string, rooms []string) {
	for _, room := range rooms {
		lsm.Leave(room, subscriberID)
	}
}

// IsMember reports whether the subscriber is currently joined to room
func (lsm *LocalStateManager) IsMember(room, subscriberID string) bool {
	state, exists := lsm.lookup(room)
	if !exists {
		return false
	}

	state.MU.RLock()
	defer state.MU.RUnlock()

	_, found := state.Members[subscriberID]
	return found
}

// SnapshotLocked copies the membership. The caller must hold MU.
func (s *RoomLocalState) SnapshotLocked() []Subscriber {
	members := make([]Subscriber, 0, len(s.Members))
	for _, sub := range s.Members {
		members = append(members, sub)
	}
	return members
}

// HasMemberLocked reports membership. The caller must hold MU.
func (s *RoomLocalState) HasMemberLocked(subscriberID string) bool {
	_, found := s.Members[subscriberID]
	return found
}

// NextTimestampLocked returns a timestamp for a new event in the room that
// is strictly after every earlier one, at microsecond resolution. The caller
// must hold MU for writing.
func (s *RoomLocalState) NextTimestampLocked(now time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !ts.After(s.lastTimestamp) {
		ts = s.lastTimestamp.Add(time.Microsecond)
	}
	s.lastTimestamp = ts
	s.lastActivity = now
	return ts
}

// ObserveTimestampLocked records a timestamp assigned elsewhere so later
// local timestamps stay after it. The caller must hold MU for writing.
func (s *RoomLocalState) ObserveTimestampLocked(ts time.Time) {
	if ts.After(s.lastTimestamp) {
		s.lastTimestamp = ts
	}
	s.lastActivity = time.Now()
}

// MemberCount returns the number of subscribers joined to room
func (lsm *LocalStateManager) MemberCount(room string) int {
	state, exists := lsm.lookup(room)
	if !exists {
		return 0
	}

	state.MU.RLock()
	defer state.MU.RUnlock()
	return len(state.Members)
}

// PruneIdle drops rooms that have no members and saw no activity since
// cutoff. Rooms busy with a publish or sync are skipped until the next
// call. It returns the number of rooms removed.
func (lsm *LocalStateManager) PruneIdle(cutoff time.Time) int {
	lsm.mu.Lock()
	defer lsm.mu.Unlock()

	removed := 0
	for room, state := range lsm.roomStates {
		if !state.MU.TryLock() {
			continue
		}
		if len(state.Members) == 0 && state.lastActivity.Before(cutoff) {
			state.pruned = true
			delete(lsm.roomStates, room)
			removed++
		}
		state.MU.Unlock()
	}
	return removed
}

// GetAllRooms returns every room that has local state
func (lsm *LocalStateManager) GetAllRooms() []string {
	lsm.mu.RLock()
	defer lsm.mu.RUnlock()

	rooms := make([]string, 0, len(lsm.roomStates))
	for room := range lsm.roomStates {
		rooms = append(rooms, room)
	}
	return rooms
}
