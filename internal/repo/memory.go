package repo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
)

// MemoryDirectory is an in-process Directory for development and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	contests map[uuid.UUID]model.Contest
	members  map[uuid.UUID]model.Member
	sessions map[uuid.UUID]model.Session
	now      func() time.Time
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		contests: make(map[uuid.UUID]model.Contest),
		members:  make(map[uuid.UUID]model.Member),
		sessions: make(map[uuid.UUID]model.Session),
		now:      time.Now,
	}
}

func (d *MemoryDirectory) PutContest(c model.Contest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contests[c.ID] = c
}

func (d *MemoryDirectory) PutMember(m model.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID] = m
}

func (d *MemoryDirectory) PutSession(s model.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.ID] = s
}

func (d *MemoryDirectory) FindContest(_ context.Context, id uuid.UUID) (*model.Contest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contests[id]
	if !ok {
		return nil, apperr.NotFound("Contest not found")
	}
	return &c, nil
}

func (d *MemoryDirectory) FindMember(_ context.Context, id uuid.UUID) (*model.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[id]
	if !ok {
		return nil, apperr.NotFound("Member not found")
	}
	return &m, nil
}

func (d *MemoryDirectory) FindSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	if !ok {
		return nil, apperr.Unauthorized("Session not found")
	}
	if !s.IsValid(d.now()) {
		return nil, apperr.Unauthorized("Session expired")
	}
	return &s, nil
}

// MemoryEventLog keeps every room's events in process memory.
type MemoryEventLog struct {
	mu    sync.RWMutex
	rooms map[string][]model.BroadcastEvent
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{rooms: make(map[string][]model.BroadcastEvent)}
}

func (l *MemoryEventLog) Append(_ context.Context, ev model.BroadcastEvent) (model.BroadcastEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms[ev.Room] = append(l.rooms[ev.Room], ev)
	return ev, nil
}

func (l *MemoryEventLog) Since(_ context.Context, room string, since time.Time) ([]model.BroadcastEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.rooms[room]
	// events are appended in timestamp order
	i, _ := slices.BinarySearchFunc(events, since, func(e model.BroadcastEvent, t time.Time) int {
		if e.Timestamp.After(t) {
			return 1
		}
		return -1
	})
	return slices.Clone(events[i:]), nil
}

func (l *MemoryEventLog) Trim(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int64
	for room, events := range l.rooms {
		keep := slices.IndexFunc(events, func(e model.BroadcastEvent) bool { return !e.Timestamp.Before(before) })
		if keep < 0 {
			keep = len(events)
		}
		removed += int64(keep)
		if keep == len(events) {
			delete(l.rooms, room)
			continue
		}
		l.rooms[room] = slices.Clone(events[keep:])
	}
	return removed, nil
}
