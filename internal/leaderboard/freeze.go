package leaderboard

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Visibility int

const (
	Live Visibility = iota
	Frozen
)

func (v Visibility) String() string {
	if v == Frozen {
		return "frozen"
	}
	return "live"
}

// FreezeRecord is the last freeze transition stored for a contest. At is
// the freeze time when State is Frozen and the unfreeze time when it is
// Live. A contest never frozen has the zero record.
type FreezeRecord struct {
	State Visibility
	At    time.Time
}

// Resolve combines the record with the freeze time the contest directory
// holds. A directory freeze counts unless it predates the last unfreeze.
func (r FreezeRecord) Resolve(directoryFrozenAt *time.Time) (time.Time, bool) {
	if r.State == Frozen {
		return r.At, true
	}
	if directoryFrozenAt != nil && directoryFrozenAt.After(r.At) {
		return *directoryFrozenAt, true
	}
	return time.Time{}, false
}

// FreezeStore keeps freeze transitions and the items withheld from
// non-privileged viewers. Implementations shared between instances let any
// instance withhold and any instance release.
type FreezeStore interface {
	Record(ctx context.Context, contestID uuid.UUID) (FreezeRecord, error)
	// Freeze records the contest as frozen at at. It reports false when
	// the record already was frozen.
	Freeze(ctx context.Context, contestID uuid.UUID, at time.Time) (bool, error)
	// Withhold buffers item for the freeze that started at frozenAt and
	// reports whether it did. It refuses once that freeze has been lifted,
	// and callers then deliver the item live.
	Withhold(ctx context.Context, contestID uuid.UUID, frozenAt time.Time, item json.RawMessage) (bool, error)
	// Unfreeze records the contest as live from at and hands over
	// everything withheld, in arrival order. The flag reports whether the
	// record was frozen.
	Unfreeze(ctx context.Context, contestID uuid.UUID, at time.Time) ([]json.RawMessage, bool, error)
}

type freezeState struct {
	record   FreezeRecord
	withheld []json.RawMessage
}

// FreezeOverlay is the in-process FreezeStore for a single instance.
type FreezeOverlay struct {
	mu       sync.Mutex
	contests map[uuid.UUID]*freezeState
}

func NewFreezeOverlay() *FreezeOverlay {
	return &FreezeOverlay{contests: make(map[uuid.UUID]*freezeState)}
}

func (o *FreezeOverlay) get(contestID uuid.UUID) *freezeState {
	st, ok := o.contests[contestID]
	if !ok {
		st = &freezeState{}
		o.contests[contestID] = st
	}
	return st
}

func (o *FreezeOverlay) Record(_ context.Context, contestID uuid.UUID) (FreezeRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if st, ok := o.contests[contestID]; ok {
		return st.record, nil
	}
	return FreezeRecord{}, nil
}

func (o *FreezeOverlay) Freeze(_ context.Context, contestID uuid.UUID, at time.Time) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.get(contestID)
	if st.record.State == Frozen {
		return false, nil
	}
	st.record = FreezeRecord{State: Frozen, At: at}
	return true, nil
}

func (o *FreezeOverlay) Withhold(_ context.Context, contestID uuid.UUID, frozenAt time.Time, item json.RawMessage) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.get(contestID)
	if st.record.State == Live && !st.record.At.Before(frozenAt) {
		return false, nil
	}
	st.withheld = append(st.withheld, item)
	return true, nil
}

func (o *FreezeOverlay) Unfreeze(_ context.Context, contestID uuid.UUID, at time.Time) ([]json.RawMessage, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.get(contestID)
	wasFrozen := st.record.State == Frozen
	withheld := st.withheld
	st.record = FreezeRecord{State: Live, At: at}
	st.withheld = nil
	return withheld, wasFrozen, nil
}
