package broadcasts

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/repo"
	"github.com/lijuuu/ContestBroadcastService/internal/state"
	"go.uber.org/zap"
)

const ReasonNotInRoom = "Not in the room"

// Broadcaster appends events to the room log and pushes them to the room's
// current members. All work for one room happens under that room's lock, so
// per-room delivery order equals log order and membership cannot change
// halfway through a publish.
type Broadcaster struct {
	state   *state.LocalStateManager
	events  repo.EventLog
	relayed bool
	now     func() time.Time
	log     *zap.Logger
}

func NewBroadcaster(st *state.LocalStateManager, events repo.EventLog, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		state:  st,
		events: events,
		now:    time.Now,
		log:    log.Named("broadcast"),
	}
}

// WithRelayDelivery stops Publish from pushing to local members. The shared
// event log publishes every stored event and the relay hands it back through
// Deliver, so every instance pushes a room's events in log order.
func (b *Broadcaster) WithRelayDelivery() *Broadcaster {
	b.relayed = true
	return b
}

func (b *Broadcaster) WithClock(now func() time.Time) *Broadcaster {
	b.now = now
	return b
}

// Publish appends a new event to room's log and sends it to every member
// joined at that moment. Nothing is pushed when the append fails.
func (b *Broadcaster) Publish(ctx context.Context, room, name string, data json.RawMessage) (model.BroadcastEvent, error) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	rs := b.state.LockRoom(room)
	ev, err := b.events.Append(ctx, model.BroadcastEvent{
		Room:      room,
		Name:      name,
		Data:      data,
		Timestamp: rs.NextTimestampLocked(b.now()),
	})
	if err != nil {
		rs.MU.Unlock()
		b.log.Error("event log append failed", zap.String("room", room), zap.String("name", name), zap.Error(err))
		return model.BroadcastEvent{}, fmt.Errorf("append %s to %s: %w", name, room, err)
	}
	rs.ObserveTimestampLocked(ev.Timestamp)

	delivered := 0
	if !b.relayed {
		delivered = fanOut(rs.SnapshotLocked(), model.OutboundEvent(ev))
	}
	rs.MU.Unlock()

	b.log.Debug("published",
		zap.String("room", room),
		zap.String("name", name),
		zap.Time("timestamp", ev.Timestamp),
		zap.Int("delivered", delivered),
	)
	return ev, nil
}

// Deliver pushes an event that is already in the log to the local members
// of its room.
func (b *Broadcaster) Deliver(ev model.BroadcastEvent) int {
	rs := b.state.LockRoom(ev.Room)
	defer rs.MU.Unlock()

	rs.ObserveTimestampLocked(ev.Timestamp)
	return fanOut(rs.SnapshotLocked(), model.OutboundEvent(ev))
}

// Sync replays to sub every event of room after since, oldest first, then
// sends sync_complete. The room's read lock is held throughout, so no
// publish can slip between the replayed backlog and live delivery.
func (b *Broadcaster) Sync(ctx context.Context, sub state.Subscriber, room string, since time.Time) error {
	rs, exists := b.state.RLockRoom(room)
	if !exists {
		return apperr.Forbidden(ReasonNotInRoom)
	}
	defer rs.MU.RUnlock()

	if !rs.HasMemberLocked(sub.ID()) {
		return apperr.Forbidden(ReasonNotInRoom)
	}

	backlog, err := b.events.Since(ctx, room, since)
	if err != nil {
		return apperr.Internal("Failed to read room history", err)
	}

	for _, ev := range backlog {
		if !sub.Send(model.OutboundEvent(ev)) {
			return nil
		}
	}
	sub.Send(model.Outbound{Type: model.TypeSyncComplete, Room: room})

	b.log.Debug("synced",
		zap.String("room", room),
		zap.String("subscriber", sub.ID()),
		zap.Time("since", since),
		zap.Int("events", len(backlog)),
	)
	return nil
}

// RunCompactor trims the event log and prunes idle rooms every interval
// until ctx is done.
func (b *Broadcaster) RunCompactor(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Compact(ctx, retention)
		}
	}
}

// Compact drops everything older than the retention window.
func (b *Broadcaster) Compact(ctx context.Context, retention time.Duration) {
	cutoff := b.now().Add(-retention)

	removed, err := b.events.Trim(ctx, cutoff)
	if err != nil {
		b.log.Error("event log trim failed", zap.Error(err))
		return
	}
	pruned := b.state.PruneIdle(cutoff)

	if removed > 0 || pruned > 0 {
		b.log.Info("event log compacted",
			zap.Time("cutoff", cutoff),
			zap.Int64("events_removed", removed),
			zap.Int("rooms_pruned", pruned),
		)
	}
}

func fanOut(members []state.Subscriber, out model.Outbound) int {
	delivered := 0
	for _, sub := range members {
		if sub.Send(out) {
			delivered++
		}
	}
	return delivered
}
