package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
)

// Directory is the read-only view of contests, members and sessions owned
// by the CRUD layer. Implementations must not cache: every call re-reads.
type Directory interface {
	FindContest(ctx context.Context, id uuid.UUID) (*model.Contest, error)
	FindMember(ctx context.Context, id uuid.UUID) (*model.Member, error)
	FindSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
}

// EventLog is the per-room ordered, replayable log of broadcast events.
type EventLog interface {
	// Append stores ev and returns it as stored. A log shared between
	// instances may move the timestamp forward so the room's order stays
	// total across all of them.
	Append(ctx context.Context, ev model.BroadcastEvent) (model.BroadcastEvent, error)
	// Since returns events of room with a timestamp strictly after since,
	// oldest first.
	Since(ctx context.Context, room string, since time.Time) ([]model.BroadcastEvent, error)
	// Trim drops events older than before and returns how many were removed.
	Trim(ctx context.Context, before time.Time) (int64, error)
}
