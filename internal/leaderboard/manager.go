package leaderboard

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"go.uber.org/zap"
)

// LeaderboardManager keeps the server-side merged view of every contest's
// leaderboard. Late joiners are served from this view instead of replaying
// a long backlog of cell deltas.
type LeaderboardManager struct {
	Boards map[uuid.UUID]model.Leaderboard // contestID -> merged leaderboard
	MU     sync.RWMutex
	log    *zap.Logger
}

// NewLeaderboardManager creates an empty LeaderboardManager instance
func NewLeaderboardManager(log *zap.Logger) *LeaderboardManager {
	return &LeaderboardManager{
		Boards: make(map[uuid.UUID]model.Leaderboard),
		log:    log.Named("leaderboard"),
	}
}

// Seed replaces the contest's view with a full leaderboard. Scores are
// re-derived from the cells and the rows re-sorted, so the caller's order is
// never trusted as ground truth.
func (lm *LeaderboardManager) Seed(lb model.Leaderboard) model.Leaderboard {
	board := lb.Clone()
	for i := range board.Rows {
		Recompute(&board.Rows[i])
	}
	Sort(board.Rows)
	if board.IssuedAt.IsZero() {
		board.IssuedAt = time.Now().UTC()
	}

	lm.MU.Lock()
	defer lm.MU.Unlock()

	if prev, exists := lm.Boards[lb.ContestID]; exists {
		board.IsFrozen = board.IsFrozen || prev.IsFrozen
	}
	lm.Boards[lb.ContestID] = board
	return board.Clone()
}

// Apply merges a cell delta into the contest's view. It reports false when
// no leaderboard has been seeded for the contest yet.
func (lm *LeaderboardManager) Apply(contestID uuid.UUID, delta model.CellDelta) (model.Leaderboard, bool) {
	lm.MU.Lock()
	defer lm.MU.Unlock()

	board, exists := lm.Boards[contestID]
	if !exists {
		lm.log.Warn("cell delta for a contest without a seeded leaderboard",
			zap.Stringer("contest_id", contestID),
			zap.Stringer("member_id", delta.MemberID),
		)
		return model.Leaderboard{}, false
	}

	merged := Merge(lm.log, board, delta)
	merged.IssuedAt = time.Now().UTC()
	lm.Boards[contestID] = merged
	return merged.Clone(), true
}

// Get returns a copy of the contest's current view
func (lm *LeaderboardManager) Get(contestID uuid.UUID) (model.Leaderboard, bool) {
	lm.MU.RLock()
	defer lm.MU.RUnlock()

	board, exists := lm.Boards[contestID]
	if !exists {
		return model.Leaderboard{}, false
	}
	return board.Clone(), true
}

// SetFrozen flips the frozen flag carried on the contest's view
func (lm *LeaderboardManager) SetFrozen(contestID uuid.UUID, frozen bool) {
	lm.MU.Lock()
	defer lm.MU.Unlock()

	board, exists := lm.Boards[contestID]
	if !exists {
		return
	}
	board.IsFrozen = frozen
	lm.Boards[contestID] = board
}

// CleanupLeaderboard drops the contest's view
func (lm *LeaderboardManager) CleanupLeaderboard(contestID uuid.UUID) {
	lm.MU.Lock()
	defer lm.MU.Unlock()

	delete(lm.Boards, contestID)
}
