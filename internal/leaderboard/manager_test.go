package leaderboard

import (
	"testing"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"go.uber.org/zap/zaptest"
)

func TestManagerSeedSortsAndRecomputes(t *testing.T) {
	lm := NewLeaderboardManager(zaptest.NewLogger(t))
	p := uuid.New()
	lagging := row("Lagging", cell(p, false, nil, 2, nil))
	leading := row("Leading", cell(p, true, at("2025-01-01T11:00:00Z"), 0, pen(20)))
	leading.Score = 0 // stale aggregate from the caller

	board := lm.Seed(model.Leaderboard{ContestID: uuid.New(), Rows: []model.LeaderboardRow{lagging, leading}})

	if board.Rows[0].MemberName != "Leading" || board.Rows[0].Score != 1 {
		t.Fatalf("seed must re-derive and re-sort, got %+v", board.Rows)
	}
	if board.IssuedAt.IsZero() {
		t.Fatal("expected an issue time")
	}
}

func TestManagerApply(t *testing.T) {
	lm := NewLeaderboardManager(zaptest.NewLogger(t))
	contestID := uuid.New()
	p := uuid.New()
	a := row("A", cell(p, false, nil, 0, nil))
	b := row("B", cell(p, true, at("2025-01-01T11:00:00Z"), 0, pen(30)))
	lm.Seed(model.Leaderboard{ContestID: contestID, Rows: []model.LeaderboardRow{a, b}})

	merged, ok := lm.Apply(contestID, model.CellDelta{MemberID: a.MemberID, ProblemID: p, IsAccepted: true, AcceptedAt: at("2025-01-01T10:30:00Z"), Penalty: pen(10)})
	if !ok {
		t.Fatal("expected a seeded board")
	}
	if merged.Rows[0].MemberName != "A" {
		t.Fatalf("A should now lead, got %+v", merged.Rows)
	}

	current, _ := lm.Get(contestID)
	if current.Rows[0].MemberName != "A" {
		t.Fatal("the merged view must be stored")
	}

	if _, ok := lm.Apply(uuid.New(), model.CellDelta{}); ok {
		t.Fatal("unseeded contests must report false")
	}
}

func TestManagerFrozenFlag(t *testing.T) {
	lm := NewLeaderboardManager(zaptest.NewLogger(t))
	contestID := uuid.New()
	lm.Seed(model.Leaderboard{ContestID: contestID})

	lm.SetFrozen(contestID, true)
	lm.Seed(model.Leaderboard{ContestID: contestID})
	board, _ := lm.Get(contestID)
	if !board.IsFrozen {
		t.Fatal("reseeding must keep the frozen flag")
	}

	lm.CleanupLeaderboard(contestID)
	if _, ok := lm.Get(contestID); ok {
		t.Fatal("expected the board to be dropped")
	}
}
