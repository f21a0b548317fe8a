package leaderboard

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"go.uber.org/zap"
)

// Merge applies a single-cell delta to lb and returns the re-ranked
// leaderboard. A delta for a member or problem that is not on the board is
// treated as out of order: one warning is logged and lb is returned as is.
//
// Merge never mutates lb. Applying the same delta twice yields the same
// board as applying it once, since the cell is overwritten, not accumulated.
func Merge(log *zap.Logger, lb model.Leaderboard, delta model.CellDelta) model.Leaderboard {
	rowIdx := slices.IndexFunc(lb.Rows, func(r model.LeaderboardRow) bool {
		return r.MemberID == delta.MemberID
	})
	if rowIdx < 0 {
		log.Warn("Received leaderboard update for member " + delta.MemberID.String() + " which is not in the current leaderboard")
		return lb
	}

	cellIdx := slices.IndexFunc(lb.Rows[rowIdx].Cells, func(c model.LeaderboardCell) bool {
		return c.ProblemID == delta.ProblemID
	})
	if cellIdx < 0 {
		log.Warn("Received leaderboard update for problem " + delta.ProblemID.String() + " which is not in the current leaderboard")
		return lb
	}

	out := lb.Clone()
	row := &out.Rows[rowIdx]

	cell := &row.Cells[cellIdx]
	cell.IsAccepted = delta.IsAccepted
	cell.AcceptedAt = delta.AcceptedAt
	cell.WrongSubmissions = delta.WrongSubmissions
	cell.Penalty = delta.Penalty

	Recompute(row)
	Sort(out.Rows)
	return out
}

// Recompute derives score and penalty from the row's cells. A missing
// penalty counts as zero.
func Recompute(row *model.LeaderboardRow) {
	score, penalty := 0, 0
	for _, c := range row.Cells {
		if c.IsAccepted {
			score++
		}
		if c.Penalty != nil {
			penalty += *c.Penalty
		}
	}
	row.Score = score
	row.Penalty = penalty
}

// Sort orders rows by score desc, penalty asc, acceptance times asc and
// member name asc. Member id is the last resort so the order is total.
func Sort(rows []model.LeaderboardRow) {
	slices.SortStableFunc(rows, Compare)
}

func Compare(a, b model.LeaderboardRow) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Penalty, b.Penalty); c != 0 {
		return c
	}
	if c := compareAcceptance(acceptanceMinutes(a), acceptanceMinutes(b)); c != 0 {
		return c
	}
	if c := strings.Compare(a.MemberName, b.MemberName); c != 0 {
		return c
	}
	return strings.Compare(a.MemberID.String(), b.MemberID.String())
}

// acceptanceMinutes returns the row's acceptance times truncated to the
// minute, latest first.
func acceptanceMinutes(row model.LeaderboardRow) []int64 {
	var out []int64
	for _, c := range row.Cells {
		if c.IsAccepted && c.AcceptedAt != nil {
			out = append(out, c.AcceptedAt.Truncate(time.Minute).Unix())
		}
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out
}

// compareAcceptance compares latest acceptance first, then the next latest.
// Arrays may differ in length; the shorter one is only compared on its
// common prefix.
func compareAcceptance(a, b []int64) int {
	for i := 0; i < min(len(a), len(b)); i++ {
		if c := cmp.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}
