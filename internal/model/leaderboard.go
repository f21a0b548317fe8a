package model

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Leaderboard struct {
	ContestID   uuid.UUID        `json:"contestId"`
	ContestSlug string           `json:"slug,omitempty"`
	IsFrozen    bool             `json:"isFrozen"`
	IssuedAt    time.Time        `json:"issuedAt"`
	Rows        []LeaderboardRow `json:"rows"`
}

type LeaderboardRow struct {
	MemberID   uuid.UUID         `json:"memberId"`
	MemberName string            `json:"memberName"`
	Score      int               `json:"score"`
	Penalty    int               `json:"penalty"`
	Cells      []LeaderboardCell `json:"cells"`
}

type LeaderboardCell struct {
	ProblemID        uuid.UUID  `json:"problemId"`
	ProblemLetter    string     `json:"problemLetter"`
	ProblemColor     string     `json:"problemColor,omitempty"`
	IsAccepted       bool       `json:"isAccepted"`
	AcceptedAt       *time.Time `json:"acceptedAt,omitempty"`
	WrongSubmissions int        `json:"wrongSubmissions"`
	Penalty          *int       `json:"penalty,omitempty"`
}

// CellDelta is a single member x problem change.
type CellDelta struct {
	MemberID         uuid.UUID  `json:"memberId"`
	ProblemID        uuid.UUID  `json:"problemId"`
	IsAccepted       bool       `json:"isAccepted"`
	AcceptedAt       *time.Time `json:"acceptedAt,omitempty"`
	WrongSubmissions int        `json:"wrongSubmissions"`
	Penalty          *int       `json:"penalty,omitempty"`
}

// UnfrozenPayload is delivered once per dashboard room when a contest
// leaves the frozen state.
type UnfrozenPayload struct {
	Leaderboard       Leaderboard       `json:"leaderboard"`
	FrozenSubmissions []json.RawMessage `json:"frozenSubmissions"`
}

// Clone returns a deep copy so callers can treat leaderboards as values.
func (l Leaderboard) Clone() Leaderboard {
	out := l
	out.Rows = make([]LeaderboardRow, len(l.Rows))
	for i, row := range l.Rows {
		out.Rows[i] = row
		out.Rows[i].Cells = append([]LeaderboardCell(nil), row.Cells...)
	}
	return out
}
