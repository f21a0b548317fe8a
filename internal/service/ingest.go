package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/leaderboard"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/rooms"
	"go.uber.org/zap"
)

// Publisher is the part of the broadcaster the ingest layer needs.
type Publisher interface {
	Publish(ctx context.Context, room, name string, data json.RawMessage) (model.BroadcastEvent, error)
}

// ContestFinder loads contests from the shared directory.
type ContestFinder interface {
	FindContest(ctx context.Context, id uuid.UUID) (*model.Contest, error)
}

// FrozenPayload is sent to every dashboard when a contest's leaderboard
// freezes.
type FrozenPayload struct {
	ContestID uuid.UUID `json:"contestId"`
	FrozenAt  time.Time `json:"frozenAt"`
}

// Ingest turns domain events from the CRUD layer into room broadcasts and
// keeps the server-side leaderboard view in step. Freeze state is read on
// every call from the freeze store and the contest directory, so instances
// sharing both agree on it.
type Ingest struct {
	publisher Publisher
	boards    *leaderboard.LeaderboardManager
	freeze    leaderboard.FreezeStore
	contests  ContestFinder
	now       func() time.Time
	log       *zap.Logger
}

func NewIngest(publisher Publisher, boards *leaderboard.LeaderboardManager, freeze leaderboard.FreezeStore, contests ContestFinder, log *zap.Logger) *Ingest {
	return &Ingest{
		publisher: publisher,
		boards:    boards,
		freeze:    freeze,
		contests:  contests,
		now:       time.Now,
		log:       log.Named("ingest"),
	}
}

type freezeView struct {
	record      leaderboard.FreezeRecord
	directoryAt *time.Time
}

func (v freezeView) frozenAt() (time.Time, bool) {
	return v.record.Resolve(v.directoryAt)
}

// loadFreeze reads the contest's freeze record and the directory's freeze
// time. A contest missing from the directory only has the record.
func (s *Ingest) loadFreeze(ctx context.Context, contestID uuid.UUID) (freezeView, error) {
	rec, err := s.freeze.Record(ctx, contestID)
	if err != nil {
		return freezeView{}, apperr.Internal("Failed to read freeze state", err)
	}

	view := freezeView{record: rec}
	contest, err := s.contests.FindContest(ctx, contestID)
	switch {
	case err == nil:
		if contest.IsFrozen() {
			view.directoryAt = contest.FrozenAt
		}
	case apperr.KindOf(err) == apperr.KindNotFound:
	default:
		return freezeView{}, apperr.Internal("Failed to load contest", err)
	}
	return view, nil
}

func (s *Ingest) WithClock(now func() time.Time) *Ingest {
	s.now = now
	return s
}

// Publish broadcasts an opaque event to a single room.
func (s *Ingest) Publish(ctx context.Context, room, name string, data json.RawMessage) (model.BroadcastEvent, error) {
	if strings.TrimSpace(room) == "" {
		return model.BroadcastEvent{}, apperr.Malformed("Room is required")
	}
	if strings.TrimSpace(name) == "" {
		return model.BroadcastEvent{}, apperr.Malformed("Event name is required")
	}
	if len(data) > 0 && !json.Valid(data) {
		return model.BroadcastEvent{}, apperr.Malformed("Event data must be valid JSON")
	}
	return s.publisher.Publish(ctx, room, name, data)
}

// PublishCell merges a cell delta into the contest's view and broadcasts
// it. While the contest is frozen the delta only reaches privileged
// dashboards and is withheld from the public ones until unfreeze, unless it
// records an acceptance from before the freeze.
func (s *Ingest) PublishCell(ctx context.Context, contestID uuid.UUID, delta model.CellDelta) error {
	data, err := json.Marshal(delta)
	if err != nil {
		return apperr.Internal("Failed to encode cell delta", err)
	}

	view, err := s.loadFreeze(ctx, contestID)
	if err != nil {
		return err
	}

	if _, seeded := s.boards.Apply(contestID, delta); !seeded {
		s.log.Info("cell delta published without a server view", zap.Stringer("contest_id", contestID))
	}

	targets := rooms.Dashboards(contestID)
	if frozenAt, frozen := view.frozenAt(); frozen && !acceptedBefore(delta, frozenAt) {
		withheld, err := s.freeze.Withhold(ctx, contestID, frozenAt, data)
		if err != nil {
			return apperr.Internal("Failed to withhold cell delta", err)
		}
		if withheld {
			targets = rooms.PrivilegedDashboards(contestID)
			s.log.Debug("cell delta withheld from public dashboards",
				zap.Stringer("contest_id", contestID),
				zap.Stringer("member_id", delta.MemberID),
				zap.Stringer("problem_id", delta.ProblemID),
			)
		}
	}

	return s.publishAll(ctx, targets, model.EventLeaderboardCell, data)
}

func acceptedBefore(delta model.CellDelta, at time.Time) bool {
	return delta.IsAccepted && delta.AcceptedAt != nil && delta.AcceptedAt.Before(at)
}

// SeedLeaderboard replaces the contest's view with a full leaderboard and
// broadcasts it. Public dashboards are skipped while frozen.
func (s *Ingest) SeedLeaderboard(ctx context.Context, lb model.Leaderboard) (model.Leaderboard, error) {
	if lb.ContestID == uuid.Nil {
		return model.Leaderboard{}, apperr.Malformed("Contest ID is required")
	}

	view, err := s.loadFreeze(ctx, lb.ContestID)
	if err != nil {
		return model.Leaderboard{}, err
	}

	board := s.boards.Seed(lb)
	targets := rooms.Dashboards(lb.ContestID)
	if _, frozen := view.frozenAt(); frozen {
		board.IsFrozen = true
		targets = rooms.PrivilegedDashboards(lb.ContestID)
	}

	data, err := json.Marshal(board)
	if err != nil {
		return model.Leaderboard{}, apperr.Internal("Failed to encode leaderboard", err)
	}
	return board, s.publishAll(ctx, targets, model.EventLeaderboard, data)
}

// Freeze moves the contest's leaderboard to Frozen and tells every
// dashboard. Freezing a frozen contest does nothing and reports false. When
// the directory already holds a newer freeze time, that time is kept as the
// boundary for withholding.
func (s *Ingest) Freeze(ctx context.Context, contestID uuid.UUID) (bool, error) {
	view, err := s.loadFreeze(ctx, contestID)
	if err != nil {
		return false, err
	}

	at := s.now().UTC()
	if frozenAt, frozen := view.frozenAt(); frozen {
		at = frozenAt
	}
	changed, err := s.freeze.Freeze(ctx, contestID, at)
	if err != nil {
		return false, apperr.Internal("Failed to store freeze state", err)
	}
	if !changed {
		return false, nil
	}
	s.boards.SetFrozen(contestID, true)
	s.log.Info("leaderboard frozen", zap.Stringer("contest_id", contestID), zap.Time("frozen_at", at))

	data, err := json.Marshal(FrozenPayload{ContestID: contestID, FrozenAt: at})
	if err != nil {
		return true, apperr.Internal("Failed to encode freeze event", err)
	}
	return true, s.publishAll(ctx, rooms.Dashboards(contestID), model.EventLeaderboardFrozen, data)
}

// Unfreeze moves the contest back to Live and sends every dashboard one
// combined event with the current leaderboard and all submissions that
// were held back. A supplied leaderboard replaces the server view first.
func (s *Ingest) Unfreeze(ctx context.Context, contestID uuid.UUID, supplied *model.Leaderboard, frozenSubmissions []json.RawMessage) (model.UnfrozenPayload, error) {
	view, err := s.loadFreeze(ctx, contestID)
	if err != nil {
		return model.UnfrozenPayload{}, err
	}
	if _, frozen := view.frozenAt(); !frozen && supplied == nil && len(frozenSubmissions) == 0 {
		return model.UnfrozenPayload{}, apperr.Forbidden("Leaderboard is not frozen")
	}

	withheld, _, err := s.freeze.Unfreeze(ctx, contestID, s.now().UTC())
	if err != nil {
		return model.UnfrozenPayload{}, apperr.Internal("Failed to release withheld items", err)
	}
	s.boards.SetFrozen(contestID, false)

	var board model.Leaderboard
	if supplied != nil {
		supplied.ContestID = contestID
		supplied.IsFrozen = false
		board = s.boards.Seed(*supplied)
	} else if current, ok := s.boards.Get(contestID); ok {
		board = current
	} else {
		board = model.Leaderboard{ContestID: contestID, IssuedAt: s.now().UTC(), Rows: []model.LeaderboardRow{}}
	}

	items := make([]json.RawMessage, 0, len(frozenSubmissions)+len(withheld))
	items = append(items, frozenSubmissions...)
	items = append(items, withheld...)
	payload := model.UnfrozenPayload{Leaderboard: board, FrozenSubmissions: items}

	data, err := json.Marshal(payload)
	if err != nil {
		return model.UnfrozenPayload{}, apperr.Internal("Failed to encode unfreeze event", err)
	}

	s.log.Info("leaderboard unfrozen",
		zap.Stringer("contest_id", contestID),
		zap.Int("released", len(items)),
	)
	return payload, s.publishAll(ctx, rooms.Dashboards(contestID), model.EventLeaderboardUnfrozen, data)
}

// publishAll sends the same event to each room. It keeps going after a
// failure and returns the first error.
func (s *Ingest) publishAll(ctx context.Context, targets []string, name string, data json.RawMessage) error {
	var first error
	for _, room := range targets {
		if _, err := s.publisher.Publish(ctx, room, name, data); err != nil && first == nil {
			first = fmt.Errorf("publish %s: %w", name, err)
		}
	}
	if first != nil {
		return apperr.Internal("Failed to publish event", first)
	}
	return nil
}
