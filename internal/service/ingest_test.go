package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/leaderboard"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/repo"
	"github.com/lijuuu/ContestBroadcastService/internal/rooms"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

type published struct {
	room string
	name string
	data json.RawMessage
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, room, name string, data json.RawMessage) (model.BroadcastEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{room: room, name: name, data: data})
	return model.BroadcastEvent{Room: room, Name: name, Data: data, Timestamp: time.Now().UTC()}, nil
}

func (p *recordingPublisher) to(room string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.room == room {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

func newTestIngest(t *testing.T) (*Ingest, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return newIngestOn(t, pub, leaderboard.NewFreezeOverlay(), repo.NewMemoryDirectory()), pub
}

// newIngestOn builds one instance on top of shared collaborators.
func newIngestOn(t *testing.T, pub Publisher, freeze leaderboard.FreezeStore, dir repo.Directory) *Ingest {
	t.Helper()
	log := zaptest.NewLogger(t)
	return NewIngest(pub, leaderboard.NewLeaderboardManager(log), freeze, dir, log)
}

func seedBoard(contestID uuid.UUID, members []uuid.UUID, problem uuid.UUID) model.Leaderboard {
	lb := model.Leaderboard{ContestID: contestID}
	for i, m := range members {
		lb.Rows = append(lb.Rows, model.LeaderboardRow{
			MemberID:   m,
			MemberName: string(rune('A' + i)),
			Cells:      []model.LeaderboardCell{{ProblemID: problem, ProblemLetter: "A"}},
		})
	}
	return lb
}

func TestPublishValidatesInput(t *testing.T) {
	ingest, pub := newTestIngest(t)
	ctx := context.Background()

	if _, err := ingest.Publish(ctx, "", "x", nil); apperr.KindOf(err) != apperr.KindMalformed {
		t.Fatalf("expected malformed for empty room, got %v", err)
	}
	if _, err := ingest.Publish(ctx, "room", "x", json.RawMessage(`{broken`)); apperr.KindOf(err) != apperr.KindMalformed {
		t.Fatalf("expected malformed for invalid data, got %v", err)
	}
	if _, err := ingest.Publish(ctx, "room", "x", json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.to("room")) != 1 {
		t.Fatal("expected the event to be published")
	}
}

func TestCellDeltaReachesEveryDashboardWhileLive(t *testing.T) {
	ingest, pub := newTestIngest(t)
	contestID, member, problem := uuid.New(), uuid.New(), uuid.New()
	ingest.SeedLeaderboard(context.Background(), seedBoard(contestID, []uuid.UUID{member}, problem))
	pub.reset()

	err := ingest.PublishCell(context.Background(), contestID, model.CellDelta{MemberID: member, ProblemID: problem, WrongSubmissions: 1})
	if err != nil {
		t.Fatal(err)
	}
	for _, room := range rooms.Dashboards(contestID) {
		if got := pub.to(room); len(got) != 1 || got[0].name != model.EventLeaderboardCell {
			t.Fatalf("room %s: expected one cell event, got %+v", room, got)
		}
	}
}

func TestFreezeWithholdsThenUnfreezeCombines(t *testing.T) {
	ingest, pub := newTestIngest(t)
	ctx := context.Background()
	contestID, problem := uuid.New(), uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	ingest.SeedLeaderboard(ctx, seedBoard(contestID, members, problem))

	changed, err := ingest.Freeze(ctx, contestID)
	if err != nil || !changed {
		t.Fatalf("freeze failed: %v %v", changed, err)
	}
	pub.reset()

	penalty := 20
	for _, m := range members {
		acceptedAt := time.Now().UTC()
		err := ingest.PublishCell(ctx, contestID, model.CellDelta{MemberID: m, ProblemID: problem, IsAccepted: true, AcceptedAt: &acceptedAt, Penalty: &penalty})
		if err != nil {
			t.Fatal(err)
		}
	}

	for _, room := range rooms.PublicDashboards(contestID) {
		if got := pub.to(room); len(got) != 0 {
			t.Fatalf("public room %s must not see deltas while frozen, got %d", room, len(got))
		}
	}
	for _, room := range rooms.PrivilegedDashboards(contestID) {
		if got := pub.to(room); len(got) != 3 {
			t.Fatalf("privileged room %s should see live deltas, got %d", room, len(got))
		}
	}

	pub.reset()
	payload, err := ingest.Unfreeze(ctx, contestID, nil, nil)
	if err != nil {
		t.Fatalf("unfreeze failed: %v", err)
	}
	if len(payload.FrozenSubmissions) != 3 {
		t.Fatalf("expected the three withheld deltas, got %d", len(payload.FrozenSubmissions))
	}

	for _, room := range rooms.Dashboards(contestID) {
		got := pub.to(room)
		if len(got) != 1 || got[0].name != model.EventLeaderboardUnfrozen {
			t.Fatalf("room %s: expected exactly one unfrozen event, got %+v", room, got)
		}

		var decoded model.UnfrozenPayload
		if err := json.Unmarshal(got[0].data, &decoded); err != nil {
			t.Fatal(err)
		}
		if len(decoded.FrozenSubmissions) != 3 || decoded.Leaderboard.IsFrozen {
			t.Fatalf("unexpected unfrozen payload %+v", decoded)
		}
		for _, row := range decoded.Leaderboard.Rows {
			if row.Score != 1 || row.Penalty != 20 {
				t.Fatalf("final leaderboard should include withheld deltas, got %+v", row)
			}
		}
	}
}

func TestPreFreezeAcceptanceIsNotWithheld(t *testing.T) {
	ingest, pub := newTestIngest(t)
	ctx := context.Background()
	contestID, member, problem := uuid.New(), uuid.New(), uuid.New()
	ingest.SeedLeaderboard(ctx, seedBoard(contestID, []uuid.UUID{member}, problem))

	frozenAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ingest.WithClock(func() time.Time { return frozenAt })
	ingest.Freeze(ctx, contestID)
	pub.reset()

	before := frozenAt.Add(-time.Minute)
	ingest.PublishCell(ctx, contestID, model.CellDelta{MemberID: member, ProblemID: problem, IsAccepted: true, AcceptedAt: &before})

	if got := pub.to(rooms.GuestDashboard(contestID)); len(got) != 1 {
		t.Fatalf("late judging of a pre-freeze submission stays public, got %d", len(got))
	}
}

func TestUnfreezeRequiresFrozenContest(t *testing.T) {
	ingest, _ := newTestIngest(t)
	_, err := ingest.Unfreeze(context.Background(), uuid.New(), nil, nil)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSeedWhileFrozenSkipsPublicDashboards(t *testing.T) {
	ingest, pub := newTestIngest(t)
	ctx := context.Background()
	contestID := uuid.New()
	ingest.Freeze(ctx, contestID)
	pub.reset()

	board, err := ingest.SeedLeaderboard(ctx, model.Leaderboard{ContestID: contestID})
	if err != nil {
		t.Fatal(err)
	}
	if !board.IsFrozen {
		t.Fatal("a board seeded while frozen is marked frozen")
	}
	if len(pub.to(rooms.ContestantDashboard(contestID))) != 0 {
		t.Fatal("contestants must not see a reseeded board while frozen")
	}
	if len(pub.to(rooms.AdminDashboard(contestID))) != 1 {
		t.Fatal("admins should see the reseeded board")
	}
}

func TestFreezeIsSharedBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newStore := func() leaderboard.FreezeStore {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return repo.NewRedisFreezeStore(client)
	}

	pub := &recordingPublisher{}
	dir := repo.NewMemoryDirectory()
	a := newIngestOn(t, pub, newStore(), dir)
	b := newIngestOn(t, pub, newStore(), dir)
	ctx := context.Background()
	contestID, member, problem := uuid.New(), uuid.New(), uuid.New()

	if changed, err := a.Freeze(ctx, contestID); err != nil || !changed {
		t.Fatalf("freeze failed: %v %v", changed, err)
	}
	if changed, _ := b.Freeze(ctx, contestID); changed {
		t.Fatal("a freeze made on another instance should make this one a no-op")
	}
	pub.reset()

	acceptedAt := time.Now().UTC().Add(time.Minute)
	err := b.PublishCell(ctx, contestID, model.CellDelta{MemberID: member, ProblemID: problem, IsAccepted: true, AcceptedAt: &acceptedAt})
	if err != nil {
		t.Fatal(err)
	}
	if got := pub.to(rooms.ContestantDashboard(contestID)); len(got) != 0 {
		t.Fatalf("contestants must not see post-freeze deltas from any instance, got %d", len(got))
	}
	if got := pub.to(rooms.AdminDashboard(contestID)); len(got) != 1 {
		t.Fatalf("admins should see the delta, got %d", len(got))
	}

	payload, err := a.Unfreeze(ctx, contestID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(payload.FrozenSubmissions) != 1 {
		t.Fatalf("the delta withheld on the other instance should be released, got %d", len(payload.FrozenSubmissions))
	}
}

func TestDirectoryFreezeSurvivesRestart(t *testing.T) {
	dir := repo.NewMemoryDirectory()
	contestID, member, problem := uuid.New(), uuid.New(), uuid.New()
	frozenAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	dir.PutContest(model.Contest{ID: contestID, StartAt: frozenAt.Add(-time.Hour), FrozenAt: &frozenAt})

	// a fresh instance with empty freeze state
	pub := &recordingPublisher{}
	ingest := newIngestOn(t, pub, leaderboard.NewFreezeOverlay(), dir)
	ctx := context.Background()

	board, err := ingest.SeedLeaderboard(ctx, seedBoard(contestID, []uuid.UUID{member}, problem))
	if err != nil || !board.IsFrozen {
		t.Fatalf("expected a frozen board, got %+v %v", board.IsFrozen, err)
	}
	pub.reset()

	acceptedAt := frozenAt.Add(time.Minute)
	delta := model.CellDelta{MemberID: member, ProblemID: problem, IsAccepted: true, AcceptedAt: &acceptedAt}
	if err := ingest.PublishCell(ctx, contestID, delta); err != nil {
		t.Fatal(err)
	}
	if got := pub.to(rooms.GuestDashboard(contestID)); len(got) != 0 {
		t.Fatalf("the directory freeze must hold after a restart, got %d", len(got))
	}

	payload, err := ingest.Unfreeze(ctx, contestID, nil, nil)
	if err != nil {
		t.Fatalf("a directory freeze can be lifted: %v", err)
	}
	if len(payload.FrozenSubmissions) != 1 {
		t.Fatalf("expected the withheld delta, got %d", len(payload.FrozenSubmissions))
	}

	// the directory still holds the old freeze time, but it predates the unfreeze
	pub.reset()
	if err := ingest.PublishCell(ctx, contestID, delta); err != nil {
		t.Fatal(err)
	}
	if got := pub.to(rooms.GuestDashboard(contestID)); len(got) != 1 {
		t.Fatalf("deltas after the unfreeze are public, got %d", len(got))
	}
}
