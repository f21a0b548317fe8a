package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"go.uber.org/zap/zaptest"
)

// fakeServer hands every accepted websocket to the test.
type fakeServer struct {
	*httptest.Server
	conns   chan *websocket.Conn
	cookies chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{conns: make(chan *websocket.Conn, 4), cookies: make(chan string, 4)}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if c, err := r.Cookie("session_id"); err == nil {
			fs.cookies <- c.Value
		}
		fs.conns <- ws
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-fs.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func expectInbound(t *testing.T, ws *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var in model.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		t.Fatal(err)
	}
	if in.Type != typ {
		t.Fatalf("expected %s, got %s", typ, in.Type)
	}
	return in.Payload
}

func push(t *testing.T, ws *websocket.Conn, room, name string, ts time.Time, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := json.Marshal(model.Outbound{Type: name, Room: room, Data: raw, Timestamp: &ts})
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatal(err)
	}
}

type eventSink struct {
	mu     sync.Mutex
	events []model.BroadcastEvent
	signal chan struct{}
}

func newEventSink() *eventSink {
	return &eventSink{signal: make(chan struct{}, 64)}
}

func (s *eventSink) add(ev model.BroadcastEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.signal <- struct{}{}
}

func (s *eventSink) wait(t *testing.T, n int) []model.BroadcastEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		s.mu.Lock()
		got := len(s.events)
		out := append([]model.BroadcastEvent(nil), s.events...)
		s.mu.Unlock()
		if got >= n {
			return out
		}
		select {
		case <-s.signal:
		case <-deadline:
			t.Fatalf("expected %d events, got %d", n, got)
		}
	}
}

func startClient(t *testing.T, fs *fakeServer) (*Client, *eventSink, chan int) {
	t.Helper()
	c := New(Options{URL: fs.url(), SessionID: "abc", MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}, zaptest.NewLogger(t))
	sink := newEventSink()
	reconnects := make(chan int, 4)
	c.SetOnEvent(sink.add)
	c.SetOnReconnect(func(attempt int) { reconnects <- attempt })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, sink, reconnects
}

func TestReconnectRejoinsAndSyncsFromLastSeen(t *testing.T) {
	fs := newFakeServer(t)
	c, sink, reconnects := startClient(t, fs)
	room := "/contests/x/dashboard/guest"
	if err := c.Join(room); err != nil {
		t.Fatal(err)
	}

	first := fs.accept(t)
	if cookie := <-fs.cookies; cookie != "abc" {
		t.Fatalf("expected the session cookie, got %q", cookie)
	}

	// the join may race the connect; either way exactly one join arrives first
	expectInbound(t, first, model.TypeJoin)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 1000, time.UTC)
	push(t, first, room, model.EventAnnouncementCreated, ts, map[string]string{"text": "hi"})
	sink.wait(t, 1)
	first.Close()

	second := fs.accept(t)
	var joined model.RoomPayload
	json.Unmarshal(expectInbound(t, second, model.TypeJoin), &joined)
	if joined.Room != room {
		t.Fatalf("expected rejoin of %s, got %s", room, joined.Room)
	}
	var resume model.SyncPayload
	json.Unmarshal(expectInbound(t, second, model.TypeSync), &resume)
	if resume.Room != room || !resume.Timestamp.Equal(ts) {
		t.Fatalf("expected sync from %v, got %+v", ts, resume)
	}

	select {
	case <-reconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("OnReconnect was not called")
	}
}

func TestDuplicateEventsAreDropped(t *testing.T) {
	fs := newFakeServer(t)
	c, sink, _ := startClient(t, fs)
	room := "/contests/x/dashboard/guest"
	c.Join(room)

	ws := fs.accept(t)
	expectInbound(t, ws, model.TypeJoin)

	ts := time.Now().UTC()
	push(t, ws, room, model.EventSubmissionUpdated, ts, 1)
	push(t, ws, room, model.EventSubmissionUpdated, ts, 1)
	push(t, ws, room, model.EventAnnouncementCreated, ts, 2)
	push(t, ws, "/not/joined", model.EventAnnouncementCreated, ts, 3)
	push(t, ws, room, model.EventSubmissionUpdated, ts.Add(time.Microsecond), 4)

	sink.wait(t, 3)
	time.Sleep(50 * time.Millisecond)
	events := sink.wait(t, 3)
	if len(events) != 3 {
		t.Fatalf("expected 3 distinct events, got %d", len(events))
	}
	if !c.LastSeen(room).Equal(ts.Add(time.Microsecond)) {
		t.Fatalf("unexpected last seen %v", c.LastSeen(room))
	}
}

func TestLocalLeaderboardFollowsEvents(t *testing.T) {
	fs := newFakeServer(t)
	c, sink, _ := startClient(t, fs)
	room := "/contests/x/dashboard/guest"
	c.Join(room)

	ws := fs.accept(t)
	expectInbound(t, ws, model.TypeJoin)

	member, problem := uuid.New(), uuid.New()
	board := model.Leaderboard{
		ContestID: uuid.New(),
		Rows: []model.LeaderboardRow{{
			MemberID: member,
			Cells:    []model.LeaderboardCell{{ProblemID: problem, ProblemLetter: "A"}},
		}},
	}
	now := time.Now().UTC()
	push(t, ws, room, model.EventLeaderboard, now, board)

	penalty := 7
	accepted := now
	push(t, ws, room, model.EventLeaderboardCell, now.Add(time.Microsecond),
		model.CellDelta{MemberID: member, ProblemID: problem, IsAccepted: true, AcceptedAt: &accepted, Penalty: &penalty})
	sink.wait(t, 2)

	lb, ok := c.Leaderboard(room)
	if !ok || lb.Rows[0].Score != 1 || lb.Rows[0].Penalty != 7 {
		t.Fatalf("expected merged cell, got %+v", lb)
	}

	final := board.Clone()
	final.Rows[0].Score = 5
	push(t, ws, room, model.EventLeaderboardUnfrozen, now.Add(2*time.Microsecond),
		model.UnfrozenPayload{Leaderboard: final, FrozenSubmissions: []json.RawMessage{}})
	sink.wait(t, 3)

	lb, _ = c.Leaderboard(room)
	if lb.Rows[0].Score != 5 {
		t.Fatalf("unfrozen leaderboard should replace the local one, got %+v", lb)
	}
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	c := New(Options{URL: "ws://unused", MinBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}, zaptest.NewLogger(t))
	for attempt := 1; attempt < 40; attempt++ {
		d := c.backoff(attempt)
		if d < 50*time.Millisecond || d > time.Second+50*time.Millisecond {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}
