package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/lijuuu/ContestBroadcastService/internal/leaderboard"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"go.uber.org/zap"
)

// dialTimeout bounds the websocket handshake of a single attempt.
const dialTimeout = 10 * time.Second

// seenPerRoom caps the dedupe window kept for each room.
const seenPerRoom = 1024

var ErrClosed = errors.New("client closed")

type Options struct {
	URL        string
	CookieName string
	SessionID  string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
}

// roomState remembers how a room was entered and the newest event seen in
// it, so it can be re-entered and synced after a reconnect.
type roomState struct {
	joinType string
	lastSeen time.Time
	seen     map[model.EventKey]struct{}
	order    []model.EventKey
}

func (r *roomState) markSeen(key model.EventKey) bool {
	if _, dup := r.seen[key]; dup {
		return false
	}
	r.seen[key] = struct{}{}
	r.order = append(r.order, key)
	if len(r.order) > seenPerRoom {
		delete(r.seen, r.order[0])
		r.order = r.order[1:]
	}
	return true
}

// Client is a reconnecting subscriber for the broadcast websocket.
type Client struct {
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	rooms  map[string]*roomState
	boards map[string]model.Leaderboard

	writeMu sync.Mutex

	onEvent     func(model.BroadcastEvent)
	onError     func(message string)
	onReconnect func(attempt int)
}

func New(opts Options, log *zap.Logger) *Client {
	if opts.CookieName == "" {
		opts.CookieName = "session_id"
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	return &Client{
		opts:   opts,
		log:    log.Named("client"),
		rooms:  make(map[string]*roomState),
		boards: make(map[string]model.Leaderboard),
	}
}

// SetOnEvent registers a callback for every new domain event.
// Callbacks must be registered before calling Run.
func (c *Client) SetOnEvent(fn func(model.BroadcastEvent)) { c.onEvent = fn }

// SetOnError registers a callback for error messages sent by the server.
func (c *Client) SetOnError(fn func(message string)) { c.onError = fn }

// SetOnReconnect registers a callback invoked after a dropped connection is
// re-established and every room has been re-entered.
func (c *Client) SetOnReconnect(fn func(attempt int)) { c.onReconnect = fn }

// Join enters a room. The room is remembered and re-joined after reconnects.
func (c *Client) Join(room string) error {
	return c.enter(model.TypeJoin, room)
}

// Subscribe enters a legacy topic.
func (c *Client) Subscribe(topic string) error {
	return c.enter(model.TypeSubscribe, topic)
}

func (c *Client) enter(joinType, room string) error {
	c.mu.Lock()
	if _, ok := c.rooms[room]; !ok {
		c.rooms[room] = &roomState{joinType: joinType, seen: make(map[model.EventKey]struct{})}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		// joined on the next connect
		return nil
	}
	return c.write(conn, joinType, model.RoomPayload{Room: room})
}

// Sync asks for every event of room after the last one this client has seen.
func (c *Client) Sync(room string) error {
	c.mu.Lock()
	rs, ok := c.rooms[room]
	conn := c.conn
	var since time.Time
	if ok {
		since = rs.lastSeen
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("sync %s: room was never joined", room)
	}
	if conn == nil {
		return nil
	}
	return c.write(conn, model.TypeSync, model.SyncPayload{Room: room, Timestamp: since})
}

// Leaderboard returns the local leaderboard kept for a dashboard room.
func (c *Client) Leaderboard(room string) (model.Leaderboard, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lb, ok := c.boards[room]
	if !ok {
		return model.Leaderboard{}, false
	}
	return lb.Clone(), true
}

// LastSeen returns the timestamp of the newest event received in room.
func (c *Client) LastSeen(room string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.rooms[room]; ok {
		return rs.lastSeen
	}
	return time.Time{}
}

// Run connects and keeps the client connected until ctx is cancelled.
// Failed attempts back off exponentially with full jitter; the delay resets
// once a connection has been established.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	connected := false
	for {
		err := c.connect(ctx)
		if err == nil {
			if connected {
				c.log.Info("reconnected", zap.Int("attempt", attempt))
				if c.onReconnect != nil {
					c.onReconnect(attempt)
				}
			}
			connected = true
			attempt = 0
			err = c.readLoop(ctx)
		}
		if ctx.Err() != nil {
			c.disconnect()
			return ctx.Err()
		}

		attempt++
		delay := c.backoff(attempt)
		c.log.Info("connection lost, retrying", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	ceiling := c.opts.MinBackoff << min(attempt-1, 16)
	if ceiling <= 0 || ceiling > c.opts.MaxBackoff {
		ceiling = c.opts.MaxBackoff
	}
	return c.opts.MinBackoff/2 + time.Duration(rand.Int63n(int64(ceiling)))
}

// connect dials, then re-enters every known room and syncs it from the last
// seen timestamp.
func (c *Client) connect(ctx context.Context) error {
	header := http.Header{}
	if c.opts.SessionID != "" {
		header.Set("Cookie", c.opts.CookieName+"="+c.opts.SessionID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := c.opts.Dialer.DialContext(dialCtx, c.opts.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	type resume struct {
		room, joinType string
		since          time.Time
	}
	resumes := make([]resume, 0, len(c.rooms))
	for room, rs := range c.rooms {
		resumes = append(resumes, resume{room: room, joinType: rs.joinType, since: rs.lastSeen})
	}
	c.mu.Unlock()

	for _, r := range resumes {
		if err := c.write(conn, r.joinType, model.RoomPayload{Room: r.room}); err != nil {
			c.disconnect()
			return fmt.Errorf("rejoin %s: %w", r.room, err)
		}
		if err := c.write(conn, model.TypeSync, model.SyncPayload{Room: r.room, Timestamp: r.since}); err != nil {
			c.disconnect()
			return fmt.Errorf("sync %s: %w", r.room, err)
		}
	}
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer c.disconnect()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var out model.Outbound
		if err := json.Unmarshal(data, &out); err != nil {
			c.log.Warn("dropping unreadable message", zap.Error(err))
			continue
		}
		c.handle(out)
	}
}

func (c *Client) handle(out model.Outbound) {
	switch out.Type {
	case model.TypePong, model.TypeSyncComplete:
		return
	case model.TypeError:
		c.log.Info("server error", zap.String("message", out.Message))
		if c.onError != nil {
			c.onError(out.Message)
		}
		return
	}
	if !out.IsDomainEvent() {
		return
	}

	ev := out.Event()
	c.mu.Lock()
	rs, ok := c.rooms[ev.Room]
	if !ok || !rs.markSeen(ev.Key()) {
		c.mu.Unlock()
		return
	}
	if ev.Timestamp.After(rs.lastSeen) {
		rs.lastSeen = ev.Timestamp
	}
	c.applyLocked(ev)
	c.mu.Unlock()

	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// applyLocked folds leaderboard events into the room's local board.
func (c *Client) applyLocked(ev model.BroadcastEvent) {
	switch ev.Name {
	case model.EventLeaderboard:
		var lb model.Leaderboard
		if err := json.Unmarshal(ev.Data, &lb); err != nil {
			c.log.Warn("invalid leaderboard", zap.String("room", ev.Room), zap.Error(err))
			return
		}
		c.boards[ev.Room] = lb
	case model.EventLeaderboardCell:
		lb, ok := c.boards[ev.Room]
		if !ok {
			return
		}
		var delta model.CellDelta
		if err := json.Unmarshal(ev.Data, &delta); err != nil {
			c.log.Warn("invalid leaderboard cell", zap.String("room", ev.Room), zap.Error(err))
			return
		}
		c.boards[ev.Room] = leaderboard.Merge(c.log, lb, delta)
	case model.EventLeaderboardFrozen:
		if lb, ok := c.boards[ev.Room]; ok {
			lb.IsFrozen = true
			c.boards[ev.Room] = lb
		}
	case model.EventLeaderboardUnfrozen:
		var payload model.UnfrozenPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			c.log.Warn("invalid unfrozen payload", zap.String("room", ev.Room), zap.Error(err))
			return
		}
		c.boards[ev.Room] = payload.Leaderboard
	}
}

func (c *Client) write(conn *websocket.Conn, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(model.Inbound{Type: typ, Payload: raw})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
