package wsstypes

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message
	WriteWait = 10 * time.Second

	// Time allowed to read the next pong message
	PongWait = 60 * time.Second

	// Send pings with this period (must be less than PongWait)
	PingPeriod = (PongWait * 9) / 10

	MaxMessageSize = 64 * 1024

	// How long a publish waits on a full send buffer before the
	// connection is treated as a slow consumer
	SendTimeout = 50 * time.Millisecond
)

// WsContext is handed to every inbound message handler.
type WsContext struct {
	Ctx       context.Context
	Conn      *Conn
	Payload   json.RawMessage
	RequestID string
	Log       *zap.Logger
}

type ConnOptions struct {
	SendBuffer int
	JoinLimit  rate.Limit
	JoinBurst  int
	SyncLimit  rate.Limit
	SyncBurst  int
}

// Conn is one physical websocket connection. Its AuthContext is fixed at
// handshake time and never changes afterwards.
type Conn struct {
	id   string
	ws   *websocket.Conn
	auth model.AuthContext
	log  *zap.Logger

	send      chan model.Outbound
	done      chan struct{}
	closeOnce sync.Once

	joinLimiter *rate.Limiter
	syncLimiter *rate.Limiter

	mu    sync.Mutex
	rooms map[string]struct{}
}

func NewConn(ws *websocket.Conn, auth model.AuthContext, opts ConnOptions, log *zap.Logger) *Conn {
	id := uuid.NewString()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Conn{
		id:          id,
		ws:          ws,
		auth:        auth,
		log:         log.With(zap.String("conn_id", id)),
		send:        make(chan model.Outbound, opts.SendBuffer),
		done:        make(chan struct{}),
		joinLimiter: newLimiter(opts.JoinLimit, opts.JoinBurst),
		syncLimiter: newLimiter(opts.SyncLimit, opts.SyncBurst),
		rooms:       make(map[string]struct{}),
	}
}

func newLimiter(limit rate.Limit, burst int) *rate.Limiter {
	if limit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Auth() model.AuthContext { return c.auth }

func (c *Conn) Log() *zap.Logger { return c.log }

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues a message for the write pump. A send racing Close, or one that
// finds the buffer full for longer than SendTimeout, fails quietly; the
// latter also closes the connection so the client reconnects and syncs.
func (c *Conn) Send(out model.Outbound) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case <-c.done:
		return false
	case c.send <- out:
		return true
	default:
	}

	timer := time.NewTimer(SendTimeout)
	defer timer.Stop()

	select {
	case c.send <- out:
		return true
	case <-c.done:
		return false
	case <-timer.C:
		c.log.Warn("send buffer full, closing slow consumer", zap.String("type", out.Type), zap.String("room", out.Room))
		c.Close()
		return false
	}
}

// Close shuts the connection down. The write pump drains what is queued,
// sends a close frame and closes the socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.send)
	})
}

// AllowJoin consumes one join/subscribe token.
func (c *Conn) AllowJoin() bool { return c.joinLimiter.Allow() }

// AllowSync consumes one sync token.
func (c *Conn) AllowSync() bool { return c.syncLimiter.Allow() }

func (c *Conn) AddRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

// Rooms returns the rooms joined so far.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// ReadPump reads messages until the socket fails and hands each one to
// handle. It returns when the peer goes away or the read deadline passes.
func (c *Conn) ReadPump(handle func(msg []byte)) {
	c.ws.SetReadLimit(MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		handle(message)
	}
}

// WritePump serialises every queued message onto the socket and keeps the
// connection alive with ping frames.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case out, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			data, err := json.Marshal(out)
			if err != nil {
				c.log.Error("failed to encode outbound message", zap.String("type", out.Type), zap.Error(err))
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}
