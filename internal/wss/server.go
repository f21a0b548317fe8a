package wss

import (
	"context"
	"net/http"
	"slices"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/state"
	"github.com/lijuuu/ContestBroadcastService/internal/wss/broadcasts"
	"github.com/lijuuu/ContestBroadcastService/internal/wss/middleware"
	wsstypes "github.com/lijuuu/ContestBroadcastService/internal/wss/types"
	"go.uber.org/zap"
)

// Server owns the lifecycle of every websocket connection: handshake
// authentication, message dispatch and cleanup on disconnect.
type Server struct {
	dispatcher *Dispatcher
	auth       *middleware.SessionAuthenticator
	state      *state.LocalStateManager
	upgrader   websocket.Upgrader
	opts       wsstypes.ConnOptions
	log        *zap.Logger
}

func NewServer(dispatcher *Dispatcher, auth *middleware.SessionAuthenticator, st *state.LocalStateManager, opts wsstypes.ConnOptions, allowedOrigins []string, log *zap.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		auth:       auth,
		state:      st,
		opts:       opts,
		log:        log.Named("wss"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	auth, authErr := s.auth.Authenticate(ctx, r)
	conn := wsstypes.NewConn(ws, auth, s.opts, s.log)
	go conn.WritePump()

	// handlers still running when the connection shuts down see ctx end
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if authErr != nil {
		broadcasts.SendAppError(conn, authErr)
		conn.Close()
		return
	}

	fields := []zap.Field{zap.String("ip", auth.SourceIP)}
	if auth.MemberID != nil {
		fields = append(fields, zap.Stringer("member_id", *auth.MemberID))
	}
	conn.Log().Info("connection established", fields...)

	conn.ReadPump(func(msg []byte) {
		s.handleMessage(ctx, conn, msg)
	})

	// leave every room before the connection is torn down so no publish
	// targets it afterwards
	rooms := conn.Rooms()
	s.state.LeaveAll(conn.ID(), rooms)
	conn.Close()
	conn.Log().Info("connection closed", zap.Int("rooms_left", len(rooms)))
}

func (s *Server) handleMessage(ctx context.Context, conn *wsstypes.Conn, msg []byte) {
	var in model.Inbound
	if err := json.Unmarshal(msg, &in); err != nil {
		conn.Log().Info("invalid message format", zap.Error(err))
		broadcasts.SendError(conn, "Invalid message format")
		return
	}

	requestID := uuid.NewString()
	wsCtx := &wsstypes.WsContext{
		Ctx:       ctx,
		Conn:      conn,
		Payload:   in.Payload,
		RequestID: requestID,
		Log:       conn.Log().With(zap.String("request_id", requestID), zap.String("type", in.Type)),
	}

	err := s.dispatcher.Dispatch(in.Type, wsCtx)
	if err == nil {
		return
	}

	broadcasts.SendAppError(conn, err)
	if apperr.IsFatal(err) {
		wsCtx.Log.Info("closing connection after fatal error", zap.Error(err))
		conn.Close()
	}
}
