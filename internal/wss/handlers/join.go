package wsshandler

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/rooms"
	"github.com/lijuuu/ContestBroadcastService/internal/state"
	wsstypes "github.com/lijuuu/ContestBroadcastService/internal/wss/types"
	"go.uber.org/zap"
)

// NewJoinHandler creates a join handler that authorizes rooms against the
// evaluator's table. The legacy subscribe message uses the same handler
// with the topic table.
func NewJoinHandler(evaluator *rooms.Evaluator, st *state.LocalStateManager) func(*wsstypes.WsContext) error {
	return func(ctx *wsstypes.WsContext) error {
		return joinHandler(ctx, evaluator, st)
	}
}

func joinHandler(ctx *wsstypes.WsContext, evaluator *rooms.Evaluator, st *state.LocalStateManager) error {
	room, err := decodeRoom(ctx.Payload)
	if err != nil {
		ctx.Log.Info("malformed join payload", zap.Error(err))
		return err
	}

	decision, err := evaluator.Evaluate(ctx.Ctx, room, ctx.Conn.Auth())
	if err != nil {
		ctx.Log.Error("authorization lookup failed", zap.String("room", room), zap.Error(err))
		return err
	}
	if !decision.IsAllowed() {
		ctx.Log.Info("join denied",
			zap.String("room", room),
			zap.Stringer("outcome", decision.Outcome),
			zap.String("reason", decision.Reason),
		)
		return decision.Err()
	}

	ctx.Conn.AddRoom(room)
	if st.Join(room, ctx.Conn) {
		ctx.Log.Info("joined room", zap.String("room", room), zap.Int("members", st.MemberCount(room)))
	}
	return nil
}

func decodeRoom(payload json.RawMessage) (string, error) {
	var p model.RoomPayload
	if len(payload) == 0 {
		return "", apperr.Malformed("Room is required")
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", apperr.Malformed("Invalid payload format")
	}
	if strings.TrimSpace(p.Room) == "" {
		return "", apperr.Malformed("Room is required")
	}
	return p.Room, nil
}
