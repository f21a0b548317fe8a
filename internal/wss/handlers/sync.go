package wsshandler

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/wss/broadcasts"
	wsstypes "github.com/lijuuu/ContestBroadcastService/internal/wss/types"
	"go.uber.org/zap"
)

// NewSyncHandler replays a room's events after the client's last seen
// timestamp. Only members of the room may sync it.
func NewSyncHandler(b *broadcasts.Broadcaster) func(*wsstypes.WsContext) error {
	return func(ctx *wsstypes.WsContext) error {
		var payload model.SyncPayload
		if err := json.Unmarshal(ctx.Payload, &payload); err != nil {
			ctx.Log.Info("malformed sync payload", zap.Error(err))
			return apperr.Malformed("Invalid payload format")
		}
		if strings.TrimSpace(payload.Room) == "" {
			return apperr.Malformed("Room is required")
		}

		if err := b.Sync(ctx.Ctx, ctx.Conn, payload.Room, payload.Timestamp); err != nil {
			ctx.Log.Info("sync rejected", zap.String("room", payload.Room), zap.Error(err))
			return err
		}
		return nil
	}
}

func PingHandler(ctx *wsstypes.WsContext) error {
	broadcasts.SendPong(ctx.Conn)
	return nil
}
