package wss

import (
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/rooms"
	"github.com/lijuuu/ContestBroadcastService/internal/state"
	"github.com/lijuuu/ContestBroadcastService/internal/wss/broadcasts"
	wsshandler "github.com/lijuuu/ContestBroadcastService/internal/wss/handlers"
	"github.com/lijuuu/ContestBroadcastService/internal/wss/middleware"
)

type HandlerDeps struct {
	Rooms       *rooms.Evaluator
	Topics      *rooms.Evaluator
	State       *state.LocalStateManager
	Broadcaster *broadcasts.Broadcaster
}

// RegisterHandlers wires the client protocol onto d.
func RegisterHandlers(d *Dispatcher, deps HandlerDeps) {
	d.Register(model.TypeJoin, middleware.LimitJoin(wsshandler.NewJoinHandler(deps.Rooms, deps.State)))
	d.Register(model.TypeSubscribe, middleware.LimitJoin(wsshandler.NewJoinHandler(deps.Topics, deps.State)))
	d.Register(model.TypeSync, middleware.LimitSync(wsshandler.NewSyncHandler(deps.Broadcaster)))
	d.Register(model.TypePing, wsshandler.PingHandler)
}
