package wss

import (
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	wsstypes "github.com/lijuuu/ContestBroadcastService/internal/wss/types"
	"go.uber.org/zap"
)

// WsHandlerType defines the signature for a WebSocket event handler
type WsHandlerType func(*wsstypes.WsContext) error

type Dispatcher struct {
	handlers map[string]WsHandlerType
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	log = log.Named("dispatcher")
	log.Debug("dispatcher initialized")
	return &Dispatcher{
		handlers: make(map[string]WsHandlerType),
		log:      log,
	}
}

func (d *Dispatcher) Register(event string, handler WsHandlerType) {
	d.log.Debug("registering handler", zap.String("event", event))
	d.handlers[event] = handler
}

func (d *Dispatcher) Dispatch(event string, ctx *wsstypes.WsContext) error {
	handler, ok := d.handlers[event]
	if !ok {
		ctx.Log.Info("no handler for event", zap.String("event", event))
		return apperr.NotFound("Unknown message type: " + event)
	}

	err := handler(ctx)
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		ctx.Log.Error("handler failed", zap.String("event", event), zap.Error(err))
	}
	return err
}
