package middleware

import (
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	wsstypes "github.com/lijuuu/ContestBroadcastService/internal/wss/types"
	"go.uber.org/zap"
)

const ReasonRateLimited = "Too many requests"

type handlerFunc = func(*wsstypes.WsContext) error

// LimitJoin rejects join and subscribe requests beyond the connection's
// join budget.
func LimitJoin(next handlerFunc) handlerFunc {
	return func(ctx *wsstypes.WsContext) error {
		if !ctx.Conn.AllowJoin() {
			ctx.Log.Info("join rate limited")
			return apperr.Forbidden(ReasonRateLimited)
		}
		return next(ctx)
	}
}

// LimitSync rejects sync requests beyond the connection's sync budget.
func LimitSync(next handlerFunc) handlerFunc {
	return func(ctx *wsstypes.WsContext) error {
		if !ctx.Conn.AllowSync() {
			ctx.Log.Info("sync rate limited", zap.String("conn_id", ctx.Conn.ID()))
			return apperr.Forbidden(ReasonRateLimited)
		}
		return next(ctx)
	}
}
