package broadcasts

import (
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/state"
)

func SendError(sub state.Subscriber, msg string) bool {
	return sub.Send(model.OutboundError(msg))
}

// SendAppError sends the client-facing message of err. Internal failures
// are reported without their cause.
func SendAppError(sub state.Subscriber, err error) bool {
	return SendError(sub, apperr.Message(err))
}

func SendPong(sub state.Subscriber) bool {
	return sub.Send(model.Outbound{Type: model.TypePong})
}
