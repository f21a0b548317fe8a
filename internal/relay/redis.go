// Package relay delivers broadcast events to the local members of each
// room. The redis event log publishes every event it stores inside the
// append transaction, so every instance, the appending one included,
// receives a room's events in log order.
package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelPrefix is prepended to the room name to form its pub/sub channel.
const ChannelPrefix = "broadcast:"

type RedisRelay struct {
	client *redis.Client
	ready  chan struct{}
	log    *zap.Logger
}

func NewRedisRelay(client *redis.Client, log *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		ready:  make(chan struct{}),
		log:    log.Named("relay").With(zap.String("instance", uuid.NewString())),
	}
}

// Ready is closed once Run has an active subscription.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Run subscribes to every room channel and hands each event to deliver
// until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, deliver func(model.BroadcastEvent) int) error {
	pubsub := r.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	close(r.ready)
	r.log.Info("relay subscribed", zap.String("pattern", ChannelPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				r.log.Info("relay channel closed")
				return nil
			}

			var ev model.BroadcastEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Error("invalid relay payload", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if room := strings.TrimPrefix(msg.Channel, ChannelPrefix); room != ev.Room {
				r.log.Warn("relay room mismatch", zap.String("channel", msg.Channel), zap.String("room", ev.Room))
				continue
			}

			n := deliver(ev)
			r.log.Debug("relayed event delivered",
				zap.String("room", ev.Room),
				zap.String("name", ev.Name),
				zap.Int("delivered", n),
			)
		}
	}
}
