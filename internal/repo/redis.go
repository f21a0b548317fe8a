package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/redis/go-redis/v9"
)

const maxWatchAttempts = 16

// RedisEventLog stores each room's events in a sorted set scored by the
// event's unix microseconds. A per-room clock key makes timestamps strictly
// increasing across every instance sharing the log.
type RedisEventLog struct {
	client  *redis.Client
	prefix  string
	channel string
}

func NewRedisEventLog(client *redis.Client) *RedisEventLog {
	return &RedisEventLog{
		client: client,
		prefix: "events",
	}
}

// WithPublish makes Append also PUBLISH every stored event on
// channelPrefix+room inside the same transaction, so subscribers receive a
// room's events in log order.
func (r *RedisEventLog) WithPublish(channelPrefix string) *RedisEventLog {
	r.channel = channelPrefix
	return r
}

func (r *RedisEventLog) roomKey(room string) string {
	return fmt.Sprintf("%s:%s", r.prefix, room)
}

func (r *RedisEventLog) indexKey() string {
	return r.prefix + ":rooms"
}

func (r *RedisEventLog) clockKey(room string) string {
	return fmt.Sprintf("%sclock:%s", r.prefix, room)
}

// Append adds the event to its room and records the room in the index used
// by Trim. The stored timestamp is the later of ev.Timestamp and one
// microsecond past the room's last stored event.
func (r *RedisEventLog) Append(ctx context.Context, ev model.BroadcastEvent) (model.BroadcastEvent, error) {
	clock := r.clockKey(ev.Room)

	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		stored := ev
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			last, err := tx.Get(ctx, clock).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			micros := max(ev.Timestamp.UnixMicro(), last+1)
			stored.Timestamp = time.UnixMicro(micros).UTC()
			data, err := json.Marshal(stored)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, clock, micros, 0)
				pipe.ZAdd(ctx, r.roomKey(ev.Room), redis.Z{
					Score:  float64(micros),
					Member: data,
				})
				pipe.SAdd(ctx, r.indexKey(), ev.Room)
				if r.channel != "" {
					pipe.Publish(ctx, r.channel+ev.Room, data)
				}
				return nil
			})
			return err
		}, clock)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return model.BroadcastEvent{}, fmt.Errorf("failed to append event: %w", err)
		}
		return stored, nil
	}
	return model.BroadcastEvent{}, fmt.Errorf("failed to append event: room %s stayed contended", ev.Room)
}

// Since returns the room's events strictly after since
func (r *RedisEventLog) Since(ctx context.Context, room string, since time.Time) ([]model.BroadcastEvent, error) {
	raw, err := r.client.ZRangeByScore(ctx, r.roomKey(room), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixMicro(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]model.BroadcastEvent, 0, len(raw))
	for _, item := range raw {
		var ev model.BroadcastEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Trim removes events older than before from every indexed room
func (r *RedisEventLog) Trim(ctx context.Context, before time.Time) (int64, error) {
	rooms, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list rooms: %w", err)
	}

	cutoff := "(" + strconv.FormatInt(before.UnixMicro(), 10)
	var removed int64
	for _, room := range rooms {
		key := r.roomKey(room)
		n, err := r.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to trim room %s: %w", room, err)
		}
		removed += n

		left, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to count room %s: %w", room, err)
		}
		if left == 0 {
			r.client.SRem(ctx, r.indexKey(), room)
		}
	}
	return removed, nil
}
