package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/leaderboard"
	"github.com/redis/go-redis/v9"
)

// RedisFreezeStore keeps each contest's last freeze transition in a hash
// and its withheld items in a list, so every instance shares them.
type RedisFreezeStore struct {
	client *redis.Client
	prefix string
}

func NewRedisFreezeStore(client *redis.Client) *RedisFreezeStore {
	return &RedisFreezeStore{
		client: client,
		prefix: "freeze",
	}
}

func (r *RedisFreezeStore) stateKey(contestID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", r.prefix, contestID)
}

func (r *RedisFreezeStore) withheldKey(contestID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:withheld", r.prefix, contestID)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readRecord(ctx context.Context, c hashReader, key string) (leaderboard.FreezeRecord, error) {
	fields, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return leaderboard.FreezeRecord{}, err
	}
	if len(fields) == 0 {
		return leaderboard.FreezeRecord{}, nil
	}

	micros, err := strconv.ParseInt(fields["at"], 10, 64)
	if err != nil {
		return leaderboard.FreezeRecord{}, fmt.Errorf("invalid freeze time %q: %w", fields["at"], err)
	}
	rec := leaderboard.FreezeRecord{At: time.UnixMicro(micros).UTC()}
	if fields["state"] == leaderboard.Frozen.String() {
		rec.State = leaderboard.Frozen
	}
	return rec, nil
}

func recordFields(rec leaderboard.FreezeRecord) map[string]any {
	return map[string]any{
		"state": rec.State.String(),
		"at":    rec.At.UnixMicro(),
	}
}

// watch runs fn under WATCH on keys and retries when another client changed
// them before the transaction ran.
func (r *RedisFreezeStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err := r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("freeze state for %v stayed contended", keys)
}

func (r *RedisFreezeStore) Record(ctx context.Context, contestID uuid.UUID) (leaderboard.FreezeRecord, error) {
	rec, err := readRecord(ctx, r.client, r.stateKey(contestID))
	if err != nil {
		return leaderboard.FreezeRecord{}, fmt.Errorf("failed to read freeze state: %w", err)
	}
	return rec, nil
}

func (r *RedisFreezeStore) Freeze(ctx context.Context, contestID uuid.UUID, at time.Time) (bool, error) {
	key := r.stateKey(contestID)
	var changed bool

	err := r.watch(ctx, func(tx *redis.Tx) error {
		rec, err := readRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec.State == leaderboard.Frozen {
			changed = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, recordFields(leaderboard.FreezeRecord{State: leaderboard.Frozen, At: at}))
			return nil
		})
		changed = err == nil
		return err
	}, key)
	if err != nil {
		return false, fmt.Errorf("failed to freeze: %w", err)
	}
	return changed, nil
}

func (r *RedisFreezeStore) Withhold(ctx context.Context, contestID uuid.UUID, frozenAt time.Time, item json.RawMessage) (bool, error) {
	key := r.stateKey(contestID)
	var withheld bool

	err := r.watch(ctx, func(tx *redis.Tx) error {
		rec, err := readRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec.State == leaderboard.Live && !rec.At.Before(frozenAt) {
			withheld = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, r.withheldKey(contestID), []byte(item))
			return nil
		})
		withheld = err == nil
		return err
	}, key)
	if err != nil {
		return false, fmt.Errorf("failed to withhold: %w", err)
	}
	return withheld, nil
}

func (r *RedisFreezeStore) Unfreeze(ctx context.Context, contestID uuid.UUID, at time.Time) ([]json.RawMessage, bool, error) {
	key, listKey := r.stateKey(contestID), r.withheldKey(contestID)
	var (
		items     []json.RawMessage
		wasFrozen bool
	)

	err := r.watch(ctx, func(tx *redis.Tx) error {
		rec, err := readRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		raw, err := tx.LRange(ctx, listKey, 0, -1).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, listKey)
			pipe.HSet(ctx, key, recordFields(leaderboard.FreezeRecord{State: leaderboard.Live, At: at}))
			return nil
		})
		if err != nil {
			return err
		}

		wasFrozen = rec.State == leaderboard.Frozen
		items = make([]json.RawMessage, 0, len(raw))
		for _, item := range raw {
			items = append(items, json.RawMessage(item))
		}
		return nil
	}, key, listKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unfreeze: %w", err)
	}
	return items, wasFrozen, nil
}
