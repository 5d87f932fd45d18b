package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisActivityRepository keeps a sorted set per user, <prefix>:act:<user>,
// scored by observation time in milliseconds and trimmed to the retention
// window on every write.
type RedisActivityRepository struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisActivityRepository(client redis.UniversalClient, prefix string, retention time.Duration) *RedisActivityRepository {
	if prefix == "" {
		prefix = "gs"
	}
	if retention <= 0 {
		retention = DefaultActivityRetention
	}
	return &RedisActivityRepository{redis: client, prefix: prefix, retention: retention}
}

func (r *RedisActivityRepository) key(userID string) string {
	return r.prefix + ":act:" + userID
}

func (r *RedisActivityRepository) Record(ctx context.Context, userID string, obs Observation) error {
	member, err := json.Marshal(obs)
	if err != nil {
		return err
	}
	key := r.key(userID)
	cutoff := obs.At.Add(-r.retention).UnixMilli()

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(obs.At.UnixMilli()), Member: string(member)})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, r.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("monitor: record activity: %w", err)
	}
	return nil
}

func (r *RedisActivityRepository) RecentActivity(ctx context.Context, userID string, since time.Time) ([]Observation, error) {
	raw, err := r.redis.ZRangeByScore(ctx, r.key(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("monitor: load activity: %w", err)
	}

	out := make([]Observation, 0, len(raw))
	for _, member := range raw {
		var o Observation
		if err := json.Unmarshal([]byte(member), &o); err != nil {
			continue
		}
		out = append(out, o)
	}
	sortObservations(out)
	return out, nil
}
