package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix      = "gs"
	defaultRedisExpiryGrace = time.Hour
	defaultRedisScanBatch   = 500
)

const deleteSessionScript = `
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("SREM", KEYS[3], ARGV[1])
return redis.call("DEL", KEYS[1])
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// RedisConfig configures a [RedisRepository].
type RedisConfig struct {
	// Prefix namespaces every key. Defaults to "gs".
	Prefix string

	// ExpiryGrace keeps a blob in Redis this long after ExpiresAt so the
	// sweeper can observe and audit the expiry before Redis evicts it.
	ExpiryGrace time.Duration

	// ScanBatch bounds each FindExpired page.
	ScanBatch int64

	Clock Clock
}

// RedisRepository stores sessions as encoded blobs under <prefix>:s:<id>,
// with an expiry index (sorted set <prefix>:exp scored by ExpiresAt in
// milliseconds) and a per-user set <prefix>:u:<userID>.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
	batch  int64
	now    Clock
}

// NewRedisRepository creates a Redis-backed [Repository].
func NewRedisRepository(client redis.UniversalClient, cfg RedisConfig) *RedisRepository {
	r := &RedisRepository{
		redis:  client,
		prefix: cfg.Prefix,
		grace:  cfg.ExpiryGrace,
		batch:  cfg.ScanBatch,
		now:    cfg.Clock,
	}
	if r.prefix == "" {
		r.prefix = defaultRedisPrefix
	}
	if r.grace <= 0 {
		r.grace = defaultRedisExpiryGrace
	}
	if r.batch <= 0 {
		r.batch = defaultRedisScanBatch
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + ":s:" + id
}

func (r *RedisRepository) expiryKey() string {
	return r.prefix + ":exp"
}

func (r *RedisRepository) userKey(userID string) string {
	return r.prefix + ":u:" + userID
}

func (r *RedisRepository) ttl(sess *Session) time.Duration {
	ttl := sess.ExpiresAt.Sub(r.now()) + r.grace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.redis.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	sess.ID = id
	return sess, nil
}

func (r *RedisRepository) Put(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(sess.ID), data, r.ttl(sess))
		pipe.ZAdd(ctx, r.expiryKey(), redis.Z{
			Score:  float64(sess.ExpiresAt.UnixMilli()),
			Member: sess.ID,
		})
		pipe.SAdd(ctx, r.userKey(sess.UserID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return nil
}

// Delete removes the blob and both index entries. Missing ids are a no-op,
// and a corrupt blob is still removed.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	key := r.key(id)

	data, err := r.redis.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}

	userID := ""
	if err == nil {
		if sess, decodeErr := Decode(data); decodeErr == nil {
			userID = sess.UserID
		}
	}

	if userID == "" {
		_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, r.expiryKey(), id)
			return nil
		})
	} else {
		err = deleteSessionLua.Run(ctx, r.redis, []string{key, r.expiryKey(), r.userKey(userID)}, id).Err()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return nil
}

// Touch rewrites LastActive and Revision under WATCH so a concurrent delete
// or a newer touch wins. The key's TTL is preserved.
func (r *RedisRepository) Touch(ctx context.Context, id string, lastActive time.Time, revision uint64) error {
	key := r.key(id)

	err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		sess, err := Decode(data)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
		}
		if revision <= sess.Revision {
			return nil
		}

		sess.Metadata.LastActive = lastActive
		sess.Revision = revision
		next, err := Encode(sess)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, next, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
		return err
	case errors.Is(err, redis.TxFailedErr):
		// Lost the race to a delete or another touch; the winner's state stands.
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrRepository, err)
	}
}

// FindExpired pages through the expiry index. Index entries whose blob is
// already gone are removed as they are encountered. A blob that cannot be
// read is yielded with its error and a session carrying only its ID; a nil
// session means the index itself could not be read.
func (r *RedisRepository) FindExpired(ctx context.Context, before time.Time) iter.Seq2[*Session, error] {
	return func(yield func(*Session, error) bool) {
		hi := "(" + strconv.FormatInt(before.UnixMilli(), 10)
		lo := "-inf"
		seen := make(map[string]struct{})

		for {
			page, err := r.redis.ZRangeByScoreWithScores(ctx, r.expiryKey(), &redis.ZRangeBy{
				Min:   lo,
				Max:   hi,
				Count: r.batch,
			}).Result()
			if err != nil {
				yield(nil, fmt.Errorf("%w: %v", ErrRepository, err))
				return
			}

			progressed := false
			var last float64
			for _, z := range page {
				id, _ := z.Member.(string)
				last = z.Score
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				progressed = true

				sess, err := r.Get(ctx, id)
				if errors.Is(err, ErrNotFound) {
					r.redis.ZRem(ctx, r.expiryKey(), id)
					continue
				}
				if err != nil {
					sess = &Session{ID: id}
				}
				if !yield(sess, err) {
					return
				}
			}

			if int64(len(page)) < r.batch {
				return
			}

			// Re-read from the last score inclusively so entries removed by the
			// consumer do not shift the window; step past it once the page
			// holds nothing new.
			next := strconv.FormatFloat(last, 'f', -1, 64)
			if !progressed {
				next = "(" + next
			}
			lo = next
		}
	}
}

// SessionIDsForUser returns the ids recorded in the user's index set.
func (r *RedisRepository) SessionIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.redis.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return ids, nil
}

// Ping reports round-trip latency to Redis.
func (r *RedisRepository) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRepository, err)
	}
	return time.Since(start), nil
}
