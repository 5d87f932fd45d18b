package role

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/permission"
)

type storedRole struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// RedisRepository keeps roles in a single hash, <prefix>:roles, mapping
// role id to a JSON document.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRepository creates a Redis-backed role [Repository].
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "gs"
	}
	return &RedisRepository{redis: client, prefix: prefix}
}

func (r *RedisRepository) key() string {
	return r.prefix + ":roles"
}

// Save creates or replaces a role.
func (r *RedisRepository) Save(ctx context.Context, role Role) error {
	data, err := json.Marshal(storedRole{Name: role.Name, Permissions: role.Permissions.Names()})
	if err != nil {
		return err
	}
	return r.redis.HSet(ctx, r.key(), role.ID, data).Err()
}

// Delete removes a role. Sessions already holding its permissions keep them
// until they end.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	return r.redis.HDel(ctx, r.key(), id).Err()
}

func (r *RedisRepository) ListAll(ctx context.Context) iter.Seq2[Role, error] {
	return func(yield func(Role, error) bool) {
		raw, err := r.redis.HGetAll(ctx, r.key()).Result()
		if err != nil {
			yield(Role{}, err)
			return
		}

		ids := make([]string, 0, len(raw))
		for id := range raw {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		for _, id := range ids {
			var sr storedRole
			if err := json.Unmarshal([]byte(raw[id]), &sr); err != nil {
				yield(Role{}, fmt.Errorf("role %s: %w", id, err))
				return
			}
			role := Role{ID: id, Name: sr.Name, Permissions: permission.NewSet(sr.Permissions...)}
			if !yield(role, nil) {
				return
			}
		}
	}
}
