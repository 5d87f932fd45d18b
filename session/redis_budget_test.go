package session

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/permission"
)

// cmdCounter is a go-redis hook counting commands and pipeline round-trips.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		// One network round-trip regardless of command count.
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func newCountedRepository(t *testing.T) (*RedisRepository, *cmdCounter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	counter := &cmdCounter{}
	rdb.AddHook(counter)

	// The first command on a connection may carry handshake noise.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter.Reset()

	return NewRedisRepository(rdb, RedisConfig{Prefix: "gs"}), counter
}

func newCountedStore(t *testing.T) (*Store, *cmdCounter) {
	t.Helper()
	repo, counter := newCountedRepository(t)
	return NewStore(repo, StoreConfig{TTL: time.Hour}), counter
}

func TestRedisBudgetCachedValidateIsFree(t *testing.T) {
	store, counter := newCountedStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, CreateParams{UserID: "u-1", Role: "member", Permissions: permission.NewSet("docs:read")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := counter.pipelines.Load(); got != 1 {
		t.Errorf("Create used %d pipelines; budget is 1", got)
	}

	counter.Reset()
	for range 100 {
		if _, err := store.Validate(ctx, sess.ID); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}
	if got := counter.commands.Load(); got != 0 {
		t.Fatalf("cached validations issued %d Redis commands; budget is 0", got)
	}
}

func TestRedisBudgetColdValidate(t *testing.T) {
	repo, counter := newCountedRepository(t)
	ctx := context.Background()

	writer := NewStore(repo, StoreConfig{TTL: time.Hour})
	sess, err := writer.Create(ctx, CreateParams{UserID: "u-1", Role: "member"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reader := NewStore(repo, StoreConfig{TTL: time.Hour})
	counter.Reset()
	if _, err := reader.Validate(ctx, sess.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := counter.commands.Load(); got != 1 {
		t.Fatalf("cold validate used %d commands; budget is 1 GET", got)
	}
}

func TestRedisBudgetDelete(t *testing.T) {
	repo, counter := newCountedRepository(t)
	ctx := context.Background()

	if err := repo.Put(ctx, redisTestSession("sid-budget", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("put: %v", err)
	}

	counter.Reset()
	if err := repo.Delete(ctx, "sid-budget"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// GET, then EVALSHA with a possible EVAL fallback on first use.
	if got := counter.commands.Load(); got > 3 {
		t.Errorf("Delete used %d commands; budget is 3", got)
	}
	t.Logf("Delete: %d commands, %d pipelines", counter.commands.Load(), counter.pipelines.Load())
}

func TestRedisBudgetTouch(t *testing.T) {
	repo, counter := newCountedRepository(t)
	ctx := context.Background()

	if err := repo.Put(ctx, redisTestSession("sid-touch", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("put: %v", err)
	}

	counter.Reset()
	if err := repo.Touch(ctx, "sid-touch", time.Now(), 2); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if got := counter.pipelines.Load(); got > 1 {
		t.Errorf("Touch used %d pipelines; budget is 1", got)
	}
	t.Logf("Touch: %d commands, %d pipelines", counter.commands.Load(), counter.pipelines.Load())
}
