package sweeper

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/session"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureEmitter) Emit(_ context.Context, ev audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// failingDeleteRepository refuses to delete one id.
type failingDeleteRepository struct {
	*session.MemoryRepository
	failID string
}

func (f *failingDeleteRepository) Delete(ctx context.Context, id string) error {
	if id == f.failID {
		return errors.New("disk full")
	}
	return f.MemoryRepository.Delete(ctx, id)
}

func newStore(repo session.Repository, clock *manualClock) *session.Store {
	return session.NewStore(repo, session.StoreConfig{
		TTL:          time.Hour,
		TombstoneTTL: time.Hour,
		Clock:        clock.Now,
	})
}

func createN(t *testing.T, store *session.Store, n int, ttl time.Duration) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sess, err := store.Create(context.Background(), session.CreateParams{UserID: "u1", TTL: ttl})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, sess.ID)
	}
	return ids
}

func TestSweepOnceDestroysOnlyExpired(t *testing.T) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	repo := session.NewMemoryRepository()
	store := newStore(repo, clock)
	sink := &captureEmitter{}

	expired := createN(t, store, 3, 30*time.Minute)
	live := createN(t, store, 2, 3*time.Hour)
	clock.Advance(time.Hour)

	var observed Result
	sw := New(store, Config{Clock: clock.Now, Audit: sink, OnSweep: func(r Result) { observed = r }})
	res := sw.SweepOnce(context.Background())

	if res.Destroyed != 3 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if observed != res {
		t.Fatal("OnSweep did not receive the result")
	}
	if repo.Len() != 2 {
		t.Fatalf("expected 2 live sessions left, got %d", repo.Len())
	}
	for _, id := range expired {
		if _, err := store.Validate(context.Background(), id); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("expired session %s still validates: %v", id, err)
		}
	}
	for _, id := range live {
		if _, err := store.Validate(context.Background(), id); err != nil {
			t.Fatalf("live session %s: %v", id, err)
		}
	}

	if len(sink.events) != 3 {
		t.Fatalf("expected one audit event per destroyed session, got %d", len(sink.events))
	}
	for _, ev := range sink.events {
		if ev.Type != audit.TypeSessionExpired || ev.UserID != "u1" {
			t.Fatalf("unexpected audit event %+v", ev)
		}
	}
}

func TestSweepOnceContinuesPastFailures(t *testing.T) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	repo := &failingDeleteRepository{MemoryRepository: session.NewMemoryRepository()}
	store := newStore(repo, clock)

	ids := createN(t, store, 3, time.Minute)
	repo.failID = ids[1]
	clock.Advance(time.Hour)

	res := New(store, Config{Clock: clock.Now}).SweepOnce(context.Background())
	if res.Destroyed != 2 || res.Failed != 1 {
		t.Fatalf("expected 2 destroyed and 1 failed, got %+v", res)
	}
}

func TestSweepOnceHonorsBatchSize(t *testing.T) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	repo := session.NewMemoryRepository()
	store := newStore(repo, clock)

	createN(t, store, 5, time.Minute)
	clock.Advance(time.Hour)

	sw := New(store, Config{Clock: clock.Now, BatchSize: 2})
	res := sw.SweepOnce(context.Background())
	if res.Destroyed != 2 || !res.Truncated {
		t.Fatalf("expected a truncated batch of 2, got %+v", res)
	}
	sw.SweepOnce(context.Background())
	sw.SweepOnce(context.Background())
	if repo.Len() != 0 {
		t.Fatalf("expected later passes to finish, %d left", repo.Len())
	}
}

func TestSweepOncePrunesTombstones(t *testing.T) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	store := newStore(session.NewMemoryRepository(), clock)

	ids := createN(t, store, 1, time.Minute)
	if err := store.Destroy(context.Background(), ids[0]); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	clock.Advance(2 * time.Hour)

	res := New(store, Config{Clock: clock.Now}).SweepOnce(context.Background())
	if res.TombstonesPruned != 1 {
		t.Fatalf("expected 1 pruned tombstone, got %+v", res)
	}
}

func TestSweepOnceRemovesCorruptRedisBlob(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := &manualClock{now: time.Unix(1700000000, 0)}
	repo := session.NewRedisRepository(rdb, session.RedisConfig{Prefix: "gs", Clock: clock.Now})
	store := newStore(repo, clock)

	ctx := context.Background()
	if err := mr.Set("gs:s:bad", "not a session"); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	if _, err := mr.ZAdd("gs:exp", float64(clock.Now().Add(-time.Minute).UnixMilli()), "bad"); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	sink := &captureEmitter{}

	res := New(store, Config{Clock: clock.Now, Audit: sink}).SweepOnce(ctx)
	if res.Destroyed != 1 {
		t.Fatalf("expected the corrupt blob to be destroyed, got %+v", res)
	}
	if mr.Exists("gs:s:bad") {
		t.Fatal("corrupt blob still present")
	}
	if len(sink.events) != 1 || sink.events[0].Error != "corrupt" {
		t.Fatalf("unexpected audit events %+v", sink.events)
	}
}

func TestSweepOnceSkipsUnreadableRedisRecord(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := &manualClock{now: time.Unix(1700000000, 0)}
	repo := session.NewRedisRepository(rdb, session.RedisConfig{Prefix: "gs", Clock: clock.Now})
	store := newStore(repo, clock)

	// A hash where a blob belongs fails GET with WRONGTYPE and sorts first.
	mr.HSet("gs:s:aaa", "field", "value")
	if _, err := mr.ZAdd("gs:exp", float64(clock.Now().Add(-time.Hour).UnixMilli()), "aaa"); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	expired := createN(t, store, 3, time.Minute)
	clock.Advance(time.Hour)

	sw := New(store, Config{Clock: clock.Now})
	for pass := 1; pass <= 2; pass++ {
		res := sw.SweepOnce(context.Background())
		if res.Err != nil {
			t.Fatalf("pass %d: unexpected listing error %v", pass, res.Err)
		}
		if res.Failed != 1 {
			t.Fatalf("pass %d: expected the unreadable record to fail alone, got %+v", pass, res)
		}
		if pass == 1 && res.Destroyed != 3 {
			t.Fatalf("expected 3 destroyed despite the unreadable record, got %+v", res)
		}
	}
	for _, id := range expired {
		if mr.Exists("gs:s:" + id) {
			t.Fatalf("expired session %s survived the sweep", id)
		}
	}
}

// stalledRepository never finishes listing until its context ends.
type stalledRepository struct {
	*session.MemoryRepository
}

func (stalledRepository) FindExpired(ctx context.Context, _ time.Time) iter.Seq2[*session.Session, error] {
	return func(yield func(*session.Session, error) bool) {
		<-ctx.Done()
		yield(nil, ctx.Err())
	}
}

func TestSweepOnceBoundsListing(t *testing.T) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	store := newStore(stalledRepository{session.NewMemoryRepository()}, clock)

	var observed Result
	sw := New(store, Config{Clock: clock.Now, Timeout: 20 * time.Millisecond, OnSweep: func(r Result) { observed = r }})

	start := time.Now()
	res := sw.SweepOnce(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("listing was not bounded: took %v", elapsed)
	}
	if !errors.Is(res.Err, session.ErrRepository) || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("expected a repository timeout, got %v", res.Err)
	}
	if !errors.Is(observed.Err, session.ErrRepository) {
		t.Fatal("OnSweep did not receive the listing error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	store := newStore(session.NewMemoryRepository(), clock)

	passes := make(chan Result, 16)
	sw := New(store, Config{
		Interval: 5 * time.Millisecond,
		Clock:    clock.Now,
		OnSweep: func(r Result) {
			select {
			case passes <- r:
			default:
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	select {
	case <-passes:
	case <-time.After(time.Second):
		t.Fatal("expected at least one sweep pass")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
