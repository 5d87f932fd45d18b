// Command gosession-loadtest measures concurrent session validation and
// how many of those validations reach the repository.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	mathrand "math/rand/v2"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/permission"
	"github.com/MrEthical07/goSession/role"
	"github.com/MrEthical07/goSession/session"
)

// countingRepository counts reads so the report can compare repository
// traffic with validations served.
type countingRepository struct {
	*session.RedisRepository
	gets atomic.Int64
}

func (c *countingRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	c.gets.Add(1)
	return c.RedisRepository.Get(ctx, id)
}

var client = goSession.RequestContext{
	IP:            "192.0.2.10",
	UserAgent:     "gosession-loadtest/1.0",
	DeviceSignals: []string{"loadtest"},
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "validations per phase")
		hot         = flag.Int("hot", 16, "sessions targeted by the hot phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gsload", "redis key prefix")
		revalidate  = flag.Duration("revalidate", 30*time.Second, "cache revalidation interval")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *hot <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, ops, and hot must be > 0")
		os.Exit(2)
	}
	if *hot > *sessions {
		*hot = *sessions
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fmt.Fprintf(os.Stderr, "generate token key: %v\n", err)
		os.Exit(1)
	}

	cfg := goSession.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = secret
	cfg.Session.RedisPrefix = *prefix
	cfg.Session.CacheRevalidateAfter = *revalidate
	cfg.Monitor.Enabled = false
	cfg.Sweeper.Enabled = false
	cfg.Audit.Enabled = false

	repo := &countingRepository{
		RedisRepository: session.NewRedisRepository(rdb, session.RedisConfig{Prefix: *prefix}),
	}
	roles := []role.Role{{ID: "member", Permissions: permission.NewSet("docs:read")}}
	quiet := slog.New(slog.DiscardHandler)

	build := func() *goSession.Engine {
		e, err := goSession.New().
			WithConfig(cfg).
			WithSessionRepository(repo).
			WithRoles(roles...).
			WithLogger(quiet).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
			os.Exit(1)
		}
		return e
	}

	seeder := build()
	ids := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range ids {
		sess, err := seeder.CreateSession(ctx, goSession.User{ID: fmt.Sprintf("u-%d", i), Role: "member"}, client)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		ids[i] = sess.ID
	}
	seeder.Close()
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	// A fresh engine starts with an empty cache.
	engine := build()
	defer engine.Close()

	coldStats := runValidatePhase(ctx, engine, repo, ids, *ops, *concurrency)
	warmStats := runValidatePhase(ctx, engine, repo, ids, *ops, *concurrency)

	hotEngine := build()
	defer hotEngine.Close()
	hotStats := runValidatePhase(ctx, hotEngine, repo, ids[:*hot], *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("validate-cold", coldStats)
	printStats("validate-warm", warmStats)
	printStats("validate-hot", hotStats)
}

func runValidatePhase(ctx context.Context, engine *goSession.Engine, repo *countingRepository, ids []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	readsBefore := repo.gets.Load()
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mathrand.New(mathrand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				if int(cursor.Add(1))-1 >= ops {
					break
				}
				id := ids[r.IntN(len(ids))]
				t0 := time.Now()
				_, err := engine.ValidateSession(ctx, id, client)
				local = append(local, time.Since(t0))
				if err != nil {
					failures.Add(1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	stats := computeStats(total, latencies, failures.Load())
	stats.repoReads = repo.gets.Load() - readsBefore
	return stats
}

type phaseStats struct {
	total     time.Duration
	ops       int
	failures  int64
	repoReads int64
	p50       time.Duration
	p95       time.Duration
	p99       time.Duration
	opsPerS   float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	ratio := 0.0
	if s.ops > 0 {
		ratio = float64(s.repoReads) / float64(s.ops)
	}
	fmt.Printf("%s: ops=%d failures=%d repo_reads=%d reads/op=%.4f total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.repoReads,
		ratio,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
