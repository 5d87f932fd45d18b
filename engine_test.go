package goSession

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/alert"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/permission"
	"github.com/MrEthical07/goSession/role"
	"github.com/MrEthical07/goSession/session"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testRoles = []role.Role{
	{ID: "editor", Name: "Editor", Permissions: permission.NewSet("docs:read", "docs:write")},
	{ID: "viewer", Name: "Viewer", Permissions: permission.NewSet("docs:read")},
}

type engineFixture struct {
	engine *Engine
	clock  *testClock
	events *audit.ChannelSink
	alerts *alert.ChannelSink
}

func newEngineFixture(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *engineFixture {
	t.Helper()

	cfg := testConfig()
	cfg.Sweeper.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	f := &engineFixture{
		clock:  newTestClock(),
		events: audit.NewChannelSink(512),
		alerts: alert.NewChannelSink(16),
	}
	b := New().
		WithConfig(cfg).
		WithRoles(testRoles...).
		WithClock(f.clock.Now).
		WithAuditSink(f.events).
		WithAlertSink(f.alerts)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	f.engine = engine
	t.Cleanup(engine.Close)
	return f
}

// drain closes the engine and returns every audit event it emitted.
func (f *engineFixture) drain() []AuditEvent {
	f.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-f.events.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(events []AuditEvent, typ string) []AuditEvent {
	var out []AuditEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

var aliceClient = RequestContext{IP: "1.1.1.1", UserAgent: "test-agent/1.0", DeviceSignals: []string{"linux", "en-US"}}

func TestEngineScenarioExpiryBoundary(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) { c.Session.TTL = time.Hour })
	ctx := context.Background()

	sess, err := f.engine.CreateSession(ctx, User{ID: "alice", Permissions: permission.NewSet("docs:read")}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Token == "" {
		t.Fatal("created session must carry its token")
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != time.Hour {
		t.Fatalf("expected 1h lifetime, got %v", got)
	}

	f.clock.Advance(59 * time.Minute)
	validated, err := f.engine.ValidateSession(ctx, sess.ID, aliceClient)
	if err != nil {
		t.Fatalf("validate at t+59m: %v", err)
	}
	if validated.Token != "" {
		t.Fatal("validated session must not carry a token")
	}
	if err := f.engine.Authorize(ctx, validated, permission.NewSet("docs:read")); err != nil {
		t.Fatalf("authorize docs:read: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	if _, err := f.engine.ValidateSession(ctx, sess.ID, aliceClient); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound at t+61m, got %v", err)
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricSessionExpired]; got != 1 {
		t.Fatalf("expected one expiry, got %d", got)
	}
}

type countingRepository struct {
	*session.MemoryRepository
	gets atomic.Int32
	gate chan struct{}
}

func (c *countingRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	c.gets.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.MemoryRepository.Get(ctx, id)
}

func TestEngineScenarioConcurrentValidateSharesOneRead(t *testing.T) {
	repo := &countingRepository{MemoryRepository: session.NewMemoryRepository()}
	writer := newEngineFixture(t, nil, func(b *Builder) { b.WithSessionRepository(repo) })

	sess, err := writer.engine.CreateSession(context.Background(), User{ID: "alice", Role: "viewer"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A second engine over the same repository has a cold cache.
	repo.gate = make(chan struct{})
	reader := newEngineFixture(t, nil, func(b *Builder) { b.WithSessionRepository(repo) })

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reader.engine.ValidateSession(context.Background(), sess.ID, aliceClient)
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(repo.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
	}
	if got := repo.gets.Load(); got != 1 {
		t.Fatalf("expected exactly one repository get, got %d", got)
	}
}

func TestEngineScenarioIPMismatchDestroysSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	sess, err := f.engine.CreateSession(ctx, User{ID: "alice", Role: "editor"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	moved := aliceClient
	moved.IP = "2.2.2.2"
	if _, err := f.engine.ValidateSession(ctx, sess.ID, moved); !errors.Is(err, ErrSecurityCheckFailed) {
		t.Fatalf("expected ErrSecurityCheckFailed, got %v", err)
	}
	if _, err := f.engine.ValidateSession(ctx, sess.ID, aliceClient); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected destroyed session, got %v", err)
	}

	failed := eventsOfType(f.drain(), AuditSecurityCheckFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one security_check_failed event, got %d", len(failed))
	}
	if failed[0].Detail["mismatched"] != "ip" || failed[0].Allowed {
		t.Fatalf("unexpected event: %+v", failed[0])
	}
}

func TestEngineDeviceBindingDisabledSkipsCheck(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) { c.DeviceBinding.Enabled = false })
	ctx := context.Background()

	sess, err := f.engine.CreateSession(ctx, User{ID: "alice"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.ValidateSession(ctx, sess.ID, RequestContext{IP: "9.9.9.9"}); err != nil {
		t.Fatalf("expected no binding check, got %v", err)
	}
}

func TestEngineValidateToken(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	sess, err := f.engine.CreateSession(ctx, User{ID: "alice", Role: "viewer"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := f.engine.ValidateToken(ctx, sess.Token, aliceClient)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if got.ID != sess.ID || got.UserID != "alice" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := f.engine.ValidateToken(ctx, "not-a-token", aliceClient); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}

	// A second, validly signed token for the same session id is not the
	// one whose hash was stored.
	forged, err := f.engine.tokens.Issue(sess.ID, sess.UserID, sess.ExpiresAt)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.engine.ValidateToken(ctx, forged, aliceClient); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for a token the session was not issued, got %v", err)
	}
}

func TestEngineCreateMergesRolePermissions(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	sess, err := f.engine.CreateSession(ctx, User{ID: "alice", Role: "viewer", Permissions: permission.NewSet("billing:read")}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := permission.NewSet("docs:read", "billing:read")
	if !sess.Permissions.Equal(want) {
		t.Fatalf("expected %v, got %v", want, sess.Permissions)
	}

	if _, err := f.engine.CreateSession(ctx, User{ID: "alice", Role: "ghost"}, aliceClient); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	if _, err := f.engine.CreateSession(ctx, User{}, aliceClient); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession for empty user, got %v", err)
	}
}

func TestEngineAuthorize(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	sess, err := f.engine.CreateSession(ctx, User{ID: "alice", Role: "viewer"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.engine.Authorize(ctx, sess, permission.NewSet("docs:write")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.engine.Authorize(ctx, nil, permission.NewSet("docs:read")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.AuthorizeRoles(ctx, sess, "editor", "viewer"); err != nil {
		t.Fatalf("authorize roles: %v", err)
	}
	if err := f.engine.AuthorizeRoles(ctx, sess, "editor"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for role, got %v", err)
	}

	snap := f.engine.MetricsSnapshot()
	if snap.Counters[MetricAccessAllowed] != 1 || snap.Counters[MetricAccessDenied] != 3 {
		t.Fatalf("unexpected access counters: %+v", snap.Counters)
	}

	access := eventsOfType(f.drain(), AuditAccess)
	if len(access) != 4 {
		t.Fatalf("expected 4 access events, got %d", len(access))
	}
}

func TestEngineLogoutAndDestroy(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	sess, err := f.engine.CreateSession(ctx, User{ID: "alice"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.engine.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.engine.ValidateToken(ctx, sess.Token, aliceClient); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
	if err := f.engine.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("second logout should be idempotent: %v", err)
	}
	if err := f.engine.Logout(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	other, err := f.engine.CreateSession(ctx, User{ID: "alice"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for range 2 {
		if err := f.engine.DestroySession(ctx, other.ID); err != nil {
			t.Fatalf("destroy: %v", err)
		}
	}
	if _, err := f.engine.ValidateSession(ctx, other.ID, aliceClient); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after destroy, got %v", err)
	}

	events := f.drain()
	if n := len(eventsOfType(events, AuditLogout)); n != 2 {
		t.Fatalf("expected 2 logout events, got %d", n)
	}
	if n := len(eventsOfType(events, AuditSessionDestroyed)); n != 2 {
		t.Fatalf("expected 2 destroy events, got %d", n)
	}
}

func TestEngineLogoutAcceptsExpiredToken(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) {
		c.Session.TTL = time.Hour
		c.Session.TombstoneTTL = time.Hour
	})
	ctx := context.Background()

	sess, err := f.engine.CreateSession(ctx, User{ID: "alice"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if err := f.engine.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("logout with expired token: %v", err)
	}
}

func TestEngineLogoutAll(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	var ids []string
	for range 3 {
		sess, err := f.engine.CreateSession(ctx, User{ID: "alice"}, aliceClient)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, sess.ID)
	}
	bob, err := f.engine.CreateSession(ctx, User{ID: "bob"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := f.engine.LogoutAll(ctx, "alice")
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 sessions destroyed, got %d", n)
	}
	for _, id := range ids {
		if _, err := f.engine.ValidateSession(ctx, id, aliceClient); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("session %s survived logout all: %v", id, err)
		}
	}
	if _, err := f.engine.ValidateSession(ctx, bob.ID, aliceClient); err != nil {
		t.Fatalf("other user's session affected: %v", err)
	}
}

func TestEngineSweepOnce(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) { c.Session.TTL = time.Hour })
	ctx := context.Background()

	for range 3 {
		if _, err := f.engine.CreateSession(ctx, User{ID: "alice"}, aliceClient); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	f.clock.Advance(2 * time.Hour)

	res, err := f.engine.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Destroyed != 3 {
		t.Fatalf("expected 3 destroyed, got %+v", res)
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricSweepDestroyed]; got != 3 {
		t.Fatalf("expected sweep counter 3, got %d", got)
	}
	if n := len(eventsOfType(f.drain(), AuditSessionExpired)); n != 3 {
		t.Fatalf("expected 3 session_expired events, got %d", n)
	}
}

// stalledListingRepository hangs FindExpired until its context ends.
type stalledListingRepository struct {
	*session.MemoryRepository
}

func (stalledListingRepository) FindExpired(ctx context.Context, _ time.Time) iter.Seq2[*session.Session, error] {
	return func(yield func(*session.Session, error) bool) {
		<-ctx.Done()
		yield(nil, ctx.Err())
	}
}

func TestEngineSweepOnceTimesOutListing(t *testing.T) {
	repo := stalledListingRepository{session.NewMemoryRepository()}
	f := newEngineFixture(t, func(c *Config) { c.Repository.Timeout = 20 * time.Millisecond },
		func(b *Builder) { b.WithSessionRepository(repo) })

	start := time.Now()
	_, err := f.engine.SweepOnce(context.Background())
	if !errors.Is(err, ErrRepository) {
		t.Fatalf("expected ErrRepository, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("sweep listing was not bounded: took %v", elapsed)
	}
}

func TestEngineDetectsConcurrentSessionFromOtherIP(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	first, err := f.engine.CreateSession(ctx, User{ID: "alice"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	elsewhere := aliceClient
	elsewhere.IP = "8.8.8.8"
	if _, err := f.engine.CreateSession(ctx, User{ID: "alice"}, elsewhere); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Activity is recorded in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		report, err := f.engine.DetectAnomalies(ctx, first)
		if err != nil {
			t.Fatalf("detect: %v", err)
		}
		if report.ConcurrentSessions {
			if report.Details["other_ips"] != "8.8.8.8" {
				t.Fatalf("unexpected details: %v", report.Details)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("concurrent session never flagged")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case a := <-f.alerts.Alerts():
		if a.SessionID != first.ID || a.Kinds[0] != alert.KindConcurrentSessions {
			t.Fatalf("unexpected alert: %+v", a)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an alert")
	}
	if _, err := f.engine.ValidateSession(ctx, first.ID, aliceClient); err != nil {
		t.Fatalf("anomaly detection must not destroy the session: %v", err)
	}
}

func TestEngineMonitorDisabled(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) { c.Monitor.Enabled = false })
	if _, err := f.engine.DetectAnomalies(context.Background(), &Session{ID: "x"}); !errors.Is(err, ErrMonitorDisabled) {
		t.Fatalf("expected ErrMonitorDisabled, got %v", err)
	}
}

func TestEngineLoginThrottled(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	auth := AuthenticatorFunc(func(_ context.Context, creds Credentials) (User, error) {
		if creds.Identifier == "alice" && creds.Secret == "correct horse" {
			return User{ID: "u-alice", Role: "editor"}, nil
		}
		return User{}, ErrInvalidCredentials
	})
	f := newEngineFixture(t, func(c *Config) { c.Login.MaxAttempts = 2 }, func(b *Builder) {
		b.WithRedis(rdb).WithRoles(testRoles...).WithAuthenticator(auth)
	})
	ctx := context.Background()

	sess, err := f.engine.Login(ctx, Credentials{Identifier: "alice", Secret: "correct horse"}, aliceClient)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.engine.ValidateToken(ctx, sess.Token, aliceClient); err != nil {
		t.Fatalf("validate redis-backed session: %v", err)
	}

	for range 2 {
		if _, err := f.engine.Login(ctx, Credentials{Identifier: "alice", Secret: "wrong"}, aliceClient); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if _, err := f.engine.Login(ctx, Credentials{Identifier: "alice", Secret: "correct horse"}, aliceClient); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}

	snap := f.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricLoginFailure] != 2 || snap.Counters[MetricLoginRateLimited] != 1 {
		t.Fatalf("unexpected login counters: %+v", snap.Counters)
	}
}

func TestEngineLoginWithoutAuthenticator(t *testing.T) {
	f := newEngineFixture(t, nil)
	if _, err := f.engine.Login(context.Background(), Credentials{}, aliceClient); !errors.Is(err, ErrAuthenticatorMissing) {
		t.Fatalf("expected ErrAuthenticatorMissing, got %v", err)
	}
}

type failingRepository struct {
	*session.MemoryRepository
}

func (failingRepository) Put(context.Context, *session.Session) error {
	return errors.New("disk full")
}

func TestEngineCreateRepositoryFailure(t *testing.T) {
	repo := failingRepository{session.NewMemoryRepository()}
	f := newEngineFixture(t, nil, func(b *Builder) { b.WithSessionRepository(repo) })

	if _, err := f.engine.CreateSession(context.Background(), User{ID: "alice"}, aliceClient); !errors.Is(err, ErrRepository) {
		t.Fatalf("expected ErrRepository, got %v", err)
	}
	if repo.Len() != 0 {
		t.Fatal("failed create left a record behind")
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricSessionCreateFailure]; got != 1 {
		t.Fatalf("expected one create failure, got %d", got)
	}
}

func TestEngineClosedRejectsCalls(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.engine.Close()
	f.engine.Close()

	if _, err := f.engine.CreateSession(context.Background(), User{ID: "alice"}, aliceClient); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	var nilEngine *Engine
	if _, err := nilEngine.ValidateSession(context.Background(), "x", aliceClient); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady for nil engine, got %v", err)
	}
	if nilEngine.AuditDropped() != 0 {
		t.Fatal("nil engine reports drops")
	}
}

func TestEngineCloseRacesValidate(t *testing.T) {
	f := newEngineFixture(t, nil)
	sess, err := f.engine.CreateSession(context.Background(), User{ID: "alice", Role: "viewer"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := f.engine.ValidateSession(context.Background(), sess.ID, aliceClient)
				if errors.Is(err, ErrEngineNotReady) {
					return
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	f.engine.Close()
	wg.Wait()

	if f.engine.goBackground(func() { t.Error("background work ran after Close") }) {
		t.Fatal("goBackground accepted work after Close")
	}
}

func TestEngineAuditCreatedEvent(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := WithClientIP(context.Background(), "1.1.1.1")

	sess, err := f.engine.CreateSession(ctx, User{ID: "alice", Role: "editor"}, aliceClient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	created := eventsOfType(f.drain(), AuditSessionCreated)
	if len(created) != 1 {
		t.Fatalf("expected one session_created event, got %d", len(created))
	}
	ev := created[0]
	if ev.SessionID != sess.ID || ev.UserID != "alice" || ev.IP != "1.1.1.1" || ev.Detail["role"] != "editor" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Fatal("dispatcher did not stamp the event")
	}
}

type emptyRoles struct{}

func (emptyRoles) ListAll(context.Context) iter.Seq2[role.Role, error] {
	return func(func(role.Role, error) bool) {}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).WithRoleRepository(emptyRoles{})
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuilderRequiresRoles(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected missing role repository to fail")
	}
}

func TestBuilderProductionRequiresDurableRepository(t *testing.T) {
	cfg := testConfig()
	cfg.ProductionMode = true
	if _, err := New().WithConfig(cfg).WithRoles(testRoles...).Build(); err == nil {
		t.Fatal("expected ProductionMode without a repository to fail")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Session.TTL = 0
	if _, err := New().WithConfig(cfg).WithRoles(testRoles...).Build(); err == nil {
		t.Fatal("expected invalid config to fail the build")
	}
}

func TestBuilderWarmOnBuildSurfacesRoleErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mr.HSet("gs:roles", "broken", "{not json")
	cfg := testConfig()
	cfg.Roles.WarmOnBuild = true
	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected a corrupt role to fail the build")
	}
}

func TestRequestContextFromContext(t *testing.T) {
	ctx := WithClientIP(context.Background(), "1.1.1.1")
	ctx = WithUserAgent(ctx, "ua")
	ctx = WithDeviceSignals(ctx, "linux", "en-US")

	rc := RequestContextFromContext(ctx)
	if rc.IP != "1.1.1.1" || rc.UserAgent != "ua" || len(rc.DeviceSignals) != 2 {
		t.Fatalf("unexpected request context: %+v", rc)
	}
	if rc.DeviceID() != aliceClient.DeviceID() {
		t.Fatal("device id depends on more than the signals")
	}
}
