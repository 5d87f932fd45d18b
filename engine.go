package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/access"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/monitor"
	"github.com/MrEthical07/goSession/permission"
	"github.com/MrEthical07/goSession/role"
	"github.com/MrEthical07/goSession/security"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/sweeper"
	"github.com/MrEthical07/goSession/token"
)

// ErrMonitorDisabled is returned by [Engine.DetectAnomalies] when the
// monitor is not configured.
var ErrMonitorDisabled = errors.New("session monitor disabled")

// Engine owns every piece of process-scoped session state. Build it once
// with [Builder.Build], share it by reference, and call Close on shutdown.
// All methods are safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	store         *session.Store
	tokens        *token.Manager
	roles         *role.Cache
	validator     *security.Validator
	guard         *access.Guard
	monitor       *monitor.Monitor
	sampler       *monitor.Sampler
	sweeper       *sweeper.Sweeper
	limiter       *rate.Limiter
	authenticator Authenticator
	audit         *audit.Dispatcher
	metrics       *Metrics

	cancel context.CancelFunc
	// bgMu orders wg.Add in goBackground against the closed flag in Close.
	bgMu      sync.Mutex
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

func (e *Engine) start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	if !e.config.Sweeper.Enabled {
		return
	}
	e.goBackground(func() { e.sweeper.Run(ctx) })
}

// goBackground runs fn on a goroutine tracked by Close. It reports false,
// without running fn, once Close has begun.
func (e *Engine) goBackground(fn func()) bool {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.closed.Load() {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

// Close stops background work, waits for in-flight activity writes and
// touches, and flushes the audit buffer. Methods called after Close return
// [ErrEngineNotReady].
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.bgMu.Lock()
		e.closed.Store(true)
		e.bgMu.Unlock()
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.store.Close()
		e.audit.Close()
	})
}

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// AuditDropped returns the number of audit events discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// CookieConfig returns the session cookie settings.
func (e *Engine) CookieConfig() CookieConfig {
	return e.config.Cookie
}

// DeviceSignalHeaders returns the request headers hashed into the device id.
func (e *Engine) DeviceSignalHeaders() []string {
	return append([]string(nil), e.config.DeviceBinding.DeviceSignalHeaders...)
}

// CreateSession starts a session for a verified user, bound to the client
// described by rc. The user's role is resolved through the role cache and
// its permissions are merged with user.Permissions. The returned session is
// the only one that carries the plaintext Token.
func (e *Engine) CreateSession(ctx context.Context, user User, rc RequestContext) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	perms := user.Permissions
	if user.Role != "" {
		r, err := e.roles.GetRole(ctx, user.Role)
		if err != nil {
			if errors.Is(err, role.ErrNotFound) {
				e.metricInc(MetricRoleNotFound)
			}
			e.metricInc(MetricSessionCreateFailure)
			return nil, err
		}
		perms = r.Permissions.Union(perms)
	}

	sess, err := e.store.Create(ctx, session.CreateParams{
		UserID:      user.ID,
		Role:        user.Role,
		Permissions: perms,
		Metadata:    e.validator.Bind(rc),
	})
	if err != nil {
		e.metricInc(MetricSessionCreateFailure)
		if errors.Is(err, ErrRepository) {
			e.metricInc(MetricRepositoryError)
		}
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, audit.TypeSessionCreated, true, sess.UserID, sess.ID, nil, func() map[string]string {
		return map[string]string{
			"role":       sess.Role,
			"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
		}
	})
	e.observeActivity(ctx, sess, rc, false)

	return sess, nil
}

// ValidateSession returns the live session with the given id after
// checking it against the client rc. A session that fails the security
// check is destroyed and [ErrSecurityCheckFailed] is returned.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string, rc RequestContext) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	sess, err := e.validate(ctx, sessionID, "", rc)
	e.observeLatency(start)
	return sess, err
}

// ValidateToken is ValidateSession for a client-held token. The token must
// carry a valid signature, name a live session, and hash to that session's
// stored token hash.
func (e *Engine) ValidateToken(ctx context.Context, raw string, rc RequestContext) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observeLatency(start)

	claims, err := e.tokens.Parse(raw)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		return nil, ErrTokenInvalid
	}

	sess, err := e.validate(ctx, claims.SID, raw, rc)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UID {
		e.metricInc(MetricTokenRejected)
		return nil, ErrTokenInvalid
	}
	return sess, nil
}

func (e *Engine) validate(ctx context.Context, sessionID, raw string, rc RequestContext) (*Session, error) {
	sess, err := e.store.Validate(ctx, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrExpired):
			e.metricInc(MetricSessionExpired)
			e.emitAudit(ctx, audit.TypeSessionExpired, true, "", sessionID, nil, nil)
		case errors.Is(err, ErrSessionNotFound):
			e.metricInc(MetricSessionNotFound)
		case errors.Is(err, ErrRepository):
			e.metricInc(MetricRepositoryError)
		}
		return nil, err
	}

	if raw != "" && !sess.MatchesToken(raw) {
		e.metricInc(MetricTokenRejected)
		return nil, ErrTokenInvalid
	}

	if err := e.checkSecurity(ctx, sess, rc); err != nil {
		return nil, err
	}

	if err := e.store.Touch(ctx, sess.ID); err == nil {
		sess.Metadata.LastActive = e.now()
	}
	e.metricInc(MetricSessionValidated)
	e.observeActivity(ctx, sess, rc, true)

	return sess, nil
}

// checkSecurity fails closed: any mismatch destroys the session before the
// error is returned.
func (e *Engine) checkSecurity(ctx context.Context, sess *Session, rc RequestContext) error {
	if !e.config.DeviceBinding.Enabled {
		return nil
	}
	res := e.validator.Check(sess, rc)
	if res.OK() {
		return nil
	}

	e.metricInc(MetricSecurityCheckFailed)
	if err := e.store.Destroy(ctx, sess.ID); err != nil {
		e.logger.Error("goSession: destroy after failed security check", "session_id", sess.ID, "error", err)
	}
	e.emitAudit(ctx, audit.TypeSecurityCheckFailed, false, sess.UserID, sess.ID, ErrSecurityCheckFailed, func() map[string]string {
		return map[string]string{"mismatched": res.String()}
	})
	return ErrSecurityCheckFailed
}

// observeActivity records the request against the user's activity history
// and, when sampling admits it, runs anomaly detection. Both run in the
// background and never affect the caller.
func (e *Engine) observeActivity(ctx context.Context, sess *Session, rc RequestContext, detect bool) {
	if e.monitor == nil || e.closed.Load() {
		return
	}
	detect = detect && e.sampler.Allow()
	snapshot := sess.Clone()
	snapshot.Token = ""

	e.goBackground(func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Repository.Timeout)
		defer cancel()

		if err := e.monitor.RecordActivity(bctx, snapshot, rc.IP, rc.UserAgent); err != nil {
			e.logger.Warn("goSession: record activity failed", "session_id", snapshot.ID, "error", err)
		}
		if !detect {
			return
		}
		if _, err := e.detect(bctx, snapshot); err != nil {
			e.logger.Warn("goSession: anomaly detection failed", "session_id", snapshot.ID, "error", err)
		}
	})
}

// DetectAnomalies runs the monitor synchronously for sess. It never
// changes the session.
func (e *Engine) DetectAnomalies(ctx context.Context, sess *Session) (monitor.Report, error) {
	if err := e.ready(); err != nil {
		return monitor.Report{}, err
	}
	if e.monitor == nil {
		return monitor.Report{}, ErrMonitorDisabled
	}
	return e.detect(ctx, sess)
}

func (e *Engine) detect(ctx context.Context, sess *Session) (monitor.Report, error) {
	report, err := e.monitor.DetectAnomalies(ctx, sess)
	if err != nil {
		return report, err
	}
	if report.Flagged() {
		e.metricInc(MetricAnomalyFlagged)
	}
	if report.Alerted {
		e.metricInc(MetricAlertRaised)
	}
	return report, nil
}

// Authorize reports whether sess holds every permission in required. A nil
// session yields [ErrUnauthorized]; a missing permission yields
// [ErrForbidden]. Every decision is audited.
func (e *Engine) Authorize(ctx context.Context, sess *Session, required permission.Set) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.guard.Authorize(ctx, sess, required)
}

// AuthorizeRoles reports whether the role of sess is one of allowed.
func (e *Engine) AuthorizeRoles(ctx context.Context, sess *Session, allowed ...string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.guard.AuthorizeRoles(ctx, sess, allowed)
}

func (e *Engine) observeDecision(d access.Decision) {
	if d.Allowed {
		e.metricInc(MetricAccessAllowed)
		return
	}
	e.metricInc(MetricAccessDenied)
}

// GetRole returns a role from the cached snapshot.
func (e *Engine) GetRole(ctx context.Context, id string) (role.Role, error) {
	if err := e.ready(); err != nil {
		return role.Role{}, err
	}
	return e.roles.GetRole(ctx, id)
}

// Login verifies creds with the configured [Authenticator] and creates a
// session on success. Failed attempts are throttled per identifier (and per
// IP when enabled) when the engine has a Redis client.
func (e *Engine) Login(ctx context.Context, creds Credentials, rc RequestContext) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.authenticator == nil {
		return nil, ErrAuthenticatorMissing
	}

	throttle := e.limiter != nil && e.config.Login.EnableThrottle
	if throttle {
		if err := e.limiter.CheckLogin(ctx, creds.Identifier, rc.IP); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, audit.TypeLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
					return map[string]string{"identifier": creds.Identifier}
				})
				return nil, ErrLoginRateLimited
			}
			return nil, fmt.Errorf("%w: %v", ErrRepository, err)
		}
	}

	user, err := e.authenticator.Verify(ctx, creds)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		if throttle && errors.Is(err, ErrInvalidCredentials) {
			if ierr := e.limiter.IncrementLogin(ctx, creds.Identifier, rc.IP); ierr != nil && !errors.Is(ierr, rate.ErrRateLimited) {
				e.logger.Warn("goSession: login throttle increment failed", "error", ierr)
			}
		}
		e.emitAudit(ctx, audit.TypeLoginFailure, false, "", "", err, func() map[string]string {
			return map[string]string{"identifier": creds.Identifier}
		})
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if throttle {
		if err := e.limiter.ResetLogin(ctx, creds.Identifier, rc.IP); err != nil {
			e.logger.Warn("goSession: login throttle reset failed", "error", err)
		}
	}

	sess, err := e.CreateSession(ctx, user, rc)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	return sess, nil
}

// Logout destroys the session named by a client token. The token's
// signature is checked; its expiry is not, so an expired token can still
// log out.
func (e *Engine) Logout(ctx context.Context, raw string) error {
	if err := e.ready(); err != nil {
		return err
	}
	claims, err := e.tokens.ParseIgnoringExpiry(raw)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		return ErrTokenInvalid
	}
	if err := e.destroy(ctx, claims.SID); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, audit.TypeLogout, true, claims.UID, claims.SID, nil, nil)
	return nil
}

// DestroySession removes a session by id. It is idempotent.
func (e *Engine) DestroySession(ctx context.Context, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.destroy(ctx, sessionID); err != nil {
		return err
	}
	e.metricInc(MetricSessionDestroyed)
	e.emitAudit(ctx, audit.TypeSessionDestroyed, true, "", sessionID, nil, nil)
	return nil
}

func (e *Engine) destroy(ctx context.Context, sessionID string) error {
	if err := e.store.Destroy(ctx, sessionID); err != nil {
		e.metricInc(MetricRepositoryError)
		return err
	}
	return nil
}

// LogoutAll destroys every session of userID and returns how many were
// removed. The session repository must index sessions by user.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	ids, err := e.store.DestroyAllForUser(ctx, userID)
	if len(ids) > 0 || err == nil {
		e.metricInc(MetricLogoutAll)
		e.emitAudit(ctx, audit.TypeLogoutAll, true, userID, "", err, func() map[string]string {
			return map[string]string{"count": strconv.Itoa(len(ids))}
		})
	}
	return len(ids), err
}

// SweepOnce runs one expiry pass now. The background sweeper, when
// enabled, calls the same code on its own schedule. A listing failure or
// timeout is returned as [ErrRepository] alongside the partial result.
func (e *Engine) SweepOnce(ctx context.Context) (sweeper.Result, error) {
	if err := e.ready(); err != nil {
		return sweeper.Result{}, err
	}
	res := e.sweeper.SweepOnce(ctx)
	return res, res.Err
}

func (e *Engine) observeSweep(r sweeper.Result) {
	if e.metrics == nil {
		return
	}
	e.metrics.Add(MetricSweepDestroyed, uint64(r.Destroyed))
	e.metrics.Add(MetricSweepFailure, uint64(r.Failed))
}

func (e *Engine) observeLatency(start time.Time) {
	if e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
}
