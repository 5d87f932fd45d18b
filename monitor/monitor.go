package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	xrate "golang.org/x/time/rate"

	"github.com/MrEthical07/goSession/alert"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/session"
)

const (
	DefaultActivityRetention = 24 * time.Hour
	DefaultAlertDedupeWindow = time.Minute
)

// Analysis is a location policy's verdict on a sequence of observations.
type Analysis struct {
	Suspicious bool
	Details    string
}

// LocationPolicy judges whether the locations in a time-ordered sequence of
// observations are plausible for one user.
type LocationPolicy interface {
	AnalyzeLocationChanges(ctx context.Context, obs []Observation) (Analysis, error)
}

// LocationPolicyFunc adapts a function to [LocationPolicy].
type LocationPolicyFunc func(ctx context.Context, obs []Observation) (Analysis, error)

func (f LocationPolicyFunc) AnalyzeLocationChanges(ctx context.Context, obs []Observation) (Analysis, error) {
	return f(ctx, obs)
}

// NoopLocationPolicy never flags anything.
type NoopLocationPolicy struct{}

func (NoopLocationPolicy) AnalyzeLocationChanges(context.Context, []Observation) (Analysis, error) {
	return Analysis{}, nil
}

// Deduper admits the first occurrence of a key per window.
// [*rate.Limiter] from internal/rate satisfies it.
type Deduper interface {
	FirstInWindow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Emitter receives audit events. [*audit.Dispatcher] satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event audit.Event)
}

// Config wires a [Monitor]. Activity is required; the rest default.
type Config struct {
	Activity          ActivityRepository
	Location          LocationPolicy
	Alerts            alert.Sink
	Audit             Emitter
	Deduper           Deduper
	AlertDedupeWindow time.Duration
	Clock             func() time.Time
	Logger            *slog.Logger
}

// Report is the outcome of one anomaly check.
type Report struct {
	SessionID                 string
	UserID                    string
	ConcurrentSessions        bool
	SuspiciousLocationChanges bool
	Details                   map[string]string
	// Alerted is false when the flags were suppressed by the dedupe window.
	Alerted bool
}

// Flags lists the raised anomaly kinds.
func (r Report) Flags() []string {
	var out []string
	if r.ConcurrentSessions {
		out = append(out, alert.KindConcurrentSessions)
	}
	if r.SuspiciousLocationChanges {
		out = append(out, alert.KindSuspiciousLocationChanges)
	}
	return out
}

func (r Report) Flagged() bool {
	return r.ConcurrentSessions || r.SuspiciousLocationChanges
}

// Monitor detects anomalies. It reads sessions but never changes them.
type Monitor struct {
	activity ActivityRepository
	location LocationPolicy
	alerts   alert.Sink
	audit    Emitter
	dedupe   Deduper
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg Config) (*Monitor, error) {
	if cfg.Activity == nil {
		return nil, errors.New("monitor: activity repository is required")
	}
	m := &Monitor{
		activity: cfg.Activity,
		location: cfg.Location,
		alerts:   cfg.Alerts,
		audit:    cfg.Audit,
		dedupe:   cfg.Deduper,
		window:   cfg.AlertDedupeWindow,
		now:      cfg.Clock,
		logger:   cfg.Logger,
	}
	if m.location == nil {
		m.location = NoopLocationPolicy{}
	}
	if m.window <= 0 {
		m.window = DefaultAlertDedupeWindow
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.dedupe == nil {
		m.dedupe = newMemoryDeduper(m.now)
	}
	return m, nil
}

// RecordActivity stores one observation for sess.
func (m *Monitor) RecordActivity(ctx context.Context, sess *session.Session, ip, userAgent string) error {
	if sess == nil {
		return nil
	}
	return m.activity.Record(ctx, sess.UserID, Observation{
		SessionID: sess.ID,
		IP:        ip,
		UserAgent: userAgent,
		At:        m.now(),
	})
}

// DetectAnomalies checks the user's activity within the lifetime of sess.
//
// A concurrent_sessions flag is raised when any observation between
// CreatedAt and min(now, ExpiresAt) carries an IP other than the one bound
// to sess. The location policy sees the same window. A location policy
// failure is logged and does not hide other flags.
func (m *Monitor) DetectAnomalies(ctx context.Context, sess *session.Session) (Report, error) {
	if sess == nil {
		return Report{}, errors.New("monitor: nil session")
	}
	report := Report{SessionID: sess.ID, UserID: sess.UserID}

	obs, err := m.activity.RecentActivity(ctx, sess.UserID, sess.CreatedAt)
	if err != nil {
		return report, err
	}

	end := m.now()
	if sess.ExpiresAt.Before(end) {
		end = sess.ExpiresAt
	}
	var window []Observation
	for _, o := range obs {
		if o.At.Before(sess.CreatedAt) || o.At.After(end) {
			continue
		}
		window = append(window, o)
	}

	var others []string
	for _, o := range window {
		if o.IP != "" && o.IP != sess.Metadata.IP && !slices.Contains(others, o.IP) {
			others = append(others, o.IP)
		}
	}
	if len(others) > 0 {
		report.ConcurrentSessions = true
		report.detail("other_ips", strings.Join(others, ","))
	}

	analysis, err := m.location.AnalyzeLocationChanges(ctx, window)
	if err != nil {
		m.logger.Warn("monitor: location policy failed", "session_id", sess.ID, "error", err)
	} else if analysis.Suspicious {
		report.SuspiciousLocationChanges = true
		if analysis.Details != "" {
			report.detail("location", analysis.Details)
		}
	}

	if report.Flagged() {
		report.Alerted = m.raise(ctx, sess, report)
	}
	return report, nil
}

func (r *Report) detail(k, v string) {
	if r.Details == nil {
		r.Details = make(map[string]string, 2)
	}
	r.Details[k] = v
}

// raise delivers the alert and audit event unless the same flags were
// already raised for this session within the dedupe window. A dedupe
// failure does not suppress the alert.
func (m *Monitor) raise(ctx context.Context, sess *session.Session, r Report) bool {
	kinds := r.Flags()
	key := fmt.Sprintf("alert:%s:%s", sess.ID, strings.Join(kinds, "+"))
	first, err := m.dedupe.FirstInWindow(ctx, key, m.window)
	if err != nil {
		m.logger.Warn("monitor: alert dedupe unavailable", "session_id", sess.ID, "error", err)
		first = true
	}
	if !first {
		return false
	}

	a := alert.Alert{
		ID:         uuid.NewString(),
		UserID:     sess.UserID,
		SessionID:  sess.ID,
		Kinds:      kinds,
		DetectedAt: m.now(),
		Details:    r.Details,
	}
	if m.alerts != nil {
		if err := m.alerts.HandleSecurityAlert(ctx, a); err != nil {
			m.logger.Error("monitor: alert delivery failed", "alert_id", a.ID, "session_id", sess.ID, "error", err)
		}
	}
	if m.audit != nil {
		detail := map[string]string{"alert_id": a.ID, "kinds": strings.Join(kinds, ",")}
		for k, v := range r.Details {
			detail[k] = v
		}
		m.audit.Emit(ctx, audit.Event{
			Type:      audit.TypeSecurityAlert,
			UserID:    sess.UserID,
			SessionID: sess.ID,
			IP:        sess.Metadata.IP,
			Allowed:   true,
			Detail:    detail,
		})
	}
	return true
}

// Sampler rate-limits opportunistic anomaly checks with a token bucket.
type Sampler struct {
	limiter *xrate.Limiter
}

// NewSampler admits perSecond checks on average with the given burst. A
// non-positive rate admits nothing.
func NewSampler(perSecond float64, burst int) *Sampler {
	if perSecond <= 0 {
		return &Sampler{limiter: xrate.NewLimiter(0, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Sampler{limiter: xrate.NewLimiter(xrate.Limit(perSecond), burst)}
}

func (s *Sampler) Allow() bool {
	return s != nil && s.limiter.Allow()
}
