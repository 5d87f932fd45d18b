package alert

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Kinds of anomaly the monitor reports.
const (
	KindConcurrentSessions        = "concurrent_sessions"
	KindSuspiciousLocationChanges = "suspicious_location_changes"
)

// Alert describes anomalous activity on one session.
type Alert struct {
	ID         string
	UserID     string
	SessionID  string
	Kinds      []string
	DetectedAt time.Time
	Details    map[string]string
}

// Summary renders the alert as a single line.
func (a Alert) Summary() string {
	var b strings.Builder
	b.WriteString("security alert: ")
	b.WriteString(strings.Join(a.Kinds, ", "))
	b.WriteString(" on session ")
	b.WriteString(a.SessionID)
	b.WriteString(" for user ")
	b.WriteString(a.UserID)
	return b.String()
}

// Sink receives security alerts.
type Sink interface {
	HandleSecurityAlert(ctx context.Context, a Alert) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, a Alert) error

func (f SinkFunc) HandleSecurityAlert(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// LogSink logs alerts at warn level.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) HandleSecurityAlert(ctx context.Context, a Alert) error {
	attrs := []slog.Attr{
		slog.String("alert_id", a.ID),
		slog.String("user_id", a.UserID),
		slog.String("session_id", a.SessionID),
		slog.String("kinds", strings.Join(a.Kinds, ",")),
		slog.Time("detected_at", a.DetectedAt),
	}
	for k, v := range a.Details {
		attrs = append(attrs, slog.String("detail."+k, v))
	}
	s.logger.LogAttrs(ctx, slog.LevelWarn, "security alert", attrs...)
	return nil
}

// ChannelSink forwards alerts into a buffered channel and drops them when
// the buffer is full.
type ChannelSink struct {
	ch chan Alert
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{ch: make(chan Alert, buffer)}
}

func (s *ChannelSink) HandleSecurityAlert(ctx context.Context, a Alert) error {
	select {
	case s.ch <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrDropped
	}
}

func (s *ChannelSink) Alerts() <-chan Alert {
	return s.ch
}

// ErrDropped is returned by [ChannelSink] when its buffer is full.
var ErrDropped = errors.New("alert: dropped")

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) HandleSecurityAlert(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.HandleSecurityAlert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
