package goSession

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/goSession/internal/audit"
)

// AuditEvent is an append-only audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher. Sinks are
// called from a single goroutine.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditSessionCreated      = audit.TypeSessionCreated
	AuditSessionDestroyed    = audit.TypeSessionDestroyed
	AuditSessionExpired      = audit.TypeSessionExpired
	AuditLogout              = audit.TypeLogout
	AuditAccess              = audit.TypeAccess
	AuditSecurityCheckFailed = audit.TypeSecurityCheckFailed
	AuditSecurityAlert       = audit.TypeSecurityAlert
	AuditLogoutAll           = audit.TypeLogoutAll
	AuditLoginFailure        = audit.TypeLoginFailure
	AuditLoginRateLimited    = audit.TypeLoginRateLimited
)

// NewNoOpAuditSink discards events.
func NewNoOpAuditSink() AuditSink {
	return audit.NoOpSink{}
}

// NewChannelAuditSink buffers events on a channel, mostly for tests.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterAuditSink writes one JSON object per event to w.
func NewJSONWriterAuditSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogAuditSink logs events through logger.
func NewSlogAuditSink(logger *slog.Logger) AuditSink {
	return audit.NewSlogSink(logger)
}

// OpenSQLiteAuditSink opens an append-only SQLite audit log at path.
func OpenSQLiteAuditSink(path string, onError func(error)) (*audit.SQLiteSink, error) {
	return audit.OpenSQLiteSink(path, onError)
}

// MultiAuditSink fans events out to every sink in order.
func MultiAuditSink(sinks ...AuditSink) AuditSink {
	return audit.MultiSink(sinks)
}
