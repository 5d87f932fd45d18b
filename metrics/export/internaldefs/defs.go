package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goSession.MetricSessionCreated, Name: "gosession_session_created_total", Help: "Created sessions."},
	{ID: goSession.MetricSessionCreateFailure, Name: "gosession_session_create_failure_total", Help: "Session creations that failed to persist."},
	{ID: goSession.MetricSessionValidated, Name: "gosession_session_validated_total", Help: "Successful session validations."},
	{ID: goSession.MetricSessionNotFound, Name: "gosession_session_not_found_total", Help: "Validations of unknown or destroyed sessions."},
	{ID: goSession.MetricSessionExpired, Name: "gosession_session_expired_total", Help: "Validations that found an expired session."},
	{ID: goSession.MetricSecurityCheckFailed, Name: "gosession_security_check_failed_total", Help: "Sessions destroyed by a binding mismatch."},
	{ID: goSession.MetricSessionDestroyed, Name: "gosession_session_destroyed_total", Help: "Destroyed sessions."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Single-session logout operations."},
	{ID: goSession.MetricLogoutAll, Name: "gosession_logout_all_total", Help: "Logout-all operations."},
	{ID: goSession.MetricAccessAllowed, Name: "gosession_access_allowed_total", Help: "Authorization decisions that allowed access."},
	{ID: goSession.MetricAccessDenied, Name: "gosession_access_denied_total", Help: "Authorization decisions that denied access."},
	{ID: goSession.MetricRoleNotFound, Name: "gosession_role_not_found_total", Help: "Role lookups for unknown roles."},
	{ID: goSession.MetricRepositoryError, Name: "gosession_repository_error_total", Help: "Repository failures surfaced to callers."},
	{ID: goSession.MetricTokenRejected, Name: "gosession_token_rejected_total", Help: "Session tokens rejected before lookup."},
	{ID: goSession.MetricAnomalyFlagged, Name: "gosession_anomaly_flagged_total", Help: "Monitor reports carrying at least one flag."},
	{ID: goSession.MetricAlertRaised, Name: "gosession_alert_raised_total", Help: "Security alerts delivered to the alert sink."},
	{ID: goSession.MetricSweepDestroyed, Name: "gosession_sweep_destroyed_total", Help: "Expired sessions removed by the sweeper."},
	{ID: goSession.MetricSweepFailure, Name: "gosession_sweep_failure_total", Help: "Sweeper items that failed."},
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Failed logins."},
	{ID: goSession.MetricLoginRateLimited, Name: "gosession_login_rate_limited_total", Help: "Rate-limited logins."},
}

var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricValidateLatency, Name: "gosession_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramUpperBounds are the bucket limits in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
