package goSession

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/token"
)

// LintSeverity ranks a [LintWarning].
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is a configuration that is valid but probably not intended.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings returned by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	codes := make([]string, len(r))
	for i, w := range r {
		codes[i] = w.Code
	}
	return codes
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError turns warnings at or above min into a single error, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, len(hits))
	for i, w := range hits {
		parts[i] = fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return fmt.Errorf("goSession: config lint: %s", strings.Join(parts, "; "))
}

// Lint reports settings that pass [Config.Validate] but weaken the
// session security posture. It never mutates c.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if !c.DeviceBinding.Enabled {
		add("device_binding_disabled", LintHigh, "sessions are not bound to IP, user agent or device")
	} else if !c.DeviceBinding.EnforceIP && !c.DeviceBinding.EnforceUserAgent && !c.DeviceBinding.EnforceDevice {
		add("device_binding_empty", LintHigh, "device binding is enabled but enforces no dimension")
	}
	if !c.Cookie.Secure {
		add("cookie_insecure", LintHigh, "session cookie is sent over plain HTTP")
	}
	if c.Session.TTL > 7*24*time.Hour {
		add("session_ttl_long", LintWarn, "sessions live longer than 7 days")
	}
	if c.Session.CacheRevalidateAfter > time.Minute {
		add("cache_revalidate_long", LintWarn, "remote destroys take over a minute to be observed")
	}
	if c.Token.Leeway > time.Minute {
		add("leeway_large", LintWarn, "token leeway above 60s")
	}
	if c.Token.SigningMethod == string(token.MethodHS256) {
		add("signing_hs256", LintInfo, "hs256 shares the signing secret with every verifier")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintWarn, "no audit trail is recorded")
	} else if c.Audit.DropIfFull {
		add("audit_drop_if_full", LintInfo, "audit events are dropped when the buffer is full")
	}
	if !c.Sweeper.Enabled {
		add("sweeper_disabled", LintWarn, "expired sessions are only removed when touched")
	}
	if !c.Monitor.Enabled {
		add("monitor_disabled", LintInfo, "anomaly detection is off")
	}
	if !c.Login.EnableThrottle {
		add("login_throttle_disabled", LintWarn, "failed logins are not throttled")
	} else if !c.Login.EnableIPThrottle {
		add("ip_throttle_disabled", LintInfo, "failed logins are only throttled per identifier")
	}

	return ws
}
