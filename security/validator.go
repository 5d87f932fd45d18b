package security

import (
	"crypto/subtle"
	"strings"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/session"
)

// Dimension names one bound client attribute.
type Dimension string

const (
	DimensionIP        Dimension = "ip"
	DimensionUserAgent Dimension = "user_agent"
	DimensionDevice    Dimension = "device"
)

// RequestContext is what the transport layer knows about the caller.
type RequestContext struct {
	IP        string
	UserAgent string

	// DeviceSignals are client hints (platform, language, an app-provided
	// device id) hashed into the device id. Order matters.
	DeviceSignals []string
}

// DeviceID returns the fingerprint of the request's device signals.
func (rc RequestContext) DeviceID() string {
	return internal.Fingerprint(rc.DeviceSignals...)
}

// Config selects the enforced dimensions. The zero value enforces none;
// use [DefaultConfig] for the fail-closed default.
type Config struct {
	EnforceIP        bool
	EnforceUserAgent bool
	EnforceDevice    bool
}

// DefaultConfig enforces every dimension.
func DefaultConfig() Config {
	return Config{EnforceIP: true, EnforceUserAgent: true, EnforceDevice: true}
}

// Result is the outcome of [Validator.Check].
type Result struct {
	Mismatched []Dimension
}

// OK reports whether every enforced dimension matched.
func (r Result) OK() bool {
	return len(r.Mismatched) == 0
}

// String lists the mismatched dimensions, comma-separated.
func (r Result) String() string {
	if r.OK() {
		return "ok"
	}
	parts := make([]string, len(r.Mismatched))
	for i, d := range r.Mismatched {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

// Validator binds and checks client attributes. It holds no mutable state.
type Validator struct {
	cfg Config
}

// NewValidator creates a [Validator].
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Bind returns the metadata to store on a new session for rc.
func (v *Validator) Bind(rc RequestContext) session.Metadata {
	return session.Metadata{
		IP:        strings.TrimSpace(rc.IP),
		UserAgent: rc.UserAgent,
		DeviceID:  rc.DeviceID(),
	}
}

// Check compares rc against the attributes bound to sess. A nil session
// fails every enforced dimension.
func (v *Validator) Check(sess *session.Session, rc RequestContext) Result {
	var bound session.Metadata
	if sess != nil {
		bound = sess.Metadata
	}

	var res Result
	if v.cfg.EnforceIP && (sess == nil || !equalBinding(bound.IP, strings.TrimSpace(rc.IP))) {
		res.Mismatched = append(res.Mismatched, DimensionIP)
	}
	if v.cfg.EnforceUserAgent && (sess == nil || !equalBinding(bound.UserAgent, rc.UserAgent)) {
		res.Mismatched = append(res.Mismatched, DimensionUserAgent)
	}
	if v.cfg.EnforceDevice && (sess == nil || !equalBinding(bound.DeviceID, rc.DeviceID())) {
		res.Mismatched = append(res.Mismatched, DimensionDevice)
	}
	return res
}

func equalBinding(stored, current string) bool {
	a := internal.HashBindingValue(stored)
	b := internal.HashBindingValue(current)
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
