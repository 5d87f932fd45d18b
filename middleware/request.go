package middleware

import (
	"net"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
)

// Option configures [RequireSession].
type Option func(*options)

type options struct {
	trustForwardedFor bool
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithTrustedProxy takes the client IP from the first X-Forwarded-For
// entry. Only use it behind a proxy that overwrites the header.
func WithTrustedProxy() Option {
	return func(o *options) { o.trustForwardedFor = true }
}

// RequestContext extracts the client attributes a session is bound to.
// deviceHeaders are read in order; absent headers contribute an empty
// signal so positions stay stable.
func RequestContext(r *http.Request, deviceHeaders []string, opts ...Option) goSession.RequestContext {
	return newOptions(opts).requestContext(r, deviceHeaders)
}

func (o options) requestContext(r *http.Request, deviceHeaders []string) goSession.RequestContext {
	rc := goSession.RequestContext{
		IP:        o.clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if len(deviceHeaders) > 0 {
		rc.DeviceSignals = make([]string, len(deviceHeaders))
		for i, h := range deviceHeaders {
			rc.DeviceSignals[i] = r.Header.Get(h)
		}
	}
	return rc
}

func (o options) clientIP(r *http.Request) string {
	if o.trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
