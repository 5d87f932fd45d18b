package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/security"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type deviceSignalsContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is used for
// session binding, login throttling, and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the User-Agent header to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceSignals attaches the ordered device signals hashed into the
// session's device id.
func WithDeviceSignals(ctx context.Context, signals ...string) context.Context {
	return context.WithValue(ctx, deviceSignalsContextKey{}, append([]string(nil), signals...))
}

// RequestContextFromContext assembles the client attributes attached by
// [WithClientIP], [WithUserAgent] and [WithDeviceSignals].
func RequestContextFromContext(ctx context.Context) security.RequestContext {
	return security.RequestContext{
		IP:            clientIPFromContext(ctx),
		UserAgent:     userAgentFromContext(ctx),
		DeviceSignals: deviceSignalsFromContext(ctx),
	}
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func deviceSignalsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}

	signals, _ := ctx.Value(deviceSignalsContextKey{}).([]string)
	return signals
}
