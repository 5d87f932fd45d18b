package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
)

type sessionContextKey struct{}

// SessionFromContext returns the session stored by [RequireSession].
func SessionFromContext(ctx context.Context) (*goSession.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*goSession.Session)
	return sess, ok && sess != nil
}

// ContextWithSession stores sess the way [RequireSession] does. Handlers
// that validate sessions themselves, and tests, use it.
func ContextWithSession(ctx context.Context, sess *goSession.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// RequireSession rejects requests without a valid session with 401. A
// session that no longer exists, or that failed its client binding check,
// also gets its cookie cleared.
func RequireSession(engine *goSession.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := sessionToken(r, engine.CookieConfig().Name)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			rc := o.requestContext(r, engine.DeviceSignalHeaders())
			ctx := goSession.WithClientIP(r.Context(), rc.IP)
			ctx = goSession.WithUserAgent(ctx, rc.UserAgent)

			sess, err := engine.ValidateToken(ctx, token, rc)
			if err != nil {
				if errors.Is(err, goSession.ErrSessionNotFound) ||
					errors.Is(err, goSession.ErrSecurityCheckFailed) ||
					errors.Is(err, goSession.ErrTokenInvalid) {
					ClearSessionCookie(w, engine.CookieConfig())
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(ctx, sess)))
		})
	}
}

// TokenFromRequest returns the session token carried by r, preferring the
// session cookie over a bearer Authorization header.
func TokenFromRequest(r *http.Request, cookieName string) (string, bool) {
	return sessionToken(r, cookieName)
}

func sessionToken(r *http.Request, cookieName string) (string, bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
