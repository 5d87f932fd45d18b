package middleware

import (
	"errors"
	"net/http"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/permission"
)

// RequirePermissions admits sessions holding every named permission.
func RequirePermissions(engine *goSession.Engine, perms ...string) func(http.Handler) http.Handler {
	required := permission.NewSet(perms...)
	return authorize(engine, func(r *http.Request, sess *goSession.Session) error {
		return engine.Authorize(r.Context(), sess, required)
	})
}

// RequireRoles admits sessions whose role is one of roles.
func RequireRoles(engine *goSession.Engine, roles ...string) func(http.Handler) http.Handler {
	return authorize(engine, func(r *http.Request, sess *goSession.Session) error {
		return engine.AuthorizeRoles(r.Context(), sess, roles...)
	})
}

func authorize(engine *goSession.Engine, check func(*http.Request, *goSession.Session) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := SessionFromContext(r.Context())
			if engine == nil || sess == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if err := check(r, sess); err != nil {
				if errors.Is(err, goSession.ErrForbidden) {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
