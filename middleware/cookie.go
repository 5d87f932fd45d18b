package middleware

import (
	"net/http"
	"time"

	goSession "github.com/MrEthical07/goSession"
)

// SetSessionCookie writes the token of a newly created session. The cookie
// is HttpOnly and expires with the session.
func SetSessionCookie(w http.ResponseWriter, cfg goSession.CookieConfig, sess *goSession.Session) {
	if sess == nil || sess.Token == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    sess.Token,
		Path:     cookiePath(cfg),
		Domain:   cfg.Domain,
		Expires:  sess.ExpiresAt,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: cookieSameSite(cfg),
	})
}

// ClearSessionCookie expires the session cookie on the client.
func ClearSessionCookie(w http.ResponseWriter, cfg goSession.CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cookiePath(cfg),
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: cookieSameSite(cfg),
	})
}

func cookiePath(cfg goSession.CookieConfig) string {
	if cfg.Path == "" {
		return "/"
	}
	return cfg.Path
}

func cookieSameSite(cfg goSession.CookieConfig) http.SameSite {
	if cfg.SameSite == 0 {
		return http.SameSiteStrictMode
	}
	return cfg.SameSite
}
