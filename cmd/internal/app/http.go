package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/middleware"
)

const maxLoginBody = 4 << 10

// Handler returns the full HTTP surface wrapped in request logging.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	requireSession := middleware.RequireSession(a.engine, a.opts...)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.Handle("GET /metrics", a.metrics.Handler())

	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("POST /logout", a.handleLogout)
	mux.Handle("POST /logout/all", requireSession(http.HandlerFunc(a.handleLogoutAll)))
	mux.Handle("GET /me", requireSession(http.HandlerFunc(a.handleMe)))
	mux.Handle("GET /docs", requireSession(
		middleware.RequirePermissions(a.engine, "docs:read")(http.HandlerFunc(a.handleDocs)),
	))
	mux.Handle("DELETE /admin/sessions/{id}", requireSession(
		middleware.RequireRoles(a.engine, "admin")(http.HandlerFunc(a.handleAdminDestroy)),
	))

	return WithRequestLogging(mux, a.log)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.redis != nil {
		if err := pingRedis(r.Context(), a.redis, 2*time.Second); err != nil {
			a.log.Info("readyz.redis.not_ready", "err", err)
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.db != nil {
		if err := PingDB(r.Context(), a.db, 2*time.Second); err != nil {
			a.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Token       string    `json:"token,omitempty"`
}

func newSessionResponse(sess *goSession.Session) sessionResponse {
	return sessionResponse{
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		Role:        sess.Role,
		Permissions: sess.Permissions.Names(),
		CreatedAt:   sess.CreatedAt,
		ExpiresAt:   sess.ExpiresAt,
	}
}

// handleLogin sets the session cookie and also returns the token for
// clients that use the Authorization header.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Identifier == "" || req.Password == "" {
		http.Error(w, "identifier and password are required", http.StatusBadRequest)
		return
	}

	rc := middleware.RequestContext(r, a.engine.DeviceSignalHeaders(), a.opts...)
	ctx := goSession.WithClientIP(r.Context(), rc.IP)
	ctx = goSession.WithUserAgent(ctx, rc.UserAgent)

	sess, err := a.engine.Login(ctx, goSession.Credentials{Identifier: req.Identifier, Secret: req.Password}, rc)
	switch {
	case err == nil:
	case errors.Is(err, goSession.ErrInvalidCredentials):
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	case errors.Is(err, goSession.ErrLoginRateLimited):
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	default:
		a.log.Error("login.fail", "err", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	middleware.SetSessionCookie(w, a.engine.CookieConfig(), sess)
	resp := newSessionResponse(sess)
	resp.Token = sess.Token
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout always clears the cookie. A token that fails to parse is
// treated as already logged out.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := middleware.TokenFromRequest(r, a.engine.CookieConfig().Name); ok {
		ctx := goSession.WithClientIP(r.Context(), middleware.RequestContext(r, nil, a.opts...).IP)
		if err := a.engine.Logout(ctx, token); err != nil && !errors.Is(err, goSession.ErrTokenInvalid) {
			a.log.Error("logout.fail", "err", err)
			http.Error(w, "logout failed", http.StatusInternalServerError)
			return
		}
	}
	middleware.ClearSessionCookie(w, a.engine.CookieConfig())
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	n, err := a.engine.LogoutAll(r.Context(), sess.UserID)
	if err != nil {
		a.log.Error("logout_all.fail", "err", err, "user_id", sess.UserID)
		http.Error(w, "logout failed", http.StatusInternalServerError)
		return
	}
	middleware.ClearSessionCookie(w, a.engine.CookieConfig())
	writeJSON(w, http.StatusOK, map[string]int{"destroyed": n})
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (a *App) handleDocs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"docs": {"getting-started", "session-lifecycle", "device-binding"},
	})
}

func (a *App) handleAdminDestroy(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DestroySession(r.Context(), r.PathValue("id")); err != nil {
		a.log.Error("admin.destroy.fail", "err", err)
		http.Error(w, "destroy failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
