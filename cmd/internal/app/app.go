// Package app wires the sessiond runtime: config, logging, storage
// backends, the session engine and its HTTP surface.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/alert"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/MrEthical07/goSession/permission"
	"github.com/MrEthical07/goSession/role"
	"github.com/MrEthical07/goSession/session"
)

// App owns the engine and every backend connection it was built on.
type App struct {
	cfg Config
	log *slog.Logger

	engine  *goSession.Engine
	metrics *promexport.PrometheusExporter
	opts    []middleware.Option

	redis   redis.UniversalClient
	db      *pgxpool.Pool
	closers []func() error
}

// New connects the configured backends and builds the engine. On error
// everything opened so far is closed.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	a := &App{cfg: cfg, log: log}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	if cfg.Session.TrustProxy {
		a.opts = append(a.opts, middleware.WithTrustedProxy())
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis.Close)
		if err := pingRedis(ctx, a.redis, 3*time.Second); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		log.Info("redis.enabled", "addr", cfg.Redis.Addr)
	}

	if cfg.Database.URL != "" {
		pool, err := NewDBPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.db = pool
		a.closers = append(a.closers, func() error { a.db.Close(); return nil })
		log.Info("db.enabled")
	}

	engineCfg, err := a.engineConfig()
	if err != nil {
		return err
	}
	for _, w := range engineCfg.Lint() {
		log.Warn("config.lint", "code", w.Code, "severity", w.Severity.String(), "message", w.Message)
	}

	b := goSession.New().
		WithConfig(engineCfg).
		WithLogger(log).
		WithAuthenticator(NewUserDirectory(cfg.Users))

	if err := a.wireStorage(ctx, b, engineCfg.Session.RedisPrefix); err != nil {
		return err
	}
	if err := a.wireAudit(b); err != nil {
		return err
	}
	if err := a.wireAlerts(b); err != nil {
		return err
	}

	a.engine, err = b.Build()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { a.engine.Close(); return nil })
	a.metrics = promexport.NewPrometheusExporter(a.engine)
	return nil
}

func (a *App) engineConfig() (goSession.Config, error) {
	cfg := goSession.DefaultConfig()
	if a.cfg.Session.ProductionMode {
		cfg = goSession.HighSecurityConfig()
	}

	secret := []byte(a.cfg.Session.TokenSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return goSession.Config{}, fmt.Errorf("generate token secret: %w", err)
		}
		a.log.Warn("token.secret.generated", "note", "sessions will not survive a restart")
	}

	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = secret
	cfg.Token.PublicKey = nil
	cfg.Session.TTL = a.cfg.Session.TTL.Duration
	cfg.Cookie.Secure = a.cfg.Session.CookieSecure
	cfg.DeviceBinding.DeviceSignalHeaders = append([]string(nil), a.cfg.Session.DeviceHeaders...)
	if len(cfg.DeviceBinding.DeviceSignalHeaders) == 0 {
		cfg.DeviceBinding.EnforceDevice = false
	}
	return cfg, nil
}

// wireStorage picks Redis, then Postgres, then process memory, and seeds
// the configured roles into the durable backend.
func (a *App) wireStorage(ctx context.Context, b *goSession.Builder, redisPrefix string) error {
	roles := a.roles()

	switch {
	case a.redis != nil:
		repo := role.NewRedisRepository(a.redis, redisPrefix)
		for _, r := range roles {
			if err := repo.Save(ctx, r); err != nil {
				return fmt.Errorf("seed role %q: %w", r.ID, err)
			}
		}
		b.WithRedis(a.redis)

	case a.db != nil:
		if err := session.NewPostgresRepository(a.db).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("session schema: %w", err)
		}
		repo := role.NewPostgresRepository(a.db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("role schema: %w", err)
		}
		for _, r := range roles {
			if err := repo.Save(ctx, r); err != nil {
				return fmt.Errorf("seed role %q: %w", r.ID, err)
			}
		}
		b.WithPostgres(a.db)

	default:
		a.log.Warn("storage.inmemory", "note", "sessions are lost on restart")
		b.WithRoles(roles...)
	}
	return nil
}

func (a *App) roles() []role.Role {
	out := make([]role.Role, 0, len(a.cfg.Roles))
	for _, r := range a.cfg.Roles {
		out = append(out, role.Role{
			ID:          r.ID,
			Name:        r.Name,
			Permissions: permission.NewSet(r.Permissions...),
		})
	}
	return out
}

func (a *App) wireAudit(b *goSession.Builder) error {
	sinks := []goSession.AuditSink{goSession.NewSlogAuditSink(a.log)}

	if a.cfg.Audit.SQLitePath != "" {
		sqlite, err := goSession.OpenSQLiteAuditSink(a.cfg.Audit.SQLitePath, func(err error) {
			a.log.Error("audit.sqlite.write.fail", "err", err)
		})
		if err != nil {
			return fmt.Errorf("audit sqlite: %w", err)
		}
		// Registered before the engine so it closes after the dispatcher
		// drains.
		a.closers = append(a.closers, sqlite.Close)
		sinks = append(sinks, sqlite)
	}

	b.WithAuditSink(goSession.MultiAuditSink(sinks...))
	return nil
}

func (a *App) wireAlerts(b *goSession.Builder) error {
	sinks := alert.MultiSink{alert.NewLogSink(a.log)}

	if a.cfg.Alerts.SendGridAPIKey != "" {
		sg, err := alert.NewSendGridSink(alert.SendGridConfig{
			APIKey:   a.cfg.Alerts.SendGridAPIKey,
			From:     a.cfg.Alerts.From,
			FromName: a.cfg.Alerts.FromName,
			To:       a.cfg.Alerts.To,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, sg)
	}

	b.WithAlertSink(sinks)
	return nil
}

// Engine exposes the built engine.
func (a *App) Engine() *goSession.Engine {
	return a.engine
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("app.close.fail", "err", err)
		}
	}
	a.closers = nil
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// down gracefully and closes the app.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout.Duration, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout.Duration, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout.Duration, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout.Duration, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "redis", a.redis != nil, "db", a.db != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func pingRedis(parent context.Context, client redis.UniversalClient, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
