package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/access"
	"github.com/MrEthical07/goSession/alert"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/monitor"
	"github.com/MrEthical07/goSession/role"
	"github.com/MrEthical07/goSession/security"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/sweeper"
	"github.com/MrEthical07/goSession/token"
)

// Builder assembles an [Engine]. A Builder is single-use: the second call
// to Build fails.
//
// Repositories are chosen in this order: an explicit With*Repository
// option, then Redis, then Postgres. Without any of them sessions and
// activity live in process memory, which ProductionMode rejects.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	postgres *pgxpool.Pool

	sessionRepo  session.Repository
	roleRepo     role.Repository
	activityRepo monitor.ActivityRepository

	authenticator Authenticator
	auditSink     AuditSink
	alertSink     alert.Sink
	location      monitor.LocationPolicy

	logger *slog.Logger
	clock  func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs sessions, roles, activity, login throttling and alert
// de-duplication with client, unless a more specific option overrides one.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres backs sessions and roles with pool when no Redis client or
// explicit repository is set. The caller owns the schema (see
// session.PostgresRepository.EnsureSchema).
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.postgres = pool
	return b
}

func (b *Builder) WithSessionRepository(repo session.Repository) *Builder {
	b.sessionRepo = repo
	return b
}

func (b *Builder) WithRoleRepository(repo role.Repository) *Builder {
	b.roleRepo = repo
	return b
}

func (b *Builder) WithActivityRepository(repo monitor.ActivityRepository) *Builder {
	b.activityRepo = repo
	return b
}

// WithRoles serves a fixed role set.
func (b *Builder) WithRoles(roles ...role.Role) *Builder {
	b.roleRepo = role.StaticRepository(roles)
	return b
}

// WithAuthenticator enables [Engine.Login].
func (b *Builder) WithAuthenticator(a Authenticator) *Builder {
	b.authenticator = a
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAlertSink receives security alerts from the monitor. The default
// logs them at warn level.
func (b *Builder) WithAlertSink(sink alert.Sink) *Builder {
	b.alertSink = sink
	return b
}

func (b *Builder) WithLocationPolicy(policy monitor.LocationPolicy) *Builder {
	b.location = policy
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now everywhere in the engine. Tests use it.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration and wires the engine. When
// Roles.WarmOnBuild is set it loads the role snapshot and fails on error.
// Background work (sweeper) starts here and stops in [Engine.Close].
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("goSession: builder already used")
	}
	b.built = true

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("goSession: invalid config: %w", err)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}

	sessionRepo, err := b.resolveSessionRepository(cfg, now)
	if err != nil {
		return nil, err
	}
	roleRepo := b.resolveRoleRepository(cfg)
	if roleRepo == nil {
		return nil, errors.New("goSession: role repository is required (WithRoleRepository, WithRoles, WithRedis or WithPostgres)")
	}

	tokens, err := token.NewManager(token.Config{
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		MaxFutureIAT:  cfg.Token.MaxFutureIAT,
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cfg.Token.VerifyKeys,
		Clock:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("goSession: token manager: %w", err)
	}

	e := &Engine{
		config:        cfg,
		logger:        logger,
		now:           now,
		tokens:        tokens,
		authenticator: b.authenticator,
		metrics:       NewMetrics(cfg.Metrics),
		validator: security.NewValidator(security.Config{
			EnforceIP:        cfg.DeviceBinding.EnforceIP,
			EnforceUserAgent: cfg.DeviceBinding.EnforceUserAgent,
			EnforceDevice:    cfg.DeviceBinding.EnforceDevice,
		}),
	}

	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	emitter := auditEmitter{d: e.audit}

	e.store = session.NewStore(sessionRepo, session.StoreConfig{
		TTL:                  cfg.Session.TTL,
		RepositoryTimeout:    cfg.Repository.Timeout,
		CacheRevalidateAfter: cfg.Session.CacheRevalidateAfter,
		TombstoneTTL:         cfg.Session.TombstoneTTL,
		Clock:                now,
		Tokens:               tokens,
		Logger:               logger,
	})

	e.roles = role.NewCache(roleRepo, role.Config{
		RefreshInterval: cfg.Roles.RefreshInterval,
		LoadTimeout:     cfg.Roles.LoadTimeout,
		Clock:           now,
		Logger:          logger,
	})
	if cfg.Roles.WarmOnBuild {
		if err := e.roles.Warm(context.Background()); err != nil {
			e.audit.Close()
			return nil, fmt.Errorf("goSession: warm roles: %w", err)
		}
	}

	e.guard = access.NewGuard(emitter, e.observeDecision)

	if b.redis != nil {
		e.limiter = rate.New(b.redis, rate.Config{
			Prefix:                cfg.Session.RedisPrefix,
			EnableIPThrottle:      cfg.Login.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Login.MaxAttempts,
			LoginCooldownDuration: cfg.Login.Cooldown,
		})
	}

	if cfg.Monitor.Enabled {
		mcfg := monitor.Config{
			Activity:          b.resolveActivityRepository(cfg),
			Location:          b.location,
			Alerts:            b.alertSink,
			Audit:             emitter,
			AlertDedupeWindow: cfg.Monitor.AlertDedupeWindow,
			Clock:             now,
			Logger:            logger,
		}
		if mcfg.Alerts == nil {
			mcfg.Alerts = alert.NewLogSink(logger)
		}
		if e.limiter != nil {
			mcfg.Deduper = e.limiter
		}
		e.monitor, err = monitor.New(mcfg)
		if err != nil {
			e.audit.Close()
			return nil, fmt.Errorf("goSession: monitor: %w", err)
		}
		e.sampler = monitor.NewSampler(cfg.Monitor.SampleRate, cfg.Monitor.Burst)
	}

	e.sweeper = sweeper.New(e.store, sweeper.Config{
		Interval:  cfg.Sweeper.Interval,
		BatchSize: cfg.Sweeper.BatchSize,
		Timeout:   cfg.Repository.Timeout,
		Clock:     now,
		Logger:    logger,
		Audit:     emitter,
		OnSweep:   e.observeSweep,
	})

	e.start()
	return e, nil
}

func (b *Builder) resolveSessionRepository(cfg Config, now func() time.Time) (session.Repository, error) {
	switch {
	case b.sessionRepo != nil:
		return b.sessionRepo, nil
	case b.redis != nil:
		return session.NewRedisRepository(b.redis, session.RedisConfig{
			Prefix:      cfg.Session.RedisPrefix,
			ExpiryGrace: cfg.Session.RedisExpiryGrace,
			Clock:       now,
		}), nil
	case b.postgres != nil:
		return session.NewPostgresRepository(b.postgres), nil
	case cfg.ProductionMode:
		return nil, errors.New("goSession: ProductionMode requires a durable session repository")
	default:
		return session.NewMemoryRepository(), nil
	}
}

func (b *Builder) resolveRoleRepository(cfg Config) role.Repository {
	switch {
	case b.roleRepo != nil:
		return b.roleRepo
	case b.redis != nil:
		return role.NewRedisRepository(b.redis, cfg.Session.RedisPrefix)
	case b.postgres != nil:
		return role.NewPostgresRepository(b.postgres)
	default:
		return nil
	}
}

func (b *Builder) resolveActivityRepository(cfg Config) monitor.ActivityRepository {
	switch {
	case b.activityRepo != nil:
		return b.activityRepo
	case b.redis != nil:
		return monitor.NewRedisActivityRepository(b.redis, cfg.Session.RedisPrefix, cfg.Monitor.ActivityRetention)
	default:
		return monitor.NewMemoryActivityRepository(cfg.Monitor.ActivityRetention)
	}
}
