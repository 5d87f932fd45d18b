package goSession

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/token"
)

// Config is the complete engine configuration. Build it from
// [DefaultConfig], adjust, and hand it to [Builder.WithConfig]. The engine
// keeps its own copy; later changes to the caller's value have no effect.
type Config struct {
	Session        SessionConfig
	Token          TokenConfig
	Roles          RolesConfig
	DeviceBinding  DeviceBindingConfig
	Monitor        MonitorConfig
	Sweeper        SweeperConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	Repository     RepositoryConfig
	Cookie         CookieConfig
	Login          LoginConfig
	ProductionMode bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and the in-process cache.
type SessionConfig struct {
	// TTL is the lifetime of a new session.
	TTL time.Duration

	// CacheRevalidateAfter is how long a cached entry is trusted before the
	// next validation reads the repository again.
	CacheRevalidateAfter time.Duration

	// TombstoneTTL is the minimum time a destroyed id stays refused. Zero
	// means TTL; anything shorter than TTL is rejected.
	TombstoneTTL time.Duration

	RedisPrefix string

	// RedisExpiryGrace keeps expired blobs around so the sweeper can audit
	// them before Redis evicts the key.
	RedisExpiryGrace time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls the signed token handed to clients.
type TokenConfig struct {
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
ROLES CONFIG
====================================
*/

// RolesConfig controls the role snapshot cache.
type RolesConfig struct {
	RefreshInterval time.Duration
	LoadTimeout     time.Duration

	// WarmOnBuild loads roles during Build and fails the build on error.
	WarmOnBuild bool
}

/*
====================================
DEVICE BINDING CONFIG
====================================
*/

// DeviceBindingConfig selects which client attributes a session is bound
// to. A mismatch on any enabled dimension destroys the session.
type DeviceBindingConfig struct {
	Enabled          bool
	EnforceIP        bool
	EnforceUserAgent bool
	EnforceDevice    bool

	// DeviceSignalHeaders are the request headers, in order, hashed into
	// the device id by the HTTP middleware.
	DeviceSignalHeaders []string
}

/*
====================================
MONITOR CONFIG
====================================
*/

// MonitorConfig controls activity recording and anomaly detection.
type MonitorConfig struct {
	Enabled bool

	// SampleRate is the average number of anomaly checks per second
	// across the process; Burst bounds short spikes.
	SampleRate float64
	Burst      int

	ActivityRetention time.Duration
	AlertDedupeWindow time.Duration
}

/*
====================================
SWEEPER CONFIG
====================================
*/

// SweeperConfig controls the background expiry sweep.
type SweeperConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
REPOSITORY CONFIG
====================================
*/

// RepositoryConfig bounds every durable-store call.
type RepositoryConfig struct {
	Timeout time.Duration
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig describes the session cookie written by the middleware.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig controls failed-login throttling for [Engine.Login]. It is
// only active when the engine has a Redis client.
type LoginConfig struct {
	EnableThrottle   bool
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
}

// DefaultConfig returns the recommended starting configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:                  24 * time.Hour,
			CacheRevalidateAfter: 30 * time.Second,
			RedisPrefix:          "gs",
			RedisExpiryGrace:     time.Hour,
		},
		Token: TokenConfig{
			SigningMethod: string(token.MethodEd25519),
			Issuer:        "goSession",
			Leeway:        30 * time.Second,
			MaxFutureIAT:  10 * time.Minute,
		},
		Roles: RolesConfig{
			RefreshInterval: 5 * time.Minute,
			LoadTimeout:     2 * time.Second,
		},
		DeviceBinding: DeviceBindingConfig{
			Enabled:          true,
			EnforceIP:        true,
			EnforceUserAgent: true,
			EnforceDevice:    true,
		},
		Monitor: MonitorConfig{
			Enabled:           true,
			SampleRate:        10,
			Burst:             20,
			ActivityRetention: 24 * time.Hour,
			AlertDedupeWindow: time.Minute,
		},
		Sweeper: SweeperConfig{
			Enabled:   true,
			Interval:  time.Minute,
			BatchSize: 500,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Repository: RepositoryConfig{
			Timeout: 2 * time.Second,
		},
		Cookie: CookieConfig{
			Name:     "gs_session",
			Path:     "/",
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
		},
		Login: LoginConfig{
			EnableThrottle: true,
			MaxAttempts:    5,
			Cooldown:       15 * time.Minute,
		},
	}
}

// HighSecurityConfig returns a configuration with short sessions, strict
// binding, and lossless auditing.
func HighSecurityConfig() Config {
	cfg := defaultConfig()
	cfg.ProductionMode = true
	cfg.Session.TTL = 8 * time.Hour
	cfg.Session.CacheRevalidateAfter = 10 * time.Second
	cfg.Token.Leeway = 10 * time.Second
	cfg.Audit.DropIfFull = false
	cfg.Login.EnableIPThrottle = true
	cfg.Login.MaxAttempts = 3
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.DeviceBinding.DeviceSignalHeaders != nil {
		out.DeviceBinding.DeviceSignalHeaders = append([]string(nil), cfg.DeviceBinding.DeviceSignalHeaders...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first configuration error. Build calls it.
func (c *Config) Validate() error {
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.CacheRevalidateAfter <= 0 {
		return errors.New("Session CacheRevalidateAfter must be > 0")
	}
	if c.Session.CacheRevalidateAfter >= c.Session.TTL {
		return errors.New("Session CacheRevalidateAfter must be shorter than TTL")
	}
	if c.Session.TombstoneTTL < 0 {
		return errors.New("Session TombstoneTTL must be >= 0")
	}
	if c.Session.TombstoneTTL > 0 && c.Session.TombstoneTTL < c.Session.TTL {
		return errors.New("Session TombstoneTTL must be >= TTL")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if strings.ContainsAny(c.Session.RedisPrefix, " :") {
		return errors.New("Session RedisPrefix must not contain spaces or ':'")
	}

	switch token.SigningMethod(c.Token.SigningMethod) {
	case token.MethodEd25519, token.MethodHS256:
	default:
		return errors.New("Token SigningMethod must be ed25519 or hs256")
	}
	if len(c.Token.PrivateKey) == 0 {
		return errors.New("Token PrivateKey is required")
	}
	if c.Token.SigningMethod == string(token.MethodEd25519) && len(c.Token.PublicKey) == 0 {
		return errors.New("Token PublicKey is required for ed25519")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}
	if c.Token.MaxFutureIAT < 0 {
		return errors.New("Token MaxFutureIAT must be >= 0")
	}
	if c.Token.Audience != "" && strings.TrimSpace(c.Token.Audience) == "" {
		return errors.New("Token Audience must not be blank")
	}

	if c.Roles.RefreshInterval <= 0 {
		return errors.New("Roles RefreshInterval must be > 0")
	}
	if c.Roles.LoadTimeout <= 0 {
		return errors.New("Roles LoadTimeout must be > 0")
	}

	if c.Monitor.Enabled {
		if c.Monitor.SampleRate < 0 {
			return errors.New("Monitor SampleRate must be >= 0")
		}
		if c.Monitor.Burst <= 0 {
			return errors.New("Monitor Burst must be > 0")
		}
		if c.Monitor.ActivityRetention <= 0 {
			return errors.New("Monitor ActivityRetention must be > 0")
		}
		if c.Monitor.AlertDedupeWindow <= 0 {
			return errors.New("Monitor AlertDedupeWindow must be > 0")
		}
	}

	if c.Sweeper.Enabled {
		if c.Sweeper.Interval <= 0 {
			return errors.New("Sweeper Interval must be > 0")
		}
		if c.Sweeper.BatchSize <= 0 {
			return errors.New("Sweeper BatchSize must be > 0")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	if c.Repository.Timeout <= 0 {
		return errors.New("Repository Timeout must be > 0")
	}

	if strings.TrimSpace(c.Cookie.Name) == "" {
		return errors.New("Cookie Name must not be empty")
	}
	if c.Cookie.SameSite == http.SameSiteNoneMode && !c.Cookie.Secure {
		return errors.New("Cookie SameSite=None requires Secure")
	}

	if c.Login.EnableThrottle {
		if c.Login.MaxAttempts <= 0 {
			return errors.New("Login MaxAttempts must be > 0")
		}
		if c.Login.Cooldown <= 0 {
			return errors.New("Login Cooldown must be > 0")
		}
	}

	if c.ProductionMode {
		if !c.Cookie.Secure {
			return errors.New("ProductionMode requires Cookie Secure")
		}
		if !c.DeviceBinding.Enabled {
			return errors.New("ProductionMode requires DeviceBinding Enabled")
		}
		if c.Session.TTL > 7*24*time.Hour {
			return errors.New("ProductionMode requires Session TTL <= 7d")
		}
		if c.Token.SigningMethod == string(token.MethodHS256) && len(c.Token.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
	}

	return nil
}
