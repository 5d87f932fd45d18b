package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration is a time.Duration that decodes from strings such as "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the sessiond runtime configuration.
type Config struct {
	HTTPAddr string `toml:"http_addr"`
	LogLevel string `toml:"log_level"`

	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
	ReadTimeout       Duration `toml:"read_timeout"`
	WriteTimeout      Duration `toml:"write_timeout"`
	IdleTimeout       Duration `toml:"idle_timeout"`
	MaxHeaderBytes    int      `toml:"max_header_bytes"`

	Redis    RedisConfig    `toml:"redis"`
	Database DatabaseConfig `toml:"database"`
	Session  SessionConfig  `toml:"session"`
	Audit    AuditConfig    `toml:"audit"`
	Alerts   AlertsConfig   `toml:"alerts"`

	Roles []RoleEntry `toml:"roles"`
	Users []UserEntry `toml:"users"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// DatabaseConfig enables Postgres-backed sessions and roles when URL is set
// and Redis is not.
type DatabaseConfig struct {
	URL      string `toml:"url"`
	MaxConns int32  `toml:"max_conns"`
	MinConns int32  `toml:"min_conns"`
}

type SessionConfig struct {
	TTL            Duration `toml:"ttl"`
	TokenSecret    string   `toml:"token_secret"`
	CookieSecure   bool     `toml:"cookie_secure"`
	TrustProxy     bool     `toml:"trust_proxy"`
	DeviceHeaders  []string `toml:"device_headers"`
	ProductionMode bool     `toml:"production_mode"`
}

// AuditConfig writes audit events to SQLite when SQLitePath is set. Events
// always go to the log as well.
type AuditConfig struct {
	SQLitePath string `toml:"sqlite_path"`
}

// AlertsConfig mails security alerts through SendGrid when an API key is
// set. Alerts always go to the log as well.
type AlertsConfig struct {
	SendGridAPIKey string   `toml:"sendgrid_api_key"`
	From           string   `toml:"from"`
	FromName       string   `toml:"from_name"`
	To             []string `toml:"to"`
}

type RoleEntry struct {
	ID          string   `toml:"id"`
	Name        string   `toml:"name"`
	Permissions []string `toml:"permissions"`
}

// UserEntry is a login account. PasswordHash is a bcrypt hash.
type UserEntry struct {
	ID           string   `toml:"id"`
	Identifier   string   `toml:"identifier"`
	PasswordHash string   `toml:"password_hash"`
	Role         string   `toml:"role"`
	Permissions  []string `toml:"permissions"`
}

// DefaultConfig returns the configuration used when no file or env var
// overrides a field.
func DefaultConfig() Config {
	return Config{
		HTTPAddr: "0.0.0.0:8080",
		LogLevel: "info",

		ReadHeaderTimeout: Duration{5 * time.Second},
		ReadTimeout:       Duration{15 * time.Second},
		WriteTimeout:      Duration{15 * time.Second},
		IdleTimeout:       Duration{60 * time.Second},
		MaxHeaderBytes:    1 << 20,

		Database: DatabaseConfig{MaxConns: 10},
		Session: SessionConfig{
			TTL:          Duration{24 * time.Hour},
			CookieSecure: true,
		},
		Alerts: AlertsConfig{FromName: "goSession"},

		Roles: []RoleEntry{
			{ID: "admin", Name: "Administrator", Permissions: []string{"docs:read", "docs:write", "sessions:admin"}},
			{ID: "editor", Name: "Editor", Permissions: []string{"docs:read", "docs:write"}},
			{ID: "viewer", Name: "Viewer", Permissions: []string{"docs:read"}},
		},
	}
}

// LoadConfig layers, lowest first: defaults, the TOML file at path, the
// dotenv file at envFile, then process env vars. Empty path or envFile
// skips that layer; a missing envFile is ignored. Values already in the
// process environment win over the dotenv file.
func LoadConfig(path, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = EnvString("GOSESSION_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("GOSESSION_LOG_LEVEL", cfg.LogLevel)

	cfg.ReadHeaderTimeout.Duration = EnvDuration("GOSESSION_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout.Duration)
	cfg.ReadTimeout.Duration = EnvDuration("GOSESSION_HTTP_READ_TIMEOUT", cfg.ReadTimeout.Duration)
	cfg.WriteTimeout.Duration = EnvDuration("GOSESSION_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout.Duration)
	cfg.IdleTimeout.Duration = EnvDuration("GOSESSION_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout.Duration)
	cfg.MaxHeaderBytes = EnvInt("GOSESSION_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.Redis.Addr = EnvString("GOSESSION_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = EnvString("GOSESSION_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = EnvInt("GOSESSION_REDIS_DB", cfg.Redis.DB)

	cfg.Database.URL = EnvString("GOSESSION_DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConns = EnvInt32("GOSESSION_DB_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Database.MinConns = EnvInt32("GOSESSION_DB_MIN_CONNS", cfg.Database.MinConns)

	cfg.Session.TTL.Duration = EnvDuration("GOSESSION_SESSION_TTL", cfg.Session.TTL.Duration)
	cfg.Session.TokenSecret = EnvString("GOSESSION_TOKEN_SECRET", cfg.Session.TokenSecret)
	cfg.Session.CookieSecure = EnvBool("GOSESSION_COOKIE_SECURE", cfg.Session.CookieSecure)
	cfg.Session.TrustProxy = EnvBool("GOSESSION_TRUST_PROXY", cfg.Session.TrustProxy)
	cfg.Session.DeviceHeaders = EnvStrings("GOSESSION_DEVICE_HEADERS", cfg.Session.DeviceHeaders)
	cfg.Session.ProductionMode = EnvBool("GOSESSION_PRODUCTION", cfg.Session.ProductionMode)

	cfg.Audit.SQLitePath = EnvString("GOSESSION_AUDIT_SQLITE", cfg.Audit.SQLitePath)

	cfg.Alerts.SendGridAPIKey = EnvString("SENDGRID_API_KEY", cfg.Alerts.SendGridAPIKey)
	cfg.Alerts.From = EnvString("GOSESSION_ALERT_FROM", cfg.Alerts.From)
	cfg.Alerts.To = EnvStrings("GOSESSION_ALERT_TO", cfg.Alerts.To)
}

// Validate checks the fields the engine config does not cover.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http_addr must not be empty")
	}
	if len(c.Roles) == 0 {
		return errors.New("at least one role is required")
	}

	roles := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		if strings.TrimSpace(r.ID) == "" {
			return errors.New("role id must not be empty")
		}
		if _, dup := roles[r.ID]; dup {
			return fmt.Errorf("duplicate role %q", r.ID)
		}
		roles[r.ID] = struct{}{}
	}

	identifiers := make(map[string]struct{}, len(c.Users))
	for _, u := range c.Users {
		if u.ID == "" || u.Identifier == "" || u.PasswordHash == "" {
			return fmt.Errorf("user %q: id, identifier and password_hash are required", u.Identifier)
		}
		if _, ok := roles[u.Role]; !ok {
			return fmt.Errorf("user %q: unknown role %q", u.Identifier, u.Role)
		}
		key := strings.ToLower(u.Identifier)
		if _, dup := identifiers[key]; dup {
			return fmt.Errorf("duplicate user %q", u.Identifier)
		}
		identifiers[key] = struct{}{}
	}

	if c.Alerts.SendGridAPIKey != "" && (c.Alerts.From == "" || len(c.Alerts.To) == 0) {
		return errors.New("alerts: from and to are required with a SendGrid API key")
	}
	if c.Session.ProductionMode && c.Session.TokenSecret == "" {
		return errors.New("session.token_secret is required in production mode")
	}
	return nil
}
