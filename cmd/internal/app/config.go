package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/accesstoken"
	authapi "warden/cmd/internal/auth/api"
	"warden/cmd/internal/auth/session"
	"warden/cmd/security/password"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every configuration variable.
const EnvPrefix = "WARDEN_"

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Supported DatabaseDriver values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR"`
	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES"`

	DatabaseDriver string `env:"DATABASE_DRIVER"`
	DatabaseURL    string `env:"DATABASE_URL"`
	DatabaseSchema string `env:"DATABASE_SCHEMA"`
	SQLitePath     string `env:"SQLITE_PATH"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS"`
	DBMinConns     int32  `env:"DB_MIN_CONNS"`
	AutoMigrate    bool   `env:"AUTO_MIGRATE"`

	// SweepInterval is how often expired sessions are deleted; 0 disables the sweeper.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// If true, TokenHMACKey MUST be set (>= 32 bytes) and refresh-token hashing must be HMAC-based.
	RequireTokenHMAC bool   `env:"REQUIRE_TOKEN_HMAC"`
	TokenHMACKey     string `env:"TOKEN_HMAC_KEY"`

	Access   accesstoken.Config `envPrefix:"ACCESS_"`
	Session  session.Config     `envPrefix:"SESSION_"`
	Auth     authapi.Config
	Password password.Config
}

// DefaultConfig returns the configuration used when no variables are set.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DatabaseDriver: DriverSQLite,
		DatabaseSchema: "public",
		SQLitePath:     "data/warden.db",
		DBMaxConns:     10,
		AutoMigrate:    true,

		SweepInterval: 15 * time.Minute,

		Access:   accesstoken.DefaultConfig(),
		Session:  session.DefaultConfig(),
		Auth:     authapi.DefaultConfig(),
		Password: password.DefaultConfig(),
	}
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig(dotenvFiles ...string) (Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: dotenv: %v", ErrConfig, err)
	}

	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, nil
}

// Validate checks runtime settings and every component config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: http addr is required", ErrConfig)
	}
	switch c.DatabaseDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: postgres driver requires %sDATABASE_URL", ErrConfig, EnvPrefix)
		}
		if !identity.PgIdentIsValid(c.DatabaseSchema) {
			return fmt.Errorf("%w: invalid database schema %q", ErrConfig, c.DatabaseSchema)
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("%w: sqlite driver requires %sSQLITE_PATH", ErrConfig, EnvPrefix)
		}
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrConfig, c.DatabaseDriver)
	}
	if c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("%w: db min conns out of range", ErrConfig)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep interval must not be negative", ErrConfig)
	}

	for _, v := range []interface{ Validate() error }{c.Access, c.Session, c.Auth, c.Password} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return ValidateSecurityConfig(c)
}
