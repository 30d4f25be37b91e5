package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for passage
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	OAuth       OAuthConfig     `toml:"oauth"`
	Auth        AuthConfig      `toml:"auth"`
	RateLimit   RateLimitConfig `toml:"ratelimit"`
	Metrics     MetricsConfig   `toml:"metrics"`
	Logging     LoggingConfig   `toml:"logging"`
	Bootstrap   BootstrapConfig `toml:"bootstrap"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	ConsentURL string `toml:"consent_url"` // consent page for untrusted applications; empty responds with JSON
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend   string          `toml:"backend"` // "surrealdb", "postgres" or "memory"
	SurrealDB SurrealDBConfig `toml:"surrealdb"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
}

// SurrealDBConfig holds SurrealDB connection settings.
type SurrealDBConfig struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int32  `toml:"max_conns"`
}

// RedisConfig holds the optional Redis transaction cache.
// When Address is empty, transactions live in the primary backend.
type RedisConfig struct {
	Address     string `toml:"address"`
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	ConnTimeout string `toml:"conn_timeout"`
}

// GetConnTimeout parses and returns the connection timeout
func (c *RedisConfig) GetConnTimeout() time.Duration {
	d, err := time.ParseDuration(c.ConnTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// OAuthConfig holds grant and token settings.
type OAuthConfig struct {
	TokenBytes     int    `toml:"token_bytes"`     // random bytes per code/token, hex encoded
	TransactionTTL string `toml:"transaction_ttl"` // duration string, default "10m"
}

// GetTransactionTTL parses and returns the transaction lifetime.
func (c *OAuthConfig) GetTransactionTTL() time.Duration {
	d, err := time.ParseDuration(c.TransactionTTL)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// AuthConfig holds session cookie verification settings.
type AuthConfig struct {
	SessionSecret string `toml:"session_secret"`
	SessionCookie string `toml:"session_cookie"`
}

// RateLimitConfig bounds token endpoint calls. The IP budget applies before
// client authentication, the token budget per authenticated application.
// A non-positive rate disables that limit.
type RateLimitConfig struct {
	TokenRPS   float64 `toml:"token_rps"`
	TokenBurst int     `toml:"token_burst"`
	IPRPS      float64 `toml:"ip_rps"`
	IPBurst    int     `toml:"ip_burst"`
	TrustProxy bool    `toml:"trust_proxy"` // use X-Forwarded-For / X-Real-IP from a trusted reverse proxy
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// BootstrapConfig lists applications seeded at startup.
type BootstrapConfig struct {
	Applications []BootstrapApplication `toml:"applications"`
}

// BootstrapApplication is a first-party application registered on startup.
// Secret is the plaintext client secret; it is hashed before storage.
type BootstrapApplication struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	RedirectURI string `toml:"redirect_uri"`
	Owner       string `toml:"owner"`
	Secret      string `toml:"secret"`
	Trusted     bool   `toml:"trusted"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend: "surrealdb",
			SurrealDB: SurrealDBConfig{
				Address:   "ws://localhost:8000/rpc",
				Username:  "root",
				Password:  "root",
				Namespace: "passage",
				Database:  "passage",
			},
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
			Redis: RedisConfig{
				ConnTimeout: "5s",
			},
		},
		OAuth: OAuthConfig{
			TokenBytes:     256,
			TransactionTTL: "10m",
		},
		Auth: AuthConfig{
			SessionSecret: "dev-session-secret-change-in-production",
			SessionCookie: "session",
		},
		RateLimit: RateLimitConfig{
			TokenRPS:   5,
			TokenBurst: 10,
			IPRPS:      20,
			IPBurst:    40,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PASSAGE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("PASSAGE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("PASSAGE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if v := os.Getenv("PASSAGE_CONSENT_URL"); v != "" {
		config.Server.ConsentURL = v
	}

	if level := os.Getenv("PASSAGE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage overrides
	if v := os.Getenv("PASSAGE_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("PASSAGE_SURREALDB_ADDRESS"); v != "" {
		config.Storage.SurrealDB.Address = v
	}
	if v := os.Getenv("PASSAGE_SURREALDB_USERNAME"); v != "" {
		config.Storage.SurrealDB.Username = v
	}
	if v := os.Getenv("PASSAGE_SURREALDB_PASSWORD"); v != "" {
		config.Storage.SurrealDB.Password = v
	}
	if v := os.Getenv("PASSAGE_POSTGRES_DSN"); v != "" {
		config.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("PASSAGE_REDIS_ADDRESS"); v != "" {
		config.Storage.Redis.Address = v
	}
	if v := os.Getenv("PASSAGE_REDIS_PASSWORD"); v != "" {
		config.Storage.Redis.Password = v
	}

	// Auth overrides
	if v := os.Getenv("PASSAGE_SESSION_SECRET"); v != "" {
		config.Auth.SessionSecret = v
	}
	if v := os.Getenv("PASSAGE_SESSION_COOKIE"); v != "" {
		config.Auth.SessionCookie = v
	}

	if v := os.Getenv("PASSAGE_TRUST_PROXY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.RateLimit.TrustProxy = b
		}
	}

	if v := os.Getenv("PASSAGE_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Metrics.Enabled = b
		}
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "surrealdb", "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
	}
	// 16 bytes is the 128-bit floor for codes and tokens
	if c.OAuth.TokenBytes < 16 {
		return fmt.Errorf("oauth.token_bytes must be at least 16, got %d", c.OAuth.TokenBytes)
	}
	if c.IsProduction() && c.Auth.SessionSecret == NewDefaultConfig().Auth.SessionSecret {
		return fmt.Errorf("auth.session_secret must be set in production")
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// StorageAddress describes the active backend for banners and logs.
// Credentials embedded in a Postgres DSN are not returned.
func (c *Config) StorageAddress() string {
	switch c.Storage.Backend {
	case "postgres":
		return "postgres"
	case "memory":
		return "memory"
	default:
		return c.Storage.SurrealDB.Address
	}
}
