// Package config provides configuration management for the cart API server
// and the cartctl client.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultServerPort      = 5001
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsEnabled  = true
	DefaultJWTTTL          = 24 * time.Hour
	DefaultRateLimitRPS    = 50.0
	DefaultRateLimitBurst  = 100

	DefaultAPIBaseURL     = "http://localhost:5001/api"
	DefaultRequestTimeout = 10 * time.Second
	DefaultStorageBackend = StorageSQLite
	DefaultSQLitePath     = "cartsync.db"
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPrefix    = "cartsync:"
)

// Storage backends for the guest cart and the session token.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// EnvPrefix is prepended to every configuration key to form its
// environment variable name.
const EnvPrefix = "APP"

// Environment variable names.
const (
	EnvServerPort      = "APP_SERVER_PORT"
	EnvLogLevel        = "APP_LOG_LEVEL"
	EnvLogFormat       = "APP_LOG_FORMAT"
	EnvShutdownTimeout = "APP_SHUTDOWN_TIMEOUT"
	EnvMetricsEnabled  = "APP_METRICS_ENABLED"
	EnvJWTSecret       = "APP_JWT_SECRET" //nolint:gosec // env var name, not a credential
	EnvJWTTTL          = "APP_JWT_TTL"
	EnvUsers           = "APP_USERS"
	EnvRateLimitRPS    = "APP_RATE_LIMIT_RPS"
	EnvRateLimitBurst  = "APP_RATE_LIMIT_BURST"
	EnvCatalogFile     = "APP_CATALOG_FILE"

	EnvAPIBaseURL      = "APP_API_BASE_URL"
	EnvRequestTimeout  = "APP_REQUEST_TIMEOUT"
	EnvClientRateLimit = "APP_CLIENT_RATE_LIMIT"
	EnvClientBurst     = "APP_CLIENT_BURST"
	EnvStorageBackend  = "APP_STORAGE_BACKEND"
	EnvSQLitePath      = "APP_SQLITE_PATH"
	EnvRedisAddr       = "APP_REDIS_ADDR"
	EnvRedisPassword   = "APP_REDIS_PASSWORD" //nolint:gosec // env var name, not a credential
	EnvRedisDB         = "APP_REDIS_DB"
	EnvRedisPrefix     = "APP_REDIS_PREFIX"
)

// Configuration keys. A key's environment variable is EnvPrefix + "_" +
// the upper-cased key.
const (
	keyServerPort      = "server_port"
	keyLogLevel        = "log_level"
	keyLogFormat       = "log_format"
	keyShutdownTimeout = "shutdown_timeout"
	keyMetricsEnabled  = "metrics_enabled"
	keyJWTSecret       = "jwt_secret"
	keyJWTTTL          = "jwt_ttl"
	keyUsers           = "users"
	keyRateLimitRPS    = "rate_limit_rps"
	keyRateLimitBurst  = "rate_limit_burst"
	keyCatalogFile     = "catalog_file"

	keyAPIBaseURL      = "api_base_url"
	keyRequestTimeout  = "request_timeout"
	keyClientRateLimit = "client_rate_limit"
	keyClientBurst     = "client_burst"
	keyStorageBackend  = "storage_backend"
	keySQLitePath      = "sqlite_path"
	keyRedisAddr       = "redis_addr"
	keyRedisPassword   = "redis_password"
	keyRedisDB         = "redis_db"
	keyRedisPrefix     = "redis_prefix"
)

// Config holds the application configuration.
type Config struct {
	// Server settings.
	ServerPort      int
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	MetricsEnabled  bool

	// JWT settings for the reference server.
	JWTSecret string
	JWTTTL    time.Duration

	// Users seeded into the reference server (format: "email:bcrypt_hash,...").
	Users string

	// Per-IP request rate on the server; 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// CatalogFile is a JSON array of products; empty uses the built-in catalog.
	CatalogFile string

	// Client settings.
	APIBaseURL      string
	RequestTimeout  time.Duration
	ClientRateLimit float64 // Requests per second; 0 = unlimited.
	ClientBurst     int

	// Local storage settings.
	StorageBackend string
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
}

// Validation errors.
var (
	ErrInvalidServerPort      = errors.New("server port must be between 1 and 65535")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat       = errors.New("log format must be one of: json, console")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidRateLimit       = errors.New("rate limit and burst must not be negative")
	ErrInvalidAPIBaseURL      = errors.New("API base URL must be an absolute http or https URL")
	ErrInvalidRequestTimeout  = errors.New("request timeout must be positive")
	ErrInvalidStorageBackend  = errors.New("storage backend must be one of: memory, sqlite, redis")
	ErrMissingSQLitePath      = errors.New("SQLite path must be set when storage backend is sqlite")
	ErrMissingRedisAddr       = errors.New("redis address must be set when storage backend is redis")
	ErrInvalidRedisDB         = errors.New("redis DB must not be negative")
	ErrMissingJWTSecret       = errors.New("JWT secret must be set to run the server")
	ErrShortJWTSecret         = errors.New("JWT secret must be at least 16 bytes")
	ErrInvalidJWTTTL          = errors.New("JWT TTL must be positive")
)

// MinJWTSecretLength is the shortest accepted HMAC secret.
const MinJWTSecretLength = 16

// Load reads configuration with defaults, then an optional config file,
// then environment variables, which have the highest priority. An empty
// configFile searches for cartsync.yaml in the working directory; a missing
// file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("cartsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := fromViper(v)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyServerPort, DefaultServerPort)
	v.SetDefault(keyLogLevel, DefaultLogLevel)
	v.SetDefault(keyLogFormat, DefaultLogFormat)
	v.SetDefault(keyShutdownTimeout, DefaultShutdownTimeout)
	v.SetDefault(keyMetricsEnabled, DefaultMetricsEnabled)
	v.SetDefault(keyJWTSecret, "")
	v.SetDefault(keyJWTTTL, DefaultJWTTTL)
	v.SetDefault(keyUsers, "")
	v.SetDefault(keyRateLimitRPS, DefaultRateLimitRPS)
	v.SetDefault(keyRateLimitBurst, DefaultRateLimitBurst)
	v.SetDefault(keyCatalogFile, "")

	v.SetDefault(keyAPIBaseURL, DefaultAPIBaseURL)
	v.SetDefault(keyRequestTimeout, DefaultRequestTimeout)
	v.SetDefault(keyClientRateLimit, 0.0)
	v.SetDefault(keyClientBurst, 1)
	v.SetDefault(keyStorageBackend, DefaultStorageBackend)
	v.SetDefault(keySQLitePath, DefaultSQLitePath)
	v.SetDefault(keyRedisAddr, DefaultRedisAddr)
	v.SetDefault(keyRedisPassword, "")
	v.SetDefault(keyRedisDB, 0)
	v.SetDefault(keyRedisPrefix, DefaultRedisPrefix)
}

// fromViper converts raw values strictly. viper's GetInt and friends
// swallow parse errors, which would turn a typo into a silent default.
func fromViper(v *viper.Viper) (*Config, error) {
	p := parser{v: v}

	cfg := &Config{
		ServerPort:      p.int(keyServerPort),
		LogLevel:        v.GetString(keyLogLevel),
		LogFormat:       v.GetString(keyLogFormat),
		ShutdownTimeout: p.duration(keyShutdownTimeout),
		MetricsEnabled:  p.bool(keyMetricsEnabled),
		JWTSecret:       v.GetString(keyJWTSecret),
		JWTTTL:          p.duration(keyJWTTTL),
		Users:           v.GetString(keyUsers),
		RateLimitRPS:    p.float(keyRateLimitRPS),
		RateLimitBurst:  p.int(keyRateLimitBurst),
		CatalogFile:     v.GetString(keyCatalogFile),

		APIBaseURL:      strings.TrimSpace(v.GetString(keyAPIBaseURL)),
		RequestTimeout:  p.duration(keyRequestTimeout),
		ClientRateLimit: p.float(keyClientRateLimit),
		ClientBurst:     p.int(keyClientBurst),
		StorageBackend:  strings.ToLower(v.GetString(keyStorageBackend)),
		SQLitePath:      v.GetString(keySQLitePath),
		RedisAddr:       v.GetString(keyRedisAddr),
		RedisPassword:   v.GetString(keyRedisPassword),
		RedisDB:         p.int(keyRedisDB),
		RedisPrefix:     v.GetString(keyRedisPrefix),
	}

	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// parser records the first conversion error.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("parsing %s_%s: %w", EnvPrefix, strings.ToUpper(key), err)
	}
}

func (p *parser) int(key string) int {
	n, err := cast.ToIntE(p.v.Get(key))
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func (p *parser) float(key string) float64 {
	f, err := cast.ToFloat64E(p.v.Get(key))
	if err != nil {
		p.fail(key, err)
	}
	return f
}

func (p *parser) bool(key string) bool {
	b, err := cast.ToBoolE(p.v.Get(key))
	if err != nil {
		p.fail(key, err)
	}
	return b
}

func (p *parser) duration(key string) time.Duration {
	d, err := cast.ToDurationE(p.v.Get(key))
	if err != nil {
		p.fail(key, err)
	}
	return d
}

// Validate checks the settings shared by the server and the client.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}

	if err := c.validateClient(); err != nil {
		return err
	}

	return c.validateStorage()
}

// ValidateServer checks the settings the reference server needs on top of
// Validate.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return ErrInvalidServerPort
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return ErrInvalidRateLimit
	}

	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}

	if len(c.JWTSecret) < MinJWTSecretLength {
		return ErrShortJWTSecret
	}

	if c.JWTTTL <= 0 {
		return ErrInvalidJWTTTL
	}

	return nil
}

func (c *Config) validateLogging() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return ErrInvalidLogLevel
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return ErrInvalidLogFormat
	}

	return nil
}

func (c *Config) validateClient() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidAPIBaseURL
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}

	if c.ClientRateLimit < 0 || c.ClientBurst < 0 {
		return ErrInvalidRateLimit
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			return ErrMissingSQLitePath
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			return ErrMissingRedisAddr
		}
		if c.RedisDB < 0 {
			return ErrInvalidRedisDB
		}
	default:
		return ErrInvalidStorageBackend
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}
