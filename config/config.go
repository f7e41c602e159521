// Package config provides configuration management for the KPI operations
// platform.
//
// This package handles loading configuration from multiple sources with proper precedence:
//   - YAML configuration files
//   - Environment variables (configurable prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (set via SetDefaults)
//  2. Configuration files (./config.yaml, ./configs/config.yaml, ~/.kpiops/config.yaml, /etc/kpiops/config.yaml)
//  3. .env files
//  4. Environment variables (prefix KPIOPS_, plus the flat operational names below)
//
// # Operational environment variables
//
// The deployment surface recognizes a set of flat, unprefixed variables in
// addition to the prefixed nested form:
//
//	DB_URL, EVENT_STORE_URL, RATE_LIMIT_AUTH_PER_MIN, EVENT_WORKER_POOL_SIZE,
//	EVENT_QUEUE_SIZE, CACHE_MAX_ENTRIES, FORECAST_DEFAULT_DAYS,
//	CAPACITY_HISTORY_LIMIT, SHUTDOWN_GRACE_SECONDS, CROSS_TENANT_UPLOADS_ALLOWED
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig contains service metadata.
type ServiceConfig struct {
	// Name is the service name
	Name string `mapstructure:"name"`

	// Environment is the deployment environment (development, staging, production)
	Environment string `mapstructure:"environment"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownGraceSeconds bounds the drain window for in-flight requests
	// and async event workers on shutdown
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// DatabaseConfig contains relational store settings.
type DatabaseConfig struct {
	// URL is the postgres DSN for the domain store (required)
	URL string `mapstructure:"url"`

	// EventStoreURL is the DSN for the event store; defaults to URL
	EventStoreURL string `mapstructure:"event_store_url"`

	// MaxConnections is the maximum number of pooled connections
	MaxConnections int `mapstructure:"max_connections"`

	// Timeout in seconds for database operations
	Timeout int `mapstructure:"timeout"`
}

// EventsConfig tunes the event bus dispatcher.
type EventsConfig struct {
	// WorkerPoolSize is the number of async handler workers (default 2×CPU)
	WorkerPoolSize int `mapstructure:"worker_pool_size"`

	// QueueSize is the depth of the async FIFO queue
	QueueSize int `mapstructure:"queue_size"`

	// SyncHandlerTimeout bounds each synchronous handler invocation
	SyncHandlerTimeout time.Duration `mapstructure:"sync_handler_timeout"`

	// CriticalEnqueueWait bounds the blocking wait for critical events when
	// the queue is saturated
	CriticalEnqueueWait time.Duration `mapstructure:"critical_enqueue_wait"`
}

// CacheConfig tunes the KPI read-through cache.
type CacheConfig struct {
	// MaxEntries bounds the in-process LRU backend
	MaxEntries int `mapstructure:"max_entries"`

	// RedisURL switches the cache to the redis backend when set
	RedisURL string `mapstructure:"redis_url"`

	// TTL expires entries that invalidation never touched
	TTL time.Duration `mapstructure:"ttl"`
}

// ForecastConfig holds forecasting defaults.
type ForecastConfig struct {
	// DefaultDays is the horizon used when the caller does not pass one
	DefaultDays int `mapstructure:"default_days"`
}

// CapacityConfig holds capacity planning settings.
type CapacityConfig struct {
	// HistoryLimit bounds the per-session undo/redo snapshot stack
	HistoryLimit int `mapstructure:"history_limit"`

	// SessionDBPath is the bolt file persisting draft workbook sessions
	SessionDBPath string `mapstructure:"session_db_path"`
}

// IngestConfig holds ingestion policy switches.
type IngestConfig struct {
	// CrossTenantUploadsAllowed lets explicitly scoped ADMIN/POWER_USER
	// actors upload rows for clients outside their target
	CrossTenantUploadsAllowed bool `mapstructure:"cross_tenant_uploads_allowed"`

	// MaxReportedErrors caps the per-batch error list; counting continues
	MaxReportedErrors int `mapstructure:"max_reported_errors"`
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWTExpiration is the token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`

	// RateLimitAuthPerMin is the per-source login attempt budget
	RateLimitAuthPerMin int `mapstructure:"rate_limit_auth_per_min"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// AMQPConfig configures the notification relay. An empty URL disables it.
type AMQPConfig struct {
	// URL is the broker connection string
	URL string `mapstructure:"url"`

	// Exchange receives critical event notifications
	Exchange string `mapstructure:"exchange"`
}

// Config is the root configuration tree for the platform.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Events   EventsConfig   `mapstructure:"events"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Capacity CapacityConfig `mapstructure:"capacity"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a new configuration loader with the given environment prefix.
// The prefix is used for environment variables (e.g., "KPIOPS" -> "KPIOPS_SERVER_PORT").
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetDefaults sets default configuration values.
// This should be called before Load().
func (l *Loader) SetDefaults(defaults map[string]interface{}) {
	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}
}

// SetConfigDefaults sets the platform's standard defaults.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("service.name", "kpi-operations")
	l.v.SetDefault("service.environment", "development")

	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.read_timeout", "30s")
	l.v.SetDefault("server.write_timeout", "30s")
	l.v.SetDefault("server.shutdown_grace_seconds", 30)

	l.v.SetDefault("database.url", "")
	l.v.SetDefault("database.event_store_url", "")
	l.v.SetDefault("database.max_connections", 20)
	l.v.SetDefault("database.timeout", 30)

	l.v.SetDefault("events.worker_pool_size", runtime.NumCPU()*2)
	l.v.SetDefault("events.queue_size", 1024)
	l.v.SetDefault("events.sync_handler_timeout", "2s")
	l.v.SetDefault("events.critical_enqueue_wait", "100ms")

	l.v.SetDefault("cache.max_entries", 10000)
	l.v.SetDefault("cache.redis_url", "")
	l.v.SetDefault("cache.ttl", "10m")

	l.v.SetDefault("forecast.default_days", 14)

	l.v.SetDefault("capacity.history_limit", 50)
	l.v.SetDefault("capacity.session_db_path", "capacity-sessions.db")

	l.v.SetDefault("ingest.cross_tenant_uploads_allowed", false)
	l.v.SetDefault("ingest.max_reported_errors", 100)

	l.v.SetDefault("security.jwt_secret", "")
	l.v.SetDefault("security.jwt_expiration", "24h")
	l.v.SetDefault("security.rate_limit_auth_per_min", 10)
	l.v.SetDefault("security.allowed_origins", []string{"*"})

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "text")

	l.v.SetDefault("amqp.url", "")
	l.v.SetDefault("amqp.exchange", "kpiops.notifications")
}

// bindOperationalEnv binds the flat, unprefixed environment names of the
// deployment surface to their nested keys. The prefixed nested form keeps
// working alongside these.
func (l *Loader) bindOperationalEnv() {
	l.v.BindEnv("database.url", "DB_URL")
	l.v.BindEnv("database.event_store_url", "EVENT_STORE_URL")
	l.v.BindEnv("security.rate_limit_auth_per_min", "RATE_LIMIT_AUTH_PER_MIN")
	l.v.BindEnv("events.worker_pool_size", "EVENT_WORKER_POOL_SIZE")
	l.v.BindEnv("events.queue_size", "EVENT_QUEUE_SIZE")
	l.v.BindEnv("cache.max_entries", "CACHE_MAX_ENTRIES")
	l.v.BindEnv("cache.redis_url", "REDIS_URL")
	l.v.BindEnv("forecast.default_days", "FORECAST_DEFAULT_DAYS")
	l.v.BindEnv("capacity.history_limit", "CAPACITY_HISTORY_LIMIT")
	l.v.BindEnv("capacity.session_db_path", "SESSION_DB_PATH")
	l.v.BindEnv("server.shutdown_grace_seconds", "SHUTDOWN_GRACE_SECONDS")
	l.v.BindEnv("ingest.cross_tenant_uploads_allowed", "CROSS_TENANT_UPLOADS_ALLOWED")
	l.v.BindEnv("security.jwt_secret", "JWT_SECRET")
	l.v.BindEnv("amqp.url", "AMQP_URL")
	l.v.BindEnv("server.port", "HTTP_PORT")
}

// Load reads configuration from file, .env, and environment variables.
// If cfgFile is empty, searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (with prefix, plus the flat operational names)
//  2. .env file
//  3. Configuration file
//  4. Default values
func (l *Loader) Load(cfgFile string, target interface{}) error {
	// Set config file
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
		l.v.AddConfigPath("$HOME/.kpiops")
		l.v.AddConfigPath("/etc/kpiops")
	}

	// Read config file
	if err := l.v.ReadInConfig(); err != nil {
		// Only fail on non-NotFound errors for explicit file paths
		if cfgFile != "" && !isFileNotFoundError(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// For auto-discovery, only fail on non-NotFound errors
		if cfgFile == "" {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Merge .env file if present
	l.v.SetConfigFile(".env")
	l.v.SetConfigType("env")
	_ = l.v.MergeInConfig() // Ignore if .env doesn't exist

	// Setup environment variable binding
	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	l.bindOperationalEnv()

	// Unmarshal into target
	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	return nil
}

// LoadConfig is a convenience function that loads configuration with standard defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	loader := NewLoader("KPIOPS")
	loader.SetConfigDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	if cfg.Database.EventStoreURL == "" {
		cfg.Database.EventStoreURL = cfg.Database.URL
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateConfig validates the loaded configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required (DB_URL)")
	}

	if cfg.Events.WorkerPoolSize < 1 {
		return fmt.Errorf("invalid event worker pool size: %d", cfg.Events.WorkerPoolSize)
	}

	if cfg.Events.QueueSize < 1 {
		return fmt.Errorf("invalid event queue size: %d", cfg.Events.QueueSize)
	}

	if cfg.Cache.MaxEntries < 1 {
		return fmt.Errorf("invalid cache max entries: %d", cfg.Cache.MaxEntries)
	}

	if cfg.Capacity.HistoryLimit < 1 {
		return fmt.Errorf("invalid capacity history limit: %d", cfg.Capacity.HistoryLimit)
	}

	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
