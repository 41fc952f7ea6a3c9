package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported metadata store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported cursor cache backends
const (
	CursorCacheMemory = "memory"
	CursorCacheRedis  = "redis"
	CursorCacheNone   = "none"
)

// ReservedConns is the connection headroom kept beyond the handles pinned by
// query workers, for health checks and seeding transactions.
const ReservedConns = 2

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Payload       PayloadConfig
	Query         QueryConfig
	CursorCache   CursorCacheConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds metadata store configuration.
// The sqlite driver opens Path; the postgres driver uses ConnectionString
// (from DATABASE_URL) when set, otherwise the individual fields.
type DatabaseConfig struct {
	Driver           string
	Path             string
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// PayloadConfig holds payload blob file configuration
type PayloadConfig struct {
	File string
	Mmap bool
}

// QueryConfig holds query engine settings
type QueryConfig struct {
	Workers     int
	QueueSize   int
	MaxPageSize int
}

// CursorCacheConfig holds keyset cursor memoization settings
type CursorCacheConfig struct {
	Backend   string
	MaxSize   int
	TTL       time.Duration
	RedisAddr string
	RedisDB   int
	KeyPrefix string
}

// AuthConfig holds bearer token settings. Auth is disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret    string
	RequiredRole string
	Issuer       string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Payload: PayloadConfig{
			File: getEnv("PAYLOAD_FILE", "payloads.jsonl"),
			Mmap: getEnvAsBool("PAYLOAD_MMAP", true),
		},
		Query: QueryConfig{
			Workers:     getEnvAsInt("QUERY_WORKERS", 8),
			QueueSize:   getEnvAsInt("QUERY_QUEUE_SIZE", 256),
			MaxPageSize: getEnvAsInt("MAX_PAGE_SIZE", 500),
		},
		CursorCache: CursorCacheConfig{
			Backend:   strings.ToLower(getEnv("CURSOR_CACHE", CursorCacheMemory)),
			MaxSize:   getEnvAsInt("CURSOR_CACHE_SIZE", 10000),
			TTL:       getEnvAsDuration("CURSOR_CACHE_TTL", 10*time.Minute),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("CURSOR_CACHE_PREFIX", "auditq:cursor:"),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("AUTH_JWT_SECRET", ""),
			RequiredRole: getEnv("AUTH_REQUIRED_ROLE", "auditor"),
			Issuer:       getEnv("AUTH_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Payload.File == "" {
		return fmt.Errorf("payload file is required")
	}

	if c.Query.Workers < 1 {
		return fmt.Errorf("query workers must be at least 1")
	}
	// Every query worker pins one connection for its lifetime
	if need := c.Query.Workers + ReservedConns; c.Database.MaxOpenConns > 0 && c.Database.MaxOpenConns < need {
		return fmt.Errorf("database max open connections (%d) must be at least query workers plus %d (%d)",
			c.Database.MaxOpenConns, ReservedConns, need)
	}
	if c.Query.MaxPageSize < 1 {
		return fmt.Errorf("max page size must be at least 1")
	}

	switch c.CursorCache.Backend {
	case CursorCacheMemory, CursorCacheNone:
	case CursorCacheRedis:
		if c.CursorCache.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis cursor cache")
		}
	default:
		return fmt.Errorf("unsupported cursor cache backend %q", c.CursorCache.Backend)
	}

	// Auth is mandatory in production
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret is required in production")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// ReserveConns raises a bounded connection limit so extra dedicated workers
// fit beside the query workers. It reports whether the limit changed.
func (c *Config) ReserveConns(extra int) bool {
	need := c.Query.Workers + extra + ReservedConns
	if c.Database.MaxOpenConns <= 0 || c.Database.MaxOpenConns >= need {
		return false
	}
	c.Database.MaxOpenConns = need
	return true
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the driver-specific data source name.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", c.Path)
	}
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("driver=sqlite path=%s", c.Path)
	}
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("driver=postgres host=%s port=%s database=%s", host, port, db)
		}
		return "driver=postgres host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("driver=postgres host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DB_DRIVER plus DATABASE_PATH, DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		Driver:          strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		Path:            getEnv("DATABASE_PATH", "audit.db"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 0),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "dev")
	cfg.Password = getEnv("DB_PASSWORD", "audit_password")
	cfg.Database = getEnv("DB_NAME", "audit")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
