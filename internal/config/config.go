package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingAuthSecret is returned by Load when AUTH_SECRET is unset
var ErrMissingAuthSecret = errors.New("AUTH_SECRET is required")

// Config holds configuration for the chat server.
type Config struct {
	HTTPPort   string
	AuthSecret []byte
	SessionTTL time.Duration
	// SecureCookies issues the __Secure- session cookie (HTTPS deployments)
	SecureCookies bool
	LogLevel      string

	OpenRouter OpenRouterConfig
	Dispatch   DispatchConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	UsageQueue UsageQueueConfig
	Cache      CacheConfig
	AccessLog  AccessLogConfig
}

// OpenRouterConfig holds upstream settings
type OpenRouterConfig struct {
	APIKey   string
	BaseURL  string
	SiteURL  string
	SiteName string
}

// DispatchConfig tunes the model fallback loop. Zero disables a limit.
type DispatchConfig struct {
	AttemptTimeout time.Duration
	Deadline       time.Duration
	CatalogPath    string // empty uses the embedded catalog
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings. An empty address keeps
// queues and rate limits in process.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// Enabled reports whether a Redis server is configured
func (c RedisConfig) Enabled() bool {
	return c.Address != ""
}

// RateLimitConfig holds the per-user chat budget
type RateLimitConfig struct {
	ChatPerMinute int
}

// UsageQueueConfig tunes the usage record worker
type UsageQueueConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	ModelsTTL time.Duration
}

// AccessLogConfig holds access log settings. An empty template disables it.
type AccessLogConfig struct {
	FileTemplate  string
	MaxSize       int64
	MaxFiles      int
	BufferSize    int
	FlushInterval time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	secret := os.Getenv("AUTH_SECRET")
	if secret == "" {
		return nil, ErrMissingAuthSecret
	}

	database, err := LoadDatabase()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:      getEnvString("HTTP_PORT", "3001"),
		AuthSecret:    []byte(secret),
		SessionTTL:    getEnvDuration("SESSION_TTL", 720*time.Hour),
		SecureCookies: getEnvBool("SECURE_COOKIES", false),
		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		OpenRouter: OpenRouterConfig{
			APIKey:   os.Getenv("OPENROUTER_API_KEY"),
			BaseURL:  getEnvString("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			SiteURL:  getEnvString("OPENROUTER_SITE_URL", "http://localhost:3000"),
			SiteName: getEnvString("OPENROUTER_SITE_NAME", "Madlen Chat"),
		},
		Dispatch: DispatchConfig{
			AttemptTimeout: getEnvDuration("DISPATCH_ATTEMPT_TIMEOUT", 60*time.Second),
			Deadline:       getEnvDuration("DISPATCH_DEADLINE", 0),
			CatalogPath:    os.Getenv("CATALOG_PATH"),
		},
		Database: database,
		Redis: RedisConfig{
			Address:  os.Getenv("REDIS_ADDRESS"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			ChatPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		},
		UsageQueue: UsageQueueConfig{
			BatchSize:    getEnvInt("USAGE_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_QUEUE_RETRY_BACKOFF", 1*time.Second),
		},
		Cache: CacheConfig{
			ModelsTTL: getEnvDuration("MODELS_CACHE_TTL", 10*time.Minute),
		},
		AccessLog: AccessLogConfig{
			FileTemplate:  os.Getenv("ACCESS_LOG_FILE_TEMPLATE"),
			MaxSize:       getEnvInt64("ACCESS_LOG_MAX_SIZE", 50*1024*1024),
			MaxFiles:      getEnvInt("ACCESS_LOG_MAX_FILES", 10),
			BufferSize:    getEnvInt("ACCESS_LOG_BUFFER_SIZE", 1024),
			FlushInterval: getEnvDuration("ACCESS_LOG_FLUSH_INTERVAL", time.Second),
		},
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings. Tools that touch the
// database without serving HTTP use it to avoid needing AUTH_SECRET.
func LoadDatabase() (DatabaseConfig, error) {
	driver := strings.ToLower(getEnvString("DATABASE_DRIVER", "sqlite"))
	if driver != "sqlite" && driver != "postgres" {
		return DatabaseConfig{}, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", driver)
	}

	return DatabaseConfig{
		Driver:          driver,
		URL:             getEnvString("DATABASE_URL", "file:chat.db"),
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
	}, nil
}
