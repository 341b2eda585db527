package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Auth          AuthConfig
	Roles         RolesConfig
	Realtime      RealtimeConfig
	Board         BoardConfig
	Jobs          JobsConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// AuthConfig selects how bearer tokens are verified
type AuthConfig struct {
	Mode             string // "hmac" or "oidc"
	HMACSecret       string
	Issuer           string
	Audience         string
	RoleClaim        string
	ProfileCacheSize int
	ProfileCacheTTL  time.Duration
}

// RolesConfig controls the role registry source. Watch and Persist are
// exclusive: the seed file or the roles table owns the registry, not both.
type RolesConfig struct {
	SeedFile string
	Watch    bool
	Persist  bool
}

// RealtimeConfig selects the cross-instance change feed
type RealtimeConfig struct {
	Backend string // "memory", "redis", "postgres"
	Channel string
}

// BoardConfig holds Kanban settings
type BoardConfig struct {
	BoardID         string
	ConflictRetries int
}

// JobsConfig holds cron schedules; empty disables a job
type JobsConfig struct {
	ConsistencySchedule string
	RoleRefreshSchedule string
}

// RateLimitConfig bounds mutating requests per caller. Functions get
// their own, tighter budget.
type RateLimitConfig struct {
	Enabled          bool
	MutationRequests int
	FunctionRequests int
	Window           time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Roles:         loadRolesConfig(),
		Realtime:      loadRealtimeConfig(),
		Board:         loadBoardConfig(),
		Jobs:          loadJobsConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ADMINBOARD_HOST", "0.0.0.0"),
		Port:            getEnv("ADMINBOARD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ADMINBOARD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ADMINBOARD_WRITE_TIMEOUT", 0),
		IdleTimeout:     getEnvDuration("ADMINBOARD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ADMINBOARD_SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  getEnvList("ADMINBOARD_ALLOWED_ORIGINS", []string{"*"}),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.DatabaseDriver = getEnv("ADMINBOARD_DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = getEnv("ADMINBOARD_DATABASE_URL", cfg.DatabaseURL)
	cfg.DatabaseMaxConns = getEnvInt("ADMINBOARD_DATABASE_MAX_CONNS", cfg.DatabaseMaxConns)
	cfg.DatabaseMinConns = getEnvInt("ADMINBOARD_DATABASE_MIN_CONNS", cfg.DatabaseMinConns)
	cfg.DatabaseTimeout = getEnvDuration("ADMINBOARD_DATABASE_TIMEOUT", cfg.DatabaseTimeout)

	cfg.BlobType = getEnv("ADMINBOARD_BLOB_TYPE", cfg.BlobType)
	cfg.FilesystemRoot = getEnv("ADMINBOARD_FILESYSTEM_ROOT", cfg.FilesystemRoot)
	cfg.PublicBaseURL = getEnv("ADMINBOARD_PUBLIC_BASE_URL", cfg.PublicBaseURL)

	cfg.S3Endpoint = getEnv("ADMINBOARD_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("ADMINBOARD_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("ADMINBOARD_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("ADMINBOARD_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("ADMINBOARD_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("ADMINBOARD_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	cfg.RedisURL = getEnv("ADMINBOARD_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("ADMINBOARD_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("ADMINBOARD_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	cfg.RedisMaxRetries = getEnvInt("ADMINBOARD_REDIS_MAX_RETRIES", cfg.RedisMaxRetries)
	cfg.RedisPoolSize = getEnvInt("ADMINBOARD_REDIS_POOL_SIZE", cfg.RedisPoolSize)

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:             strings.ToLower(getEnv("ADMINBOARD_AUTH_MODE", "hmac")),
		HMACSecret:       getEnv("ADMINBOARD_AUTH_HMAC_SECRET", ""),
		Issuer:           getEnv("ADMINBOARD_AUTH_ISSUER", ""),
		Audience:         getEnv("ADMINBOARD_AUTH_AUDIENCE", ""),
		RoleClaim:        getEnv("ADMINBOARD_AUTH_ROLE_CLAIM", "role"),
		ProfileCacheSize: getEnvInt("ADMINBOARD_PROFILE_CACHE_SIZE", 1024),
		ProfileCacheTTL:  getEnvDuration("ADMINBOARD_PROFILE_CACHE_TTL", 30*time.Second),
	}
}

func loadRolesConfig() RolesConfig {
	return RolesConfig{
		SeedFile: getEnv("ADMINBOARD_ROLES_FILE", ""),
		Watch:    getEnvBool("ADMINBOARD_ROLES_WATCH", false),
		Persist:  getEnvBool("ADMINBOARD_ROLES_PERSIST", true),
	}
}

func loadRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		Backend: strings.ToLower(getEnv("ADMINBOARD_REALTIME_BACKEND", "memory")),
		Channel: getEnv("ADMINBOARD_REALTIME_CHANNEL", "adminboard_events"),
	}
}

func loadBoardConfig() BoardConfig {
	return BoardConfig{
		BoardID:         getEnv("ADMINBOARD_BOARD_ID", "main-board"),
		ConflictRetries: getEnvInt("ADMINBOARD_BOARD_CONFLICT_RETRIES", 3),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		ConsistencySchedule: getEnv("ADMINBOARD_JOB_CONSISTENCY_SCHEDULE", "@every 15m"),
		RoleRefreshSchedule: getEnv("ADMINBOARD_JOB_ROLE_REFRESH_SCHEDULE", "@every 1m"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:          getEnvBool("ADMINBOARD_RATE_LIMIT_ENABLED", true),
		MutationRequests: getEnvInt("ADMINBOARD_RATE_LIMIT_MUTATIONS", 120),
		FunctionRequests: getEnvInt("ADMINBOARD_RATE_LIMIT_FUNCTIONS", 10),
		Window:           getEnvDuration("ADMINBOARD_RATE_LIMIT_WINDOW", time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ADMINBOARD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ADMINBOARD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ADMINBOARD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ADMINBOARD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ADMINBOARD_OTEL_SERVICE_NAME", "adminboard"),
		OTelServiceVersion: getEnv("ADMINBOARD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ADMINBOARD_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ADMINBOARD_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.DatabaseDriver {
	case "postgres", "sqlite3", "sqlite":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Storage.DatabaseDriver)
	}
	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Storage.BlobType {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem blob storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 blob storage")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid blob type: %s (must be s3, filesystem, or memory)", c.Storage.BlobType)
	}

	switch c.Auth.Mode {
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("HMAC secret is required for hmac auth mode")
		}
	case "oidc":
		if c.Auth.Issuer == "" || c.Auth.Audience == "" {
			return fmt.Errorf("issuer and audience are required for oidc auth mode")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be hmac or oidc)", c.Auth.Mode)
	}

	switch c.Realtime.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis realtime backend")
		}
	case "postgres":
		if c.Storage.DatabaseDriver != "postgres" {
			return fmt.Errorf("postgres realtime backend requires the postgres database driver")
		}
	default:
		return fmt.Errorf("invalid realtime backend: %s (must be memory, redis, or postgres)", c.Realtime.Backend)
	}

	if c.Roles.Watch && c.Roles.SeedFile == "" {
		return fmt.Errorf("roles file is required when roles watch is enabled")
	}
	if c.Roles.Watch && c.Roles.Persist {
		return fmt.Errorf("roles watch cannot be combined with roles persist")
	}

	if c.Board.ConflictRetries < 0 {
		return fmt.Errorf("board conflict retries must not be negative")
	}

	if c.RateLimit.Enabled && (c.RateLimit.MutationRequests <= 0 || c.RateLimit.FunctionRequests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Addr returns host:port for the HTTP listener
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
