// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Config holds all configuration of the dispatch service
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Server    ServerConfig    `json:"server"`
	JWT       JWTConfig       `json:"jwt"`
	Gateway   GatewayConfig   `json:"gateway"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Quota     QuotaConfig     `json:"quota"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Callback  CallbackConfig  `json:"callback"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	LogLevel        string        `json:"log_level"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

// DSN renders the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

type JWTConfig struct {
	SecretKey       string        `json:"-"`
	Issuer          string        `json:"issuer"`
	Audience        string        `json:"audience"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`
}

type GatewayConfig struct {
	// Provider is "http" or "mock"
	Provider     string        `json:"provider"`
	BaseURL      string        `json:"base_url"`
	APIKey       string        `json:"-"`
	APIKeyHeader string        `json:"api_key_header"`
	SourceNumber string        `json:"source_number"`
	Timeout      time.Duration `json:"timeout"`
	RatePerSec   float64       `json:"rate_per_sec"`
	Burst        int           `json:"burst"`
}

type DispatchConfig struct {
	ChunkSize        int             `json:"chunk_size"`
	Workers          int             `json:"workers"`
	ChunkConcurrency int             `json:"chunk_concurrency"`
	MaxRetries       int             `json:"max_retries"`
	BackoffStrategy  string          `json:"backoff_strategy"`
	BackoffDelays    []time.Duration `json:"backoff_delays"`
	BackoffInitial   time.Duration   `json:"backoff_initial"`
	BackoffMax       time.Duration   `json:"backoff_max"`
	RefundPolicy     string          `json:"refund_policy"`
	TransientCodes   []string        `json:"transient_codes"`
	TerminalCodes    []string        `json:"terminal_codes"`
	OptOutCodes      []string        `json:"opt_out_codes"`
	ChargedCodes     []string        `json:"charged_codes"`
	DefaultRegion    string          `json:"default_region"`
}

type SchedulerConfig struct {
	Enabled      bool          `json:"enabled"`
	ScanSpec     string        `json:"scan_spec"`
	RenewalSpec  string        `json:"renewal_spec"`
	FlushSpec    string        `json:"flush_spec"`
	BatchSize    int           `json:"batch_size"`
	MaxCampaigns int           `json:"max_campaigns"`
	StaleAfter   time.Duration `json:"stale_after"`
}

type QuotaConfig struct {
	// Backend is "postgres" or "redis"
	Backend string `json:"backend"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	Dir        string `json:"dir"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CallbackConfig struct {
	Token       string `json:"-"`
	TokenHeader string `json:"token_header"`
}

// Load reads the configuration from the environment, after merging an optional .env file
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "smsdispatch"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
			LogLevel:        getEnvString("DB_LOG_LEVEL", "warn"),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 8*1024*1024), // 8MB, recipient lists can be large
			AllowedOrigins:  getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		JWT: JWTConfig{
			SecretKey:       getEnvString("JWT_SECRET_KEY", ""),
			Issuer:          getEnvString("JWT_ISSUER", "smsdispatch"),
			Audience:        getEnvString("JWT_AUDIENCE", "smsdispatch-api"),
			AccessTokenTTL:  getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
			RefreshTokenTTL: getEnvDuration("JWT_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		},
		Gateway: GatewayConfig{
			Provider:     getEnvString("GATEWAY_PROVIDER", "mock"),
			BaseURL:      getEnvString("GATEWAY_BASE_URL", ""),
			APIKey:       getEnvString("GATEWAY_API_KEY", ""),
			APIKeyHeader: getEnvString("GATEWAY_API_KEY_HEADER", "X-API-Key"),
			SourceNumber: getEnvString("GATEWAY_SOURCE_NUMBER", ""),
			Timeout:      getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
			RatePerSec:   getEnvFloat("GATEWAY_RATE_PER_SEC", 50),
			Burst:        getEnvInt("GATEWAY_BURST", 10),
		},
		Dispatch: DispatchConfig{
			ChunkSize:        getEnvInt("DISPATCH_CHUNK_SIZE", 100),
			Workers:          getEnvInt("DISPATCH_WORKERS", 4),
			ChunkConcurrency: getEnvInt("DISPATCH_CHUNK_CONCURRENCY", 10),
			MaxRetries:       getEnvInt("DISPATCH_MAX_RETRIES", 3),
			BackoffStrategy:  getEnvString("DISPATCH_BACKOFF_STRATEGY", "table"),
			BackoffDelays:    getEnvDurationSlice("DISPATCH_BACKOFF_DELAYS", []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}),
			BackoffInitial:   getEnvDuration("DISPATCH_BACKOFF_INITIAL", 10*time.Second),
			BackoffMax:       getEnvDuration("DISPATCH_BACKOFF_MAX", 60*time.Second),
			RefundPolicy:     getEnvString("DISPATCH_REFUND_POLICY", "pre_gateway"),
			TransientCodes:   getEnvStringSlice("DISPATCH_TRANSIENT_CODES", []string{"timeout", "rate_limited", "server_error", "transport_error"}),
			TerminalCodes:    getEnvStringSlice("DISPATCH_TERMINAL_CODES", []string{"invalid_number", "opted_out", "blacklisted", "rejected"}),
			OptOutCodes:      getEnvStringSlice("DISPATCH_OPT_OUT_CODES", []string{"opted_out"}),
			ChargedCodes:     getEnvStringSlice("DISPATCH_CHARGED_CODES", []string{"server_error", "timeout"}),
			DefaultRegion:    getEnvString("DISPATCH_DEFAULT_REGION", "US"),
		},
		Scheduler: SchedulerConfig{
			Enabled:      getEnvBool("SCHEDULER_ENABLED", true),
			ScanSpec:     getEnvString("SCHEDULER_SCAN_SPEC", "@every 30s"),
			RenewalSpec:  getEnvString("SCHEDULER_RENEWAL_SPEC", "@hourly"),
			FlushSpec:    getEnvString("SCHEDULER_FLUSH_SPEC", "@every 1m"),
			BatchSize:    getEnvInt("SCHEDULER_BATCH_SIZE", 50),
			MaxCampaigns: getEnvInt("SCHEDULER_MAX_CAMPAIGNS", 4),
			StaleAfter:   getEnvDuration("SCHEDULER_STALE_AFTER", 15*time.Minute),
		},
		Quota: QuotaConfig{
			Backend: getEnvString("QUOTA_BACKEND", "postgres"),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Dir:        getEnvString("LOG_DIR", "logs"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Callback: CallbackConfig{
			Token:       getEnvString("CALLBACK_TOKEN", ""),
			TokenHeader: getEnvString("CALLBACK_TOKEN_HEADER", "X-Callback-Token"),
		},
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// getEnvDurationSlice parses a comma separated list such as "10s,30s,1m".
// A single malformed entry discards the whole value.
func getEnvDurationSlice(key string, defaultValue []time.Duration) []time.Duration {
	items := getEnvStringSlice(key, nil)
	if len(items) == 0 {
		return defaultValue
	}
	result := make([]time.Duration, 0, len(items))
	for _, item := range items {
		parsed, err := time.ParseDuration(item)
		if err != nil {
			return defaultValue
		}
		result = append(result, parsed)
	}
	return result
}

// ValidateConfig validates the configuration and reports every problem at once
func ValidateConfig(cfg *Config) error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	// Database
	if cfg.Database.Host == "" {
		fail("DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		fail("DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		fail("DB_NAME is required")
	}
	if cfg.Database.User == "" {
		fail("DB_USER is required")
	}

	// JWT
	if len(cfg.JWT.SecretKey) < 32 {
		fail("JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		fail("JWT_ACCESS_TOKEN_TTL must be positive")
	}

	// Server
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		fail("SERVER_PORT must be between 1 and 65535")
	}

	// Gateway
	switch cfg.Gateway.Provider {
	case "mock":
	case "http":
		if cfg.Gateway.BaseURL == "" {
			fail("GATEWAY_BASE_URL is required for the http provider")
		}
		if cfg.Gateway.APIKey == "" {
			fail("GATEWAY_API_KEY is required for the http provider")
		}
	default:
		fail("GATEWAY_PROVIDER must be one of: http, mock")
	}
	if cfg.Gateway.Timeout <= 0 {
		fail("GATEWAY_TIMEOUT must be positive")
	}
	if cfg.Gateway.RatePerSec <= 0 {
		fail("GATEWAY_RATE_PER_SEC must be positive")
	}

	// Dispatch
	d := cfg.Dispatch
	if d.ChunkSize <= 0 {
		fail("DISPATCH_CHUNK_SIZE must be positive")
	}
	if d.Workers <= 0 {
		fail("DISPATCH_WORKERS must be positive")
	}
	if d.ChunkConcurrency <= 0 {
		fail("DISPATCH_CHUNK_CONCURRENCY must be positive")
	}
	if d.MaxRetries < 0 {
		fail("DISPATCH_MAX_RETRIES must not be negative")
	}
	switch d.BackoffStrategy {
	case "table":
		if len(d.BackoffDelays) == 0 && d.MaxRetries > 0 {
			fail("DISPATCH_BACKOFF_DELAYS is required for the table strategy")
		}
	case "exponential", "fixed":
		if d.BackoffInitial <= 0 {
			fail("DISPATCH_BACKOFF_INITIAL must be positive")
		}
		if d.BackoffStrategy == "exponential" && d.BackoffMax < d.BackoffInitial {
			fail("DISPATCH_BACKOFF_MAX must not be lower than DISPATCH_BACKOFF_INITIAL")
		}
	default:
		fail("DISPATCH_BACKOFF_STRATEGY must be one of: table, exponential, fixed")
	}
	switch d.RefundPolicy {
	case "pre_gateway", "always", "never":
	default:
		fail("DISPATCH_REFUND_POLICY must be one of: pre_gateway, always, never")
	}
	for _, code := range d.TransientCodes {
		for _, terminal := range d.TerminalCodes {
			if code == terminal {
				fail("error code %q is both transient and terminal", code)
			}
		}
	}

	// Scheduler
	if cfg.Scheduler.Enabled {
		if cfg.Scheduler.ScanSpec == "" {
			fail("SCHEDULER_SCAN_SPEC is required when the scheduler is enabled")
		}
		if cfg.Scheduler.MaxCampaigns <= 0 {
			fail("SCHEDULER_MAX_CAMPAIGNS must be positive")
		}
	}

	// Quota
	switch cfg.Quota.Backend {
	case "postgres":
	case "redis":
		if cfg.Redis.Addr == "" {
			fail("REDIS_ADDR is required for the redis quota backend")
		}
	default:
		fail("QUOTA_BACKEND must be one of: postgres, redis")
	}

	// Logging
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		fail("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	// Callback
	if cfg.Callback.Token == "" {
		fail("CALLBACK_TOKEN is required")
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}
