package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Token     TokenConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Audit     AuditConfig
	Tracing   TracingConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host string
	Port int
	TLS  TLSConfig
}

// TLSConfig contains TLS/SSL configuration
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// TokenConfig contains bearer token and identity configuration
type TokenConfig struct {
	Secret         string
	Validity       time.Duration
	Issuer         string
	ExemptPrefixes []string
	// Users is name:bcryptHash:ROLE_A|ROLE_B entries separated by commas.
	Users string
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled             bool
	Backend             string // "memory", "redis"
	AuthCapacity        int
	AuthRefillPerSec    float64
	GeneralCapacity     int
	GeneralRefillPerSec float64
	AuthPrefixes        []string
	IdleTTL             time.Duration
	SweepInterval       time.Duration
}

// RedisConfig locates the shared rate limit store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// AuditConfig contains audit sink configuration
type AuditConfig struct {
	Enabled       bool
	Sink          string // "memory", "stdout", "file", "badger", "postgres"
	FilePath      string
	DataDir       string
	PostgresDSN   string
	BufferSize    int
	FlushInterval time.Duration
	DropPolicy    string // "drop", "block"
	BlockTimeout  time.Duration
}

// TracingConfig contains OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
	InsecureConn   bool
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnvString("RENTGUARD_HOST", ""),
			Port: getEnvInt("RENTGUARD_PORT", 8080),
			TLS: TLSConfig{
				Enabled:  getEnvBool("RENTGUARD_TLS_ENABLED", false),
				CertFile: getEnvString("RENTGUARD_TLS_CERT_FILE", ""),
				KeyFile:  getEnvString("RENTGUARD_TLS_KEY_FILE", ""),
			},
		},
		Log: LogConfig{
			Level:  getEnvString("RENTGUARD_LOG_LEVEL", "info"),
			Format: getEnvString("RENTGUARD_LOG_FORMAT", "text"),
		},
		Token: TokenConfig{
			Secret:         getEnvString("RENTGUARD_TOKEN_SECRET", ""),
			Validity:       time.Duration(getEnvInt("RENTGUARD_TOKEN_VALIDITY_SECONDS", 86400)) * time.Second,
			Issuer:         getEnvString("RENTGUARD_TOKEN_ISSUER", "rentguard"),
			ExemptPrefixes: getEnvStringSlice("RENTGUARD_EXEMPT_PREFIXES", nil),
			Users:          getEnvString("RENTGUARD_USERS", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:             getEnvBool("RENTGUARD_RATE_LIMIT_ENABLED", true),
			Backend:             getEnvString("RENTGUARD_RATE_LIMIT_BACKEND", "memory"),
			AuthCapacity:        getEnvInt("RENTGUARD_RATE_LIMIT_AUTH_CAPACITY", 5),
			AuthRefillPerSec:    getEnvFloat("RENTGUARD_RATE_LIMIT_AUTH_REFILL_PER_SEC", 5.0/60),
			GeneralCapacity:     getEnvInt("RENTGUARD_RATE_LIMIT_GENERAL_CAPACITY", 100),
			GeneralRefillPerSec: getEnvFloat("RENTGUARD_RATE_LIMIT_GENERAL_REFILL_PER_SEC", 100.0/60),
			AuthPrefixes:        getEnvStringSlice("RENTGUARD_RATE_LIMIT_AUTH_PREFIXES", nil),
			IdleTTL:             getEnvDuration("RENTGUARD_RATE_LIMIT_IDLE_TTL", 10*time.Minute),
			SweepInterval:       getEnvDuration("RENTGUARD_RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnvString("RENTGUARD_REDIS_ADDR", "localhost:6379"),
			Password: getEnvString("RENTGUARD_REDIS_PASSWORD", ""),
			DB:       getEnvInt("RENTGUARD_REDIS_DB", 0),
			Prefix:   getEnvString("RENTGUARD_REDIS_PREFIX", "rentguard:ratelimit:"),
		},
		Audit: AuditConfig{
			Enabled:       getEnvBool("RENTGUARD_AUDIT_ENABLED", true),
			Sink:          getEnvString("RENTGUARD_AUDIT_SINK", "memory"),
			FilePath:      getEnvString("RENTGUARD_AUDIT_FILE_PATH", "./logs/audit.log"),
			DataDir:       getEnvString("RENTGUARD_AUDIT_DATA_DIR", "./data/audit"),
			PostgresDSN:   getEnvString("RENTGUARD_AUDIT_POSTGRES_DSN", ""),
			BufferSize:    getEnvInt("RENTGUARD_AUDIT_BUFFER_SIZE", 1024),
			FlushInterval: getEnvDuration("RENTGUARD_AUDIT_FLUSH_INTERVAL", time.Second),
			DropPolicy:    getEnvString("RENTGUARD_AUDIT_DROP_POLICY", "drop"),
			BlockTimeout:  getEnvDuration("RENTGUARD_AUDIT_BLOCK_TIMEOUT", 100*time.Millisecond),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("RENTGUARD_TRACING_ENABLED", false),
			Endpoint:       getEnvString("RENTGUARD_TRACING_ENDPOINT", "otel-collector:4318"),
			ServiceName:    getEnvString("RENTGUARD_TRACING_SERVICE_NAME", "rentguard"),
			ServiceVersion: getEnvString("RENTGUARD_TRACING_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnvString("RENTGUARD_TRACING_ENVIRONMENT", "development"),
			SamplingRatio:  getEnvFloat("RENTGUARD_TRACING_SAMPLING_RATIO", 1.0),
			InsecureConn:   getEnvBool("RENTGUARD_TRACING_INSECURE", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file must be specified when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file must be specified when TLS is enabled")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	if c.Token.Secret == "" {
		return fmt.Errorf("token secret must be specified")
	}
	if c.Token.Validity <= 0 {
		return fmt.Errorf("token validity must be positive")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
			return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
		if c.RateLimit.AuthCapacity <= 0 || c.RateLimit.GeneralCapacity <= 0 {
			return fmt.Errorf("rate limit capacities must be positive")
		}
		if c.RateLimit.AuthRefillPerSec <= 0 || c.RateLimit.GeneralRefillPerSec <= 0 {
			return fmt.Errorf("rate limit refill rates must be positive")
		}
		if c.RateLimit.IdleTTL < 0 {
			return fmt.Errorf("rate limit idle TTL cannot be negative")
		}
		if c.RateLimit.Backend == "redis" && c.Redis.Addr == "" {
			return fmt.Errorf("redis address must be specified for the redis rate limit backend")
		}
	}

	if c.Audit.Enabled {
		switch c.Audit.Sink {
		case "memory", "stdout":
		case "file":
			if c.Audit.FilePath == "" {
				return fmt.Errorf("audit file path must be specified for the file sink")
			}
		case "badger":
		case "postgres":
			if c.Audit.PostgresDSN == "" {
				return fmt.Errorf("postgres DSN must be specified for the postgres audit sink")
			}
		default:
			return fmt.Errorf("invalid audit sink: %s (must be memory, stdout, file, badger, or postgres)", c.Audit.Sink)
		}
		if c.Audit.BufferSize <= 0 {
			return fmt.Errorf("audit buffer size must be positive")
		}
		if c.Audit.FlushInterval <= 0 {
			return fmt.Errorf("audit flush interval must be positive")
		}
		if c.Audit.DropPolicy != "drop" && c.Audit.DropPolicy != "block" {
			return fmt.Errorf("invalid audit drop policy: %s (must be drop or block)", c.Audit.DropPolicy)
		}
		if c.Audit.DropPolicy == "block" && c.Audit.BlockTimeout <= 0 {
			return fmt.Errorf("audit block timeout must be positive with the block policy")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint must be specified when tracing is enabled")
		}
		if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
			return fmt.Errorf("tracing sampling ratio must be between 0 and 1")
		}
	}

	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	if c.Server.Host == "" {
		return fmt.Sprintf(":%d", c.Server.Port)
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvString gets a string environment variable with a default value
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvStringSlice gets a comma-separated string environment variable as a slice with a default value
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		result := []string{}
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
