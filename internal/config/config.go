package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	HTTPPort  string
	JWTSecret string
	Database  DatabaseConfig
	Pipeline  PipelineConfig
	Retry     RetryConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string // postgres, sqlserver, sqlite
	Host     string
	Port     string
	Username string
	Password string
	Database string
	URL      string // DSN for sqlserver and sqlite
	LogSQL   bool
}

// PipelineConfig controls the mapping and execution passes
type PipelineConfig struct {
	PollInterval       time.Duration
	MappingBatchSize   int
	ExecutionBatchSize int
	RowCap             int
	StaleAfter         time.Duration
	MaxAttempts        int // 0 = unlimited
	ParseCheck         bool
}

// RetryConfig configures the transient-error retry decorator
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string
	Format string // json or console
}

// MetricsConfig selects and configures the metrics backend
type MetricsConfig struct {
	Backend        string // none, prometheus, datadog
	Namespace      string
	PushgatewayURL string
	DatadogAddr    string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		v, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		HTTPPort:  getEnv("HTTP_PORT", "3001"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "reportsync"),
			URL:      os.Getenv("DATABASE_URL"),
			LogSQL:   getEnv("DB_LOG_SQL", "false") == "true",
		},
		Pipeline: PipelineConfig{
			PollInterval:       dur("POLL_INTERVAL", time.Minute),
			MappingBatchSize:   num("MAPPING_BATCH_SIZE", 100),
			ExecutionBatchSize: num("EXECUTION_BATCH_SIZE", 200),
			RowCap:             num("ROW_CAP", 10),
			StaleAfter:         dur("STALE_AFTER", 72*time.Hour),
			MaxAttempts:        num("MAX_ATTEMPTS", 50),
			ParseCheck:         getEnv("PARSE_CHECK", "true") == "true",
		},
		Retry: RetryConfig{
			MaxAttempts:  num("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay: dur("RETRY_INITIAL_DELAY", 200*time.Millisecond),
			MaxDelay:     dur("RETRY_MAX_DELAY", 5*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Backend:        strings.ToLower(getEnv("METRICS_BACKEND", "none")),
			Namespace:      getEnv("METRICS_NAMESPACE", "reportsync"),
			PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
			DatadogAddr:    getEnv("DATADOG_ADDR", "127.0.0.1:8125"),
		},
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that the pipeline depends on
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
	case "sqlserver", "sqlite":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	p := c.Pipeline
	if p.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if p.RowCap < 1 {
		return fmt.Errorf("ROW_CAP must be at least 1, got %d", p.RowCap)
	}
	if p.MappingBatchSize < 1 || p.ExecutionBatchSize < 1 {
		return fmt.Errorf("batch sizes must be at least 1")
	}
	if p.StaleAfter <= 0 {
		return fmt.Errorf("STALE_AFTER must be positive")
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("MAX_ATTEMPTS must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	switch c.Metrics.Backend {
	case "none", "":
	case "prometheus":
	case "datadog":
		if c.Metrics.DatadogAddr == "" {
			return fmt.Errorf("DATADOG_ADDR is required for the datadog metrics backend")
		}
	default:
		return fmt.Errorf("unsupported METRICS_BACKEND %q", c.Metrics.Backend)
	}
	return nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not an integer", key, value)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not a duration", key, value)
	}
	return d, nil
}
